package tasks

import (
	"context"
	"encoding/json"
	"github.com/RichardKnop/machinery/v1"
	"github.com/RichardKnop/machinery/v1/backends/result"
	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/opentracing/opentracing-go"
	opentracinglog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"time"
)

// ErrTimeout is returned by Broker.Execute when no worker has replied within the timeout.
var ErrTimeout = errors.New("timed out waiting for a worker")

// resultPollInterval is how often the result backend is polled for the result of a sent task.
const resultPollInterval = 50 * time.Millisecond

type Broker struct {
	Server *machinery.Server
}

func NewBroker(config Config) (broker *Broker, err error) {
	broker = &Broker{}
	if broker.Server, err = StartServer(config); err != nil {
		return nil, err
	}
	return broker, nil
}

// SendTaskWithContext acts as a wrapper for machinery.Server.SendTaskWithContext.
func (b *Broker) SendTaskWithContext(ctx context.Context, signature *tasks.Signature) (*result.AsyncResult, error) {
	return b.Server.SendTaskWithContext(ctx, signature)
}

// startSpan starts a span representing the execution of a request and sets the request ID as baggage so that it can
// travel all the way into the worker functions.
func startSpan(ctx context.Context, request *workertypes.RequestPayload) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, ExecuteTaskName)
	span.SetBaggageItem("request.id", request.RequestID)
	span.LogFields(
		opentracinglog.String("request.id", request.RequestID),
		opentracinglog.String("language", request.Language.String()),
	)
	return span, ctx
}

// ExecuteSignature returns the tasks.Signature that will execute the given request on a worker.
func ExecuteSignature(request *workertypes.RequestPayload) (*tasks.Signature, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "could not encode request")
	}
	return &tasks.Signature{
		Name: ExecuteTaskName,
		Args: []tasks.Arg{{Name: "payload", Type: "string", Value: string(payload)}},
	}, nil
}

// DecodeResults decodes the results of the execute task into a workertypes.ResponsePayload.
func DecodeResults(results []any) (*workertypes.ResponsePayload, error) {
	if len(results) != 1 {
		return nil, errors.Errorf("expected 1 result from %s, got %d", ExecuteTaskName, len(results))
	}
	payload, ok := results[0].(string)
	if !ok {
		return nil, errors.Errorf("expected result of %s to be a string, got %T", ExecuteTaskName, results[0])
	}
	var response workertypes.ResponsePayload
	if err := json.Unmarshal([]byte(payload), &response); err != nil {
		return nil, errors.Wrap(err, "could not decode response")
	}
	return &response, nil
}

// Execute sends the request to a worker and waits up to the timeout for the response. ErrTimeout is returned if the
// worker does not reply in time.
func (b *Broker) Execute(ctx context.Context, request *workertypes.RequestPayload, timeout time.Duration) (response *workertypes.ResponsePayload, err error) {
	span, ctx := startSpan(ctx, request)
	defer func() {
		if err != nil {
			span.LogFields(opentracinglog.Error(err))
		}
		span.Finish()
	}()

	deadline := time.Now().Add(timeout)
	request.Deadline = &deadline
	var signature *tasks.Signature
	if signature, err = ExecuteSignature(request); err != nil {
		return nil, err
	}

	var asyncResult *result.AsyncResult
	if asyncResult, err = b.SendTaskWithContext(ctx, signature); err != nil {
		return nil, errors.Wrapf(err, "could not send %s task for request %s", ExecuteTaskName, request.RequestID)
	}

	values, err := asyncResult.GetWithTimeout(timeout, resultPollInterval)
	if err != nil {
		if errors.Is(err, result.ErrTimeoutReached) {
			return nil, ErrTimeout
		}
		return nil, errors.Wrapf(err, "%s task for request %s failed", ExecuteTaskName, request.RequestID)
	}

	results := make([]any, len(values))
	for i, value := range values {
		results[i] = value.Interface()
	}
	return DecodeResults(results)
}
