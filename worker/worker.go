package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/RichardKnop/machinery/v1/log"
	"github.com/RichardKnop/machinery/v1/tasks"
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/andygello555/try-playwright/logagg"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"os"
	"strings"
	"time"
)

const (
	// LogService is the name the worker's logs are posted to the log aggregator under.
	LogService = "worker"
	// RetryDelay is how long machinery waits before retrying an execution that failed with a temporary error.
	RetryDelay = 2 * time.Second
)

// Worker runs the code within RequestPayloads.
type Worker struct {
	Config   Config
	Handlers map[workertypes.Language]Handler
	// Uploader uploads the files created by executions. When this is nil the files are discarded.
	Uploader *Uploader
	ignore   []glob.Glob
}

// NewWorker creates a Worker with the DefaultHandlers. An Uploader is created if a file service URL is configured.
func NewWorker(config Config) (w *Worker, err error) {
	w = &Worker{Config: config, Handlers: DefaultHandlers()}
	patterns := config.WorkerIgnorePatterns()
	if patterns == nil {
		patterns = DefaultIgnorePatterns
	}
	if w.ignore, err = compileIgnorePatterns(patterns); err != nil {
		return nil, err
	}
	if url := config.WorkerFileServiceURL(); url != "" {
		w.Uploader = NewUploader(url)
	}
	return w, nil
}

func (w *Worker) timeout() time.Duration {
	if timeout := w.Config.WorkerExecutionTimeout(); timeout > 0 {
		return timeout
	}
	return DefaultExecutionTimeout
}

func (w *Worker) playwrightTestCLI() string {
	if cli := w.Config.WorkerPlaywrightTestCLI(); cli != "" {
		return cli
	}
	return DefaultPlaywrightTestCLI
}

func (w *Worker) javaPOM() string {
	if pom := w.Config.WorkerJavaPOM(); pom != "" {
		return pom
	}
	return DefaultJavaPOM
}

func (w *Worker) csharpProject() string {
	if project := w.Config.WorkerCSharpProject(); project != "" {
		return project
	}
	return DefaultCSharpProject
}

// TransformOutput removes the trailing newlines from the output of an execution.
func TransformOutput(output string) string {
	return strings.TrimRight(output, "\n")
}

// Execute runs the code in the given request within a new temporary directory. Errors raised by the code itself are
// reported in the returned ResponsePayload. The returned error is only non-nil when the execution could not be set
// up or its files could not be uploaded.
func (w *Worker) Execute(ctx context.Context, request *workertypes.RequestPayload) (response *workertypes.ResponsePayload, err error) {
	var e *Execution
	if e, err = newExecution(w, request); err != nil {
		return nil, err
	}
	defer logagg.DeferPost(LogService, &request.TestID, &request.RequestID, e.logBuffer)()
	defer func() {
		if removeErr := os.RemoveAll(e.Dir); removeErr != nil {
			e.Logger.Warn().Err(removeErr).Str("dir", e.Dir).Msg("could not remove execution directory")
		}
	}()

	response = &workertypes.ResponsePayload{
		Version:   w.Config.WorkerPlaywrightVersion(),
		Files:     []workertypes.File{},
		RequestID: request.RequestID,
		TestID:    request.TestID,
	}

	handler, ok := w.Handlers[request.Language]
	if !ok {
		e.Logger.Warn().Str("language", request.Language.String()).Msg("no handler for language")
		response.Error = fmt.Sprintf("language %q is not supported", request.Language)
		return response, nil
	}

	e.Logger.Info().Int("size", len(request.Code)).Str("language", request.Language.String()).Str("dir", e.Dir).Msg("executing")
	var cancel context.CancelFunc
	e.ctx, cancel = context.WithTimeout(ctx, w.timeout())
	defer cancel()

	start := time.Now()
	handlerErr := handler(e, request.Code)
	response.Duration = time.Since(start).Milliseconds()
	response.Output = TransformOutput(e.Output())

	if handlerErr != nil {
		e.Logger.Warn().Err(handlerErr).Int64("duration", response.Duration).Msg("execution failed")
		response.Error = handlerErr.Error()
		return response, nil
	}

	response.Success = true
	e.Logger.Info().Int64("duration", response.Duration).Int("files", len(e.Files())).Msg("execution succeeded")
	if w.Uploader == nil {
		if len(e.Files()) > 0 {
			e.Logger.Warn().Int("files", len(e.Files())).Msg("discarding files as there is no file service")
		}
		return response, nil
	}
	if response.Files, err = w.Uploader.Upload(ctx, e.Files(), request.RequestID, request.TestID); err != nil {
		e.Logger.Error().Err(err).Msg("could not upload files")
		return nil, errors.Wrap(err, "could not upload files")
	}
	return response, nil
}

// ExecuteTask is the machinery task that decodes the RequestPayload from the given JSON, executes it, and returns
// the JSON encoded ResponsePayload. Requests that have passed their deadline are not run. Temporary errors cause
// machinery to retry the task, as long as the retry would start before the request's deadline.
func (w *Worker) ExecuteTask(ctx context.Context, payload string) (string, error) {
	var request workertypes.RequestPayload
	if err := json.Unmarshal([]byte(payload), &request); err != nil {
		return "", errors.Wrap(err, "could not decode request payload")
	}
	if request.Expired(time.Now()) {
		return "", errors.Errorf("request %s expired at %s", request.RequestID, request.Deadline.Format(time.RFC3339Nano))
	}

	response, err := w.Execute(ctx, &request)
	if err != nil {
		if myErrors.IsTemporary(err) {
			if request.Deadline != nil && !request.Expired(time.Now().Add(RetryDelay)) {
				log.WARNING.Printf("Retrying request %s in %s: %v", request.RequestID, RetryDelay, err)
				return "", tasks.NewErrRetryTaskLater(err.Error(), RetryDelay)
			}
			log.ERROR.Printf("Not retrying request %s as it would pass its deadline: %v", request.RequestID, err)
		}
		return "", err
	}

	var data []byte
	if data, err = json.Marshal(response); err != nil {
		return "", errors.Wrap(err, "could not encode response payload")
	}
	return string(data), nil
}
