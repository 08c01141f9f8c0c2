package logagg

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/pkg/errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// PostTimeout bounds how long Client.Post can take.
const PostTimeout = 2 * time.Second

type Config interface {
	LogAggregatorEnabled() bool
	LogAggregatorURL() string
}

// Client posts logs to the log aggregator.
type Client struct {
	Config     Config
	HTTPClient *http.Client
}

// DefaultClient is the Client used by DeferPost. It is nil, and therefore disabled, until CreateClient is called.
var DefaultClient *Client

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 3 * time.Second,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: time.Second}).DialContext,
			TLSHandshakeTimeout:   time.Second,
			ResponseHeaderTimeout: 2 * time.Second,
			IdleConnTimeout:       10 * time.Second,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
		},
	}
}

// CreateClient creates the DefaultClient from the given Config.
func CreateClient(config Config) {
	DefaultClient = NewClient(config)
}

// NewClient creates a Client from the given Config.
func NewClient(config Config) *Client {
	return &Client{Config: config, HTTPClient: newHTTPClient()}
}

// Enabled returns whether the Client will post anything.
func (c *Client) Enabled() bool {
	return c != nil && c.Config != nil && c.Config.LogAggregatorEnabled() && c.Config.LogAggregatorURL() != ""
}

// Post sends a message to the log aggregator. Nothing is sent, and no error is returned, if the Client is not Enabled
// or the test ID or message are empty.
func (c *Client) Post(ctx context.Context, service, testID, requestID, message string) (err error) {
	if !c.Enabled() || testID == "" || strings.TrimSpace(message) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, PostTimeout)
	defer cancel()

	var body []byte
	if body, err = json.Marshal(Payload{
		TestID:    testID,
		RequestID: requestID,
		Service:   service,
		Message:   message,
	}); err != nil {
		return errors.Wrap(err, "could not encode log payload")
	}

	url := strings.TrimSuffix(c.Config.LogAggregatorURL(), "/") + "/logs"
	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body)); err != nil {
		return errors.Wrapf(err, "could not create request to %s", url)
	}
	req.Header.Set("Content-Type", "application/json")

	var res *http.Response
	if res, err = c.HTTPClient.Do(req); err != nil {
		return errors.Wrapf(err, "could not post logs to %s", url)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode != http.StatusAccepted {
		return errors.Errorf("log aggregator responded with %s", res.Status)
	}
	return nil
}

// DeferPost returns a function intended to be deferred so that the contents of buf are posted to the log aggregator
// at the end of a request. The IDs and the buffer are read when the returned function is called. Errors are ignored.
func (c *Client) DeferPost(service string, testID, requestID *string, buf *bytes.Buffer) func() {
	return func() {
		if buf == nil || testID == nil {
			return
		}
		rid := ""
		if requestID != nil {
			rid = *requestID
		}
		_ = c.Post(context.Background(), service, *testID, rid, buf.String())
	}
}

// DeferPost calls DeferPost on the DefaultClient.
func DeferPost(service string, testID, requestID *string, buf *bytes.Buffer) func() {
	return DefaultClient.DeferPost(service, testID, requestID, buf)
}
