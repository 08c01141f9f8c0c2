package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/RichardKnop/machinery/v1/tasks"
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/andygello555/try-playwright/files"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type config struct {
	root, proxy, fileServiceURL string
	timeout                     time.Duration
}

func (c config) WorkerExecutionRoot() string           { return c.root }
func (c config) WorkerProxy() string                   { return c.proxy }
func (c config) WorkerFileServiceURL() string          { return c.fileServiceURL }
func (c config) WorkerPlaywrightVersion() string       { return "1.52.0" }
func (c config) WorkerExecutionTimeout() time.Duration { return c.timeout }
func (c config) WorkerIgnorePatterns() []string        { return nil }
func (c config) WorkerPlaywrightTestCLI() string       { return "" }
func (c config) WorkerJavaPOM() string                 { return "" }
func (c config) WorkerCSharpProject() string           { return "" }

type filesConfig struct{}

func (filesConfig) FilesMaxUploadSize() int64         { return 0 }
func (filesConfig) FilesPresignExpiry() time.Duration { return 0 }

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.New(4, 4, color.White)); err != nil {
		t.Fatalf("Could not encode PNG: %v", err)
	}
	return buf.Bytes()
}

func newTestWorker(t *testing.T, c config) *Worker {
	c.root = t.TempDir()
	w, err := NewWorker(c)
	if err != nil {
		t.Fatalf("Could not create worker: %v", err)
	}
	return w
}

func writeFiles(t *testing.T, dir string, names ...string) {
	for _, name := range names {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Could not create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatalf("Could not write %s: %v", name, err)
		}
	}
}

func ExampleTransformOutput() {
	fmt.Printf("%q\n", TransformOutput("Example Domain\n\n"))
	fmt.Printf("%q\n", TransformOutput("line 1\nline 2\n"))
	fmt.Printf("%q\n", TransformOutput(""))
	// Output:
	// "Example Domain"
	// "line 1\nline 2"
	// ""
}

func TestFilesCollector(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "pom.xml")

	ignore, err := compileIgnorePatterns(append(DefaultIgnorePatterns, "**/target/**"))
	if err != nil {
		t.Fatalf("Could not compile ignore patterns: %v", err)
	}
	collector := newFilesCollector(dir, ignore)
	if err = collector.snapshot(); err != nil {
		t.Fatalf("Could not snapshot: %v", err)
	}

	writeFiles(t, dir,
		"example.png",
		"test-results/.last-run.json",
		"test-results/example/trace.zip",
		"test-results/.playwright-artifacts-0/video.webm",
		"target/classes/org/example/Execution.class",
	)
	var collected []string
	if collected, err = collector.collect(); err != nil {
		t.Fatalf("Could not collect: %v", err)
	}

	expected := []string{
		filepath.Join(dir, "example.png"),
		filepath.Join(dir, "test-results", "example", "trace.zip"),
	}
	if !reflect.DeepEqual(collected, expected) {
		t.Errorf("Expected collected files to be %v, got %v", expected, collected)
	}
}

func TestCompileIgnorePatterns_Invalid(t *testing.T) {
	if _, err := compileIgnorePatterns([]string{"[unclosed"}); err == nil {
		t.Errorf("Expected an error for an invalid pattern")
	}
}

func TestExecution_environ(t *testing.T) {
	w := newTestWorker(t, config{proxy: "http://squid:3128"})
	e, err := newExecution(w, &workertypes.RequestPayload{RequestID: "req-1", TestID: "test-1"})
	if err != nil {
		t.Fatalf("Could not create execution: %v", err)
	}
	defer os.RemoveAll(e.Dir)
	e.AddEnv("NODE_OPTIONS", "--unhandled-rejections=strict")

	env := e.environ()
	for testNo, expected := range []string{
		"NODE_OPTIONS=--unhandled-rejections=strict",
		"http_proxy=http://squid:3128",
		"HTTPS_PROXY=http://squid:3128",
		"https_proxy=http://squid:3128",
		"PLAYWRIGHT_REQUEST_ID=req-1",
		"PLAYWRIGHT_TEST_ID=test-1",
	} {
		found := false
		for _, variable := range env {
			if variable == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected environment variable no. %d (%s) to be set", testNo+1, expected)
		}
	}
}

func TestExecution_ExecCommand(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh is not available")
	}

	for testNo, test := range []struct {
		script         string
		timeout        time.Duration
		expectedOutput string
		expectedErr    string
		expectedFiles  []string
	}{
		{
			script:         "echo $GREETING; echo oops >&2; echo data > out.png",
			expectedOutput: "hello\noops\n",
			expectedFiles:  []string{"out.png"},
		},
		{
			script:         "echo before; exit 1",
			expectedOutput: "before\n",
			expectedErr:    "could not run command",
		},
		{
			script:      "sleep 5",
			timeout:     100 * time.Millisecond,
			expectedErr: "execution timed out after 100ms",
		},
	} {
		w := newTestWorker(t, config{timeout: test.timeout})
		e, err := newExecution(w, &workertypes.RequestPayload{RequestID: "req"})
		if err != nil {
			t.Fatalf("Could not create execution no. %d: %v", testNo+1, err)
		}
		var cancel context.CancelFunc
		e.ctx, cancel = context.WithTimeout(context.Background(), w.timeout())
		e.AddEnv("GREETING", "hello")

		err = e.ExecCommand("sh", "-c", test.script)
		cancel()
		if test.expectedErr == "" && err != nil {
			t.Errorf("Expected command no. %d to succeed, got: %v", testNo+1, err)
		} else if test.expectedErr != "" && (err == nil || err.Error() != test.expectedErr) {
			t.Errorf("Expected command no. %d to fail with %q, got: %v", testNo+1, test.expectedErr, err)
		}
		if test.expectedOutput != "" && e.Output() != test.expectedOutput {
			t.Errorf("Expected output of command no. %d to be %q, got %q", testNo+1, test.expectedOutput, e.Output())
		}
		for _, name := range test.expectedFiles {
			if len(e.Files()) != len(test.expectedFiles) || e.Files()[0] != e.Path(name) {
				t.Errorf("Expected command no. %d to create %v, got %v", testNo+1, test.expectedFiles, e.Files())
			}
		}
		_ = os.RemoveAll(e.Dir)
	}
}

func TestWorker_Execute(t *testing.T) {
	store := files.NewMemoryStore("")
	store.Now = func() time.Time { return time.Unix(1700000000, 0) }
	ts := httptest.NewServer(files.NewServer(store, filesConfig{}).Routes(zerolog.Nop()))
	defer ts.Close()

	image := pngBytes(t)
	w := newTestWorker(t, config{fileServiceURL: ts.URL})
	w.Handlers = map[workertypes.Language]Handler{
		workertypes.JavaScript: func(e *Execution, code string) error {
			_, _ = fmt.Fprintf(e.OutputWriter(), "%s\n\n", code)
			return e.Track(func() error {
				return e.WriteFile("example.png", image)
			})
		},
		workertypes.Python: func(e *Execution, code string) error {
			_, _ = fmt.Fprintln(e.OutputWriter(), "Traceback (most recent call last):")
			return errors.New("could not run command")
		},
	}

	response, err := w.Execute(context.Background(), &workertypes.RequestPayload{
		Code:      "Example Domain",
		Language:  workertypes.JavaScript,
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Could not execute: %v", err)
	}
	if !response.Success || response.Error != "" {
		t.Errorf("Expected execution to succeed, got %+v", response)
	}
	if response.Output != "Example Domain" {
		t.Errorf("Expected output %q, got %q", "Example Domain", response.Output)
	}
	if response.Version != "1.52.0" || response.RequestID != "req-1" {
		t.Errorf("Expected version and request ID to be set, got %+v", response)
	}
	if len(response.Files) != 1 {
		t.Fatalf("Expected 1 uploaded file, got %d", len(response.Files))
	}
	file := response.Files[0]
	if file.FileName != "example.png" || file.Extension != ".png" || !strings.HasSuffix(file.PublicURL, "?expires=1700000600") {
		t.Errorf("Unexpected uploaded file %+v", file)
	}
	object := strings.TrimPrefix(strings.Split(file.PublicURL, "?")[0], "/"+files.DefaultBucket+"/")
	if stored, ok := store.Get(object); !ok || !bytes.Equal(stored.Data, image) {
		t.Errorf("Expected %s to be stored", object)
	}

	// The execution directories are removed once executions have finished
	entries, _ := os.ReadDir(w.Config.WorkerExecutionRoot())
	for _, entry := range entries {
		t.Errorf("Expected execution directory %s to have been removed", entry.Name())
	}

	if response, err = w.Execute(context.Background(), &workertypes.RequestPayload{
		Code:     "raise Exception()",
		Language: workertypes.Python,
	}); err != nil {
		t.Fatalf("Could not execute: %v", err)
	}
	if response.Success || response.Error != "could not run command" || response.Output != "Traceback (most recent call last):" {
		t.Errorf("Expected failed execution, got %+v", response)
	}
	if response.Files == nil || len(response.Files) != 0 {
		t.Errorf("Expected files of a failed execution to be empty, got %v", response.Files)
	}

	if response, err = w.Execute(context.Background(), &workertypes.RequestPayload{
		Code:     "Console.WriteLine(1);",
		Language: workertypes.CSharp,
	}); err != nil {
		t.Fatalf("Could not execute: %v", err)
	}
	if response.Success || response.Error != `language "csharp" is not supported` {
		t.Errorf("Expected unsupported language, got %+v", response)
	}
}

func TestWorker_ExecuteTask(t *testing.T) {
	unavailable := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer unavailable.Close()

	w := newTestWorker(t, config{fileServiceURL: unavailable.URL})
	w.Handlers = map[workertypes.Language]Handler{
		workertypes.JavaScript: func(e *Execution, code string) error {
			_, _ = fmt.Fprint(e.OutputWriter(), code)
			return nil
		},
		workertypes.Python: func(e *Execution, code string) error {
			return e.Track(func() error {
				return e.WriteFile("screenshot.png", pngBytes(t))
			})
		},
	}

	result, err := w.ExecuteTask(context.Background(), `{"code":"hello","language":"javascript","requestId":"req-2"}`)
	if err != nil {
		t.Fatalf("Could not execute task: %v", err)
	}
	var response workertypes.ResponsePayload
	if err = json.Unmarshal([]byte(result), &response); err != nil {
		t.Fatalf("Could not decode response: %v", err)
	}
	if !response.Success || response.Output != "hello" || response.RequestID != "req-2" {
		t.Errorf("Unexpected response %+v", response)
	}

	if _, err = w.ExecuteTask(context.Background(), `{"code":`); err == nil {
		t.Errorf("Expected an error for an invalid payload")
	}

	// A 503 from the file service is temporary so the task is retried until its deadline
	for testNo, test := range []struct {
		deadline string
		retried  bool
	}{
		{deadline: `,"deadline":"` + time.Now().Add(time.Hour).Format(time.RFC3339Nano) + `"`, retried: true},
		{deadline: `,"deadline":"` + time.Now().Add(RetryDelay/2).Format(time.RFC3339Nano) + `"`, retried: false},
		{deadline: "", retried: false},
	} {
		_, err = w.ExecuteTask(context.Background(), `{"code":"x","language":"python"`+test.deadline+`}`)
		if err == nil {
			t.Errorf("Expected an error for test no. %d when the file service is unavailable", testNo+1)
			continue
		}
		if !strings.Contains(err.Error(), "503") {
			t.Errorf("Expected the error for test no. %d to mention the status, got %v", testNo+1, err)
		}
		if _, retried := err.(tasks.ErrRetryTaskLater); retried != test.retried {
			t.Errorf("Expected test no. %d to be retried: %t, got %v", testNo+1, test.retried, err)
		}
	}
}

func TestWorker_ExecuteTaskExpired(t *testing.T) {
	called := false
	w := newTestWorker(t, config{})
	w.Handlers = map[workertypes.Language]Handler{
		workertypes.JavaScript: func(e *Execution, code string) error {
			called = true
			return nil
		},
	}
	deadline := time.Now().Add(-time.Second).Format(time.RFC3339Nano)
	_, err := w.ExecuteTask(context.Background(), `{"code":"x","language":"javascript","requestId":"req-3","deadline":"`+deadline+`"}`)
	if err == nil || !strings.Contains(err.Error(), "request req-3 expired") {
		t.Errorf("Expected an expired request to be rejected, got %v", err)
	}
	if called {
		t.Errorf("Expected the code of an expired request to not be run")
	}
}

func TestUploader_Upload(t *testing.T) {
	badRequest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not allowed mime-type: notes.txt", http.StatusBadRequest)
	}))
	defer badRequest.Close()

	dir := t.TempDir()
	writeFiles(t, dir, "notes.txt")

	uploader := NewUploader(badRequest.URL + "/")
	if uploaded, err := uploader.Upload(context.Background(), nil, "", ""); err != nil || len(uploaded) != 0 {
		t.Errorf("Expected no files to be a no-op, got %v, %v", uploaded, err)
	}

	_, err := uploader.Upload(context.Background(), []string{filepath.Join(dir, "notes.txt")}, "req", "")
	if err == nil {
		t.Fatalf("Expected upload to fail")
	}
	if myErrors.IsTemporary(err) {
		t.Errorf("Expected a 400 to not be temporary: %v", err)
	}
	if !strings.Contains(err.Error(), "not allowed mime-type: notes.txt") {
		t.Errorf("Expected the error to contain the response body, got %v", err)
	}

	uploader = NewUploader("http://127.0.0.1:1")
	if _, err = uploader.Upload(context.Background(), []string{filepath.Join(dir, "notes.txt")}, "", ""); !myErrors.IsTemporary(err) {
		t.Errorf("Expected a connection error to be temporary: %v", err)
	}
}

func TestFlowHandler_Invalid(t *testing.T) {
	w := newTestWorker(t, config{})
	for testNo, code := range []string{"no-such-example", "{name: empty\ncommands: []\n}"} {
		response, err := w.Execute(context.Background(), &workertypes.RequestPayload{Code: code, Language: workertypes.Flow})
		if err != nil {
			t.Fatalf("Could not execute flow no. %d: %v", testNo+1, err)
		}
		if response.Success || response.Error == "" {
			t.Errorf("Expected flow no. %d to fail, got %+v", testNo+1, response)
		}
	}
}

func TestFlowHandler_Timeout(t *testing.T) {
	w := newTestWorker(t, config{timeout: time.Nanosecond})
	response, err := w.Execute(context.Background(), &workertypes.RequestPayload{
		Code:     "{name: slow\ncommands: [{\"type\": \"wait\", \"value\": \"5s\"}]\n}",
		Language: workertypes.Flow,
	})
	if err != nil {
		t.Fatalf("Could not execute flow: %v", err)
	}
	if expected := "execution timed out after 1ns"; response.Success || response.Error != expected {
		t.Errorf("Expected flow to fail with %q, got %+v", expected, response)
	}
}

func TestExecution_Logger(t *testing.T) {
	w := newTestWorker(t, config{})
	e, err := newExecution(w, &workertypes.RequestPayload{RequestID: "req-1", TestID: "test-1"})
	if err != nil {
		t.Fatalf("Could not create execution: %v", err)
	}
	defer os.RemoveAll(e.Dir)

	e.Logger.Info().Int("size", 12).Msg("executing")
	logs := e.logBuffer.String()
	for _, expected := range []string{"INF", "executing", "service=worker", "requestId=req-1", "testId=test-1", "size=12"} {
		if !strings.Contains(logs, expected) {
			t.Errorf("Expected the aggregator buffer to contain %q, got %q", expected, logs)
		}
	}
}
