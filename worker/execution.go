package worker

import (
	"bytes"
	"context"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// lockedBuffer is a bytes.Buffer that can be written to by the stdout and stderr pipes of a command at the same
// time.
type lockedBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mutex.Lock()
	defer lb.mutex.Unlock()
	return lb.buf.String()
}

// Execution is the state of a single request that is being run by a Worker. Handlers use it to write source files
// into Dir, set environment variables, and run commands.
type Execution struct {
	Request *workertypes.RequestPayload
	// Dir is the temporary directory that the code is run in. It is removed once the Execution has finished.
	Dir string
	// Logger writes JSON to stdout, and human-readable lines to the buffer that is posted to the log aggregator.
	Logger zerolog.Logger

	worker    *Worker
	ctx       context.Context
	logBuffer *bytes.Buffer
	output    *lockedBuffer
	env       []string
	ignore    []glob.Glob
	files     []string
}

func newExecution(w *Worker, request *workertypes.RequestPayload) (e *Execution, err error) {
	e = &Execution{
		Request:   request,
		worker:    w,
		ctx:       context.Background(),
		logBuffer: new(bytes.Buffer),
		output:    new(lockedBuffer),
		ignore:    w.ignore,
		files:     make([]string, 0),
	}
	if e.Dir, err = os.MkdirTemp(w.Config.WorkerExecutionRoot(), "execution-"); err != nil {
		return nil, errors.Wrap(err, "could not create execution directory")
	}

	logContext := zerolog.New(zerolog.MultiLevelWriter(os.Stdout, zerolog.ConsoleWriter{Out: e.logBuffer, NoColor: true})).
		With().
		Timestamp().
		Str("service", LogService).
		Str("requestId", request.RequestID)
	if request.TestID != "" {
		logContext = logContext.Str("testId", request.TestID)
	}
	e.Logger = logContext.Logger()
	return e, nil
}

// AddEnv adds an environment variable to every command run by ExecCommand.
func (e *Execution) AddEnv(key, value string) {
	e.env = append(e.env, key+"="+value)
}

// Ignore adds patterns for files that should not be uploaded on top of the Worker's ignore patterns.
func (e *Execution) Ignore(patterns ...string) error {
	globs, err := compileIgnorePatterns(patterns)
	if err != nil {
		return err
	}
	e.ignore = append(append([]glob.Glob{}, e.ignore...), globs...)
	return nil
}

// Output returns everything that has been written to the output of the Execution so far.
func (e *Execution) Output() string {
	return e.output.String()
}

// OutputWriter returns the writer that the output of the Execution is captured by.
func (e *Execution) OutputWriter() io.Writer {
	return e.output
}

// Files returns the files that have been created by the Execution so far.
func (e *Execution) Files() []string {
	return e.files
}

// Path returns the given slash separated path relative to Dir.
func (e *Execution) Path(name string) string {
	return filepath.Join(e.Dir, filepath.FromSlash(name))
}

// WriteFile writes a file relative to Dir, creating any parent directories.
func (e *Execution) WriteFile(name string, data []byte) error {
	path := e.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create directory for %s", name)
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "could not write %s", name)
}

// environ returns the environment that commands are run with.
func (e *Execution) environ() []string {
	env := append(os.Environ(), e.env...)
	if proxy := e.worker.Config.WorkerProxy(); proxy != "" {
		env = append(env, "http_proxy="+proxy, "HTTPS_PROXY="+proxy, "https_proxy="+proxy)
	}
	if e.Request.RequestID != "" {
		env = append(env, "PLAYWRIGHT_REQUEST_ID="+e.Request.RequestID)
	}
	if e.Request.TestID != "" {
		env = append(env, "PLAYWRIGHT_TEST_ID="+e.Request.TestID)
	}
	return env
}

// Track runs fn and adds any files that were created in Dir while it was running, and that are not ignored, to the
// files that will be uploaded.
func (e *Execution) Track(fn func() error) (err error) {
	collector := newFilesCollector(e.Dir, e.ignore)
	if err = collector.snapshot(); err != nil {
		return err
	}
	fnErr := fn()

	var files []string
	if files, err = collector.collect(); err != nil {
		return err
	}
	e.files = append(e.files, files...)
	return fnErr
}

// timedOut returns whether the Execution has run for longer than the Worker's execution timeout.
func (e *Execution) timedOut() bool {
	return errors.Is(e.ctx.Err(), context.DeadlineExceeded)
}

func (e *Execution) timeoutError() error {
	return errors.Errorf("execution timed out after %s", e.worker.timeout())
}

// ExecCommand runs the given command in Dir with the environment of the Execution. Both stdout and stderr are
// captured into the output. The command is killed when the Execution times out.
func (e *Execution) ExecCommand(name string, args ...string) error {
	return e.Track(func() error {
		cmd := exec.CommandContext(e.ctx, name, args...)
		cmd.Dir = e.Dir
		cmd.Env = e.environ()
		cmd.Stdout = e.output
		cmd.Stderr = e.output
		cmd.WaitDelay = time.Second

		start := time.Now()
		e.Logger.Info().Str("command", name).Int("args", len(args)).Msg("running command")
		err := cmd.Run()
		e.Logger.Info().Str("command", name).Dur("elapsed", time.Since(start)).AnErr("exit", err).Msg("command exited")
		if err != nil {
			if e.timedOut() {
				return e.timeoutError()
			}
			return errors.New("could not run command")
		}
		return nil
	})
}
