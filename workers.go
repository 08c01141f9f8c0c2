package main

import (
	"fmt"
	"github.com/RichardKnop/logging"
	"github.com/RichardKnop/machinery/v1/log"
	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/andygello555/try-playwright/logagg"
	task "github.com/andygello555/try-playwright/tasks"
	"github.com/andygello555/try-playwright/worker"
	"github.com/pkg/errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// throughWriter is a writer that writes to the logger (logging.LoggerInterface), by converting the given
// bytes to a string.
type throughWriter struct {
	logger logging.LoggerInterface
}

var timePrefixPattern = regexp.MustCompile(`^(\[.*?] ).*$`)

func (w *throughWriter) Write(d []byte) (int, error) {
	dString := strings.TrimSpace(string(d))
	if match := timePrefixPattern.FindStringSubmatch(dString); match != nil {
		dString = strings.TrimPrefix(dString, match[1])
	}
	for _, line := range strings.Split(dString, "\n") {
		w.logger.Print(line)
	}
	return len(d), nil
}

// maxArgLength is the maximum number of characters of each argument that is shown in a call signature.
const maxArgLength = 64

// constructCallSignature will construct a call signature for the given tasks.Signature with the arg name, value, and
// type. Long values are truncated.
func constructCallSignature(signature *tasks.Signature) string {
	var b strings.Builder
	for i, arg := range signature.Args {
		argPrefix := ""
		if arg.Name != "" {
			argPrefix = fmt.Sprintf("%s: ", arg.Name)
		}
		value := fmt.Sprintf("%v", arg.Value)
		if len(value) > maxArgLength {
			value = value[:maxArgLength] + "..."
		}
		b.WriteString(fmt.Sprintf("%s%s (%s)", argPrefix, value, arg.Type))
		if i != len(signature.Args)-1 {
			b.WriteString(", ")
		}
	}
	return fmt.Sprintf("%s(%s)", signature.Name, b.String())
}

type taskDuration struct {
	name     string
	duration time.Duration
}

// taskStats records the runtimes of the tasks run by a worker. Tasks can run concurrently so every table is guarded
// by the mutex.
type taskStats struct {
	mutex sync.Mutex
	// start holds the start times of each running task
	start map[string]time.Time
	// total records the total runtime of tasks that have been run to completion
	total map[string]time.Duration
	// average records the average runtime for tasks
	average map[string]time.Duration
	// count records the number of times a task has been run to completion
	count map[string]int64
}

func newTaskStats() *taskStats {
	return &taskStats{
		start:   make(map[string]time.Time),
		total:   make(map[string]time.Duration),
		average: make(map[string]time.Duration),
		count:   make(map[string]int64),
	}
}

func (ts *taskStats) started(signature *tasks.Signature, at time.Time) {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	ts.start[signature.UUID] = at
}

// finished records the end of the task and returns how long it took. The returned bool is false if the start of the
// task was never recorded.
func (ts *taskStats) finished(signature *tasks.Signature, at time.Time) (time.Duration, bool) {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	startTime, ok := ts.start[signature.UUID]
	if !ok {
		return 0, false
	}
	duration := at.Sub(startTime)
	ts.count[signature.Name] += 1
	ts.total[signature.Name] += duration
	ts.average[signature.Name] = ts.total[signature.Name] / time.Duration(ts.count[signature.Name])
	delete(ts.start, signature.UUID)
	return duration, true
}

// averages returns the average task runtimes as a sorted descending list.
func (ts *taskStats) averages() []taskDuration {
	ts.mutex.Lock()
	defer ts.mutex.Unlock()
	durations := make([]taskDuration, 0, len(ts.average))
	for name, duration := range ts.average {
		durations = append(durations, taskDuration{name: name, duration: duration})
	}
	sort.Slice(durations, func(i, j int) bool {
		return durations[i].duration > durations[j].duration
	})
	return durations
}

// startWorker launches a machinery worker that runs the executions sent by the control service.
func startWorker(consumerTag string) (err error) {
	logagg.CreateClient(globalConfig.Logs)

	var executionWorker *worker.Worker
	if executionWorker, err = worker.NewWorker(globalConfig.Worker); err != nil {
		return errors.Wrap(err, "could not create execution worker")
	}
	task.RegisterTask(task.ExecuteTaskName, executionWorker.ExecuteTask)

	server, err := task.StartServer(globalConfig.Tasks)
	if err != nil {
		return err
	}

	// The second argument is the number of executions this worker runs at once
	w := server.NewWorker(consumerTag, globalConfig.Tasks.Concurrency)
	stats := newTaskStats()

	// Here we inject some custom code for error handling,
	// start and end of task hooks, useful for metrics for example.
	errorHandler := func(err error) {
		log.ERROR.Printf("Error occurred when executing task:\n\t%v\n", err)
	}

	preTaskHandler := func(signature *tasks.Signature) {
		stats.started(signature, time.Now().UTC())
		log.INFO.Printf("Starting %s: %s\n", signature.UUID, constructCallSignature(signature))
	}

	postTaskHandler := func(signature *tasks.Signature) {
		if duration, ok := stats.finished(signature, time.Now().UTC()); ok {
			log.INFO.Printf("Finished %s: %s, in %s\n", signature.Name, constructCallSignature(signature), duration.String())
		} else {
			log.INFO.Printf("Finished %s: %s\n", signature.Name, constructCallSignature(signature))
		}

		log.INFO.Println("Average task runtimes:")
		for i, duration := range stats.averages() {
			log.INFO.Printf("%d: %s - %s", i+1, duration.name, duration.duration)
		}
	}

	w.SetPostTaskHandler(postTaskHandler)
	w.SetErrorHandler(errorHandler)
	w.SetPreTaskHandler(preTaskHandler)

	return w.Launch()
}
