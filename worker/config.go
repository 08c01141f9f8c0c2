package worker

import "time"

const (
	// DefaultExecutionTimeout is how long an execution can run for when no timeout is configured.
	DefaultExecutionTimeout = 30 * time.Second
	// DefaultPlaywrightTestCLI is where the @playwright/test runner is installed in the worker images.
	DefaultPlaywrightTestCLI = "/usr/lib/node_modules/@playwright/test/cli.js"
	// DefaultJavaPOM is the Maven project file that is copied into every Java execution.
	DefaultJavaPOM = "/home/pwuser/pom.xml"
	// DefaultCSharpProject is the restored .NET project that is copied into every C# execution.
	DefaultCSharpProject = "/home/pwuser/project"
)

// DefaultIgnorePatterns are the files created by an execution that are never uploaded.
var DefaultIgnorePatterns = []string{"**/*.last-run.json", "**/.playwright-artifacts-*/**"}

type Config interface {
	// WorkerExecutionRoot is the directory that the temporary directory of each execution is created in. The OS's
	// temporary directory is used when this is empty.
	WorkerExecutionRoot() string
	WorkerProxy() string
	WorkerFileServiceURL() string
	WorkerPlaywrightVersion() string
	WorkerExecutionTimeout() time.Duration
	WorkerIgnorePatterns() []string
	WorkerPlaywrightTestCLI() string
	WorkerJavaPOM() string
	WorkerCSharpProject() string
}
