package worker

import (
	"github.com/andygello555/try-playwright/browser"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/pkg/errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// TypeScriptSuffix marks JavaScript code that should be run with ts-node.
const TypeScriptSuffix = "/*use-ts-node*/"

// Handler writes the given code into the Execution's directory and runs it.
type Handler func(e *Execution, code string) error

// DefaultHandlers returns a Handler for every workertypes.Language.
func DefaultHandlers() map[workertypes.Language]Handler {
	return map[workertypes.Language]Handler{
		workertypes.JavaScript: JavaScript,
		workertypes.Python:     Python,
		workertypes.Java:       Java,
		workertypes.CSharp:     CSharp,
		workertypes.Flow:       Flow,
	}
}

// JavaScript runs code with node. Code that imports @playwright/test is run with the test runner, and code ending
// with TypeScriptSuffix is run with ts-node.
func JavaScript(e *Execution, code string) error {
	e.AddEnv("NODE_OPTIONS", "--unhandled-rejections=strict")
	switch {
	case strings.Contains(code, "@playwright/test"):
		if err := e.WriteFile("example.spec.ts", []byte(code)); err != nil {
			return err
		}
		return e.ExecCommand("node", e.worker.playwrightTestCLI(), "test", "--trace=on", e.Path("example.spec.ts"))
	case strings.HasSuffix(code, TypeScriptSuffix):
		return e.ExecCommand(
			"ts-node", `--compilerOptions={"isolatedModules": false}`,
			"-e", strings.TrimSuffix(code, TypeScriptSuffix),
		)
	default:
		return e.ExecCommand("node", "-e", code)
	}
}

func Python(e *Execution, code string) error {
	return e.ExecCommand("python", "-c", code)
}

// Java compiles and runs code as the org.example.Execution class of a copy of the configured Maven project.
func Java(e *Execution, code string) (err error) {
	var pom []byte
	if pom, err = os.ReadFile(e.worker.javaPOM()); err != nil {
		return errors.Wrap(err, "could not read pom.xml")
	}
	if err = e.WriteFile("pom.xml", pom); err != nil {
		return err
	}
	if err = e.WriteFile("src/main/java/org/example/Execution.java", []byte(code)); err != nil {
		return err
	}
	if err = e.Ignore("**/target/**"); err != nil {
		return err
	}
	return e.ExecCommand("mvn", "compile", "exec:java", "-q", "-D", "exec.mainClass=org.example.Execution")
}

// CSharp copies the configured .NET project, which must already be restored, and runs code as its Program.cs.
func CSharp(e *Execution, code string) (err error) {
	if err = copyDir(e.worker.csharpProject(), e.Dir); err != nil {
		return errors.Wrap(err, "could not copy project")
	}
	if err = e.WriteFile("Program.cs", []byte(code)); err != nil {
		return err
	}
	if err = e.Ignore("**/bin/**", "**/obj/**"); err != nil {
		return err
	}
	return e.ExecCommand("dotnet", "run", "--no-restore")
}

// Flow runs a browser.Flow in-process. The code is either the name of one of the built-in example flows or a flow
// document.
func Flow(e *Execution, code string) (err error) {
	var flow *browser.Flow
	if name := strings.TrimSpace(code); name != "" && !strings.ContainsAny(name, "\n{") {
		if flow, err = browser.Example(name); err != nil {
			return err
		}
	} else if flow, err = browser.ParseFlow([]byte(code)); err != nil {
		return err
	}

	opts := browser.Options{Headless: true, Dir: e.Dir, Timeout: float64(e.worker.timeout().Milliseconds())}
	e.Logger.Info().Str("flow", flow.Name).Int("commands", len(flow.Commands)).Msg("running flow")
	if err = e.Track(func() error {
		return browser.RunFlow(e.ctx, flow, opts, e.OutputWriter())
	}); err != nil && e.timedOut() {
		return e.timeoutError()
	}
	return err
}

// copyDir copies the regular files and directories within src into dst.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}
