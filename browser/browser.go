package browser

import (
	"context"
	"fmt"
	"github.com/RichardKnop/machinery/v1/log"
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
	"io"
	"sync"
)

// Session wraps the main instances needed for playwright. A Session owns exactly one playwright.Page.
type Session struct {
	Playwright *playwright.Playwright
	Browser    playwright.Browser
	Context    playwright.BrowserContext
	Page       playwright.Page
	Engine     Engine
	Options    Options
	// Output is written to every time a line is printed by a Command. Lines are still accumulated when Output is nil.
	Output io.Writer

	linesMutex sync.Mutex
	lines      []string
}

// NewSession starts playwright, launches the Options.Engine, and then opens a new browsing context and page. If any of
// these steps fail then everything that has already been acquired is released before the error is returned.
func NewSession(opts Options) (session *Session, err error) {
	session = &Session{Engine: opts.engine(), Options: opts, lines: make([]string, 0)}
	defer func() {
		if err != nil {
			if closeErr := session.Close(); closeErr != nil {
				err = myErrors.MergeErrors(err, closeErr)
			}
			session = nil
		}
	}()

	if session.Playwright, err = playwright.Run(); err != nil {
		return session, errors.Wrap(err, "session could not be created as playwright could not be started")
	}

	var browserType playwright.BrowserType
	if browserType, err = session.Engine.browserType(session.Playwright); err != nil {
		return
	}
	if session.Browser, err = browserType.Launch(opts.launchOptions()); err != nil {
		return session, errors.Wrapf(err, "session could not be created as %s could not be launched", session.Engine)
	}

	var contextOptions playwright.BrowserNewContextOptions
	if contextOptions, err = opts.contextOptions(session.Playwright.Devices); err != nil {
		return session, errors.Wrap(err, "session could not be created")
	}
	if session.Context, err = session.Browser.NewContext(contextOptions); err != nil {
		return session, errors.Wrap(err, "session could not be created as context could not be created")
	}
	session.Context.SetDefaultTimeout(opts.timeout())

	if session.Page, err = session.Context.NewPage(); err != nil {
		return session, errors.Wrap(err, "session could not be created as page could not be created")
	}
	return session, nil
}

// Close the Session. This closes the page, the browsing context, and the browser, and stops playwright. Every instance
// is released even if closing an earlier one fails, with all the errors being merged.
func (s *Session) Close() error {
	var errs []error
	if s.Page != nil {
		if err := s.Page.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "could not close the playwright.Page instance"))
		}
		s.Page = nil
	}
	if s.Context != nil {
		if err := s.Context.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "could not close the playwright.BrowserContext instance"))
		}
		s.Context = nil
	}
	if s.Browser != nil {
		if err := s.Browser.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "could not close the playwright.Browser instance"))
		}
		s.Browser = nil
	}
	if s.Playwright != nil {
		if err := s.Playwright.Stop(); err != nil {
			errs = append(errs, errors.Wrap(err, "could not stop the playwright.Playwright instance"))
		}
		s.Playwright = nil
	}
	return myErrors.MergeErrors(errs...)
}

// WithSession creates a Session using the given Options, calls fn with it, and then closes the Session. The Session is
// closed when fn returns an error and when fn panics, in which case the panic is re-raised once the Session has been
// released. Errors from closing the Session are merged with the error returned by fn.
func WithSession(opts Options, fn func(s *Session) error) (err error) {
	var session *Session
	if session, err = NewSession(opts); err != nil {
		return err
	}

	defer func() {
		p := recover()
		if closeErr := session.Close(); closeErr != nil {
			err = myErrors.MergeErrors(err, closeErr)
		}
		if p != nil {
			panic(p)
		}
	}()
	return fn(session)
}

// Println records a line of output and writes it to the Session's Output. It is safe to call from the handlers that
// playwright runs in its own goroutines.
func (s *Session) Println(line string) {
	s.linesMutex.Lock()
	defer s.linesMutex.Unlock()
	s.lines = append(s.lines, line)
	if s.Output != nil {
		_, _ = fmt.Fprintln(s.Output, line)
	}
}

// Lines returns a copy of all the lines printed so far.
func (s *Session) Lines() []string {
	s.linesMutex.Lock()
	defer s.linesMutex.Unlock()
	lines := make([]string, len(s.lines))
	copy(lines, s.lines)
	return lines
}

// Flow executes a series of Command, and returns the lines that were printed whilst executing them. The context is
// checked before each Command. When it is done during a Command the browser is closed, so that any playwright call
// that is in flight returns, and the context's error is returned.
func (s *Session) Flow(ctx context.Context, commands ...Command) ([]string, error) {
	var err error
	start := len(s.Lines())
	result := NewCommandResult()

	browser := s.Browser
	stop := context.AfterFunc(ctx, func() {
		if browser == nil {
			return
		}
		if closeErr := browser.Close(); closeErr != nil {
			log.WARNING.Printf("Could not close %s after the flow was cancelled: %v", s.Engine, closeErr)
		}
	})
	defer stop()

	for i, command := range commands {
		if err = ctx.Err(); err != nil {
			return s.Lines()[start:], errors.Wrapf(err, "flow stopped before command %d", i)
		}
		if result, err = command.Execute(ctx, s, result); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.Lines()[start:], errors.Wrapf(ctxErr, "flow stopped on command %d", i)
			}
			return s.Lines()[start:], errors.Wrapf(err, "flow failed on command %d", i)
		}
	}
	return s.Lines()[start:], nil
}

// Install downloads the playwright driver and the browsers for the given engines. All engines are installed when none
// are given.
func Install(engines ...Engine) error {
	if len(engines) == 0 {
		engines = Engines()
	}
	browsers := make([]string, len(engines))
	for i, engine := range engines {
		browsers[i] = engine.String()
	}
	return errors.Wrapf(playwright.Install(&playwright.RunOptions{Browsers: browsers}), "could not install %v", browsers)
}
