package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/RichardKnop/machinery/v1/log"
	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
	"strings"
	"time"
)

// CommandResult is the instance that is returned by the methods that evaluate a Command.
type CommandResult struct {
	// Elements are the elements found by the previous Command. This will be overwritten when a Command that finds
	// elements finds new elements.
	Elements []playwright.ElementHandle
}

// NewCommandResult creates a new CommandResult.
func NewCommandResult() *CommandResult {
	return &CommandResult{Elements: make([]playwright.ElementHandle, 0)}
}

// CommandResultFrom creates a new CommandResult from an existing CommandResult copying the old Elements by reference.
func CommandResultFrom(result *CommandResult) *CommandResult {
	return &CommandResult{Elements: result.Elements}
}

// CommandType represents the type of Command.
type CommandType int

const (
	// Goto will browse to the URL given in Command.Value.
	Goto CommandType = iota
	// Title prints the title of the page.
	Title
	// Screenshot saves a PNG of the page to the path in Command.Value. Command.FullPage and Command.MaxWidth control
	// the capture.
	Screenshot
	// PDF saves the page as a PDF to the path in Command.Value. Only Chromium can print to PDF.
	PDF
	// Evaluate evaluates the JavaScript expression in Command.Value within the page and prints the JSON encoding of
	// the result.
	Evaluate
	// Intercept routes every request whose URL matches the glob in Command.Value (all requests when empty). The URL of
	// each request is printed and the request is then continued unchanged.
	Intercept
	// Select a single element using a selector stored in the Command.Value field and store it in the
	// CommandResult.Elements field.
	Select
	// SelectAll will select all the elements that satisfy the selector in Command.Value and store it in the
	// CommandResult.Elements field.
	SelectAll
	// FindInnerText keeps only the elements in the CommandResult.Elements field whose innerText satisfies
	// Command.FindFunc. When there is no FindFunc, elements whose innerText contains Command.Value are kept.
	FindInnerText
	// Click the first element in the CommandResult.Elements field.
	Click
	// Type a string of text into the first element that is stored within the CommandResult.Elements field.
	Type
	// InnerText prints the innerText of all the elements in the CommandResult.Elements field.
	InnerText
	// Content prints the HTML content of the page.
	Content
	// Links parses the page's HTML and prints the text of each element that matches the selector in Command.Value.
	// See ParseLinkSelector for the selectors that are supported.
	Links
	// Wait waits for the duration in Command.Value (e.g. "500ms"), or for the selector in Command.Value to appear if
	// it is not a duration.
	Wait
)

var commandTypeNames = map[CommandType]string{
	Goto:          "Goto",
	Title:         "Title",
	Screenshot:    "Screenshot",
	PDF:           "PDF",
	Evaluate:      "Evaluate",
	Intercept:     "Intercept",
	Select:        "Select",
	SelectAll:     "SelectAll",
	FindInnerText: "FindInnerText",
	Click:         "Click",
	Type:          "Type",
	InnerText:     "InnerText",
	Content:       "Content",
	Links:         "Links",
	Wait:          "Wait",
}

// ParseCommandType returns the CommandType with the given name. Names are matched case-insensitively.
func ParseCommandType(name string) (CommandType, error) {
	for ct, ctName := range commandTypeNames {
		if strings.EqualFold(ctName, name) {
			return ct, nil
		}
	}
	return 0, errors.Errorf("%q is not a command type", name)
}

// String returns the name of the CommandType.
func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "<nil>"
}

// hasValue returns whether Command.Value is used by the CommandType.
func (ct CommandType) hasValue() bool {
	switch ct {
	case Title, Click, InnerText, Content:
		return false
	default:
		return true
	}
}

// requiresElement returns whether the CommandType acts upon the first element in CommandResult.Elements.
func (ct CommandType) requiresElement() bool {
	return ct == Click || ct == Type
}

// Execute will execute the CommandType when given a Session, a Command, and a CommandResult containing the previous
// result of a Command. Look at the CommandType enumeration to see the mutations upon each of these inputs and outputs.
// A Wait for a duration returns early with the context's error when ctx is done.
func (ct CommandType) Execute(ctx context.Context, s *Session, command *Command, previousResult *CommandResult) (result *CommandResult, err error) {
	result = CommandResultFrom(previousResult)
	page := s.Page
	if ct.requiresElement() && (len(previousResult.Elements) == 0 || previousResult.Elements[0] == nil) {
		return result, errors.Errorf("there is no element to %s", strings.ToLower(ct.String()))
	}

	switch ct {
	case Goto:
		options := make([]playwright.PageGotoOptions, len(command.Options))
		for i, opt := range command.Options {
			options[i] = opt.(playwright.PageGotoOptions)
		}
		if _, err = page.Goto(command.Value, options...); err != nil {
			err = errors.Wrapf(err, "could not goto \"%s\"", command.Value)
		}
	case Title:
		var title string
		if title, err = page.Title(); err != nil {
			err = errors.Wrap(err, "could not get the title")
		} else {
			s.Println(title)
		}
	case Screenshot:
		err = s.screenshot(command.Value, command.FullPage, command.MaxWidth)
	case PDF:
		if s.Engine != Chromium {
			return result, errors.Errorf("PDFs can only be generated by %s, not %s", Chromium, s.Engine)
		}
		if _, err = page.PDF(playwright.PagePdfOptions{Path: playwright.String(s.Options.path(command.Value))}); err != nil {
			err = errors.Wrapf(err, "could not save PDF to \"%s\"", command.Value)
		}
	case Evaluate:
		var value any
		if value, err = page.Evaluate(command.Value); err != nil {
			err = errors.Wrap(err, "could not evaluate expression")
			break
		}
		var b []byte
		if b, err = json.Marshal(value); err != nil {
			err = errors.Wrap(err, "could not encode the result of the expression")
			break
		}
		s.Println(string(b))
	case Intercept:
		pattern := command.Value
		if pattern == "" {
			pattern = "**"
		}
		if err = page.Route(pattern, func(route playwright.Route) {
			s.Println(route.Request().URL())
			if continueErr := route.Continue(); continueErr != nil {
				log.WARNING.Printf("Could not continue request to %s: %v", route.Request().URL(), continueErr)
			}
		}); err != nil {
			err = errors.Wrapf(err, "could not route \"%s\"", pattern)
		}
	case Select:
		result.Elements = make([]playwright.ElementHandle, 1)
		if command.Wait {
			options := make([]playwright.PageWaitForSelectorOptions, len(command.Options))
			for i, opt := range command.Options {
				options[i] = opt.(playwright.PageWaitForSelectorOptions)
			}
			result.Elements[0], err = page.WaitForSelector(command.Value, options...)
		} else {
			result.Elements[0], err = page.QuerySelector(command.Value)
		}
		if err == nil && result.Elements[0] == nil {
			err = errors.Errorf("no element matches \"%s\"", command.Value)
		}
	case SelectAll:
		result.Elements, err = page.QuerySelectorAll(command.Value)
	case FindInnerText:
		find := command.FindFunc
		if find == nil {
			find = func(text string) bool { return strings.Contains(text, command.Value) }
		}
		result.Elements = make([]playwright.ElementHandle, 0)
		for i, element := range previousResult.Elements {
			var text string
			if text, err = element.InnerText(); err != nil {
				err = errors.Wrapf(err, "could not get the InnerText of element %d", i)
				break
			}
			if find(text) {
				result.Elements = append(result.Elements, element)
			}
		}
	case Click:
		options := make([]playwright.ElementHandleClickOptions, len(command.Options))
		for i, opt := range command.Options {
			options[i] = opt.(playwright.ElementHandleClickOptions)
		}
		if err = previousResult.Elements[0].Click(options...); err != nil {
			err = errors.Wrap(err, "cannot click on the first element")
		}
	case Type:
		options := make([]playwright.ElementHandleTypeOptions, len(command.Options))
		for i, opt := range command.Options {
			options[i] = opt.(playwright.ElementHandleTypeOptions)
		}
		if err = previousResult.Elements[0].Type(command.Value, options...); err != nil {
			err = errors.Wrapf(err, "cannot type \"%s\" into the first element", command.Value)
		}
	case InnerText:
		for i, element := range previousResult.Elements {
			var text string
			if text, err = element.InnerText(); err != nil {
				err = errors.Wrapf(err, "could not get the InnerText of element %d", i)
				break
			}
			s.Println(text)
		}
	case Content:
		var content string
		if content, err = page.Content(); err != nil {
			err = errors.Wrap(err, "could not get the content of the page")
		} else {
			s.Println(content)
		}
	case Links:
		var selector LinkSelector
		if selector, err = ParseLinkSelector(command.Value); err != nil {
			break
		}
		var content string
		if content, err = page.Content(); err != nil {
			err = errors.Wrap(err, "could not get the content of the page")
			break
		}
		for _, text := range selector.Extract(content) {
			s.Println(text)
		}
	case Wait:
		if d, parseErr := time.ParseDuration(command.Value); parseErr == nil {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				err = errors.Wrapf(ctx.Err(), "wait for %s was interrupted", d)
			}
		} else if _, err = page.WaitForSelector(command.Value); err != nil {
			err = errors.Wrapf(err, "could not wait for \"%s\"", command.Value)
		}
	default:
		return result, fmt.Errorf("cannot execute command type %d", ct)
	}
	return result, err
}

// Command represents a command that can be passed to the Session.Flow method.
type Command struct {
	// Type is the type of the command, and will determine what is executed on the playwright.Page.
	Type CommandType
	// Value is the argument for the Type. See the CommandType enumeration for how each CommandType uses it.
	Value string
	// Options will be asserted to the correct playwright options type on execution. Only Goto, Select (with Wait),
	// Click, and Type accept Options.
	Options []any
	// Wait indicates whether the command should wait for the query selector to become visible. Thus, it is only
	// applicable when Type is Select.
	Wait bool
	// Optional indicates that this command can fail, and it will be skipped.
	Optional bool
	// FullPage captures the whole scrollable page when Type is Screenshot.
	FullPage bool
	// MaxWidth downsizes a Screenshot to at most this many pixels wide, preserving its aspect ratio.
	MaxWidth int
	// FindFunc is the predicate used by FindInnerText.
	FindFunc func(text string) bool
}

// Execute wraps the Execute method for CommandType.
func (c *Command) Execute(ctx context.Context, s *Session, previousResult *CommandResult) (result *CommandResult, err error) {
	if result, err = c.Type.Execute(ctx, s, c, previousResult); err != nil {
		if !c.Optional {
			return result, errors.Wrapf(err, "execution failed for %s", c.String())
		}
		// When the Command is optional we will set the result to the previous result.
		result = previousResult
	}
	return result, nil
}

// String returns the string representation of the Command. This returns a string that is similar to Go's
// representation of structs, but it also includes the field names. The Value field is only included for the
// CommandType that use it, and the Wait field will only be included if the Type is Select. FindFunc will never be
// included.
func (c *Command) String() string {
	segments := make([]string, 1)
	segments[0] = fmt.Sprintf("Type: %s", c.Type.String())
	if c.Type.hasValue() {
		segments = append(segments, fmt.Sprintf("Value: \"%s\"", c.Value))
	}
	if c.Type == Select {
		segments = append(segments, fmt.Sprintf("Wait: %t", c.Wait))
	}
	if c.Type == Screenshot {
		segments = append(segments, fmt.Sprintf("FullPage: %t", c.FullPage))
		if c.MaxWidth > 0 {
			segments = append(segments, fmt.Sprintf("MaxWidth: %d", c.MaxWidth))
		}
	}
	if len(c.Options) > 0 {
		segments = append(segments, fmt.Sprintf("Options: %v", c.Options))
	}
	segments = append(segments, fmt.Sprintf("Optional: %t", c.Optional))
	return fmt.Sprintf("{%s}", strings.Join(segments, ", "))
}
