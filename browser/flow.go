package browser

import (
	"context"
	"fmt"
	"github.com/hjson/hjson-go/v4"
	"github.com/pkg/errors"
	"io"
	"strings"
)

// EnginePlaceholder is replaced with the name of the Engine in every Command.Value when a Flow is run.
const EnginePlaceholder = "{engine}"

// FlowOptions are the Options that a Flow can set for the sessions it runs in. Zero values leave the Options given
// to RunFlow unchanged.
type FlowOptions struct {
	UserAgent      string       `json:"user_agent"`
	Viewport       *Viewport    `json:"viewport"`
	Device         string       `json:"device"`
	Geolocation    *Geolocation `json:"geolocation"`
	Locale         string       `json:"locale"`
	Permissions    []string     `json:"permissions"`
	RecordVideoDir string       `json:"record_video_dir"`
	Timeout        float64      `json:"timeout"`
}

// Apply returns a copy of the given Options with the FlowOptions set.
func (fo FlowOptions) Apply(opts Options) Options {
	if fo.UserAgent != "" {
		opts.UserAgent = fo.UserAgent
	}
	if fo.Viewport != nil {
		opts.Viewport = fo.Viewport
	}
	if fo.Device != "" {
		opts.Device = fo.Device
	}
	if fo.Geolocation != nil {
		opts.Geolocation = fo.Geolocation
	}
	if fo.Locale != "" {
		opts.Locale = fo.Locale
	}
	if len(fo.Permissions) > 0 {
		opts.Permissions = fo.Permissions
	}
	if fo.RecordVideoDir != "" {
		opts.RecordVideoDir = fo.RecordVideoDir
	}
	if fo.Timeout > 0 {
		opts.Timeout = fo.Timeout
	}
	return opts
}

// Flow is a named list of Command that is run once per Engine.
type Flow struct {
	Name        string
	Description string
	// Engines that the Flow is run in, in order. When empty, the Flow is run in the Engine of the Options given to
	// RunFlow.
	Engines  []Engine
	Options  FlowOptions
	Commands []Command
}

// flowCommand is a Command as it is written in a flow document.
type flowCommand struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Wait     bool   `json:"wait"`
	Optional bool   `json:"optional"`
	FullPage bool   `json:"full_page"`
	MaxWidth int    `json:"max_width"`
}

// flowDocument is the structure of a flow document.
type flowDocument struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Engines     []string      `json:"engines"`
	Options     FlowOptions   `json:"options"`
	Commands    []flowCommand `json:"commands"`
}

// ParseFlow parses an HJSON flow document. Unknown engines and command types, and flows without any commands, are
// errors.
func ParseFlow(data []byte) (flow *Flow, err error) {
	var doc flowDocument
	if err = hjson.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "could not decode flow document")
	}
	if len(doc.Commands) == 0 {
		return nil, errors.Errorf("flow %q has no commands", doc.Name)
	}

	flow = &Flow{
		Name:        doc.Name,
		Description: doc.Description,
		Engines:     make([]Engine, len(doc.Engines)),
		Options:     doc.Options,
		Commands:    make([]Command, len(doc.Commands)),
	}
	for i, name := range doc.Engines {
		if flow.Engines[i], err = ParseEngine(name); err != nil {
			return nil, errors.Wrapf(err, "engine %d of flow %q", i, doc.Name)
		}
	}
	for i, command := range doc.Commands {
		var ct CommandType
		if ct, err = ParseCommandType(command.Type); err != nil {
			return nil, errors.Wrapf(err, "command %d of flow %q", i, doc.Name)
		}
		flow.Commands[i] = Command{
			Type:     ct,
			Value:    command.Value,
			Wait:     command.Wait,
			Optional: command.Optional,
			FullPage: command.FullPage,
			MaxWidth: command.MaxWidth,
		}
	}
	return flow, nil
}

// CommandsFor returns a copy of the Flow's commands with the EnginePlaceholder in each Command.Value replaced by the
// given Engine.
func (f *Flow) CommandsFor(engine Engine) []Command {
	commands := make([]Command, len(f.Commands))
	for i, command := range f.Commands {
		command.Value = strings.ReplaceAll(command.Value, EnginePlaceholder, engine.String())
		commands[i] = command
	}
	return commands
}

// RunFlow runs the Flow once for each of its engines. Each run happens in its own Session, created from opts with
// the Flow's options applied, and the lines printed by the commands are written to out in the order they are
// printed. No further engines are run once ctx is done.
func RunFlow(ctx context.Context, flow *Flow, opts Options, out io.Writer) error {
	engines := flow.Engines
	if len(engines) == 0 {
		engines = []Engine{opts.engine()}
	}

	for _, engine := range engines {
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "flow %q stopped before %s", flow.Name, engine)
		}
		sessionOpts := flow.Options.Apply(opts)
		sessionOpts.Engine = engine
		if err := WithSession(sessionOpts, func(s *Session) error {
			s.Output = out
			_, err := s.Flow(ctx, flow.CommandsFor(engine)...)
			return err
		}); err != nil {
			return errors.Wrapf(err, "flow %q failed in %s", flow.Name, engine)
		}
	}
	return nil
}

func (f *Flow) String() string {
	return fmt.Sprintf("%s %v: %s", f.Name, f.Engines, f.Description)
}
