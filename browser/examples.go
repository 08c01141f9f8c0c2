package browser

import (
	"embed"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"io/fs"
	"path"
	"strings"
	"sync"
)

//go:embed examples/*.hjson
var exampleFS embed.FS

var (
	examplesOnce sync.Once
	examples     map[string]*Flow
	examplesErr  error
)

func loadExamples() (map[string]*Flow, error) {
	examplesOnce.Do(func() {
		var entries []string
		if entries, examplesErr = fs.Glob(exampleFS, "examples/*.hjson"); examplesErr != nil {
			return
		}
		examples = make(map[string]*Flow, len(entries))
		for _, entry := range entries {
			var data []byte
			if data, examplesErr = exampleFS.ReadFile(entry); examplesErr != nil {
				examplesErr = errors.Wrapf(examplesErr, "could not read example %s", entry)
				return
			}
			var flow *Flow
			if flow, examplesErr = ParseFlow(data); examplesErr != nil {
				examplesErr = errors.Wrapf(examplesErr, "could not parse example %s", entry)
				return
			}
			if flow.Name == "" {
				flow.Name = strings.TrimSuffix(path.Base(entry), path.Ext(entry))
			}
			examples[flow.Name] = flow
		}
	})
	return examples, examplesErr
}

// Examples returns all the built-in example flows sorted by name.
func Examples() ([]*Flow, error) {
	all, err := loadExamples()
	if err != nil {
		return nil, err
	}
	names := maps.Keys(all)
	slices.Sort(names)
	flows := make([]*Flow, len(names))
	for i, name := range names {
		flows[i] = all[name]
	}
	return flows, nil
}

// Example returns the built-in example flow with the given name.
func Example(name string) (*Flow, error) {
	all, err := loadExamples()
	if err != nil {
		return nil, err
	}
	flow, ok := all[name]
	if !ok {
		names := maps.Keys(all)
		slices.Sort(names)
		return nil, errors.Errorf("there is no example named %q, must be one of %v", name, names)
	}
	return flow, nil
}
