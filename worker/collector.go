package worker

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
	"io/fs"
	"path/filepath"
	"sort"
)

// filesCollector finds the files that were created within a directory between a call to snapshot and a call to
// collect.
type filesCollector struct {
	dir     string
	ignore  []glob.Glob
	existed mapset.Set[string]
}

// compileIgnorePatterns compiles the ignore patterns into globs where "*" does not match path separators and "**"
// does.
func compileIgnorePatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, len(patterns))
	for i, pattern := range patterns {
		g, err := glob.Compile(filepath.ToSlash(pattern), '/')
		if err != nil {
			return nil, errors.Wrapf(err, "could not compile ignore pattern %q", pattern)
		}
		globs[i] = g
	}
	return globs, nil
}

func newFilesCollector(dir string, ignore []glob.Glob) *filesCollector {
	return &filesCollector{dir: dir, ignore: ignore, existed: mapset.NewThreadUnsafeSet[string]()}
}

func (fc *filesCollector) walk(fn func(path string)) error {
	return filepath.WalkDir(fc.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			fn(path)
		}
		return nil
	})
}

func (fc *filesCollector) ignored(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, g := range fc.ignore {
		if g.Match(slashed) {
			return true
		}
	}
	return false
}

// snapshot records the files that already exist in the directory.
func (fc *filesCollector) snapshot() error {
	fc.existed.Clear()
	return errors.Wrapf(fc.walk(func(path string) { fc.existed.Add(path) }), "could not snapshot %s", fc.dir)
}

// collect returns the files that were created since the last snapshot and do not match any of the ignore patterns,
// sorted by path.
func (fc *filesCollector) collect() ([]string, error) {
	files := make([]string, 0)
	if err := fc.walk(func(path string) {
		if !fc.existed.Contains(path) && !fc.ignored(path) {
			files = append(files, path)
		}
	}); err != nil {
		return nil, errors.Wrapf(err, "could not collect files from %s", fc.dir)
	}
	sort.Strings(files)
	return files, nil
}
