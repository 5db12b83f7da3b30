// Package source lists the registry files a load run consumes.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

const DefaultPattern = "*"

// Dir lists regular files under a directory whose slash-separated relative
// path matches Pattern. Pattern uses doublestar syntax, so "**/*.xml"
// descends into subdirectories.
type Dir struct {
	Pattern string
}

func (d Dir) pattern() string {
	if d.Pattern == "" {
		return DefaultPattern
	}
	return d.Pattern
}

// List returns matching paths in lexicographic order.
func (d Dir) List(dir string) ([]string, error) {
	pattern := d.pattern()
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid file pattern %q", pattern)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dir)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	out := make([]string, 0, len(matches))
	for _, match := range matches {
		path := filepath.Join(dir, filepath.FromSlash(match))
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		out = append(out, path)
	}
	slices.Sort(out)
	return out, nil
}

// Match reports whether path, a file below dir, would be listed.
func (d Dir) Match(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	ok, err := doublestar.Match(d.pattern(), filepath.ToSlash(rel))
	return err == nil && ok
}
