package watch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// defaultIgnore is always excluded from watching.
var defaultIgnore = []string{".git", "node_modules"}

// matcher decides whether a path relative to the watch root is ignored.
type matcher struct {
	globs []glob.Glob
	exact map[string]bool
}

func newMatcher(patterns []string) (*matcher, error) {
	m := &matcher{exact: make(map[string]bool)}
	for _, pattern := range append(append([]string(nil), defaultIgnore...), patterns...) {
		pattern = strings.TrimSuffix(filepath.ToSlash(strings.TrimSpace(pattern)), "/")
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", pattern, err)
		}
		m.globs = append(m.globs, g)
		if !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
			g, err := glob.Compile("**/"+pattern, '/')
			if err != nil {
				return nil, fmt.Errorf("ignore pattern %q: %w", pattern, err)
			}
			m.globs = append(m.globs, g)
		}
	}
	return m, nil
}

// ignoreFile excludes one exact path, such as the process's own log file.
func (m *matcher) ignoreFile(path string) {
	if path != "" {
		m.exact[filepath.Clean(path)] = true
	}
}

// Match reports whether abs, below root, is ignored. A path is ignored when
// it or any parent directory matches.
func (m *matcher) Match(root, abs string) bool {
	if m.exact[filepath.Clean(abs)] {
		return true
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	for {
		for _, g := range m.globs {
			if g.Match(rel) {
				return true
			}
		}
		idx := strings.LastIndexByte(rel, '/')
		if idx < 0 {
			return false
		}
		rel = rel[:idx]
	}
}
