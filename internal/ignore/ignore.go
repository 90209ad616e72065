// Package ignore implements gitignore-style pattern matching for content
// discovery. Syntax follows https://git-scm.com/docs/gitignore: negation with
// a leading !, directory-only patterns with a trailing /, anchoring with a
// leading or internal /, and * / ** / ? / [] globs.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Ruleset holds compiled ignore rules. Later rules override earlier ones, so
// a negation after a match un-ignores the path. Safe for concurrent use.
type Ruleset struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool
	base     string // non-empty for rules from a nested ignore file
}

// NewRuleset creates an empty Ruleset.
func NewRuleset() *Ruleset {
	return &Ruleset{}
}

// AddLine parses one pattern line and adds it to the set. Blank lines and
// comments are skipped.
func (rs *Ruleset) AddLine(line string) {
	rs.addLine(line, "")
}

func (rs *Ruleset) addLine(line, base string) {
	pattern := strings.TrimSpace(line)
	if pattern == "" || (strings.HasPrefix(pattern, "#") && !strings.HasPrefix(pattern, `\#`)) {
		return
	}

	r := rule{base: base}

	switch {
	case strings.HasPrefix(pattern, `\#`), strings.HasPrefix(pattern, `\!`):
		pattern = pattern[1:]
	case strings.HasPrefix(pattern, "!"):
		r.negation = true
		pattern = pattern[1:]
	}

	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}

	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	} else if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") && !strings.HasPrefix(pattern, "*") {
		// A pattern with an internal slash anchors at the ruleset root:
		// "doc/frotz" means "/doc/frotz", not "**/doc/frotz".
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + globToRegex(pattern) + "$")

	rs.mu.Lock()
	rs.rules = append(rs.rules, r)
	rs.mu.Unlock()
}

// LoadFile reads patterns from an ignore file. base scopes the rules to paths
// under that directory (empty for the root ignore file).
func (rs *Ruleset) LoadFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		rs.addLine(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read ignore file: %w", err)
	}
	return nil
}

// Ignored reports whether path (relative, slash-separated or OS-separated)
// matches the ruleset.
func (rs *Ruleset) Ignored(path string, isDir bool) bool {
	path = filepath.ToSlash(path)

	rs.mu.RLock()
	defer rs.mu.RUnlock()

	ignored := false
	for _, r := range rs.rules {
		if matchRule(path, isDir, r) {
			ignored = !r.negation
		}
	}
	return ignored
}

func matchRule(path string, isDir bool, r rule) bool {
	if r.base != "" {
		if path == r.base {
			path = filepath.Base(path)
		} else if strings.HasPrefix(path, r.base+"/") {
			path = strings.TrimPrefix(path, r.base+"/")
		} else {
			return false
		}
	}

	parts := strings.Split(path, "/")
	basename := parts[len(parts)-1]

	if r.anchored {
		if r.regex.MatchString(path) {
			if r.dirOnly {
				return isDir
			}
			return true
		}
		if r.dirOnly {
			// A file inside an anchored ignored directory is also ignored.
			for i := range parts[:len(parts)-1] {
				if r.regex.MatchString(strings.Join(parts[:i+1], "/")) {
					return true
				}
			}
		}
		return false
	}

	if r.dirOnly {
		for i, part := range parts {
			if r.regex.MatchString(part) {
				if i == len(parts)-1 {
					return isDir
				}
				return true
			}
		}
		return false
	}

	if r.regex.MatchString(basename) || r.regex.MatchString(path) {
		return true
	}
	for _, part := range parts {
		if r.regex.MatchString(part) {
			return true
		}
	}
	return false
}

// globToRegex converts a gitignore glob to a regex body.
func globToRegex(pattern string) string {
	var b strings.Builder

	i := 0
	for i < len(pattern) {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					b.WriteString("(?:.*/)?") // **/ spans any depth
					i += 3
					continue
				}
				if i == 0 || pattern[i-1] == '/' {
					b.WriteString(".*")
					i += 2
					continue
				}
			}
			b.WriteString("[^/]*")
			i++
		case '?':
			b.WriteString("[^/]")
			i++
		case '[':
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j < len(pattern) {
				b.WriteString(pattern[i : j+1])
				i = j + 1
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		case '\\':
			if i+1 < len(pattern) {
				b.WriteString(regexp.QuoteMeta(string(pattern[i+1])))
				i += 2
			} else {
				b.WriteString(regexp.QuoteMeta(string(c)))
				i++
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
			i++
		}
	}

	return b.String()
}
