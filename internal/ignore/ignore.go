// Package ignore matches paths against .gitignore-style exclusion
// patterns, used to keep scratch and lock files of office suites out of
// the index.
//
// Supported syntax: blank lines and # comments, ! negation, a trailing /
// for directories only, a leading or inner / to anchor at the root, and
// the wildcards *, ?, ** and [...]. Matching ignores case because document
// archives are often shared from Windows.
//
//	m := ignore.New("~$*", "*.tmp")
//	_ = m.AddFile(filepath.Join(root, ignore.FileName))
//	if m.Match("DRH/~$contrat.docx", false) {
//	    // skipped
//	}
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// FileName is the per-tree ignore file read from the documents root.
const FileName = ".docindexignore"

type rule struct {
	re      *regexp.Regexp
	negate  bool
	dirOnly bool
}

// Matcher holds compiled patterns. It is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

// New returns a matcher with the given patterns.
func New(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.Add(p)
	}
	return m
}

// Add compiles one pattern line. Blank lines and comments are ignored.
func (m *Matcher) Add(line string) {
	r, ok := compile(line)
	if !ok {
		return
	}
	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFile adds every pattern in path. A missing file is not an error.
func (m *Matcher) AddFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read ignore file %s: %w", path, err)
	}
	return nil
}

// Len returns the number of patterns.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether rel, a path relative to the root, is excluded.
// A path under an excluded directory is excluded whatever later rules
// say about the path itself.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.rules) == 0 {
		return false
	}
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' && m.matchOne(rel[:i], true) {
			return true
		}
	}
	return m.matchOne(rel, isDir)
}

// matchOne applies the rules in order; the last matching rule wins.
func (m *Matcher) matchOne(path string, isDir bool) bool {
	excluded := false
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.re.MatchString(path) {
			excluded = !r.negate
		}
	}
	return excluded
}

func compile(line string) (rule, bool) {
	line = strings.TrimRight(line, "\r")
	if strings.HasSuffix(line, `\ `) {
		line = strings.TrimRight(line[:len(line)-2], " ") + `\ `
	} else {
		line = strings.TrimRight(line, " \t")
	}
	line = strings.TrimLeft(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	switch {
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	case strings.HasPrefix(line, `\!`), strings.HasPrefix(line, `\#`):
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if line == "" {
		return rule{}, false
	}

	anchored := strings.Contains(line, "/") && !strings.HasPrefix(line, "**/")
	line = strings.TrimPrefix(line, "/")

	prefix := "(?i)^"
	if !anchored {
		prefix += "(?:.*/)?"
	}
	re, err := regexp.Compile(prefix + globToRegexp(line) + "$")
	if err != nil {
		return rule{}, false
	}
	r.re = re
	return r, true
}

// globToRegexp translates a glob to a regular expression body. * and ?
// never cross a /; ** does.
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				i++
				if i+1 < len(glob) && glob[i+1] == '/' {
					i++
					b.WriteString("(?:.*/)?")
				} else {
					b.WriteString(".*")
				}
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
