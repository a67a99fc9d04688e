// Package expand performs tilde, variable and glob expansion of arguments.
//
// Expansion happens in the child process right before the program image is
// replaced, so the parent's argv stays exactly as typed.
package expand

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Expander expands arguments against an environment and the filesystem.
type Expander struct {
	getenv func(string) string
	glob   func(string) ([]string, error)
}

// Option configures an Expander.
type Option func(*Expander)

// WithEnv sets the variable lookup function.
func WithEnv(getenv func(string) string) Option {
	return func(e *Expander) { e.getenv = getenv }
}

// WithGlob sets the glob function. Passing nil disables globbing.
func WithGlob(glob func(string) ([]string, error)) Option {
	return func(e *Expander) { e.glob = glob }
}

// New creates an Expander using the process environment and the working directory.
func New(opts ...Option) *Expander {
	e := &Expander{
		getenv: os.Getenv,
		glob:   Glob,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Vars applies tilde and variable expansion to a single argument.
// A leading '~' is replaced by $HOME and disables variable expansion for
// the rest of the argument.
func (e *Expander) Vars(arg string) string {
	if strings.HasPrefix(arg, "~") {
		return e.getenv("HOME") + arg[1:]
	}
	if !strings.Contains(arg, "$") {
		return arg
	}

	var out strings.Builder
	for i := 0; i < len(arg); i++ {
		if arg[i] != '$' {
			out.WriteByte(arg[i])
			continue
		}
		if i+1 < len(arg) && arg[i+1] == '{' {
			end := strings.IndexByte(arg[i+2:], '}')
			if end > 0 && isName(arg[i+2:i+2+end]) {
				out.WriteString(e.getenv(arg[i+2 : i+2+end]))
				i += end + 2
				continue
			}
			out.WriteByte('$')
			continue
		}
		j := i + 1
		for j < len(arg) && isNameByte(arg[j]) {
			j++
		}
		if j == i+1 {
			out.WriteByte('$')
			continue
		}
		out.WriteString(e.getenv(arg[i+1 : j]))
		i = j - 1
	}
	return out.String()
}

// Glob matches pattern the way a POSIX shell does: '*' and '?' never match
// a leading '.' of a name unless the pattern segment starts with '.', "**"
// is a plain '*' and braces are literal.
func Glob(pattern string) ([]string, error) {
	pattern = shellPattern(pattern)
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, err
	}
	segs := strings.Split(filepath.Clean(pattern), string(filepath.Separator))
	kept := matches[:0]
	for _, m := range matches {
		if !hidesDotfile(segs, strings.Split(m, string(filepath.Separator))) {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

// shellPattern collapses runs of '*' and escapes braces so doublestar
// neither recurses nor brace-expands.
func shellPattern(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) + 4)
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			b.WriteByte(c)
			b.WriteByte(pattern[i+1])
			i++
		case c == '*':
			b.WriteByte('*')
			for i+1 < len(pattern) && pattern[i+1] == '*' {
				i++
			}
		case c == '{' || c == '}':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// hidesDotfile reports whether a match has a dot-named component that its
// pattern segment did not spell out.
func hidesDotfile(pattern, match []string) bool {
	if len(pattern) != len(match) {
		return true
	}
	for i, name := range match {
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(pattern[i], ".") {
			return true
		}
	}
	return false
}

// Arg expands one argument into one or more words.
func (e *Expander) Arg(arg string) []string {
	word := e.Vars(arg)
	if e.glob == nil || !hasMeta(word) {
		return []string{word}
	}
	matches, err := e.glob(word)
	if err != nil || len(matches) == 0 {
		return []string{word}
	}
	sort.Strings(matches)
	return matches
}

// Argv expands every argument of argv in order.
func (e *Expander) Argv(argv []string) []string {
	out := make([]string, 0, len(argv))
	for _, arg := range argv {
		out = append(out, e.Arg(arg)...)
	}
	return out
}

func isName(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isNameByte(s[i]) {
			return false
		}
	}
	return s != ""
}

func isNameByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[")
}
