package parser

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPipeline is returned when a line contains no runnable stage.
	ErrEmptyPipeline = errors.New("empty pipeline")

	// ErrInvalidCommand is returned when a stage has no program to run.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrMissingTarget is returned when a redirection operator has no target.
	ErrMissingTarget = errors.New("missing redirection target")
)

// Redirection holds the explicit file redirections of one stage.
// An empty path means the stream is not redirected.
type Redirection struct {
	Input        string
	Output       string
	AppendOutput bool
	Error        string
	AppendError  bool
}

// Empty reports whether no redirection is set.
func (r Redirection) Empty() bool {
	return r.Input == "" && r.Output == "" && r.Error == ""
}

// Stage is a single program invocation inside a pipeline.
type Stage struct {
	Argv  []string
	Redir Redirection
}

// Pipeline is an ordered list of stages connected stdout to stdin.
type Pipeline []Stage

// Simple reports whether the pipeline is one stage without redirections.
func (p Pipeline) Simple() bool {
	return len(p) == 1 && p[0].Redir.Empty()
}

// scanner tracks single and double quote state while walking a line.
// Inside one kind of quote the other kind is literal.
type scanner struct {
	quote byte
}

// step feeds one byte and reports whether it was a quote delimiter.
func (s *scanner) step(c byte) bool {
	switch {
	case s.quote != 0 && c == s.quote:
		s.quote = 0
		return true
	case s.quote == 0 && (c == '"' || c == '\''):
		s.quote = c
		return true
	}
	return false
}

func (s *scanner) quoted() bool { return s.quote != 0 }

// ParseArgs splits a line into arguments on unquoted spaces and tabs.
// Quote delimiters are stripped, newlines are kept verbatim and no escape
// sequences are interpreted.
func ParseArgs(line string) []string {
	var (
		args    []string
		cur     strings.Builder
		pending bool
		sc      scanner
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if sc.step(c) {
			pending = true
			continue
		}
		if !sc.quoted() && (c == ' ' || c == '\t') {
			if pending || cur.Len() > 0 {
				args = append(args, cur.String())
				cur.Reset()
				pending = false
			}
			continue
		}
		cur.WriteByte(c)
	}
	if pending || cur.Len() > 0 {
		args = append(args, cur.String())
	}
	return args
}

// SplitUnquoted cuts s at every unquoted occurrence of sep. Segments keep
// their quotes; blank segments are dropped.
func SplitUnquoted(s string, sep byte) []string {
	var (
		parts []string
		sc    scanner
		start int
	)
	emit := func(seg string) {
		if seg = strings.TrimSpace(seg); seg != "" {
			parts = append(parts, seg)
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) {
			continue
		}
		if !sc.quoted() && c == sep {
			emit(s[start:i])
			start = i + 1
		}
	}
	emit(s[start:])
	return parts
}

// SplitPipeline splits a line on unquoted '|' into stage texts.
func SplitPipeline(line string) []string {
	return SplitUnquoted(line, '|')
}

// SplitStatements splits a line on unquoted ';'.
func SplitStatements(line string) []string {
	return SplitUnquoted(line, ';')
}

// SplitLines splits pasted text into logical lines. Newlines inside quotes
// belong to the current line.
func SplitLines(text string) []string {
	var (
		lines []string
		sc    scanner
		start int
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		if sc.step(c) {
			continue
		}
		if !sc.quoted() && c == '\n' {
			lines = append(lines, strings.TrimSuffix(text[start:i], "\r"))
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, strings.TrimSuffix(text[start:], "\r"))
	}
	return lines
}

type token struct {
	text string
	op   string
}

// tokenizeStage splits stage text into words and redirection operators.
// Operators are recognised even when glued to neighbouring text.
func tokenizeStage(s string) []token {
	var (
		toks    []token
		cur     strings.Builder
		pending bool
		sc      scanner
	)
	flush := func() {
		if pending || cur.Len() > 0 {
			toks = append(toks, token{text: cur.String()})
			cur.Reset()
			pending = false
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) {
			pending = true
			continue
		}
		if sc.quoted() {
			cur.WriteByte(c)
			continue
		}
		switch c {
		case ' ', '\t':
			flush()
		case '<':
			flush()
			toks = append(toks, token{op: "<"})
		case '>':
			op := ">"
			// A bare unquoted "2" right before '>' selects stderr.
			if !pending && cur.String() == "2" {
				cur.Reset()
				op = "2>"
			}
			flush()
			if i+1 < len(s) && s[i+1] == '>' {
				op += ">"
				i++
			}
			toks = append(toks, token{op: op})
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return toks
}

// ParseStage parses one stage into its argv and redirections.
func ParseStage(text string) ([]string, Redirection, error) {
	var (
		argv  []string
		redir Redirection
	)
	toks := tokenizeStage(text)
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.op == "" {
			argv = append(argv, t.text)
			continue
		}
		if i+1 >= len(toks) || toks[i+1].op != "" {
			return nil, Redirection{}, fmt.Errorf("%w after %q", ErrMissingTarget, t.op)
		}
		target := toks[i+1].text
		i++
		switch t.op {
		case "<":
			redir.Input = target
		case ">", ">>":
			redir.Output = target
			redir.AppendOutput = t.op == ">>"
		case "2>", "2>>":
			redir.Error = target
			redir.AppendError = t.op == "2>>"
		}
	}
	return argv, redir, nil
}

// ParsePipeline parses a full command line into a validated pipeline.
func ParsePipeline(line string) (Pipeline, error) {
	texts := SplitPipeline(line)
	if len(texts) == 0 {
		return nil, ErrEmptyPipeline
	}
	p := make(Pipeline, 0, len(texts))
	for _, text := range texts {
		argv, redir, err := ParseStage(text)
		if err != nil {
			return nil, err
		}
		if len(argv) == 0 {
			return nil, ErrInvalidCommand
		}
		p = append(p, Stage{Argv: argv, Redir: redir})
	}
	return p, nil
}

// QuotesBalanced reports whether every quote opened in line is closed.
func QuotesBalanced(line string) bool {
	var sc scanner
	for i := 0; i < len(line); i++ {
		sc.step(line[i])
	}
	return !sc.quoted()
}

// TrimBackground strips a trailing unquoted '&' and reports whether it was present.
func TrimBackground(line string) (string, bool) {
	trimmed := strings.TrimRight(line, " \t")
	if !strings.HasSuffix(trimmed, "&") || strings.HasSuffix(trimmed, "&&") {
		return line, false
	}
	if !QuotesBalanced(trimmed[:len(trimmed)-1]) {
		return line, false
	}
	return strings.TrimRight(trimmed[:len(trimmed)-1], " \t"), true
}

// IsBlank reports whether line has nothing but whitespace.
func IsBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}
