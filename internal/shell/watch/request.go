package watch

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/GriffinCanCode/termcore/internal/shell/parser"
)

// DefaultInterval is the pause between rounds when none is given.
const DefaultInterval = 2 * time.Second

// ErrNoCommands is returned when a request names nothing to run.
var ErrNoCommands = errors.New("no commands specified")

// Request is a parsed watch-all invocation.
type Request struct {
	Interval time.Duration
	Commands []string
}

// ParseRequest parses the text following the built-in name:
//
//	[interval] [cmd1, "cmd 2", ...]
//	[interval] cmd1 cmd2 ...
//
// A leading positive integer is the interval in seconds.
func ParseRequest(text string) (Request, error) {
	req := Request{Interval: DefaultInterval}

	rest := strings.TrimSpace(text)
	first, tail, _ := strings.Cut(rest, " ")
	if n, err := strconv.Atoi(strings.TrimSpace(first)); err == nil && n > 0 {
		req.Interval = time.Duration(n) * time.Second
		rest = strings.TrimSpace(tail)
	}

	lb, rb := strings.IndexByte(rest, '['), strings.LastIndexByte(rest, ']')
	if lb >= 0 && rb > lb {
		for _, item := range parser.SplitUnquoted(rest[lb+1:rb], ',') {
			if cmd := unquote(strings.TrimSpace(item)); cmd != "" {
				req.Commands = append(req.Commands, cmd)
			}
		}
	} else {
		for _, arg := range parser.ParseArgs(rest) {
			if arg != "" {
				req.Commands = append(req.Commands, arg)
			}
		}
	}
	if len(req.Commands) == 0 {
		return Request{}, ErrNoCommands
	}
	return req, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
