package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/shell/job"
	"github.com/GriffinCanCode/termcore/internal/shell/spawn"
	"github.com/GriffinCanCode/termcore/internal/shell/watch"
)

// historyShown is how many entries the history built-in prints.
const historyShown = 1000

// Invocation is one call of a built-in.
type Invocation struct {
	Name string
	// Args are the arguments after the name, with variables expanded.
	Args []string
	// Line is the command text without a trailing '&'.
	Line       string
	Background bool
}

// Rest returns the raw text following the built-in name.
func (inv Invocation) Rest() string {
	rest := strings.TrimLeft(inv.Line, " \t")
	rest = strings.TrimPrefix(rest, inv.Name)
	return strings.TrimLeft(rest, " \t")
}

// Outcome is what a built-in asks the session to do.
type Outcome struct {
	// Output is appended to the session output.
	Output string
	// Clear clears the session output first.
	Clear bool
	// Job is a job the built-in started; it takes the foreground like a
	// spawned pipeline.
	Job job.Job
}

// Builtin runs inside the session process instead of being spawned.
type Builtin func(s *Session, inv Invocation) Outcome

// DefaultBuiltins returns the standard built-in registry.
func DefaultBuiltins() map[string]Builtin {
	return map[string]Builtin{
		"cd":          builtinCd,
		"clear":       builtinClear,
		"history":     builtinHistory,
		"kill":        builtinKill,
		"killprocess": builtinKill,
		"bgpids":      builtinBgpids,
		"echo":        builtinEcho,
		"watch-all":   builtinWatch,
		"multiWatch":  builtinWatch,
	}
}

// Register adds or replaces a built-in.
func (s *Session) Register(name string, b Builtin) {
	s.builtins[name] = b
}

func builtinCd(s *Session, inv Invocation) Outcome {
	home := os.Getenv("HOME")
	target := home
	if len(inv.Args) > 0 && inv.Args[0] != "" {
		target = inv.Args[0]
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.dir, target)
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return Outcome{Output: "cd: no such file or directory\n"}
	}
	if err := unix.Access(target, unix.X_OK); err != nil {
		return Outcome{Output: "cd: permission denied\n"}
	}
	s.dir = filepath.Clean(target)
	return Outcome{}
}

func builtinClear(*Session, Invocation) Outcome {
	return Outcome{Clear: true}
}

func builtinHistory(s *Session, inv Invocation) Outcome {
	if len(inv.Args) > 0 {
		switch inv.Args[0] {
		case "-c", "--clear", "clear":
			if err := s.history.Clear(); err != nil {
				s.logger.Warn("history clear failed", zap.Error(err))
			}
			return Outcome{Output: "History cleared\n"}
		}
	}
	entries := s.history.Entries()
	entries = entries[max(len(entries)-historyShown, 0):]
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	return Outcome{Output: b.String()}
}

// ParseSignal accepts a signal as -9, 9, -KILL, KILL or -SIGKILL.
func ParseSignal(arg string) (unix.Signal, bool) {
	name := strings.TrimPrefix(arg, "-")
	if n, err := strconv.Atoi(name); err == nil {
		if n <= 0 || n > 64 {
			return 0, false
		}
		return unix.Signal(n), true
	}
	name = strings.ToUpper(name)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	return sig, sig != 0
}

func builtinKill(s *Session, inv Invocation) Outcome {
	sig := unix.SIGTERM
	args := inv.Args
	if len(args) > 0 && len(args[0]) > 1 && args[0][0] == '-' {
		parsed, ok := ParseSignal(args[0])
		if !ok {
			return Outcome{Output: fmt.Sprintf("%s: invalid signal '%s'\n", inv.Name, args[0])}
		}
		sig = parsed
		args = args[1:]
	}
	if len(args) == 0 {
		return Outcome{Output: fmt.Sprintf("usage: %s [-9] PID [PID ...]\n", inv.Name)}
	}

	var b strings.Builder
	for _, arg := range args {
		pid, err := strconv.Atoi(arg)
		if err != nil || pid <= 0 {
			fmt.Fprintf(&b, "%s: invalid pid '%s'\n", inv.Name, arg)
			continue
		}
		b.WriteString(s.Kill(pid, sig))
		b.WriteByte('\n')
	}
	return Outcome{Output: b.String()}
}

func builtinBgpids(s *Session, _ Invocation) Outcome {
	if len(s.background) == 0 {
		return Outcome{Output: "No background jobs\n"}
	}
	var b strings.Builder
	for _, j := range s.background {
		info := job.Describe(j)
		fmt.Fprintf(&b, "PID=%d", info.Pid)
		if info.Pgid > 0 {
			fmt.Fprintf(&b, " PGID=%d", info.Pgid)
		}
		fmt.Fprintf(&b, " CMD=%s\n", info.Command)
	}
	return Outcome{Output: b.String()}
}

func builtinEcho(s *Session, inv Invocation) Outcome {
	payload := inv.Rest()
	quote := byte(0)
	if len(payload) >= 2 && (payload[0] == '"' || payload[0] == '\'') && payload[len(payload)-1] == payload[0] {
		quote = payload[0]
		payload = payload[1 : len(payload)-1]
	}
	if quote != '\'' {
		payload = s.expander.Vars(payload)
	}
	return Outcome{Output: unescape(payload) + "\n"}
}

// unescape interprets \n, \t, \\, \" and \' and drops backslash-newline
// line continuations. A tab becomes four spaces.
func unescape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\n':
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 't':
				b.WriteString("    ")
				i++
				continue
			case '\\', '"', '\'':
				b.WriteByte(s[i+1])
				i++
				continue
			}
		}
		if c == '\t' {
			b.WriteString("    ")
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func builtinWatch(s *Session, inv Invocation) Outcome {
	req, err := watch.ParseRequest(inv.Rest())
	if err != nil {
		return Outcome{Output: inv.Name + ": " + err.Error() + "\n"}
	}

	cfg := s.watchCfg
	cfg.Commands = req.Commands
	cfg.Interval = req.Interval
	cfg.Rounds = 0

	j, err := s.spawner.SpawnHelper(watch.Entry, watch.HelperArgs(cfg), spawn.Options{
		Command:    inv.Line,
		Dir:        s.dir,
		Background: inv.Background,
	})
	if err != nil {
		s.metrics.RecordSpawnFailure("watch")
		s.logger.Warn("watch supervisor not started", zap.Error(err))
		return Outcome{Output: err.Error() + "\n"}
	}
	s.watch = &WatchState{
		Commands: req.Commands,
		Interval: req.Interval,
		Pid:      j.Meta().Leader,
		job:      j,
	}
	s.logger.Info("watch supervisor started",
		zap.Strings("commands", req.Commands),
		zap.Duration("interval", req.Interval),
		zap.Int("pid", j.Meta().Leader),
	)
	return Outcome{Job: j}
}
