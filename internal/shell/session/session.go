package session

import (
	"errors"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termcore/internal/shared/id"
	"github.com/GriffinCanCode/termcore/internal/shell/expand"
	"github.com/GriffinCanCode/termcore/internal/shell/history"
	"github.com/GriffinCanCode/termcore/internal/shell/job"
	"github.com/GriffinCanCode/termcore/internal/shell/parser"
	"github.com/GriffinCanCode/termcore/internal/shell/spawn"
	"github.com/GriffinCanCode/termcore/internal/shell/watch"
)

// Separator is printed between back-to-back queued commands.
const Separator = "-------------------------------------------------------------\n"

const defaultReadChunk = 4096

var (
	// ErrNoForeground is returned by input operations while the session is idle.
	ErrNoForeground = errors.New("no foreground job")
	// ErrNoInput is returned when the foreground job does not accept input.
	ErrNoInput = errors.New("foreground job has no input")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

// Sink receives sanitized output. The collaborator owns buffering and
// rendering.
type Sink interface {
	AppendOutput(text string)
	ClearOutput()
}

// Spawner starts jobs. *spawn.Spawner implements it.
type Spawner interface {
	Spawn(p parser.Pipeline, opts spawn.Options) (job.Job, error)
	SpawnHelper(entry string, args []string, opts spawn.Options) (job.Job, error)
}

// WatchState describes the watch-all supervisor a session started.
type WatchState struct {
	Commands []string      `json:"commands"`
	Interval time.Duration `json:"interval"`
	Pid      int           `json:"pid"`

	job job.Job
}

// JobsSnapshot is the read-only job state of a session.
type JobsSnapshot struct {
	ForegroundBusy bool        `json:"foreground_busy"`
	Foreground     *job.Info   `json:"foreground,omitempty"`
	Background     []job.Info  `json:"background"`
	Pending        int         `json:"pending"`
	Watch          *WatchState `json:"watch,omitempty"`
}

type pendingCommand struct {
	text string
	echo bool
}

// Session is one interactive shell: a foreground job slot, an ordered set
// of background jobs and a queue of pending command lines.
//
// A Session is not safe for concurrent use. Every method must be called
// from the goroutine that owns it.
type Session struct {
	ID id.SessionID

	sink     Sink
	spawner  Spawner
	history  history.History
	builtins map[string]Builtin
	expander *expand.Expander
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	dir      string
	user     string
	host     string
	echo     bool
	watchCfg watch.Config

	foreground job.Job
	background []job.Job
	pending    []pendingCommand
	watch      *WatchState
	cont       parser.Continuation
	orphans    []int

	buf        []byte
	sanitizers map[*job.Stream]*Sanitizer
	closed     bool
}

// Option configures a Session.
type Option func(*Session)

// WithHistory sets the history collaborator.
func WithHistory(h history.History) Option {
	return func(s *Session) { s.history = h }
}

// WithDir sets the initial working directory.
func WithDir(dir string) Option {
	return func(s *Session) { s.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithReadChunk sets the size of a single read from a job stream.
func WithReadChunk(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.buf = make([]byte, n)
		}
	}
}

// WithWatchDefaults sets the supervisor settings used by watch-all.
func WithWatchDefaults(cfg watch.Config) Option {
	return func(s *Session) { s.watchCfg = cfg }
}

// WithEcho controls whether submitted lines are echoed to the sink with the
// prompt. Front ends whose terminal already shows typed input disable it.
func WithEcho(echo bool) Option {
	return func(s *Session) { s.echo = echo }
}

// WithIdentity overrides the user and host shown in the prompt.
func WithIdentity(user, host string) Option {
	return func(s *Session) {
		s.user = user
		s.host = host
	}
}

// New creates an idle session writing to sink.
func New(sink Sink, spawner Spawner, opts ...Option) *Session {
	s := &Session{
		ID:         id.NewSessionID(),
		sink:       sink,
		spawner:    spawner,
		builtins:   DefaultBuiltins(),
		expander:   expand.New(expand.WithGlob(nil)),
		logger:     zap.NewNop(),
		echo:       true,
		buf:        make([]byte, defaultReadChunk),
		sanitizers: make(map[*job.Stream]*Sanitizer),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = history.New(history.DefaultLimit)
	}
	if s.dir == "" {
		s.dir, _ = os.Getwd()
	}
	if s.user == "" {
		s.user = currentUser()
	}
	if s.host == "" {
		s.host, _ = os.Hostname()
		if s.host == "" {
			s.host = "host"
		}
	}
	s.logger = s.logger.With(zap.String("session", s.ID.String()))
	return s
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "user"
}

// Dir returns the working directory of the session.
func (s *Session) Dir() string { return s.dir }

// Prompt returns the primary prompt.
func (s *Session) Prompt() string {
	return s.user + "@" + s.host + ":" + s.dir + "$ "
}

// Continuing reports whether earlier input is waiting for more lines.
func (s *Session) Continuing() bool { return s.cont.Active() }

// Busy reports whether a foreground job is running.
func (s *Session) Busy() bool { return s.foreground != nil }

// SubmitLine accepts a line of user input. Lines with open quotes or a
// trailing backslash are buffered until the command is complete. Text with
// several lines (a paste) becomes several commands. Each command is split
// on ';', recorded in history and queued.
func (s *Session) SubmitLine(text string) {
	if s.closed {
		return
	}
	s.metrics.IncLinesSubmitted()
	text = strings.TrimSuffix(text, "\n")

	var commands []string
	if s.cont.Active() || !strings.Contains(text, "\n") {
		step := s.cont.Feed(text)
		switch {
		case step.Continued:
			s.echoLine("> " + step.Visible)
		case !step.Done || !parser.IsBlank(step.Command):
			s.echoLine(s.Prompt() + step.Visible)
		}
		if !step.Done || parser.IsBlank(step.Command) {
			return
		}
		commands = []string{step.Command}
	} else {
		for _, line := range parser.SplitLines(text) {
			if !parser.IsBlank(line) {
				commands = append(commands, line)
			}
		}
		for i, line := range commands {
			if i == 0 {
				s.echoLine(s.Prompt() + line)
			} else {
				s.echoLine("> " + line)
			}
		}
	}

	for _, cmd := range commands {
		for _, stmt := range parser.SplitStatements(cmd) {
			if !parser.IsBlank(stmt) {
				s.pending = append(s.pending, pendingCommand{text: stmt})
			}
		}
		if err := s.history.Add(cmd); err != nil {
			s.logger.Warn("history append failed", zap.Error(err))
		}
	}
	s.runNext()
}

func (s *Session) echoLine(line string) {
	if s.echo {
		s.sink.AppendOutput(line + "\n")
	}
}

// Enqueue queues a single command. When echo is set the prompt and command
// are printed as the command starts.
func (s *Session) Enqueue(text string, echo bool) {
	if s.closed || parser.IsBlank(text) {
		return
	}
	s.pending = append(s.pending, pendingCommand{text: text, echo: echo})
	s.runNext()
}

// runNext starts queued commands until one occupies the foreground.
func (s *Session) runNext() {
	for s.foreground == nil && len(s.pending) > 0 && !s.closed {
		cmd := s.pending[0]
		s.pending = s.pending[1:]
		s.execute(cmd)
	}
}

// separate prints the separator when more commands are waiting.
func (s *Session) separate() {
	if len(s.pending) > 0 {
		s.sink.AppendOutput(Separator)
	}
}

// execute runs one queued command: a built-in, or a pipeline.
func (s *Session) execute(cmd pendingCommand) {
	if cmd.echo && s.echo {
		s.sink.AppendOutput(s.Prompt() + cmd.text + "\n")
	}
	line, background := parser.TrimBackground(cmd.text)
	args := parser.ParseArgs(line)
	if len(args) == 0 {
		return
	}

	if b, ok := s.builtins[args[0]]; ok {
		s.runBuiltin(b, Invocation{
			Name:       args[0],
			Args:       s.expandArgs(args[1:]),
			Line:       line,
			Background: background,
		})
		return
	}

	p, err := parser.ParsePipeline(line)
	if err != nil {
		s.sink.AppendOutput(err.Error() + "\n")
		s.separate()
		return
	}
	j, err := s.spawner.Spawn(p, spawn.Options{Command: line, Dir: s.dir, Background: background})
	if err != nil {
		s.spawnFailed(line, err)
		return
	}
	s.adopt(j, background)
}

func (s *Session) expandArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = s.expander.Vars(a)
	}
	return out
}

func (s *Session) runBuiltin(b Builtin, inv Invocation) {
	s.metrics.RecordBuiltin(inv.Name)
	out := b(s, inv)
	if out.Clear {
		s.resetSanitizers()
		s.sink.ClearOutput()
	}
	if out.Output != "" {
		s.sink.AppendOutput(out.Output)
	}
	if out.Job != nil {
		s.adopt(out.Job, inv.Background)
		return
	}
	s.separate()
}

func (s *Session) spawnFailed(line string, err error) {
	op := "spawn"
	var se *spawn.Error
	if errors.As(err, &se) {
		op = se.Op
	}
	s.metrics.RecordSpawnFailure(op)
	s.logger.Warn("spawn failed", zap.String("command", line), zap.Error(err))
	s.sink.AppendOutput(err.Error() + "\n")
	s.separate()
}

// adopt registers a freshly started job.
func (s *Session) adopt(j job.Job, background bool) {
	s.metrics.RecordSpawn(string(j.Kind()))
	if background {
		s.background = append(s.background, j)
		s.logger.Debug("background job started", zap.Int("pgid", j.Meta().Pgid), zap.String("command", j.Meta().Command))
		s.separate()
		return
	}
	s.foreground = j
}

// Interrupt sends SIGINT to the foreground process group. When idle it
// cancels buffered continuation input and prints ^C. It reports whether a
// job was signalled.
func (s *Session) Interrupt() bool {
	if s.foreground != nil {
		if err := s.foreground.Meta().Signal(unix.SIGINT); err != nil {
			s.logger.Warn("interrupt failed", zap.Int("pgid", s.foreground.Meta().Pgid), zap.Error(err))
		}
		return true
	}
	s.cont.Reset()
	s.sink.AppendOutput("^C\n")
	return false
}

// Detach moves the foreground job to the background unchanged and starts
// the next queued command. It reports whether there was a job to detach.
func (s *Session) Detach() bool {
	j := s.foreground
	if j == nil {
		return false
	}
	s.foreground = nil
	s.background = append(s.background, j)
	s.logger.Debug("job detached", zap.Int("pgid", j.Meta().Pgid), zap.String("command", j.Meta().Command))
	s.runNext()
	return true
}

// Kill signals a background job found by pid or process group, preferring
// the whole group, or else the single process pid. It returns the line
// describing the result.
func (s *Session) Kill(pid int, sig unix.Signal) string {
	for _, j := range s.background {
		b := j.Meta()
		if b.Leader != pid && b.Pgid != pid && !containsPid(b.Pids, pid) {
			continue
		}
		if b.Pgid > 0 {
			if err := unix.Kill(-b.Pgid, sig); err != nil {
				s.logger.Warn("killpg failed", zap.Int("pgid", b.Pgid), zap.Error(err))
				return "killpg(" + strconv.Itoa(b.Pgid) + ") failed: " + err.Error()
			}
			return "killed process group " + strconv.Itoa(b.Pgid) + " (sig " + strconv.Itoa(int(sig)) + ")"
		}
		break
	}
	if err := unix.Kill(pid, sig); err != nil {
		s.logger.Warn("kill failed", zap.Int("pid", pid), zap.Error(err))
		return "kill(" + strconv.Itoa(pid) + ") failed: " + err.Error()
	}
	return "killed pid " + strconv.Itoa(pid) + " (sig " + strconv.Itoa(int(sig)) + ")"
}

func containsPid(pids []int, pid int) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}
	return false
}

// WriteInput feeds data to the foreground job's stdin or terminal.
func (s *Session) WriteInput(data []byte) error {
	if s.foreground == nil {
		return ErrNoForeground
	}
	in := s.foreground.Input()
	if in == nil {
		return ErrNoInput
	}
	_, err := in.Write(data)
	return err
}

// CloseInput sends end-of-file to the foreground job.
func (s *Session) CloseInput() error {
	if s.foreground == nil {
		return ErrNoForeground
	}
	return s.foreground.CloseInput()
}

// Resize changes the window size of a foreground terminal job. Piped jobs
// have no window and are left alone.
func (s *Session) Resize(rows, cols uint16) error {
	if s.foreground == nil {
		return ErrNoForeground
	}
	p, ok := s.foreground.(*job.PtyBacked)
	if !ok || !p.Master.Open() {
		return nil
	}
	return unix.IoctlSetWinsize(p.Master.FD.Fd(), unix.TIOCSWINSZ, &unix.Winsize{Row: rows, Col: cols})
}

// QueryJobs returns the current job state.
func (s *Session) QueryJobs() JobsSnapshot {
	snap := JobsSnapshot{
		ForegroundBusy: s.foreground != nil,
		Background:     make([]job.Info, 0, len(s.background)),
		Pending:        len(s.pending),
	}
	if s.foreground != nil {
		info := job.Describe(s.foreground)
		snap.Foreground = &info
	}
	for _, j := range s.background {
		snap.Background = append(snap.Background, job.Describe(j))
	}
	if s.watch != nil {
		w := *s.watch
		snap.Watch = &w
	}
	return snap
}

// Close kills every job, waits for them and releases their descriptors.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	s.pending = nil

	jobs := s.background
	if s.foreground != nil {
		jobs = append(jobs, s.foreground)
	}
	var errs []error
	for _, j := range jobs {
		b := j.Meta()
		if !b.Exited() || len(b.Unreaped()) > 0 {
			unix.Kill(-b.Pgid, unix.SIGKILL)
		}
		for _, pid := range b.Unreaped() {
			waitPid(pid)
		}
		errs = append(errs, j.Close())
	}
	for _, pid := range s.orphans {
		unix.Kill(pid, unix.SIGKILL)
		waitPid(pid)
	}
	s.foreground, s.background, s.orphans, s.watch = nil, nil, nil, nil
	s.sanitizers = make(map[*job.Stream]*Sanitizer)
	s.logger.Debug("session closed", zap.Int("jobs", len(jobs)))
	return errors.Join(errs...)
}

func waitPid(pid int) {
	var ws unix.WaitStatus
	for {
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != unix.EINTR {
			return
		}
	}
}
