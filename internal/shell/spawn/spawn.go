package spawn

import (
	"errors"
	"os"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"github.com/moby/sys/reexec"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/shell/fd"
	"github.com/GriffinCanCode/termcore/internal/shell/job"
	"github.com/GriffinCanCode/termcore/internal/shell/parser"
)

// Error reports which system primitive failed while starting a job.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + "() failed: " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Options describe how a job is started.
type Options struct {
	// Command is the text recorded on the job; defaults to the joined argv.
	Command string
	// Dir is the working directory of every stage.
	Dir string
	// Env replaces the environment when non-nil.
	Env []string
	// Background closes the job's stdin and never allocates a PTY.
	Background bool
}

// Spawner forks pipeline stages through the exec entry point.
type Spawner struct {
	self     string
	forkExec func(argv0 string, argv []string, attr *syscall.ProcAttr) (int, error)
	rows     uint16
	cols     uint16
	logger   *zap.Logger
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithWindowSize sets the PTY size for interactive jobs.
func WithWindowSize(rows, cols uint16) Option {
	return func(s *Spawner) {
		if rows > 0 {
			s.rows = rows
		}
		if cols > 0 {
			s.cols = cols
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Spawner) { s.logger = logger }
}

// New creates a Spawner for the running binary.
func New(opts ...Option) *Spawner {
	s := &Spawner{
		self:     reexec.Self(),
		forkExec: syscall.ForkExec,
		rows:     24,
		cols:     80,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spawn starts a pipeline. Single-stage foreground commands without
// redirections get a PTY; everything else is wired with pipes.
func (s *Spawner) Spawn(p parser.Pipeline, opts Options) (job.Job, error) {
	if len(p) == 0 {
		return nil, parser.ErrEmptyPipeline
	}
	if opts.Command == "" {
		opts.Command = describe(p)
	}
	if p.Simple() && !opts.Background {
		return s.spawnPty(stageArgs(p[0]), opts)
	}
	stages := make([][]string, len(p))
	for i, stage := range p {
		stages[i] = stageArgs(stage)
	}
	return s.spawnPiped(stages, p[0].Redir.Input != "", opts)
}

// SpawnHelper starts a registered re-exec entry as a piped job in its own
// process group.
func (s *Spawner) SpawnHelper(entry string, args []string, opts Options) (job.Job, error) {
	argv := append([]string{entry}, args...)
	if opts.Command == "" {
		opts.Command = strings.Join(argv, " ")
	}
	return s.spawnPiped([][]string{argv}, false, opts)
}

func (s *Spawner) procAttr(opts Options, files []uintptr, sys *syscall.SysProcAttr) *syscall.ProcAttr {
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	return &syscall.ProcAttr{Dir: opts.Dir, Env: env, Files: files, Sys: sys}
}

func (s *Spawner) spawnPiped(stages [][]string, stdinRedirected bool, opts Options) (job.Job, error) {
	var parent, child fd.Group
	defer child.Close()

	outR, outW, err := fd.Pipe()
	if err != nil {
		return nil, &Error{Op: "pipe", Err: err}
	}
	parent.Add(outR)
	child.Add(outW)

	errR, errW, err := fd.Pipe()
	if err != nil {
		parent.Close()
		return nil, &Error{Op: "pipe", Err: err}
	}
	parent.Add(errR)
	child.Add(errW)

	inR, inW, err := fd.Pipe()
	if err != nil {
		parent.Close()
		return nil, &Error{Op: "pipe", Err: err}
	}
	parent.Add(inW)
	child.Add(inR)

	// links[i] connects stage i to stage i+1.
	links := make([][2]*fd.Owned, len(stages)-1)
	for i := range links {
		r, w, err := fd.Pipe()
		if err != nil {
			parent.Close()
			return nil, &Error{Op: "pipe", Err: err}
		}
		child.Add(r, w)
		links[i] = [2]*fd.Owned{r, w}
	}

	pids := make([]int, 0, len(stages))
	pgid := 0
	for i, argv := range stages {
		stdin, stdout := inR, outW
		if i > 0 {
			stdin = links[i-1][0]
		}
		if i < len(stages)-1 {
			stdout = links[i][1]
		}
		files := []uintptr{uintptr(stdin.Fd()), uintptr(stdout.Fd()), uintptr(errW.Fd())}
		attr := s.procAttr(opts, files, &syscall.SysProcAttr{Setpgid: true, Pgid: pgid})

		pid, err := s.forkExec(s.self, argv, attr)
		if err != nil {
			s.abort(pgid, pids)
			parent.Close()
			s.logger.Warn("pipeline aborted",
				zap.String("command", opts.Command),
				zap.Int("stage", i),
				zap.Error(err),
			)
			return nil, &Error{Op: "fork", Err: err}
		}
		if pgid == 0 {
			pgid = pid
		}
		pids = append(pids, pid)
	}

	if err := errors.Join(outR.SetNonblock(), errR.SetNonblock()); err != nil {
		s.abort(pgid, pids)
		parent.Close()
		return nil, &Error{Op: "fcntl", Err: err}
	}
	if opts.Background || stdinRedirected {
		inW.Close()
	}

	j := &job.Piped{
		Base:   job.NewBase(opts.Command, pgid, pids),
		Stdout: job.NewStream("stdout", outR),
		Stderr: job.NewStream("stderr", errR),
		Stdin:  inW,
	}
	s.logger.Debug("spawned job",
		zap.String("job", j.ID.String()),
		zap.String("kind", string(j.Kind())),
		zap.String("command", opts.Command),
		zap.Int("pgid", pgid),
		zap.Ints("pids", pids),
		zap.Bool("background", opts.Background),
	)
	return j, nil
}

func (s *Spawner) spawnPty(argv []string, opts Options) (job.Job, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, &Error{Op: "openpty", Err: err}
	}
	defer tty.Close()

	if err := configureTerminal(tty); err != nil {
		ptmx.Close()
		return nil, &Error{Op: "tcsetattr", Err: err}
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: s.rows, Cols: s.cols}); err != nil {
		ptmx.Close()
		return nil, &Error{Op: "ioctl", Err: err}
	}
	master, err := fd.FromFile(ptmx)
	if err != nil {
		return nil, &Error{Op: "dup", Err: err}
	}

	slave := tty.Fd()
	attr := s.procAttr(opts, []uintptr{slave, slave, slave}, &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0,
	})
	pid, err := s.forkExec(s.self, argv, attr)
	if err != nil {
		master.Close()
		return nil, &Error{Op: "fork", Err: err}
	}
	if err := master.SetNonblock(); err != nil {
		unix.Kill(pid, unix.SIGKILL)
		var ws unix.WaitStatus
		unix.Wait4(pid, &ws, 0, nil)
		master.Close()
		return nil, &Error{Op: "fcntl", Err: err}
	}

	j := &job.PtyBacked{
		Base:   job.NewBase(opts.Command, pid, []int{pid}),
		Master: job.NewPtyStream(master),
	}
	s.logger.Debug("spawned job",
		zap.String("job", j.ID.String()),
		zap.String("kind", string(j.Kind())),
		zap.String("command", opts.Command),
		zap.Int("pid", pid),
	)
	return j, nil
}

// abort kills and collects the stages already started for a failed pipeline.
func (s *Spawner) abort(pgid int, pids []int) {
	if len(pids) == 0 {
		return
	}
	unix.Kill(-pgid, unix.SIGKILL)
	for _, pid := range pids {
		var ws unix.WaitStatus
		for {
			if _, err := unix.Wait4(pid, &ws, 0, nil); err != unix.EINTR {
				break
			}
		}
	}
}

// configureTerminal puts the slave in canonical mode with echo and
// newline translation.
func configureTerminal(tty *os.File) error {
	n := int(tty.Fd())
	t, err := unix.IoctlGetTermios(n, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Lflag |= unix.ICANON | unix.ECHO
	t.Iflag |= unix.ICRNL
	t.Oflag |= unix.OPOST | unix.ONLCR
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(n, unix.TCSETS, t)
}

func describe(p parser.Pipeline) string {
	parts := make([]string, len(p))
	for i, stage := range p {
		parts[i] = strings.Join(stage.Argv, " ")
	}
	return strings.Join(parts, " | ")
}
