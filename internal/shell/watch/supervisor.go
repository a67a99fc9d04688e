package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/shell/fd"
)

const (
	// DefaultPollTimeout bounds how long one multiplexing wait may block.
	DefaultPollTimeout = 200 * time.Millisecond

	// Separator frames every command's output block.
	Separator = "------------------------------------------------------\n"

	dirPrefix  = "watch-"
	readChunk  = 4096
	maxReads   = 16
	fifoSuffix = ".fifo"
)

// Header returns the line printed before a command's first output. The
// command text is written as typed, without escaping.
func Header(cmd string, at time.Time) string {
	return "\"" + cmd + "\" , current_time: " + strconv.FormatInt(at.Unix(), 10) + " :\n"
}

// Config configures a Supervisor.
type Config struct {
	Commands    []string
	Interval    time.Duration
	PollTimeout time.Duration
	// Dir is where per-round channel directories are created.
	Dir string
	// Shell runs each command as `<shell> -c <cmd>`.
	Shell string
	// Rounds stops the supervisor after that many rounds; zero runs until
	// the context is cancelled.
	Rounds int
}

// channel is one command's output path for the current round.
type channel struct {
	cmd    string
	path   string
	r      *fd.Owned
	pid    int
	header bool
	closed bool
	status int
}

// supervisorState is everything the supervisor must release on stop.
type supervisorState struct {
	dir      string
	channels []*channel
}

// Supervisor runs a set of commands concurrently in rounds and streams their
// output, framed per command, to a single writer.
type Supervisor struct {
	cfg    Config
	out    io.Writer
	logger *zap.Logger
	now    func() time.Time
	state  supervisorState
}

// New creates a Supervisor writing framed output to out.
func New(cfg Config, out io.Writer, logger *zap.Logger) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, out: out, logger: logger, now: time.Now}
}

// Run executes rounds until ctx is cancelled or the configured number of
// rounds is reached. Cancellation is a normal stop and returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.cfg.Commands) == 0 {
		return ErrNoCommands
	}
	shell, err := exec.LookPath(s.cfg.Shell)
	if err != nil {
		return fmt.Errorf("resolve shell: %w", err)
	}

	SweepStale(s.cfg.Dir, s.logger)
	dir, err := os.MkdirTemp(s.cfg.Dir, dirPrefix+strconv.Itoa(os.Getpid())+"-")
	if err != nil {
		return fmt.Errorf("create channel directory: %w", err)
	}
	s.state.dir = dir
	defer s.cleanup()

	for round := 1; ; round++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.round(ctx, shell); err != nil {
			return err
		}
		if s.cfg.Rounds > 0 && round >= s.cfg.Rounds {
			return nil
		}
		if !s.sleep(ctx) {
			return nil
		}
	}
}

// round starts every command, streams their output and reaps them.
func (s *Supervisor) round(ctx context.Context, shell string) error {
	s.state.channels = s.state.channels[:0]
	for i, cmd := range s.cfg.Commands {
		ch, err := s.start(i, cmd, shell)
		if err != nil {
			s.logger.Warn("watch command not started", zap.String("command", cmd), zap.Error(err))
			fmt.Fprintf(s.out, "%s%s: %v\n%s", Header(cmd, s.now()), cmd, err, Separator)
			continue
		}
		s.state.channels = append(s.state.channels, ch)
	}

	if err := s.stream(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	for _, ch := range s.state.channels {
		ch.status = waitBlocking(ch.pid)
		ch.pid = 0
		s.logger.Debug("watch command finished", zap.String("command", ch.cmd), zap.Int("status", ch.status))
	}
	s.removeChannels()
	return nil
}

// start creates the FIFO for one command and forks its worker.
func (s *Supervisor) start(i int, cmd, shell string) (*channel, error) {
	path := filepath.Join(s.state.dir, strconv.Itoa(i)+fifoSuffix)
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, fmt.Errorf("mkfifo: %w", err)
	}
	ch := &channel{cmd: cmd, path: path}

	rfd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("open reader: %w", err)
	}
	ch.r = fd.New(rfd)

	wfd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		ch.r.Close()
		os.Remove(path)
		return nil, fmt.Errorf("open writer: %w", err)
	}
	w := fd.New(wfd)
	defer w.Close()
	if err := unix.SetNonblock(wfd, false); err != nil {
		ch.r.Close()
		os.Remove(path)
		return nil, fmt.Errorf("fcntl: %w", err)
	}

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		ch.r.Close()
		os.Remove(path)
		return nil, err
	}
	defer devnull.Close()

	pid, err := syscall.ForkExec(shell, []string{filepath.Base(shell), "-c", cmd}, &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: []uintptr{devnull.Fd(), uintptr(wfd), uintptr(wfd)},
	})
	if err != nil {
		ch.r.Close()
		os.Remove(path)
		return nil, fmt.Errorf("fork: %w", err)
	}
	ch.pid = pid
	return ch, nil
}

// stream multiplexes every open channel until all reach end of stream or
// ctx is cancelled.
func (s *Supervisor) stream(ctx context.Context) error {
	buf := make([]byte, readChunk)
	timeout := int(s.cfg.PollTimeout / time.Millisecond)

	for {
		var (
			pfds []unix.PollFd
			open []*channel
		)
		for _, ch := range s.state.channels {
			if !ch.closed {
				pfds = append(pfds, unix.PollFd{Fd: int32(ch.r.Fd()), Events: unix.POLLIN})
				open = append(open, ch)
			}
		}
		if len(open) == 0 || ctx.Err() != nil {
			return nil
		}

		n, err := unix.Poll(pfds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		for i, pfd := range pfds {
			if pfd.Revents != 0 {
				s.drain(open[i], buf)
			}
		}
	}
}

// drain copies what is available on ch to the output and finishes the
// channel at end of stream.
func (s *Supervisor) drain(ch *channel, buf []byte) {
	for i := 0; i < maxReads; i++ {
		n, err := ch.r.Read(buf)
		if n > 0 {
			s.writeHeader(ch)
			s.out.Write(buf[:n])
		}
		switch {
		case err == nil && n == 0:
			s.finish(ch)
			return
		case errors.Is(err, unix.EAGAIN):
			return
		case err != nil:
			s.logger.Warn("watch channel read failed", zap.String("command", ch.cmd), zap.Error(err))
			s.finish(ch)
			return
		}
	}
}

func (s *Supervisor) writeHeader(ch *channel) {
	if ch.header {
		return
	}
	ch.header = true
	io.WriteString(s.out, Header(ch.cmd, s.now())+Separator)
}

// finish prints the trailer, closes the channel and removes its FIFO.
func (s *Supervisor) finish(ch *channel) {
	s.writeHeader(ch)
	io.WriteString(s.out, Separator)
	ch.r.Close()
	ch.closed = true
	os.Remove(ch.path)
}

// sleep waits one interval in one-second steps. It reports false when ctx
// was cancelled.
func (s *Supervisor) sleep(ctx context.Context) bool {
	remaining := s.cfg.Interval
	for remaining > 0 {
		step := min(remaining, time.Second)
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		remaining -= step
	}
	return ctx.Err() == nil
}

// removeChannels closes and unlinks anything left from the current round.
func (s *Supervisor) removeChannels() {
	for _, ch := range s.state.channels {
		ch.r.Close()
		os.Remove(ch.path)
	}
	s.state.channels = s.state.channels[:0]
}

// cleanup kills running workers and removes every temporary path.
func (s *Supervisor) cleanup() {
	for _, ch := range s.state.channels {
		if ch.pid > 0 {
			unix.Kill(ch.pid, unix.SIGKILL)
			waitBlocking(ch.pid)
			ch.pid = 0
		}
	}
	s.removeChannels()
	if s.state.dir != "" {
		os.RemoveAll(s.state.dir)
		s.state.dir = ""
	}
}

func waitBlocking(pid int) int {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1
		}
		if ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ws.ExitStatus()
	}
}

// SweepStale removes channel directories left by supervisors that no
// longer exist.
func SweepStale(base string, logger *zap.Logger) {
	matches, err := doublestar.FilepathGlob(filepath.Join(base, dirPrefix+"*"))
	if err != nil {
		return
	}
	for _, dir := range matches {
		rest := strings.TrimPrefix(filepath.Base(dir), dirPrefix)
		pidText, _, ok := strings.Cut(rest, "-")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidText)
		if err != nil || pid <= 0 {
			continue
		}
		if err := unix.Kill(pid, 0); errors.Is(err, unix.ESRCH) {
			logger.Debug("removing stale watch directory", zap.String("dir", dir))
			os.RemoveAll(dir)
		}
	}
}
