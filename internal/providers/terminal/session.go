package terminal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termcore/internal/shared/id"
	"github.com/GriffinCanCode/termcore/internal/shell/fd"
	"github.com/GriffinCanCode/termcore/internal/shell/history"
	"github.com/GriffinCanCode/termcore/internal/shell/session"
	"github.com/GriffinCanCode/termcore/internal/shell/spawn"
	"github.com/GriffinCanCode/termcore/internal/shell/watch"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStopped is returned once the manager loop has exited.
	ErrStopped = errors.New("terminal manager stopped")
)

const callQueue = 64

// CreateOptions configures a new session.
type CreateOptions struct {
	WorkingDir string
	// Echo prints each submitted line after the prompt in the output.
	Echo bool
}

// entry is a session together with its output buffer. Only the loop
// goroutine touches sess.
type entry struct {
	sess      *session.Session
	buf       *Buffer
	startedAt time.Time
}

func (e *entry) info() SessionInfo {
	snap := e.sess.QueryJobs()
	return SessionInfo{
		ID:         e.sess.ID.String(),
		WorkingDir: e.sess.Dir(),
		Prompt:     e.sess.Prompt(),
		StartedAt:  e.startedAt,
		Busy:       snap.ForegroundBusy,
		Background: len(snap.Background),
		Continuing: e.sess.Continuing(),
	}
}

// Manager hosts sessions on a single event-loop goroutine. Callers on other
// goroutines reach a session only through closures run by the loop.
type Manager struct {
	cfg     config.ShellConfig
	watch   watch.Config
	spawner *spawn.Spawner
	history history.History
	logger  *zap.Logger
	metrics *monitoring.Metrics

	calls    chan func()
	wakeMu   sync.Mutex
	wake     *fd.Owned
	stopped  chan struct{}
	stopOnce sync.Once

	// Owned by the loop.
	sessions map[id.SessionID]*entry
}

// NewManager creates a manager. Run must be called to serve it.
func NewManager(cfg *config.Config, logger *zap.Logger, metrics *monitoring.Metrics) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	var hist history.History
	if cfg.Shell.HistoryFile != "" {
		store, err := history.Open(cfg.Shell.HistoryFile, cfg.Shell.HistoryLimit)
		if err != nil {
			unix.Close(efd)
			return nil, fmt.Errorf("open history: %w", err)
		}
		hist = store
	}

	return &Manager{
		cfg: cfg.Shell,
		watch: watch.Config{
			Interval:    cfg.Watch.Interval,
			PollTimeout: cfg.Watch.PollTimeout,
			Dir:         cfg.Watch.Dir,
			Shell:       cfg.Watch.Shell,
		},
		spawner:  spawn.New(spawn.WithWindowSize(cfg.Shell.Rows, cfg.Shell.Cols), spawn.WithLogger(logger)),
		history:  hist,
		logger:   logger,
		metrics:  metrics,
		calls:    make(chan func(), callQueue),
		wake:     fd.New(efd),
		stopped:  make(chan struct{}),
		sessions: make(map[id.SessionID]*entry),
	}, nil
}

// Run serves the manager until ctx is cancelled, then closes every session.
func (m *Manager) Run(ctx context.Context) error {
	defer m.stopOnce.Do(func() { close(m.stopped) })
	defer m.shutdown()

	stopWake := context.AfterFunc(ctx, m.wakeup)
	defer stopWake()

	tick := m.cfg.TickInterval
	if tick <= 0 {
		tick = 50 * time.Millisecond
	}
	m.logger.Info("terminal manager started", zap.Duration("tick", tick))

	var pfds []unix.PollFd
	for {
		if ctx.Err() != nil {
			return nil
		}
		m.runCalls()

		active := false
		pfds = append(pfds[:0], unix.PollFd{Fd: int32(m.wake.Fd()), Events: unix.POLLIN})
		for _, e := range m.sessions {
			e.sess.Tick()
			for _, n := range e.sess.PollFDs() {
				pfds = append(pfds, unix.PollFd{Fd: int32(n), Events: unix.POLLIN})
			}
			active = active || e.sess.Active()
		}
		m.recordGauges()

		// Live jobs are polled on a timeout so silent ones still get reaped.
		timeout := -1
		if active {
			timeout = int(tick / time.Millisecond)
		}
		if _, err := unix.Poll(pfds, timeout); err != nil && err != unix.EINTR {
			return fmt.Errorf("poll: %w", err)
		}
		if pfds[0].Revents&unix.POLLIN != 0 {
			var b [8]byte
			m.wake.Read(b[:])
		}
	}
}

func (m *Manager) runCalls() {
	for {
		select {
		case fn := <-m.calls:
			fn()
		default:
			return
		}
	}
}

func (m *Manager) wakeup() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	m.wakeMu.Lock()
	defer m.wakeMu.Unlock()
	m.wake.Write(b[:])
}

func (m *Manager) recordGauges() {
	if m.metrics == nil {
		return
	}
	fg, bg := 0, 0
	for _, e := range m.sessions {
		snap := e.sess.QueryJobs()
		if snap.ForegroundBusy {
			fg++
		}
		bg += len(snap.Background)
	}
	m.metrics.SetSessionsActive(len(m.sessions))
	m.metrics.SetJobsActive("foreground", fg)
	m.metrics.SetJobsActive("background", bg)
}

func (m *Manager) shutdown() {
	for sid, e := range m.sessions {
		m.closeEntry(sid, e)
	}
	m.recordGauges()
	m.wakeMu.Lock()
	m.wake.Close()
	m.wakeMu.Unlock()
	m.logger.Info("terminal manager stopped")
}

func (m *Manager) closeEntry(sid id.SessionID, e *entry) {
	if err := e.sess.Close(); err != nil {
		m.logger.Debug("session close", zap.String("session", sid.String()), zap.Error(err))
	}
	e.buf.Close()
	delete(m.sessions, sid)
}

// Do runs fn on the loop goroutine and waits for it to return.
func (m *Manager) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}
	select {
	case m.calls <- call:
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	m.wakeup()
	select {
	case <-done:
		return nil
	case <-m.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// with runs fn against one session on the loop.
func (m *Manager) with(ctx context.Context, sid string, fn func(e *entry) error) error {
	var err error
	if derr := m.Do(ctx, func() {
		e, ok := m.sessions[id.SessionID(sid)]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrSessionNotFound, sid)
			return
		}
		err = fn(e)
	}); derr != nil {
		return derr
	}
	return err
}

// CreateSession starts an idle session.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) (*SessionInfo, error) {
	dir := opts.WorkingDir
	if dir == "" {
		dir = os.Getenv("HOME")
		if dir == "" {
			dir = os.TempDir()
		}
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return nil, fmt.Errorf("working directory %q is not a directory", dir)
	}

	var info SessionInfo
	err := m.Do(ctx, func() {
		buf := NewBuffer(DefaultBufferSize)
		sopts := []session.Option{
			session.WithDir(dir),
			session.WithLogger(m.logger),
			session.WithMetrics(m.metrics),
			session.WithReadChunk(m.cfg.ReadChunk),
			session.WithWatchDefaults(m.watch),
			session.WithEcho(opts.Echo),
		}
		if m.history != nil {
			sopts = append(sopts, session.WithHistory(m.history))
		} else {
			sopts = append(sopts, session.WithHistory(history.New(m.cfg.HistoryLimit)))
		}
		sess := session.New(buf, m.spawner, sopts...)
		e := &entry{sess: sess, buf: buf, startedAt: time.Now()}
		m.sessions[sess.ID] = e
		info = e.info()
		m.logger.Info("session created", zap.String("session", info.ID), zap.String("dir", dir))
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListSessions returns every session.
func (m *Manager) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := m.Do(ctx, func() {
		out = make([]SessionInfo, 0, len(m.sessions))
		for _, e := range m.sessions {
			out = append(out, e.info())
		}
	})
	return out, err
}

// GetSession returns one session.
func (m *Manager) GetSession(ctx context.Context, sid string) (*SessionInfo, error) {
	var info SessionInfo
	err := m.with(ctx, sid, func(e *entry) error {
		info = e.info()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// Submit feeds a line of input to a session.
func (m *Manager) Submit(ctx context.Context, sid, line string) error {
	return m.with(ctx, sid, func(e *entry) error {
		e.sess.SubmitLine(line)
		return nil
	})
}

// Interrupt interrupts the foreground job. It reports whether a job was
// signalled.
func (m *Manager) Interrupt(ctx context.Context, sid string) (bool, error) {
	var signalled bool
	err := m.with(ctx, sid, func(e *entry) error {
		signalled = e.sess.Interrupt()
		return nil
	})
	return signalled, err
}

// Detach moves the foreground job to the background.
func (m *Manager) Detach(ctx context.Context, sid string) (bool, error) {
	var detached bool
	err := m.with(ctx, sid, func(e *entry) error {
		detached = e.sess.Detach()
		return nil
	})
	return detached, err
}

// Kill signals a job of the session and returns the result line.
func (m *Manager) Kill(ctx context.Context, sid string, pid int, sig unix.Signal) (string, error) {
	var msg string
	err := m.with(ctx, sid, func(e *entry) error {
		msg = e.sess.Kill(pid, sig)
		return nil
	})
	return msg, err
}

// Write sends input to the foreground job.
func (m *Manager) Write(ctx context.Context, sid string, input []byte) error {
	return m.with(ctx, sid, func(e *entry) error {
		return e.sess.WriteInput(input)
	})
}

// CloseInput sends end-of-file to the foreground job.
func (m *Manager) CloseInput(ctx context.Context, sid string) error {
	return m.with(ctx, sid, func(e *entry) error {
		return e.sess.CloseInput()
	})
}

// Resize changes the window size of the foreground terminal job.
func (m *Manager) Resize(ctx context.Context, sid string, rows, cols uint16) error {
	return m.with(ctx, sid, func(e *entry) error {
		return e.sess.Resize(rows, cols)
	})
}

// Jobs returns the job state of a session.
func (m *Manager) Jobs(ctx context.Context, sid string) (session.JobsSnapshot, error) {
	var snap session.JobsSnapshot
	err := m.with(ctx, sid, func(e *entry) error {
		snap = e.sess.QueryJobs()
		return nil
	})
	return snap, err
}

// Read drains the buffered output of a session.
func (m *Manager) Read(ctx context.Context, sid string) ([]byte, error) {
	buf, err := m.buffer(ctx, sid)
	if err != nil {
		return nil, err
	}
	return buf.ReadAll(), nil
}

// Announce appends text to the session output after everything the
// session has produced so far. Front ends use it for prompts.
func (m *Manager) Announce(ctx context.Context, sid, text string) error {
	return m.with(ctx, sid, func(e *entry) error {
		e.buf.AppendOutput(text)
		return nil
	})
}

// Subscribe streams the output events of a session until the returned
// cancel function is called or the session is closed.
func (m *Manager) Subscribe(ctx context.Context, sid string, depth int) (<-chan Event, func(), error) {
	buf, err := m.buffer(ctx, sid)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := buf.Subscribe(depth)
	return ch, cancel, nil
}

func (m *Manager) buffer(ctx context.Context, sid string) (*Buffer, error) {
	var buf *Buffer
	err := m.with(ctx, sid, func(e *entry) error {
		buf = e.buf
		return nil
	})
	return buf, err
}

// CloseSession terminates a session and every job it owns.
func (m *Manager) CloseSession(ctx context.Context, sid string) error {
	return m.with(ctx, sid, func(e *entry) error {
		m.closeEntry(e.sess.ID, e)
		m.logger.Info("session closed", zap.String("session", sid))
		return nil
	})
}
