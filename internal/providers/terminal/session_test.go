package terminal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/config"
	"github.com/GriffinCanCode/termcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termcore/internal/shell/session"
)

func startManager(t *testing.T) (*Manager, *monitoring.Metrics) {
	t.Helper()
	cfg := config.Default()
	cfg.Shell.TickInterval = 10 * time.Millisecond
	cfg.Watch.Dir = t.TempDir()

	metrics := monitoring.NewMetrics()
	m, err := NewManager(cfg, zaptest.NewLogger(t), metrics)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("manager did not stop")
		}
	})
	return m, metrics
}

// readUntil polls the session output until it contains want.
func readUntil(t *testing.T, m *Manager, sid, want string) string {
	t.Helper()
	var out strings.Builder
	require.Eventually(t, func() bool {
		b, err := m.Read(context.Background(), sid)
		require.NoError(t, err)
		out.Write(b)
		return strings.Contains(out.String(), want)
	}, 10*time.Second, 10*time.Millisecond)
	return out.String()
}

func TestCreateAndList(t *testing.T) {
	m, _ := startManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	info, err := m.CreateSession(ctx, CreateOptions{WorkingDir: dir})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.ID, "sess_"))
	assert.Equal(t, dir, info.WorkingDir)
	assert.False(t, info.Busy)

	list, err := m.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)

	got, err := m.GetSession(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)
}

func TestCreateRejectsMissingDir(t *testing.T) {
	m, _ := startManager(t)
	_, err := m.CreateSession(context.Background(), CreateOptions{WorkingDir: "/nonexistent/dir"})
	assert.Error(t, err)
}

func TestUnknownSession(t *testing.T) {
	m, _ := startManager(t)
	ctx := context.Background()

	_, err := m.GetSession(ctx, "sess_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Submit(ctx, "sess_missing", "ls"), ErrSessionNotFound)
	assert.ErrorIs(t, m.CloseSession(ctx, "sess_missing"), ErrSessionNotFound)
	_, err = m.Read(ctx, "sess_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitRunsCommands(t *testing.T) {
	m, metrics := startManager(t)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, CreateOptions{WorkingDir: t.TempDir(), Echo: true})
	require.NoError(t, err)

	require.NoError(t, m.Submit(ctx, info.ID, "printf 'one\\n' | cat; echo two"))
	out := readUntil(t, m, info.ID, "two\n")
	assert.Contains(t, out, info.Prompt+"printf 'one\\n' | cat; echo two\n")
	assert.Contains(t, out, "one\n")

	snap := metrics.Snapshot()
	assert.GreaterOrEqual(t, snap.JobsSpawned, int64(1))
	assert.Equal(t, int64(1), snap.ActiveSessions)
}

func TestAnnounceFollowsJobOutput(t *testing.T) {
	m, _ := startManager(t)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, CreateOptions{WorkingDir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, m.Submit(ctx, info.ID, "printf 'job\\n' | cat"))
	require.Eventually(t, func() bool {
		got, err := m.GetSession(ctx, info.ID)
		return err == nil && !got.Busy
	}, 10*time.Second, 10*time.Millisecond)
	require.NoError(t, m.Announce(ctx, info.ID, "$ "))

	out := readUntil(t, m, info.ID, "$ ")
	assert.Equal(t, "job\n$ ", out)
	assert.ErrorIs(t, m.Announce(ctx, "sess_missing", "x"), ErrSessionNotFound)
}

func TestStreamSubscription(t *testing.T) {
	m, _ := startManager(t)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, CreateOptions{WorkingDir: t.TempDir()})
	require.NoError(t, err)

	events, cancel, err := m.Subscribe(ctx, info.ID, 16)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.Submit(ctx, info.ID, "echo streamed; clear"))

	var got []Event
	timeout := time.After(10 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("events so far: %+v", got)
		}
	}
	assert.Equal(t, Event{Kind: EventOutput, Text: "streamed\n"}, got[0])
	assert.Equal(t, EventOutput, got[1].Kind, "separator")
	assert.Equal(t, Event{Kind: EventClear}, got[2])
}

func TestJobControlThroughManager(t *testing.T) {
	m, _ := startManager(t)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, CreateOptions{WorkingDir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, m.Submit(ctx, info.ID, "sleep 30"))
	snap, err := m.Jobs(ctx, info.ID)
	require.NoError(t, err)
	require.True(t, snap.ForegroundBusy)

	detached, err := m.Detach(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, detached)

	snap, err = m.Jobs(ctx, info.ID)
	require.NoError(t, err)
	require.Len(t, snap.Background, 1)

	msg, err := m.Kill(ctx, info.ID, snap.Background[0].Pid, unix.SIGKILL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "killed process group"), msg)

	require.Eventually(t, func() bool {
		snap, err := m.Jobs(ctx, info.ID)
		return err == nil && len(snap.Background) == 0
	}, 10*time.Second, 20*time.Millisecond)

	signalled, err := m.Interrupt(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, signalled)
}

func TestInputThroughManager(t *testing.T) {
	m, _ := startManager(t)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, CreateOptions{WorkingDir: t.TempDir()})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Write(ctx, info.ID, []byte("x")), session.ErrNoForeground)

	require.NoError(t, m.Submit(ctx, info.ID, "tr a-z A-Z | cat"))
	require.NoError(t, m.Write(ctx, info.ID, []byte("loud\n")))
	require.NoError(t, m.CloseInput(ctx, info.ID))
	readUntil(t, m, info.ID, "LOUD\n")
}

func TestCloseSessionKillsJobs(t *testing.T) {
	m, _ := startManager(t)
	ctx := context.Background()

	info, err := m.CreateSession(ctx, CreateOptions{WorkingDir: t.TempDir()})
	require.NoError(t, err)
	events, _, err := m.Subscribe(ctx, info.ID, 1)
	require.NoError(t, err)

	require.NoError(t, m.Submit(ctx, info.ID, "sleep 30 &"))
	snap, err := m.Jobs(ctx, info.ID)
	require.NoError(t, err)
	require.Len(t, snap.Background, 1)
	pid := snap.Background[0].Pid

	require.NoError(t, m.CloseSession(ctx, info.ID))
	assert.ErrorIs(t, unix.Kill(pid, 0), unix.ESRCH)

	for range events {
	}
	_, err = m.GetSession(ctx, info.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStoppedManager(t *testing.T) {
	m, err := NewManager(config.Default(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx))

	_, err = m.ListSessions(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}
