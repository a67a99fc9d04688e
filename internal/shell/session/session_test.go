package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/shell/job"
	"github.com/GriffinCanCode/termcore/internal/shell/parser"
	"github.com/GriffinCanCode/termcore/internal/shell/spawn"
)

func TestPrompt(t *testing.T) {
	s, _ := newTestSession(t, WithDir("/srv/data"))
	assert.Equal(t, "user@host:/srv/data$ ", s.Prompt())
	assert.Equal(t, "/srv/data", s.Dir())
	assert.False(t, s.Busy())
	assert.NotEmpty(t, s.ID)
}

func TestQueueSeparator(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine("echo a; echo b")

	want := s.Prompt() + "echo a; echo b\n" + "a\n" + Separator + "b\n"
	assert.Equal(t, want, rec.String())
}

func TestNoSeparatorForSingleCommand(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine("echo only")
	assert.NotContains(t, rec.String(), Separator)
}

func TestWithoutEcho(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.SubmitLine("echo a")
	assert.Equal(t, "a\n", rec.String())
}

func TestEnqueueEchoesPrompt(t *testing.T) {
	s, rec := newTestSession(t)
	s.Enqueue("echo queued", true)
	assert.Equal(t, s.Prompt()+"echo queued\n"+"queued\n", rec.String())

	s.Enqueue("   ", true)
	assert.Equal(t, s.Prompt()+"echo queued\n"+"queued\n", rec.String())
}

func TestForegroundCommand(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine(`printf 'hi\n'`)
	require.True(t, s.Busy())

	snap := s.QueryJobs()
	require.NotNil(t, snap.Foreground)
	assert.Equal(t, job.KindPty, snap.Foreground.Kind)
	assert.Equal(t, `printf 'hi\n'`, snap.Foreground.Command)

	drive(t, s, settled(s))
	assert.Contains(t, rec.String(), "hi\n")
	assert.NotContains(t, rec.String(), "\r")
}

func TestSingleForegroundJob(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine("sleep 0.3; echo after")

	require.True(t, s.Busy())
	assert.Equal(t, 1, s.QueryJobs().Pending)
	assert.NotContains(t, rec.String(), "after")

	s.SubmitLine("echo later")
	assert.Equal(t, 2, s.QueryJobs().Pending, "new input waits behind the foreground job")

	drive(t, s, idle(s))
	assert.True(t, strings.HasSuffix(rec.String(), "after\n"+Separator+"later\n"), rec.String())
}

func TestPipelineThroughSession(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine(`printf 'b\na\n' | sort`)

	snap := s.QueryJobs()
	require.NotNil(t, snap.Foreground)
	assert.Equal(t, job.KindPiped, snap.Foreground.Kind)

	drive(t, s, settled(s))
	assert.True(t, strings.HasSuffix(rec.String(), "a\nb\n"), rec.String())
}

func TestCommandNotFound(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine("no-such-program-xyz; echo next")
	drive(t, s, idle(s))

	out := rec.String()
	assert.Contains(t, out, "no-such-program-xyz: command not found\n")
	assert.True(t, strings.HasSuffix(out, Separator+"next\n"), out)
}

func TestParseErrorContinuesQueue(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine("cat >; echo next")

	out := rec.String()
	assert.Contains(t, out, parser.ErrMissingTarget.Error())
	assert.True(t, strings.HasSuffix(out, Separator+"next\n"), out)
	assert.False(t, s.Busy())
}

type failingSpawner struct{}

func (failingSpawner) Spawn(parser.Pipeline, spawn.Options) (job.Job, error) {
	return nil, &spawn.Error{Op: "fork", Err: unix.EAGAIN}
}

func (failingSpawner) SpawnHelper(string, []string, spawn.Options) (job.Job, error) {
	return nil, &spawn.Error{Op: "pipe", Err: unix.EMFILE}
}

func TestSpawnFailureContinuesQueue(t *testing.T) {
	rec := &recorder{}
	s := New(rec, failingSpawner{}, WithEcho(false), WithDir(t.TempDir()))
	defer s.Close()

	s.SubmitLine("ls; echo next")
	assert.Equal(t, "fork() failed: "+unix.EAGAIN.Error()+"\n"+Separator+"next\n", rec.String())
	assert.False(t, s.Busy())

	rec.out.Reset()
	s.SubmitLine(`watch-all ["date"]`)
	assert.Equal(t, "pipe() failed: "+unix.EMFILE.Error()+"\n", rec.String())
	assert.Nil(t, s.QueryJobs().Watch)
}

func TestContinuationQuote(t *testing.T) {
	s, rec := newTestSession(t)

	s.SubmitLine("echo 'a")
	assert.True(t, s.Continuing())
	assert.Equal(t, s.Prompt()+"echo 'a\n", rec.String())

	s.SubmitLine("b'")
	assert.False(t, s.Continuing())
	assert.Equal(t, s.Prompt()+"echo 'a\n"+"> b'\n"+"a\nb\n", rec.String())
}

func TestContinuationBackslash(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.SubmitLine(`echo one \`)
	assert.True(t, s.Continuing())
	s.SubmitLine("two")
	assert.Equal(t, "one two\n", rec.String())
}

func TestPasteRunsEachLine(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine("echo a\n\necho b\n")

	want := s.Prompt() + "echo a\n" + "> echo b\n" + "a\n" + Separator + "b\n"
	assert.Equal(t, want, rec.String())
}

func TestBlankLine(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine("   ")
	assert.Empty(t, rec.String())
	assert.False(t, s.Busy())
}

func TestInterruptIdle(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.SubmitLine("echo 'open")
	require.True(t, s.Continuing())

	assert.False(t, s.Interrupt())
	assert.False(t, s.Continuing())
	assert.Equal(t, "^C\n", rec.String())
}

func TestInterruptForeground(t *testing.T) {
	s, _ := newTestSession(t)
	s.SubmitLine("sleep 30")
	require.True(t, s.Busy())

	assert.True(t, s.Interrupt())
	drive(t, s, settled(s))
}

func TestDetachKeepsOutputFlowing(t *testing.T) {
	s, rec := newTestSession(t)
	s.SubmitLine("sh -c 'sleep 0.3; echo late'")
	require.True(t, s.Busy())

	assert.True(t, s.Detach())
	assert.False(t, s.Busy())
	assert.Len(t, s.QueryJobs().Background, 1)
	assert.False(t, s.Detach())

	s.SubmitLine("echo now")
	assert.Contains(t, rec.String(), "now\n", "the queue runs while the job is detached")

	drive(t, s, settled(s))
	assert.Contains(t, rec.String(), "late\n")
}

func TestBackgroundJob(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.SubmitLine("sleep 30 &")
	assert.False(t, s.Busy())

	snap := s.QueryJobs()
	require.Len(t, snap.Background, 1)
	bg := snap.Background[0]
	assert.Equal(t, "sleep 30", bg.Command)
	assert.Equal(t, job.KindPiped, bg.Kind)

	s.SubmitLine("bgpids")
	assert.Contains(t, rec.String(), fmt.Sprintf("PID=%d PGID=%d CMD=sleep 30\n", bg.Pid, bg.Pgid))

	s.SubmitLine(fmt.Sprintf("kill -9 %d", bg.Pid))
	assert.Contains(t, rec.String(), fmt.Sprintf("killed process group %d (sig 9)\n", bg.Pgid))

	drive(t, s, settled(s))
	assert.Empty(t, s.QueryJobs().Background)
}

func TestKillByGroupStopsEveryStage(t *testing.T) {
	s, _ := newTestSession(t, WithEcho(false))
	s.SubmitLine("sleep 30 | sleep 30 &")
	require.Len(t, s.background, 1)
	b := s.background[0].Meta()
	require.Len(t, b.Pids, 2)

	assert.Equal(t, fmt.Sprintf("killed process group %d (sig 15)", b.Pgid), s.Kill(b.Pgid, unix.SIGTERM))
	drive(t, s, settled(s))

	for _, pid := range b.Pids {
		assert.ErrorIs(t, unix.Kill(pid, 0), unix.ESRCH, "stage %d still exists", pid)
	}
}

func TestKillUnknownPid(t *testing.T) {
	s, _ := newTestSession(t)
	msg := s.Kill(1<<22+17, unix.SIGTERM)
	assert.True(t, strings.HasPrefix(msg, fmt.Sprintf("kill(%d) failed: ", 1<<22+17)), msg)
}

func TestLeaderExitWithOpenOutputMovesToBackground(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	// The first stage outlives the leader and keeps stderr open.
	s.SubmitLine("sh -c 'sleep 0.5; echo tail >&2' | true; echo next")

	drive(t, s, idle(s))
	assert.Contains(t, rec.String(), Separator+"next\n")

	drive(t, s, settled(s))
	assert.Contains(t, rec.String(), "tail\n")
}

func TestWriteInput(t *testing.T) {
	s, rec := newTestSession(t)
	assert.ErrorIs(t, s.WriteInput([]byte("x")), ErrNoForeground)
	assert.ErrorIs(t, s.CloseInput(), ErrNoForeground)

	s.SubmitLine("cat")
	require.True(t, s.Busy())
	require.NoError(t, s.WriteInput([]byte("hello\n")))
	drive(t, s, func() bool { return strings.Count(rec.String(), "hello") >= 1 })

	require.NoError(t, s.CloseInput())
	drive(t, s, settled(s))
}

func TestPipedInputEOF(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.SubmitLine("cat | tr a-z A-Z")
	require.True(t, s.Busy())

	require.NoError(t, s.WriteInput([]byte("shout\n")))
	require.NoError(t, s.CloseInput())
	drive(t, s, settled(s))
	assert.Equal(t, "SHOUT\n", rec.String())

	assert.True(t, errors.Is(s.WriteInput(nil), ErrNoForeground))
}

func TestQueryJobsPending(t *testing.T) {
	s, _ := newTestSession(t)
	s.SubmitLine("sleep 5; echo a; echo b")

	snap := s.QueryJobs()
	assert.True(t, snap.ForegroundBusy)
	assert.Equal(t, 2, snap.Pending)
	assert.Empty(t, snap.Background)
	assert.Nil(t, snap.Watch)
}

func TestCloseKillsJobs(t *testing.T) {
	s, _ := newTestSession(t, WithEcho(false))
	s.SubmitLine("sleep 30 &")
	s.SubmitLine("sleep 30")
	require.True(t, s.Busy())

	pids := []int{s.background[0].Meta().Leader, s.foreground.Meta().Leader}
	s.Close()

	for _, pid := range pids {
		assert.ErrorIs(t, unix.Kill(pid, 0), unix.ESRCH)
	}
	assert.ErrorIs(t, s.Close(), ErrClosed)
	assert.False(t, s.Busy())

	s.SubmitLine("echo ignored")
	assert.False(t, s.Active())
}

func TestHistoryRecordsCommands(t *testing.T) {
	s, _ := newTestSession(t)
	s.SubmitLine("echo a; echo b")
	s.SubmitLine("echo c")
	assert.Equal(t, []string{"echo a; echo b", "echo c"}, s.history.Entries())
}

func TestAwaitIdle(t *testing.T) {
	s, _ := newTestSession(t)
	start := time.Now()
	require.NoError(t, s.Await(200*time.Millisecond))
	assert.Less(t, time.Since(start), 150*time.Millisecond, "an idle session does not wait")
	assert.Empty(t, s.PollFDs())
}

func TestResize(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	assert.ErrorIs(t, s.Resize(40, 120), ErrNoForeground)

	s.SubmitLine("sh -c 'sleep 0.3; stty size'")
	require.True(t, s.Busy())
	require.NoError(t, s.Resize(40, 120))

	drive(t, s, settled(s))
	assert.Contains(t, rec.String(), "40 120\n")
}
