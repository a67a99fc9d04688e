package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/shell/history"
	"github.com/GriffinCanCode/termcore/internal/shell/watch"
)

func TestCd(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	t.Setenv("HOME", root)

	s, rec := newTestSession(t, WithDir(root), WithEcho(false))

	s.SubmitLine("cd sub")
	assert.Equal(t, filepath.Join(root, "sub"), s.Dir())

	s.SubmitLine("cd ..")
	assert.Equal(t, root, s.Dir())

	s.SubmitLine("cd ~/sub")
	assert.Equal(t, filepath.Join(root, "sub"), s.Dir())

	s.SubmitLine("cd")
	assert.Equal(t, root, s.Dir())

	s.SubmitLine("cd $HOME/sub")
	assert.Equal(t, filepath.Join(root, "sub"), s.Dir())

	assert.Empty(t, rec.String())

	s.SubmitLine("cd missing")
	assert.Equal(t, "cd: no such file or directory\n", rec.String())
	assert.Equal(t, filepath.Join(root, "sub"), s.Dir())
}

func TestCdRejectsFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), nil, 0o644))

	s, rec := newTestSession(t, WithDir(root), WithEcho(false))
	s.SubmitLine("cd file")
	assert.Equal(t, "cd: no such file or directory\n", rec.String())
	assert.Equal(t, root, s.Dir())
}

func TestCdAppliesToSpawnedJobs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "work"), 0o755))

	s, rec := newTestSession(t, WithDir(root), WithEcho(false))
	s.SubmitLine("cd work; pwd | cat")
	drive(t, s, settled(s))

	want, err := filepath.EvalSymlinks(filepath.Join(root, "work"))
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(strings.TrimPrefix(rec.String(), Separator)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClear(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.SubmitLine("echo a; clear; echo b")

	assert.Equal(t, 1, rec.clears)
	assert.Equal(t, Separator+"b\n", rec.String())
}

func TestHistoryBuiltin(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false), WithHistory(history.New(10)))

	s.SubmitLine("echo one")
	s.SubmitLine("history")
	assert.Equal(t, "one\n"+"echo one\nhistory\n", rec.String())

	rec.out.Reset()
	s.SubmitLine("history -c")
	assert.Equal(t, "History cleared\n", rec.String())
	assert.Empty(t, s.history.Entries())

	rec.out.Reset()
	s.SubmitLine("history")
	assert.Equal(t, "history\n", rec.String())
}

func TestHistoryBuiltinShowsLatest(t *testing.T) {
	h := history.New(history.DefaultLimit)
	for i := range historyShown + 5 {
		require.NoError(t, h.Add("cmd"+strings.Repeat("x", i%3)+string(rune('a'+i%26))))
	}
	s, rec := newTestSession(t, WithEcho(false), WithHistory(h))
	s.SubmitLine("history")

	lines := strings.Split(strings.TrimSuffix(rec.String(), "\n"), "\n")
	assert.Len(t, lines, historyShown)
	assert.Equal(t, "history", lines[len(lines)-1])
}

func TestEcho(t *testing.T) {
	t.Setenv("TERMCORE_GREETING", "hello")

	tests := []struct {
		line string
		want string
	}{
		{"echo", "\n"},
		{"echo plain words", "plain words\n"},
		{`echo "quoted text"`, "quoted text\n"},
		{`echo $TERMCORE_GREETING world`, "hello world\n"},
		{`echo "$TERMCORE_GREETING"`, "hello\n"},
		{`echo '$TERMCORE_GREETING'`, "$TERMCORE_GREETING\n"},
		{`echo line1\nline2`, "line1\nline2\n"},
		{`echo a\tb`, "a    b\n"},
		{`echo "say \"hi\""`, "say \"hi\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			s, rec := newTestSession(t, WithEcho(false))
			s.SubmitLine(tt.line)
			assert.Equal(t, tt.want, rec.String())
		})
	}
}

func TestKillBuiltinErrors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"kill", "usage: kill [-9] PID [PID ...]\n"},
		{"kill -9", "usage: kill [-9] PID [PID ...]\n"},
		{"killprocess", "usage: killprocess [-9] PID [PID ...]\n"},
		{"kill abc", "kill: invalid pid 'abc'\n"},
		{"kill -- -3", "kill: invalid signal '--'\n"},
		{"kill -NOPE 1", "kill: invalid signal '-NOPE'\n"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			s, rec := newTestSession(t, WithEcho(false))
			s.SubmitLine(tt.line)
			assert.Equal(t, tt.want, rec.String())
		})
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		arg  string
		want unix.Signal
		ok   bool
	}{
		{"-9", unix.SIGKILL, true},
		{"-15", unix.SIGTERM, true},
		{"-KILL", unix.SIGKILL, true},
		{"-SIGINT", unix.SIGINT, true},
		{"-hup", unix.SIGHUP, true},
		{"-0", 0, false},
		{"-99", 0, false},
		{"-BOGUS", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseSignal(tt.arg)
		assert.Equal(t, tt.ok, ok, tt.arg)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.arg)
		}
	}
}

func TestBgpidsEmpty(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.SubmitLine("bgpids")
	assert.Equal(t, "No background jobs\n", rec.String())
}

func TestRegisterBuiltin(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.Register("greet", func(_ *Session, inv Invocation) Outcome {
		return Outcome{Output: "hi " + strings.Join(inv.Args, ",") + " [" + inv.Rest() + "]\n"}
	})
	s.SubmitLine("greet a b")
	assert.Equal(t, "hi a,b [a b]\n", rec.String())
}

func TestWatchAllNoCommands(t *testing.T) {
	for _, line := range []string{"watch-all", "watch-all 3", `multiWatch 2 []`} {
		s, rec := newTestSession(t, WithEcho(false))
		s.SubmitLine(line)
		name, _, _ := strings.Cut(line, " ")
		assert.Equal(t, name+": no commands specified\n", rec.String(), line)
		assert.False(t, s.Busy())
	}
}

func TestWatchAll(t *testing.T) {
	s, rec := newTestSession(t, WithEcho(false))
	s.SubmitLine(`watch-all 1 ["echo A", "echo B"]`)
	require.True(t, s.Busy())

	snap := s.QueryJobs()
	require.NotNil(t, snap.Watch)
	assert.Equal(t, []string{"echo A", "echo B"}, snap.Watch.Commands)
	assert.Equal(t, time.Second, snap.Watch.Interval)
	assert.Equal(t, snap.Foreground.Pid, snap.Watch.Pid)

	drive(t, s, func() bool {
		out := rec.String()
		return strings.Contains(out, watch.Separator+"A\n"+watch.Separator) &&
			strings.Contains(out, watch.Separator+"B\n"+watch.Separator)
	})
	out := rec.String()
	assert.Contains(t, out, `"echo A" , current_time: `)
	assert.Contains(t, out, `"echo B" , current_time: `)

	assert.True(t, s.Interrupt())
	drive(t, s, settled(s))
	assert.Nil(t, s.QueryJobs().Watch)
}

func TestWatchAllBackground(t *testing.T) {
	s, _ := newTestSession(t, WithEcho(false))
	s.SubmitLine(`multiWatch 1 date &`)
	assert.False(t, s.Busy())

	snap := s.QueryJobs()
	require.NotNil(t, snap.Watch)
	require.Len(t, snap.Background, 1)
	assert.Equal(t, snap.Background[0].Pid, snap.Watch.Pid)

	s.Kill(snap.Watch.Pid, unix.SIGTERM)
	drive(t, s, settled(s))
	assert.Nil(t, s.QueryJobs().Watch)
}
