package fd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPipeRoundTrip(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	flags, err := unix.FcntlInt(uintptr(r.Fd()), unix.F_GETFD, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.FD_CLOEXEC, "pipe ends must be close-on-exec")

	require.NoError(t, r.SetNonblock())

	buf := make([]byte, 16)
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, unix.EAGAIN)

	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, w.Close())
	n, err = r.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n, "closed writer reads as end of stream")
}

func TestOwnedCloseIsIdempotent(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, r.Close())
	assert.False(t, r.Valid())
	assert.Equal(t, -1, r.Fd())
	assert.NoError(t, r.Close())

	_, err = r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOwnedRelease(t *testing.T) {
	r, w, err := Pipe()
	require.NoError(t, err)
	defer w.Close()

	raw := r.Release()
	assert.GreaterOrEqual(t, raw, 0)
	assert.False(t, r.Valid())
	assert.NoError(t, r.Close(), "released guard must not close")

	moved := New(raw)
	assert.NoError(t, moved.Close())
}

func TestNilOwned(t *testing.T) {
	var o *Owned
	assert.False(t, o.Valid())
	assert.Equal(t, -1, o.Fd())
	assert.NoError(t, o.Close())
}

func TestGroupClose(t *testing.T) {
	var g Group
	r, w, err := Pipe()
	require.NoError(t, err)
	first := g.Add(r, w)
	assert.Same(t, r, first)

	require.NoError(t, g.Close())
	assert.False(t, r.Valid())
	assert.False(t, w.Valid())
	assert.Empty(t, g)
}

func TestFromFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fd")
	require.NoError(t, err)

	o, err := FromFile(f)
	require.NoError(t, err)
	defer o.Close()

	n, err := o.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
