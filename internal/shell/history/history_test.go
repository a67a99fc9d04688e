package history

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAdd(t *testing.T) {
	s := New(0)
	for _, line := range []string{"ls", "ls", "", "pwd", "ls"} {
		require.NoError(t, s.Add(line))
	}
	assert.Equal(t, []string{"ls", "pwd", "ls"}, s.Entries())
	assert.Equal(t, 3, s.Len())
}

func TestStoreLimit(t *testing.T) {
	s := New(3)
	for i := range 5 {
		require.NoError(t, s.Add(fmt.Sprintf("cmd %d", i)))
	}
	assert.Equal(t, []string{"cmd 2", "cmd 3", "cmd 4"}, s.Entries())
	assert.Equal(t, []string{"cmd 3", "cmd 4"}, s.Last(2))
	assert.Equal(t, []string{"cmd 2", "cmd 3", "cmd 4"}, s.Last(10))
}

func TestStoreFlattensMultiline(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Add("echo 'a\nb'\n"))
	assert.Equal(t, []string{"echo 'a b'"}, s.Entries())
}

func TestStoreClear(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Add("ls"))
	require.NoError(t, s.Clear())
	assert.Empty(t, s.Entries())
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "history"), 10)
	require.NoError(t, err)
	assert.Empty(t, s.Entries())
}

func TestFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")

	s, err := Open(path, 10)
	require.NoError(t, err)
	require.NoError(t, s.Add("ls"))
	require.NoError(t, s.Add("ls"))
	require.NoError(t, s.Add("pwd"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ls\npwd\n", string(data))

	reopened, err := Open(path, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"ls", "pwd"}, reopened.Entries())
}

func TestFileRewrittenAtLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	s, err := Open(path, 2)
	require.NoError(t, err)

	for _, line := range []string{"a", "b", "c"} {
		require.NoError(t, s.Add(line))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b\nc\n", string(data))
}

func TestOpenKeepsNewestEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\n\nc\nd\n"), 0o600))

	s, err := Open(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, s.Entries())
}

func TestClearTruncatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	s, err := Open(path, 10)
	require.NoError(t, err)
	require.NoError(t, s.Add("ls"))
	require.NoError(t, s.Clear())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}
