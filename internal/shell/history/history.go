// Package history keeps the list of submitted command lines.
package history

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// DefaultLimit is the number of entries kept when no limit is given.
const DefaultLimit = 10000

// History records submitted lines for the history built-in.
type History interface {
	Add(line string) error
	Entries() []string
	Clear() error
}

// Store is an in-memory History capped at a fixed number of entries,
// optionally mirrored to an append-only file.
type Store struct {
	mu      sync.Mutex
	limit   int
	entries []string
	path    string
	// written counts lines in the file, which may exceed limit until the
	// next rewrite.
	written int
}

// New creates an in-memory store.
func New(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{limit: limit}
}

// Open creates a store backed by path, loading the most recent entries the
// file already holds. A missing file is not an error.
func Open(path string, limit int) (*Store, error) {
	s := New(limit)
	s.path = path

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		s.written++
		s.push(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return s, nil
}

// push appends line unless it is empty or repeats the last entry. It
// reports whether the line was kept.
func (s *Store) push(line string) bool {
	if line == "" {
		return false
	}
	if n := len(s.entries); n > 0 && s.entries[n-1] == line {
		return false
	}
	if len(s.entries) == s.limit {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, line)
	return true
}

// Add records line. Lines spanning several physical lines are stored with
// their newlines replaced by spaces so the file stays one entry per line.
func (s *Store) Add(line string) error {
	line = strings.ReplaceAll(strings.TrimRight(line, "\n"), "\n", " ")

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.push(line) || s.path == "" {
		return nil
	}
	if s.written >= s.limit {
		return s.rewrite()
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	s.written++
	return nil
}

// rewrite replaces the file with the current entries.
func (s *Store) rewrite() error {
	var b strings.Builder
	for _, e := range s.entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(s.path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("rewrite history: %w", err)
	}
	s.written = len(s.entries)
	return nil
}

// Entries returns a copy of the entries, oldest first.
func (s *Store) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.entries...)
}

// Last returns at most n of the newest entries, oldest first.
func (s *Store) Last(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(len(s.entries)-n, 0)
	return append([]string(nil), s.entries[start:]...)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear drops every entry and truncates the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	if s.path == "" {
		return nil
	}
	return s.rewrite()
}
