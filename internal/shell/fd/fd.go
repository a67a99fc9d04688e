// Package fd provides owned file descriptors.
//
// An Owned value is the single owner of a raw descriptor. Ownership moves with
// Release; Close is idempotent. Every pipe and PTY descriptor in the shell
// lives inside an Owned from creation to close, so a descriptor is closed
// exactly once on every path, including spawn failures.
package fd

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when operating on a released or closed descriptor.
var ErrClosed = errors.New("descriptor closed")

// Owned is a move-only descriptor guard.
type Owned struct {
	n int
}

// New takes ownership of a raw descriptor.
func New(n int) *Owned {
	return &Owned{n: n}
}

// FromFile duplicates f's descriptor with close-on-exec set, closes f and
// returns the duplicate. The runtime poller no longer manages the result.
func FromFile(f *os.File) (*Owned, error) {
	n, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	closeErr := f.Close()
	if err != nil {
		return nil, fmt.Errorf("dup %s: %w", f.Name(), err)
	}
	if closeErr != nil {
		unix.Close(n)
		return nil, fmt.Errorf("close %s: %w", f.Name(), closeErr)
	}
	return New(n), nil
}

// Fd returns the raw descriptor, or -1 once released or closed.
func (o *Owned) Fd() int {
	if o == nil {
		return -1
	}
	return o.n
}

// Valid reports whether the guard still owns a descriptor.
func (o *Owned) Valid() bool {
	return o != nil && o.n >= 0
}

// Release gives up ownership and returns the raw descriptor.
func (o *Owned) Release() int {
	if o == nil {
		return -1
	}
	n := o.n
	o.n = -1
	return n
}

// Close closes the descriptor if still owned.
func (o *Owned) Close() error {
	if !o.Valid() {
		return nil
	}
	return unix.Close(o.Release())
}

// SetNonblock switches the descriptor to non-blocking mode.
func (o *Owned) SetNonblock() error {
	if !o.Valid() {
		return ErrClosed
	}
	return unix.SetNonblock(o.n, true)
}

// Read reads into p. It returns unix.EAGAIN when nothing is ready on a
// non-blocking descriptor and (0, nil) at end of stream.
func (o *Owned) Read(p []byte) (int, error) {
	if !o.Valid() {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(o.n, p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}

// Write writes all of p, retrying on short writes and EINTR.
func (o *Owned) Write(p []byte) (int, error) {
	if !o.Valid() {
		return 0, ErrClosed
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(o.n, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

// Pipe creates a close-on-exec pipe and returns its read and write ends.
func Pipe() (r, w *Owned, err error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, err
	}
	return New(p[0]), New(p[1]), nil
}

// Group collects descriptors that must be closed together.
type Group []*Owned

// Add appends descriptors to the group and returns the first one.
func (g *Group) Add(fds ...*Owned) *Owned {
	*g = append(*g, fds...)
	if len(fds) == 0 {
		return nil
	}
	return fds[0]
}

// Close closes every descriptor still owned by the group.
func (g *Group) Close() error {
	var errs []error
	for _, o := range *g {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	*g = nil
	return errors.Join(errs...)
}
