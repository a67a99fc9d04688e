// Package job defines the record of a spawned pipeline.
//
// A Job is either Piped (separate stdout and stderr pipes, optional stdin
// pipe) or PtyBacked (one PTY master used for both input and output). The
// Job interface is sealed to those two variants.
package job

import (
	"errors"
	"io"
	"time"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/shared/id"
	"github.com/GriffinCanCode/termcore/internal/shell/fd"
)

// Kind names a job variant.
type Kind string

const (
	KindPiped Kind = "piped"
	KindPty   Kind = "pty"
)

// Job is a running (or finishing) pipeline owned by one session.
type Job interface {
	Meta() *Base
	Kind() Kind
	// Streams returns the readable streams that are still open.
	Streams() []*Stream
	// Input returns the writable input descriptor, or nil.
	Input() *fd.Owned
	// CloseInput sends end-of-file to the job's stdin where that is possible.
	CloseInput() error
	// Close releases every descriptor the job still owns.
	Close() error

	sealed()
}

// Info is the externally visible summary of a job.
type Info struct {
	ID      id.JobID  `json:"id"`
	Pid     int       `json:"pid"`
	Pgid    int       `json:"pgid"`
	Command string    `json:"cmd"`
	Kind    Kind      `json:"kind"`
	Started time.Time `json:"started"`
}

// Base carries the process bookkeeping shared by both variants.
type Base struct {
	ID      id.JobID
	Command string
	// Leader is the pid whose exit ends the job: the last pipeline stage.
	Leader int
	// Pgid is the process group of every stage, equal to the first stage's pid.
	Pgid    int
	Pids    []int
	Started time.Time

	reaped map[int]unix.WaitStatus
}

// NewBase creates the bookkeeping for a job made of pids. The last pid is the leader.
func NewBase(command string, pgid int, pids []int) Base {
	return Base{
		ID:      id.NewJobID(),
		Command: command,
		Leader:  pids[len(pids)-1],
		Pgid:    pgid,
		Pids:    pids,
		Started: time.Now(),
		reaped:  make(map[int]unix.WaitStatus, len(pids)),
	}
}

// Meta returns the shared bookkeeping.
func (b *Base) Meta() *Base { return b }

// Info returns the job summary.
func (b *Base) Info(kind Kind) Info {
	return Info{ID: b.ID, Pid: b.Leader, Pgid: b.Pgid, Command: b.Command, Kind: kind, Started: b.Started}
}

// Reap collects every stage that has exited without blocking. It reports
// whether the leader has been reaped.
func (b *Base) Reap() bool {
	for _, pid := range b.Pids {
		if _, done := b.reaped[pid]; done {
			continue
		}
		var ws unix.WaitStatus
		got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		switch {
		case err == unix.ECHILD:
			b.reaped[pid] = 0
		case err == nil && got == pid:
			b.reaped[pid] = ws
		}
	}
	return b.Exited()
}

// Exited reports whether the leader has been reaped.
func (b *Base) Exited() bool {
	_, ok := b.reaped[b.Leader]
	return ok
}

// ExitCode returns the leader's exit status, 128+signal for a signalled
// leader, or -1 while it is still running.
func (b *Base) ExitCode() int {
	ws, ok := b.reaped[b.Leader]
	if !ok {
		return -1
	}
	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ws.ExitStatus()
}

// Unreaped returns the stage pids that have not been collected yet.
func (b *Base) Unreaped() []int {
	var pids []int
	for _, pid := range b.Pids {
		if _, ok := b.reaped[pid]; !ok {
			pids = append(pids, pid)
		}
	}
	return pids
}

// Signal delivers sig to the whole process group.
func (b *Base) Signal(sig unix.Signal) error {
	return unix.Kill(-b.Pgid, sig)
}

// Stream is one readable output channel of a job.
type Stream struct {
	Name string
	FD   *fd.Owned
	pty  bool
}

// NewStream wraps a non-blocking read descriptor.
func NewStream(name string, o *fd.Owned) *Stream {
	return &Stream{Name: name, FD: o}
}

// NewPtyStream wraps a PTY master. EIO on a master means every slave is gone.
func NewPtyStream(o *fd.Owned) *Stream {
	return &Stream{Name: "pty", FD: o, pty: true}
}

// Open reports whether the stream still has a descriptor.
func (s *Stream) Open() bool {
	return s != nil && s.FD.Valid()
}

// Read reads available bytes. It returns io.EOF at end of stream and
// unix.EAGAIN when nothing is ready.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.FD.Read(p)
	switch {
	case err == nil && n == 0:
		return 0, io.EOF
	case s.pty && errors.Is(err, unix.EIO):
		return 0, io.EOF
	}
	return n, err
}

// Close closes the stream descriptor.
func (s *Stream) Close() error {
	if s == nil {
		return nil
	}
	return s.FD.Close()
}

// Piped is a job whose stages talk to the session through pipes.
type Piped struct {
	Base
	Stdout *Stream
	Stderr *Stream
	// Stdin is the write end of the first stage's stdin, nil once closed or
	// when the first stage reads from a file.
	Stdin *fd.Owned
}

func (*Piped) sealed() {}

// Kind implements Job.
func (*Piped) Kind() Kind { return KindPiped }

// Streams implements Job.
func (p *Piped) Streams() []*Stream {
	var out []*Stream
	for _, s := range []*Stream{p.Stdout, p.Stderr} {
		if s.Open() {
			out = append(out, s)
		}
	}
	return out
}

// Input implements Job.
func (p *Piped) Input() *fd.Owned {
	if !p.Stdin.Valid() {
		return nil
	}
	return p.Stdin
}

// CloseInput implements Job.
func (p *Piped) CloseInput() error {
	return p.Stdin.Close()
}

// Close implements Job.
func (p *Piped) Close() error {
	return errors.Join(p.Stdout.Close(), p.Stderr.Close(), p.Stdin.Close())
}

// PtyBacked is a job attached to a pseudo-terminal. The master is the only
// descriptor: reads return the child's output, writes feed its input.
type PtyBacked struct {
	Base
	Master *Stream
}

func (*PtyBacked) sealed() {}

// Kind implements Job.
func (*PtyBacked) Kind() Kind { return KindPty }

// Streams implements Job.
func (p *PtyBacked) Streams() []*Stream {
	if !p.Master.Open() {
		return nil
	}
	return []*Stream{p.Master}
}

// Input implements Job.
func (p *PtyBacked) Input() *fd.Owned {
	if !p.Master.Open() {
		return nil
	}
	return p.Master.FD
}

// CloseInput writes the terminal's end-of-file character.
func (p *PtyBacked) CloseInput() error {
	if !p.Master.Open() {
		return fd.ErrClosed
	}
	_, err := p.Master.FD.Write([]byte{0x04})
	return err
}

// Close implements Job.
func (p *PtyBacked) Close() error {
	return p.Master.Close()
}

// Done reports whether a job can be discarded: its leader is reaped and no
// stream is left open.
func Done(j Job) bool {
	return j.Meta().Exited() && len(j.Streams()) == 0
}

// Describe returns the summary of any job variant.
func Describe(j Job) Info {
	return j.Meta().Info(j.Kind())
}
