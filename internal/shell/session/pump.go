package session

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/termcore/internal/shell/job"
)

// maxReadsPerStream bounds the reads of one stream in one tick so a chatty
// job cannot starve the others.
const maxReadsPerStream = 16

// Tick drains every live job stream without blocking, reaps finished
// processes and advances the queue when the foreground job ends. It is
// called once per event-loop iteration.
func (s *Session) Tick() {
	if s.closed {
		return
	}

	if fg := s.foreground; fg != nil {
		s.drain(fg)
		if fg.Meta().Reap() {
			// Pick up what the job wrote right before it exited.
			s.drain(fg)
			s.foreground = nil
			if job.Done(fg) {
				s.retire(fg)
			} else {
				s.background = append(s.background, fg)
			}
			s.logger.Debug("foreground job finished",
				zap.String("command", fg.Meta().Command),
				zap.Int("code", fg.Meta().ExitCode()),
			)
			s.separate()
			s.runNext()
		}
	}

	kept := s.background[:0]
	for _, j := range s.background {
		s.drain(j)
		j.Meta().Reap()
		if job.Done(j) {
			s.retire(j)
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(s.background); i++ {
		s.background[i] = nil
	}
	s.background = kept

	s.reapOrphans()
}

// drain reads what is available on each open stream of j.
func (s *Session) drain(j job.Job) {
	for _, st := range j.Streams() {
		san := s.sanitizer(st)
		for range maxReadsPerStream {
			n, err := st.Read(s.buf)
			if n > 0 {
				s.metrics.AddBytesPumped(st.Name, n)
				san.Write(s.buf[:n], s.sink)
			}
			if err == nil {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("stream read failed",
					zap.String("stream", st.Name),
					zap.String("command", j.Meta().Command),
					zap.Error(err),
				)
			}
			st.Close()
			delete(s.sanitizers, st)
			break
		}
	}
}

func (s *Session) sanitizer(st *job.Stream) *Sanitizer {
	san, ok := s.sanitizers[st]
	if !ok {
		san = &Sanitizer{}
		s.sanitizers[st] = san
	}
	return san
}

func (s *Session) resetSanitizers() {
	for _, san := range s.sanitizers {
		*san = Sanitizer{}
	}
}

// retire releases a finished job. Stages that are still running are kept
// as orphans and collected on later ticks.
func (s *Session) retire(j job.Job) {
	b := j.Meta()
	s.metrics.RecordReap(b.ExitCode())
	for _, st := range j.Streams() {
		delete(s.sanitizers, st)
	}
	if err := j.Close(); err != nil {
		s.logger.Debug("closing job descriptors", zap.Error(err))
	}
	s.orphans = append(s.orphans, b.Unreaped()...)
	if s.watch != nil && s.watch.job == j {
		s.watch = nil
	}
}

func (s *Session) reapOrphans() {
	kept := s.orphans[:0]
	for _, pid := range s.orphans {
		var ws unix.WaitStatus
		got, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err == nil && got == 0 {
			kept = append(kept, pid)
		}
	}
	s.orphans = kept
}

// PollFDs returns the descriptors the host loop should watch for
// readability on behalf of this session.
func (s *Session) PollFDs() []int {
	var fds []int
	add := func(j job.Job) {
		for _, st := range j.Streams() {
			fds = append(fds, st.FD.Fd())
		}
	}
	if s.foreground != nil {
		add(s.foreground)
	}
	for _, j := range s.background {
		add(j)
	}
	return fds
}

// Active reports whether the session has anything for Tick to do.
func (s *Session) Active() bool {
	return s.foreground != nil || len(s.background) > 0 || len(s.orphans) > 0
}

// Await blocks until a job stream is readable or timeout elapses. Callers
// still Tick on timeout so silent jobs are reaped.
func (s *Session) Await(timeout time.Duration) error {
	fds := s.PollFDs()
	if len(fds) == 0 {
		if s.Active() {
			time.Sleep(timeout)
		}
		return nil
	}
	pfds := make([]unix.PollFd, len(fds))
	for i, n := range fds {
		pfds[i] = unix.PollFd{Fd: int32(n), Events: unix.POLLIN}
	}
	_, err := unix.Poll(pfds, int(timeout/time.Millisecond))
	if err == unix.EINTR {
		return nil
	}
	return err
}
