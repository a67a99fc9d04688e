package terminal

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/termcore/internal/shell/session"
)

// DefaultBufferSize is the amount of undelivered output kept per session.
const DefaultBufferSize = 1024 * 1024

// EventKind distinguishes output events.
type EventKind string

const (
	EventOutput EventKind = "output"
	EventClear  EventKind = "clear"
)

// Event is one change to a session's output.
type Event struct {
	Kind EventKind `json:"type"`
	Text string    `json:"data,omitempty"`
}

// Buffer is the output sink of one session. It keeps a bounded backlog for
// polling readers and fans every event out to live subscribers.
type Buffer struct {
	mu   sync.Mutex
	data []byte
	size int
	head int
	tail int

	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewBuffer creates a buffer that keeps up to size-1 bytes of backlog.
func NewBuffer(size int) *Buffer {
	if size < 2 {
		size = 2
	}
	return &Buffer{
		data: make([]byte, size),
		size: size,
		subs: make(map[int]chan Event),
	}
}

// AppendOutput implements session.Sink.
func (b *Buffer) AppendOutput(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i < len(text); i++ {
		b.data[b.tail] = text[i]
		b.tail = (b.tail + 1) % b.size
		// Full: drop the oldest byte.
		if b.tail == b.head {
			b.head = (b.head + 1) % b.size
		}
	}
	b.publish(Event{Kind: EventOutput, Text: text})
}

// ClearOutput implements session.Sink.
func (b *Buffer) ClearOutput() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = b.tail
	b.publish(Event{Kind: EventClear})
}

// publish must be called with mu held. A subscriber that cannot keep up
// loses events rather than stalling the session.
func (b *Buffer) publish(ev Event) {
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ReadAll returns the backlog and empties it.
func (b *Buffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.head == b.tail {
		return []byte{}
	}
	var out []byte
	if b.tail > b.head {
		out = append(out, b.data[b.head:b.tail]...)
	} else {
		out = append(out, b.data[b.head:]...)
		out = append(out, b.data[:b.tail]...)
	}
	b.head = b.tail
	return out
}

// Len returns the backlog size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (b.tail - b.head + b.size) % b.size
}

// Subscribe registers a live reader. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Buffer) Subscribe(depth int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, depth)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Close ends every subscription.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// SessionInfo is the public representation of a session.
type SessionInfo struct {
	ID         string    `json:"id"`
	WorkingDir string    `json:"working_dir"`
	Prompt     string    `json:"prompt"`
	StartedAt  time.Time `json:"started_at"`
	Busy       bool      `json:"busy"`
	Background int       `json:"background_jobs"`
	Continuing bool      `json:"continuing"`
}

var _ session.Sink = (*Buffer)(nil)
