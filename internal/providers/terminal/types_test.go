package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferReadAll(t *testing.T) {
	b := NewBuffer(16)
	assert.Empty(t, b.ReadAll())

	b.AppendOutput("hello ")
	b.AppendOutput("world")
	assert.Equal(t, 11, b.Len())
	assert.Equal(t, "hello world", string(b.ReadAll()))
	assert.Empty(t, b.ReadAll(), "reading drains the backlog")
}

func TestBufferDropsOldest(t *testing.T) {
	b := NewBuffer(8)
	b.AppendOutput("abcdefghij")
	assert.Equal(t, "defghij", string(b.ReadAll()))

	b.AppendOutput("xyz")
	assert.Equal(t, "xyz", string(b.ReadAll()), "wrapped writes read back in order")
}

func TestBufferClear(t *testing.T) {
	b := NewBuffer(32)
	b.AppendOutput("stale")
	b.ClearOutput()
	b.AppendOutput("fresh")
	assert.Equal(t, "fresh", string(b.ReadAll()))
}

func TestBufferSubscribe(t *testing.T) {
	b := NewBuffer(32)
	ch, cancel := b.Subscribe(4)

	b.AppendOutput("a")
	b.ClearOutput()
	assert.Equal(t, Event{Kind: EventOutput, Text: "a"}, <-ch)
	assert.Equal(t, Event{Kind: EventClear}, <-ch)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	b.AppendOutput("after cancel")
}

func TestBufferSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBuffer(64)
	ch, cancel := b.Subscribe(1)
	defer cancel()

	for range 10 {
		b.AppendOutput("x")
	}
	assert.Len(t, ch, 1)
	assert.Equal(t, 10, b.Len())
}

func TestBufferClose(t *testing.T) {
	b := NewBuffer(32)
	ch, cancel := b.Subscribe(1)
	b.Close()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	late, _ := b.Subscribe(1)
	_, ok = <-late
	require.False(t, ok, "subscribing to a closed buffer yields a closed channel")
}
