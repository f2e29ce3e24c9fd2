// Package history keeps the most recent speedtest samples in a fixed-size ring.
package history

import (
	"iter"

	"speedhook/pkg/speedtest"
)

// DefaultLength is the number of samples kept when no length is configured.
const DefaultLength = 5

// Buffer is a fixed-capacity ring of samples in chronological order.
//
// It is not safe for concurrent use; the monitor loop is its only user.
type Buffer struct {
	buf  []speedtest.Sample
	next int // slot the next Record writes to
	n    int
}

// New creates a buffer holding at most capacity samples (minimum 1).
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{buf: make([]speedtest.Sample, capacity)}
}

// Record appends s, evicting the oldest sample when the buffer is full.
func (b *Buffer) Record(s speedtest.Sample) {
	b.buf[b.next] = s
	b.next = (b.next + 1) % len(b.buf)
	if b.n < len(b.buf) {
		b.n++
	}
}

// Snapshot yields the retained samples newest first.
//
// The sequence reads the buffer lazily, so iterating again after Record sees
// the updated contents.
func (b *Buffer) Snapshot() iter.Seq[speedtest.Sample] {
	return func(yield func(speedtest.Sample) bool) {
		for i := 1; i <= b.n; i++ {
			idx := (b.next - i + len(b.buf)) % len(b.buf)
			if !yield(b.buf[idx]) {
				return
			}
		}
	}
}

func (b *Buffer) Len() int { return b.n }
func (b *Buffer) Cap() int { return len(b.buf) }
