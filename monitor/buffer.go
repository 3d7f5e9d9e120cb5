package monitor

import (
	"sync"
	"time"
)

// SentinelRTT is recorded in place of a round trip time when a probe
// goes unanswered. Charts and logs show a visible ceiling spike where
// a gap would hide the loss.
const SentinelRTT = 1000 * time.Millisecond

// Sample stores the information about a single probe of one endpoint:
// the round-trip time, or the sentinel when the packet was lost.
type Sample struct {
	Tick int64 // index of the sampling tick this probe belongs to
	RTT  time.Duration
	Lost bool
}

// Buffer keeps the most recent samples for a single endpoint in tick
// order, evicting the oldest once full.
type Buffer struct {
	samples  []Sample
	count    int
	position int
	sync.RWMutex
}

// NewBuffer creates a Buffer with a specific capacity.
func NewBuffer(capacity int) Buffer {
	return Buffer{
		samples: make([]Sample, capacity),
	}
}

// Add saves a sample into the buffer.
func (b *Buffer) Add(s Sample) {
	b.Lock()

	b.samples[b.position] = s
	b.position = (b.position + 1) % cap(b.samples)

	if b.count < cap(b.samples) {
		b.count++
	}

	b.Unlock()
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	b.RLock()
	defer b.RUnlock()

	return b.count
}

// Window returns a copy of the stored samples, oldest first.
func (b *Buffer) Window() []Sample {
	b.RLock()
	defer b.RUnlock()

	out := make([]Sample, b.count)
	if b.count < cap(b.samples) {
		copy(out, b.samples[:b.count])
		return out
	}

	n := copy(out, b.samples[b.position:])
	copy(out[n:], b.samples[:b.position])
	return out
}

// Latest returns the most recent sample.
func (b *Buffer) Latest() (Sample, bool) {
	b.RLock()
	defer b.RUnlock()

	if b.count == 0 {
		return Sample{}, false
	}
	return b.samples[b.prev(0)], true
}

// LatestMeasured returns the most recent sample that was actually
// answered. The sentinel would poison downstream latency estimates, so
// consumers interested in real measurements skip lost samples.
func (b *Buffer) LatestMeasured() (Sample, bool) {
	b.RLock()
	defer b.RUnlock()

	for i := 0; i < b.count; i++ {
		if s := b.samples[b.prev(i)]; !s.Lost {
			return s, true
		}
	}
	return Sample{}, false
}

// prev translates "i samples back from the newest" into a ring index.
// Callers hold the lock.
func (b *Buffer) prev(i int) int {
	return (b.position - 1 - i + cap(b.samples)) % cap(b.samples)
}

// Reset discards the history. Used when the endpoint behind this
// buffer changes its address and old samples stop being comparable.
func (b *Buffer) Reset() {
	b.Lock()
	b.count = 0
	b.position = 0
	b.Unlock()
}
