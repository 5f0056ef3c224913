package ingestor

import "time"

// backoff implements the bounded exponential sequences spec.md §4.3
// specifies for the bootstrap fetch (1s,2s,4s, capped before opening
// the stream) and the stream reconnect (1s,2s,4s,8s,16s, capped at 60s).
type backoff struct {
	steps []time.Duration
	cap   time.Duration
	idx   int
}

func newBootstrapBackoff() *backoff {
	return &backoff{steps: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}}
}

func newReconnectBackoff() *backoff {
	return &backoff{
		steps: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second},
		cap:   60 * time.Second,
	}
}

// Next returns the delay for the current attempt and advances.
func (b *backoff) Next() time.Duration {
	var d time.Duration
	if b.idx < len(b.steps) {
		d = b.steps[b.idx]
		b.idx++
	} else if b.cap > 0 {
		d = b.cap
	} else {
		d = b.steps[len(b.steps)-1]
	}
	return d
}

// Reset zeroes the attempt counter — "Reset backoff to 0 on receipt of
// the next message" (spec.md §4.3).
func (b *backoff) Reset() {
	b.idx = 0
}
