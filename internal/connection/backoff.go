package connection

import (
	"math/rand"
	"time"
)

// Default reconnect delays.
const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 8 * time.Second
)

// Backoff produces doubling delays capped at a maximum.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration

	// Jitter spreads each delay by up to ±Jitter of its value (0.2 is ±20%).
	// Zero disables it.
	Jitter float64
}

// NewBackoff creates a new backoff with the given initial and max durations.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if max < initial {
		max = initial
	}
	return &Backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	if b.Jitter > 0 {
		j := float64(d) * b.Jitter * (rand.Float64()*2 - 1)
		d = time.Duration(float64(d) + j)
	}

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Reset resets the backoff to the initial duration.
func (b *Backoff) Reset() {
	b.current = b.initial
}

// Current returns the delay Next would return, without jitter.
func (b *Backoff) Current() time.Duration {
	return b.current
}
