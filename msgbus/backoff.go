package msgbus

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

var _ backoff.BackOff = (*ReconnectBackOff)(nil)

// ReconnectBackOff is the reconnect delay policy: a deterministic exponential
// backoff that starts over at Initial instead of holding at Max. Each call to
// NextBackOff returns the current delay and scales it by Factor for the next
// attempt. When the scaled delay would exceed Max the next delay resets to
// Initial, so the sequence for 1s/2/60s is 1s, 2s, 4s, 8s, 16s, 32s, 1s, 2s, ...
// Successful connections do not reset the delay.
//
// ReconnectBackOff is not safe for concurrent use; the bus only touches it
// from its event loop.
type ReconnectBackOff struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration

	exponential *backoff.ExponentialBackOff
}

// NewReconnectBackOff returns a policy starting at initial.
func NewReconnectBackOff(initial time.Duration, factor float64, max time.Duration) *ReconnectBackOff {
	if initial <= 0 {
		initial = DefaultInitialReconnectTimeout
	}
	if factor < 1 {
		factor = DefaultReconnectTimeoutFactor
	}
	if max <= 0 {
		max = DefaultMaxReconnectTimeout
	}
	if initial > max {
		max = initial
	}

	exponential := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          factor,
		MaxInterval:         max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exponential.Reset()
	return &ReconnectBackOff{Initial: initial, Factor: factor, Max: max, exponential: exponential}
}

// NextBackOff returns the delay to wait before the next attempt. It never
// returns backoff.Stop: the bus retries until closed.
func (policy *ReconnectBackOff) NextBackOff() time.Duration {
	delay := policy.exponential.NextBackOff()
	// ExponentialBackOff holds at MaxInterval once the product overshoots it.
	if float64(delay)*policy.Factor > float64(policy.Max) {
		policy.exponential.Reset()
	}
	return delay
}

// Reset restores the initial delay.
func (policy *ReconnectBackOff) Reset() {
	policy.exponential.Reset()
}

// Current returns the delay the next NextBackOff call will return.
func (policy *ReconnectBackOff) Current() time.Duration {
	peek := *policy.exponential
	return peek.NextBackOff()
}
