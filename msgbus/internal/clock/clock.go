// Package clock abstracts wall time and one-shot timers so the bus state
// machine can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// Clock provides the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(delay time.Duration, fn func()) Timer
}

type realClock struct{}

// Real returns a Clock backed by package time.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(delay time.Duration, fn func()) Timer {
	return time.AfterFunc(delay, fn)
}

// Fake is a manually advanced Clock. Timers fire synchronously from Advance,
// in deadline order, on the goroutine calling Advance.
type Fake struct {
	lock      sync.Mutex
	now       time.Time
	seq       uint64
	timers    []*fakeTimer
	requested []time.Duration
}

type fakeTimer struct {
	owner    *Fake
	deadline time.Time
	seq      uint64
	fn       func()
	stopped  bool
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (fake *Fake) Now() time.Time {
	fake.lock.Lock()
	defer fake.lock.Unlock()
	return fake.now
}

// AfterFunc schedules fn to run once the fake time reaches now+delay.
func (fake *Fake) AfterFunc(delay time.Duration, fn func()) Timer {
	fake.lock.Lock()
	defer fake.lock.Unlock()
	fake.seq++
	timer := &fakeTimer{owner: fake, deadline: fake.now.Add(delay), seq: fake.seq, fn: fn}
	fake.timers = append(fake.timers, timer)
	fake.requested = append(fake.requested, delay)
	return timer
}

// Requested returns every delay passed to AfterFunc, in call order.
func (fake *Fake) Requested() []time.Duration {
	fake.lock.Lock()
	defer fake.lock.Unlock()
	return append([]time.Duration(nil), fake.requested...)
}

// Active returns the number of timers that have neither fired nor been stopped.
func (fake *Fake) Active() int {
	fake.lock.Lock()
	defer fake.lock.Unlock()
	return len(fake.timers)
}

// Advance moves the clock forward by delta, firing every timer whose deadline
// falls within the window. Timers scheduled by fired callbacks are honoured if
// they also fall within the window.
func (fake *Fake) Advance(delta time.Duration) {
	fake.lock.Lock()
	target := fake.now.Add(delta)
	fake.lock.Unlock()

	for {
		fake.lock.Lock()
		sort.Slice(fake.timers, func(i, j int) bool {
			if fake.timers[i].deadline.Equal(fake.timers[j].deadline) {
				return fake.timers[i].seq < fake.timers[j].seq
			}
			return fake.timers[i].deadline.Before(fake.timers[j].deadline)
		})
		if len(fake.timers) == 0 || fake.timers[0].deadline.After(target) {
			fake.now = target
			fake.lock.Unlock()
			return
		}
		next := fake.timers[0]
		fake.timers = fake.timers[1:]
		if next.deadline.After(fake.now) {
			fake.now = next.deadline
		}
		fake.lock.Unlock()

		next.fn()
	}
}

func (timer *fakeTimer) Stop() bool {
	fake := timer.owner
	fake.lock.Lock()
	defer fake.lock.Unlock()
	if timer.stopped {
		return false
	}
	timer.stopped = true
	for index, candidate := range fake.timers {
		if candidate == timer {
			fake.timers = append(fake.timers[:index], fake.timers[index+1:]...)
			return true
		}
	}
	return false
}
