package testutil

import (
	"fmt"
	"sync"
)

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// IDSequence issues correlation ids "<prefix>1", "<prefix>2", ... and
// remembers them so tests can reply to a specific request.
type IDSequence struct {
	Prefix  string
	counter Counter
	lock    sync.Mutex
	issued  []string
}

// Next returns the next id in the sequence.
func (sequence *IDSequence) Next() string {
	id := fmt.Sprintf("%s%d", sequence.Prefix, sequence.counter.Next())
	sequence.lock.Lock()
	sequence.issued = append(sequence.issued, id)
	sequence.lock.Unlock()
	return id
}

// Issued returns every id handed out so far.
func (sequence *IDSequence) Issued() []string {
	sequence.lock.Lock()
	defer sequence.lock.Unlock()
	return append([]string(nil), sequence.issued...)
}

// Last returns the most recently issued id, or "" when none was issued.
func (sequence *IDSequence) Last() string {
	sequence.lock.Lock()
	defer sequence.lock.Unlock()
	if len(sequence.issued) == 0 {
		return ""
	}
	return sequence.issued[len(sequence.issued)-1]
}
