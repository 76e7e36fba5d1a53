package msgbus

import (
	"github.com/eapache/queue"
)

// OutboundEntry is a serialized frame awaiting an open transport. ID is the
// correlation id of the frame so the pending reply table can tell whether the
// request has reached the wire.
type OutboundEntry struct {
	ID   string
	Type string
	Data []byte
}

// OutboundQueue buffers serialized frames while the bus is not connected.
// Entries are drained strictly in FIFO order.
type OutboundQueue struct {
	entries *queue.Queue
}

// NewOutboundQueue returns an empty queue.
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{entries: queue.New()}
}

// Push appends an entry.
func (outbound *OutboundQueue) Push(entry OutboundEntry) {
	outbound.entries.Add(entry)
}

// Len returns the number of queued entries.
func (outbound *OutboundQueue) Len() int {
	return outbound.entries.Length()
}

// Drain writes entries in order through write, removing each entry only after
// write succeeds. It stops at the first failure and returns it; the failed
// entry stays at the head of the queue.
func (outbound *OutboundQueue) Drain(write func(OutboundEntry) error) error {
	for outbound.entries.Length() > 0 {
		entry := outbound.entries.Peek().(OutboundEntry)
		if err := write(entry); err != nil {
			return err
		}
		outbound.entries.Remove()
	}
	return nil
}
