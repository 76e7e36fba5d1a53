package msgbus

import (
	"context"
	"sync"
)

// Reply is the deferred result of a control request. It completes exactly
// once, with a nil error on acknowledgement.
type Reply struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReply() *Reply {
	return &Reply{done: make(chan struct{})}
}

func (reply *Reply) complete(err error) {
	reply.once.Do(func() {
		reply.err = err
		close(reply.done)
	})
}

// Done is closed when the reply completes.
func (reply *Reply) Done() <-chan struct{} { return reply.done }

// Err returns the outcome. It is nil until Done is closed.
func (reply *Reply) Err() error {
	select {
	case <-reply.done:
		return reply.err
	default:
		return nil
	}
}

// Wait blocks until the reply completes or ctx is done. A completed reply
// reports its outcome even when ctx is already done.
func (reply *Reply) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-reply.done:
		return reply.err
	default:
	}
	select {
	case <-reply.done:
		return reply.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type pendingReply struct {
	reply *Reply
	// onAck runs on the loop before the reply completes successfully.
	onAck func()
	// sent is set once the request frame has been written to a transport.
	sent bool
}

// PendingReplyTable correlates outbound request ids with their waiters.
type PendingReplyTable struct {
	entries map[string]*pendingReply
}

// NewPendingReplyTable returns an empty table.
func NewPendingReplyTable() *PendingReplyTable {
	return &PendingReplyTable{entries: make(map[string]*pendingReply)}
}

func (table *PendingReplyTable) attach(id string, reply *Reply, onAck func()) {
	table.entries[id] = &pendingReply{reply: reply, onAck: onAck}
}

// MarkSent records that the request id reached the wire.
func (table *PendingReplyTable) MarkSent(id string) {
	if entry, exists := table.entries[id]; exists {
		entry.sent = true
	}
}

// Resolve completes the waiter for frame.ReplyID. An "ack" succeeds, any
// other type fails with the payload message. It reports false for unknown ids,
// which covers duplicate replies.
func (table *PendingReplyTable) Resolve(frame Inbound) bool {
	entry, exists := table.entries[frame.ReplyID]
	if !exists {
		return false
	}
	delete(table.entries, frame.ReplyID)

	if frame.Type == FrameAck {
		if entry.onAck != nil {
			entry.onAck()
		}
		entry.reply.complete(nil)
		return true
	}
	entry.reply.complete(serverError(frame.Type, frame.failureMessage()))
	return true
}

// FailSent rejects every waiter whose request was written to a transport and
// returns how many were rejected. Requests still queued are kept.
func (table *PendingReplyTable) FailSent(err error) int {
	failed := 0
	for id, entry := range table.entries {
		if !entry.sent {
			continue
		}
		delete(table.entries, id)
		entry.reply.complete(err)
		failed++
	}
	return failed
}

// FailAll rejects every waiter and returns how many were rejected.
func (table *PendingReplyTable) FailAll(err error) int {
	failed := len(table.entries)
	for id, entry := range table.entries {
		delete(table.entries, id)
		entry.reply.complete(err)
	}
	return failed
}

// Len returns the number of outstanding waiters.
func (table *PendingReplyTable) Len() int { return len(table.entries) }
