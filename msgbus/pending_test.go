package msgbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingReplyAckRunsCommitFirst(t *testing.T) {
	table := NewPendingReplyTable()
	committed := false
	reply := table.Register("1", func() { committed = true })

	require.True(t, table.Resolve(Inbound{ReplyID: "1", Type: FrameAck}))
	require.True(t, committed)
	require.NoError(t, reply.Wait(context.Background()))
	assert.Equal(t, 0, table.Len())
}

func TestPendingReplyFailureCarriesServerMessage(t *testing.T) {
	table := NewPendingReplyTable()
	committed := false
	reply := table.Register("1", func() { committed = true })

	frame, err := decodeInbound([]byte(`{"replyId":"1","type":"error","payload":{"message":"denied"}}`))
	require.NoError(t, err)
	require.True(t, table.Resolve(frame))

	assert.False(t, committed)
	err = reply.Wait(context.Background())
	var busErr *Error
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, ServerError, busErr.Code)
	assert.Equal(t, "error", busErr.Kind)
	assert.Equal(t, "denied", busErr.Message)
}

func TestPendingReplyDuplicateAndUnknownIgnored(t *testing.T) {
	table := NewPendingReplyTable()
	calls := 0
	table.Register("1", func() { calls++ })

	assert.False(t, table.Resolve(Inbound{ReplyID: "2", Type: FrameAck}))
	assert.True(t, table.Resolve(Inbound{ReplyID: "1", Type: FrameAck}))
	assert.False(t, table.Resolve(Inbound{ReplyID: "1", Type: FrameAck}))
	assert.Equal(t, 1, calls)
}

func TestPendingReplyFailSentKeepsQueued(t *testing.T) {
	table := NewPendingReplyTable()
	sent := table.Register("sent", nil)
	queued := table.Register("queued", nil)
	table.MarkSent("sent")
	table.MarkSent("missing")

	assert.Equal(t, 1, table.FailSent(ErrConnectionLost))
	assert.ErrorIs(t, sent.Wait(context.Background()), ErrConnectionLost)
	assert.Nil(t, queued.Err())
	assert.Equal(t, 1, table.Len())

	assert.Equal(t, 1, table.FailAll(ErrConnectionClosed))
	assert.ErrorIs(t, queued.Wait(context.Background()), ErrConnectionClosed)
	assert.Equal(t, 0, table.Len())
}

func TestReplyCompletesOnce(t *testing.T) {
	reply := newReply()
	reply.complete(ErrConnectionLost)
	reply.complete(nil)
	assert.ErrorIs(t, reply.Err(), ErrConnectionLost)

}

func TestReplyWaitHonoursContext(t *testing.T) {
	reply := newReply()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, reply.Wait(ctx), context.DeadlineExceeded)
	assert.Nil(t, reply.Err())
}

// Register creates a waiter for id. onAck may be nil.
func (table *PendingReplyTable) Register(id string, onAck func()) *Reply {
	reply := newReply()
	table.attach(id, reply, onAck)
	return reply
}

func TestReplyWaitPrefersCompletedOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for attempt := 0; attempt < 100; attempt++ {
		acked := newReply()
		acked.complete(nil)
		require.NoError(t, acked.Wait(ctx))

		rejected := newReply()
		rejected.complete(ErrNotSubscribed)
		require.ErrorIs(t, rejected.Wait(ctx), ErrNotSubscribed)
	}
}
