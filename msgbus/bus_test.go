package msgbus

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thejuampi/msgbus-client-go/msgbus/transport"
)

func TestNewConstructionErrors(t *testing.T) {
	_, err := New("", DefaultConfig())
	require.ErrorIs(t, err, ErrMissingEndpoint)

	cfg := DefaultConfig()
	cfg.RequireToken = true
	_, err = New(testEndpoint, cfg)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestNewAppendsTokenToEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Token = "abc"
	h := newHarness(t, cfg)

	assert.Equal(t, "wss://example/bus?token=abc", h.network.last().url)

	h.open()
	h.reconnect()
	assert.Equal(t, "wss://example/bus?token=abc", h.network.last().url, "token must be appended once")
}

func TestSubscribeAckCommitsSubscription(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	received := make(chan string, 1)
	reply := h.bus.SubscribeAsync("orders", map[string]string{"status": "open"}, func(payload Payload) {
		received <- payload.String()
	})
	h.settle()

	frames := h.network.last().frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "id-1", frames[0].ID)
	assert.Equal(t, FrameSubscribe, frames[0].Type)
	assert.Equal(t, "orders", frames[0].Channel)
	assert.Equal(t, map[string]interface{}{"status": "open"}, frames[0].Filter)
	requirePending(t, reply)
	assert.Empty(t, h.bus.Subscriptions())

	h.ack("id-1")
	require.NoError(t, requireDone(t, reply))
	assert.Equal(t, []string{"orders"}, h.bus.Subscriptions())

	h.receive(`{"type":"event","channel":"orders","payload":{"order_id":"42"}}`)
	select {
	case payload := <-received:
		assert.JSONEq(t, `{"order_id":"42"}`, payload)
	default:
		t.Fatalf("event was not delivered")
	}
}

func TestSubscribeOmitsNilFilter(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	var typedNil *struct{ Field string }
	h.bus.SubscribeAsync("a", nil, nil)
	h.bus.SubscribeAsync("b", typedNil, nil)
	h.settle()

	for _, data := range h.network.last().raw() {
		assert.NotContains(t, string(data), "filter")
	}
}

func TestSubscribeRejectedLeavesRegistryUnchanged(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	reply := h.bus.SubscribeAsync("secret", nil, func(Payload) {})
	h.settle()
	h.reject("id-1", "not entitled")

	err := requireDone(t, reply)
	require.Error(t, err)
	assert.ErrorIs(t, err, NewError(ServerError))
	var busErr *Error
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, "error", busErr.Kind)
	assert.Equal(t, "not entitled", busErr.Message)
	assert.Empty(t, h.bus.Subscriptions())
}

func TestDuplicateSubscribeRejectedWithoutFrame(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	first := h.bus.SubscribeAsync("orders", nil, func(Payload) {})
	h.settle()
	h.ack("id-1")
	require.NoError(t, requireDone(t, first))

	second := h.bus.SubscribeAsync("orders", nil, func(Payload) {})
	assert.ErrorIs(t, requireDone(t, second), ErrAlreadySubscribed)
	h.settle()
	assert.Len(t, h.network.last().frames(t), 1)
}

func TestUnsubscribeUnknownChannelRejectedWithoutFrame(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	err := h.bus.Unsubscribe(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrNotSubscribed)
	assert.Empty(t, h.network.last().frames(t))
}

func TestUnsubscribeRemovesSubscriptionOnAck(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	delivered := 0
	h.bus.SubscribeAsync("orders", nil, func(Payload) { delivered++ })
	h.settle()
	h.ack("id-1")

	reply := h.bus.UnsubscribeAsync("orders")
	h.settle()
	frames := h.network.last().frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, Request{ID: "id-2", Type: FrameUnsubscribe, Channel: "orders"}, frames[1])

	h.receive(`{"type":"event","channel":"orders","payload":{}}`)
	assert.Equal(t, 1, delivered, "subscription stays active until acknowledged")

	h.ack("id-2")
	require.NoError(t, requireDone(t, reply))
	assert.Empty(t, h.bus.Subscriptions())

	h.receive(`{"type":"event","channel":"orders","payload":{}}`)
	assert.Equal(t, 1, delivered)
}

func TestFramesQueuedWhileDisconnectedFlushAfterReplay(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	h.bus.SubscribeAsync("a", map[string]int{"min": 1}, func(Payload) {})
	h.settle()
	h.ack("id-1")

	h.drop()
	require.Equal(t, StateReconnecting, h.bus.State())

	subscribeB := h.bus.SubscribeAsync("b", nil, func(Payload) {})
	unsubscribeA := h.bus.UnsubscribeAsync("a")
	h.settle()
	assert.Len(t, h.network.at(0).frames(t), 1, "nothing is written while disconnected")

	h.advance(time.Second)
	require.Equal(t, 2, h.network.count())
	assert.Empty(t, h.network.last().frames(t))

	h.open()
	frames := h.network.last().frames(t)
	require.Len(t, frames, 3)
	assert.Equal(t, Request{ID: "id-4", Type: FrameSubscribe, Channel: "a", Filter: map[string]interface{}{"min": float64(1)}}, frames[0])
	assert.Equal(t, Request{ID: "id-2", Type: FrameSubscribe, Channel: "b"}, frames[1])
	assert.Equal(t, Request{ID: "id-3", Type: FrameUnsubscribe, Channel: "a"}, frames[2])

	h.ack("id-2")
	h.ack("id-3")
	require.NoError(t, requireDone(t, subscribeB))
	require.NoError(t, requireDone(t, unsubscribeA))
	assert.Equal(t, []string{"b"}, h.bus.Subscriptions())
}

func TestReplayRepliesAreIgnored(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()
	h.bus.SubscribeAsync("a", nil, func(Payload) {})
	h.settle()
	h.ack("id-1")

	h.reconnect()
	replay := h.network.last().frames(t)
	require.Len(t, replay, 1)
	assert.Equal(t, "id-2", replay[0].ID)

	h.reject(replay[0].ID, "gone")
	assert.Equal(t, []string{"a"}, h.bus.Subscriptions())
	assert.Equal(t, StateConnected, h.bus.State())
}

func TestReconnectBackoffSchedule(t *testing.T) {
	h := newHarness(t, testConfig())

	expected := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, time.Second, 2 * time.Second,
	}
	for attempt, delay := range expected {
		transports := h.network.count()
		h.drop()
		require.Equal(t, StateReconnecting, h.bus.State())

		h.advance(delay - time.Millisecond)
		require.Equal(t, transports, h.network.count(), "attempt %d fired early", attempt)

		h.advance(time.Millisecond)
		require.Equal(t, transports+1, h.network.count(), "attempt %d did not fire after %v", attempt, delay)
		require.Equal(t, StateConnecting, h.bus.State())
	}

	var scheduled []time.Duration
	for _, requested := range h.clock.Requested() {
		if requested != time.Hour {
			scheduled = append(scheduled, requested)
		}
	}
	assert.Equal(t, expected, scheduled)
}

func TestCleanCloseWithoutReconnect(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	closed := 0
	h.bus.On(StateClosed, func() { closed++ })
	reply := h.bus.SubscribeAsync("a", nil, func(Payload) {})
	h.settle()

	h.network.last().listener.OnClose(true)
	require.ErrorIs(t, requireDone(t, reply), ErrConnectionClosed)
	<-h.bus.Done()

	assert.Equal(t, StateClosed, h.bus.State())
	assert.Equal(t, 1, closed)
	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.network.count())
}

func TestCloseCancelsScheduledReconnect(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()
	h.drop()
	require.Equal(t, StateReconnecting, h.bus.State())

	require.NoError(t, h.bus.Close())
	assert.Equal(t, StateClosed, h.bus.State())

	h.network.last().listener.OnClose(false)
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, 1, h.network.count())
	assert.Equal(t, 0, h.clock.Active(), "close must cancel reconnect and heartbeat timers")
	assert.True(t, h.network.last().isClosed())
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	closed := 0
	h.bus.On(StateClosed, func() { closed++ })

	require.NoError(t, h.bus.Close())
	require.NoError(t, h.bus.Close())
	assert.Equal(t, 1, closed)
}

func TestOperationsAfterCloseFail(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.bus.Close())

	assert.ErrorIs(t, h.bus.Subscribe(context.Background(), "a", nil, func(Payload) {}), ErrConnectionClosed)
	assert.ErrorIs(t, h.bus.Unsubscribe(context.Background(), "a"), ErrConnectionClosed)
}

func TestCloseRejectsOutstandingRequests(t *testing.T) {
	h := newHarness(t, testConfig())

	queued := h.bus.SubscribeAsync("a", nil, func(Payload) {})
	h.settle()
	requirePending(t, queued)

	require.NoError(t, h.bus.Close())
	assert.ErrorIs(t, requireDone(t, queued), ErrConnectionClosed)
}

func TestConnectionLostRejectsOnlyInFlightRequests(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	inFlight := h.bus.SubscribeAsync("a", nil, func(Payload) {})
	h.settle()
	h.drop()
	assert.ErrorIs(t, requireDone(t, inFlight), ErrConnectionLost)

	queued := h.bus.SubscribeAsync("b", nil, func(Payload) {})
	h.settle()
	requirePending(t, queued)

	h.advance(time.Second)
	h.open()
	frames := h.network.last().frames(t)
	require.Len(t, frames, 1)
	h.ack(frames[0].ID)
	require.NoError(t, requireDone(t, queued))
	assert.Equal(t, []string{"b"}, h.bus.Subscriptions())
}

func TestSendFailureRequeuesFrameAndReconnects(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()
	failing := h.network.last()
	failing.setFailSend(true)

	reply := h.bus.SubscribeAsync("a", nil, func(Payload) {})
	h.settle()
	assert.Empty(t, failing.frames(t))
	assert.True(t, failing.isClosed())
	assert.Equal(t, StateReconnecting, h.bus.State())
	requirePending(t, reply)

	// The abandoned transport reporting its close does not schedule a second reconnect.
	failing.listener.OnClose(false)
	h.advance(time.Second)
	require.Equal(t, 2, h.network.count())
	h.open()

	frames := h.network.last().frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "id-1", frames[0].ID)
	h.ack("id-1")
	require.NoError(t, requireDone(t, reply))
	assert.Equal(t, StateConnected, h.bus.State())
}

func TestFrameAfterSendFailureDoesNotOvertakeRequeuedFrame(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()
	failing := h.network.last()
	failing.setFailSend(true)

	first := h.bus.SubscribeAsync("a", nil, func(Payload) {})
	h.settle()
	failing.setFailSend(false)
	second := h.bus.SubscribeAsync("b", nil, func(Payload) {})
	h.settle()
	assert.Empty(t, failing.frames(t), "nothing reaches the failed transport")

	h.advance(time.Second)
	h.open()

	frames := h.network.last().frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].Channel)
	assert.Equal(t, "b", frames[1].Channel)
	assert.Zero(t, h.bus.outbound.Len())

	h.ack(frames[0].ID)
	h.ack(frames[1].ID)
	require.NoError(t, requireDone(t, first))
	require.NoError(t, requireDone(t, second))
	assert.Equal(t, []string{"a", "b"}, h.bus.Subscriptions())
}

func TestReplayFailureReconnectsAndKeepsQueue(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()
	subscribed := h.bus.SubscribeAsync("a", nil, func(Payload) {})
	h.settle()
	h.ack("id-1")
	require.NoError(t, requireDone(t, subscribed))

	h.drop()
	queued := h.bus.SubscribeAsync("b", nil, func(Payload) {})
	h.settle()
	h.advance(time.Second)
	h.network.last().setFailSend(true)
	h.open()

	assert.Equal(t, StateReconnecting, h.bus.State())
	assert.Equal(t, 1, h.bus.outbound.Len())
	requirePending(t, queued)

	h.advance(2 * time.Second)
	h.open()
	frames := h.network.last().frames(t)
	require.Len(t, frames, 2)
	assert.Equal(t, "a", frames[0].Channel, "replay goes first")
	assert.Equal(t, "b", frames[1].Channel)
}

func TestLifecycleHooks(t *testing.T) {
	h := newHarness(t, testConfig())
	var transitions []string
	for _, state := range []State{StateConnecting, StateConnected, StateReconnecting, StateClosed} {
		state := state
		h.bus.On(state, func() { transitions = append(transitions, state.String()) })
	}
	h.settle()

	h.open()
	h.reconnect()
	require.NoError(t, h.bus.Close())

	assert.Equal(t, []string{"connected", "reconnecting", "connecting", "connected", "closed"}, transitions)
}

func TestHookReplacedAndRemoved(t *testing.T) {
	h := newHarness(t, testConfig())
	first, second := 0, 0
	h.bus.On(StateConnected, func() { first++ })
	h.bus.On(StateConnected, func() { second++ })
	h.settle()

	h.open()
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	h.bus.On(StateConnected, nil)
	h.settle()
	h.reconnect()
	assert.Equal(t, 1, second)
}

func TestInboundProtocolErrorsAreDropped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	reply := h.bus.SubscribeAsync("a", nil, func(Payload) {})
	h.settle()

	h.receive(`not json`)
	h.receive(`{"replyId":"unknown","type":"ack"}`)
	h.receive(`{"type":"event","channel":"other","payload":{}}`)
	h.receive(`{"type":"ack"}`)
	requirePending(t, reply)
	assert.Equal(t, StateConnected, h.bus.State())

	h.ack("id-1")
	require.NoError(t, requireDone(t, reply))
	h.reject("id-1", "duplicate")
	assert.Equal(t, []string{"a"}, h.bus.Subscriptions())
}

func TestStaleTransportEventsIgnored(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()
	delivered := 0
	h.bus.SubscribeAsync("a", nil, func(Payload) { delivered++ })
	h.settle()
	h.ack("id-1")

	stale := h.network.last()
	h.reconnect()

	stale.listener.OnMessage([]byte(`{"type":"event","channel":"a","payload":{}}`))
	stale.listener.OnClose(false)
	h.settle()
	assert.Equal(t, 0, delivered)
	assert.Equal(t, StateConnected, h.bus.State())
}

func TestHeartbeatOnlyWhenConnectedAndIdle(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAliveTimeout = 30 * time.Second
	h := newHarness(t, cfg)

	heartbeats := func(conn *fakeTransport) int {
		count := 0
		for _, frame := range conn.frames(t) {
			if frame.Type == FrameHeartbeat {
				count++
			}
		}
		return count
	}

	h.advance(30 * time.Second)
	h.settle()
	assert.Zero(t, h.bus.outbound.Len(), "no heartbeat is queued before connecting")

	h.open()
	h.advance(30 * time.Second)
	assert.Equal(t, 0, heartbeats(h.network.last()), "exactly keepAlive idle is not enough")

	h.advance(30 * time.Second)
	assert.Equal(t, 1, heartbeats(h.network.last()))

	h.advance(10 * time.Second)
	h.receive(`{"type":"event","channel":"none","payload":{}}`)
	h.advance(20 * time.Second)
	assert.Equal(t, 1, heartbeats(h.network.last()), "inbound traffic postpones the heartbeat")

	h.advance(30 * time.Second)
	assert.Equal(t, 2, heartbeats(h.network.last()))

	h.drop()
	h.advance(30 * time.Second)
	h.advance(30 * time.Second)
	assert.Zero(t, h.bus.outbound.Len(), "no heartbeat while reconnecting")
}

func TestHeartbeatFrameShape(t *testing.T) {
	cfg := testConfig()
	cfg.KeepAliveTimeout = 10 * time.Second
	h := newHarness(t, cfg)
	h.open()
	h.bus.loop.call(func() { h.bus.conn.lastActivity = time.Time{} })

	h.advance(10 * time.Second)
	frames := h.network.last().frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, Request{ID: "id-1", Type: FrameHeartbeat}, frames[0])
	assert.False(t, strings.Contains(string(h.network.last().raw()[0]), "channel"))
}

func TestSubscribeContextCancelledKeepsRequest(t *testing.T) {
	h := newHarness(t, testConfig())
	h.open()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.bus.Subscribe(ctx, "a", nil, func(Payload) {})
	assert.ErrorIs(t, err, context.Canceled)

	h.settle()
	h.ack("id-1")
	assert.Equal(t, []string{"a"}, h.bus.Subscriptions())
}

func TestHandlerMaySubscribeAsyncFromLoop(t *testing.T) {
	h := newHarness(t, testConfig())
	var nested *Reply
	h.bus.On(StateConnected, func() {
		nested = h.bus.SubscribeAsync("from-hook", nil, func(Payload) {})
	})
	h.settle()
	h.open()
	h.settle()

	require.NotNil(t, nested)
	frames := h.network.last().frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "from-hook", frames[0].Channel)
	h.ack(frames[0].ID)
	require.NoError(t, requireDone(t, nested))
}

type instantTransport struct {
	fakeTransport
}

func (conn *instantTransport) Open(url string, listener transport.Listener) error {
	if err := conn.fakeTransport.Open(url, listener); err != nil {
		return err
	}
	listener.OnOpen()
	return nil
}

func TestWithHookObservesFirstConnect(t *testing.T) {
	connected := make(chan struct{})
	var replaced int32
	bus, err := New(testEndpoint, testConfig(),
		WithTransport(func() transport.Transport { return &instantTransport{} }),
		WithHook(StateConnected, func() { atomic.AddInt32(&replaced, 1) }),
		WithHook(StateConnected, func() { close(connected) }))
	require.NoError(t, err)

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("connected hook did not run")
	}
	require.NoError(t, bus.Close())
	assert.Zero(t, atomic.LoadInt32(&replaced))
}
