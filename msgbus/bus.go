package msgbus

import (
	"context"
	"reflect"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus is a resilient pub/sub client over a single duplex transport.
//
// All bus state is owned by one event loop goroutine. Public methods are safe
// for concurrent use. Event handlers and lifecycle hooks run on the loop;
// they may call On and the Async methods but must not block on Subscribe,
// Unsubscribe or Close.
type Bus struct {
	cfg     Config
	nextID  IDGenerator
	logger  *zap.Logger
	metrics *Metrics

	loop      *eventLoop
	state     atomic.Int32
	channels  atomic.Pointer[[]string]
	conn      *connectionManager
	registry  *SubscriptionRegistry
	pending   *PendingReplyTable
	outbound  *OutboundQueue
	router    *MessageRouter
	heartbeat *HeartbeatMonitor
}

// New resolves endpoint, starts the heartbeat monitor and begins connecting
// in the background. It fails only on construction errors: a missing or
// unparsable endpoint, or a missing token when cfg.RequireToken is set.
func New(endpoint string, cfg Config, opts ...Option) (*Bus, error) {
	cfg = cfg.withDefaults()
	url, err := ResolveEndpoint(endpoint, cfg.Token, cfg.RequireToken)
	if err != nil {
		return nil, err
	}
	resolved := buildOptions(cfg, opts)

	bus := &Bus{
		cfg:      cfg,
		nextID:   resolved.nextID,
		logger:   resolved.logger,
		metrics:  resolved.metrics,
		loop:     newEventLoop(),
		registry: NewSubscriptionRegistry(),
		pending:  NewPendingReplyTable(),
		outbound: NewOutboundQueue(),
	}
	bus.state.Store(int32(StateConnecting))
	bus.channels.Store(&[]string{})
	bus.router = NewMessageRouter(bus.registry, bus.pending, bus.logger, bus.metrics)
	bus.conn = &connectionManager{
		endpoint: endpoint,
		url:      url,
		factory:  resolved.transport,
		clock:    resolved.clock,
		loop:     bus.loop,
		backoff:  NewReconnectBackOff(cfg.InitialReconnectTimeout, cfg.ReconnectTimeoutFactor, cfg.MaxReconnectTimeout),
		logger:   bus.logger,
		metrics:  bus.metrics,
		events:   bus,
		state:    StateConnecting,
		mirror:   &bus.state,
		hooks:    make(map[State]func()),
	}
	for state, hook := range resolved.hooks {
		bus.conn.hooks[state] = hook
	}
	bus.heartbeat = NewHeartbeatMonitor(resolved.clock, cfg.KeepAliveTimeout, func() {
		bus.loop.post(bus.beat)
	})

	bus.logger.Debug("options",
		zap.Bool("debug", cfg.Debug),
		zap.Duration("initialReconnectTimeout", cfg.InitialReconnectTimeout),
		zap.Float64("reconnectTimeoutFactor", cfg.ReconnectTimeoutFactor),
		zap.Duration("maxReconnectTimeout", cfg.MaxReconnectTimeout),
		zap.Duration("keepAliveTimeout", cfg.KeepAliveTimeout),
		zap.Bool("token", cfg.Token != ""))

	go bus.loop.run()
	bus.loop.post(func() {
		bus.logger.Debug("installing heartbeat")
		bus.heartbeat.Start()
		bus.metrics.stateChanged(StateConnecting)
		bus.conn.connect()
	})
	return bus, nil
}

// On registers hook to run when the bus enters state. A later registration for
// the same state replaces the previous hook; a nil hook removes it.
//
// Registration is queued on the event loop, so it takes effect after any
// transition already queued. Use WithHook to observe the first transitions.
func (bus *Bus) On(state State, hook func()) {
	bus.loop.post(func() {
		bus.conn.on(state, hook)
	})
}

// State returns the current connection state.
func (bus *Bus) State() State {
	return State(bus.state.Load())
}

// Subscriptions returns the acknowledged channels in subscription order.
func (bus *Bus) Subscriptions() []string {
	return append([]string(nil), (*bus.channels.Load())...)
}

// Done is closed once the bus has closed and its event loop has exited.
func (bus *Bus) Done() <-chan struct{} {
	return bus.loop.done
}

// Subscribe subscribes handler to channel and waits for the server's
// acknowledgement. filter is sent only when non-nil. If ctx ends first the
// request stays outstanding and may still be committed.
func (bus *Bus) Subscribe(ctx context.Context, channel string, filter interface{}, handler Handler) error {
	return bus.SubscribeAsync(channel, filter, handler).Wait(ctx)
}

// SubscribeAsync is Subscribe without waiting.
func (bus *Bus) SubscribeAsync(channel string, filter interface{}, handler Handler) *Reply {
	reply := newReply()
	if !bus.loop.post(func() { bus.subscribe(reply, channel, filter, handler) }) {
		reply.complete(ErrConnectionClosed)
	}
	return reply
}

// Unsubscribe removes the subscription for channel once the server
// acknowledges it.
func (bus *Bus) Unsubscribe(ctx context.Context, channel string) error {
	return bus.UnsubscribeAsync(channel).Wait(ctx)
}

// UnsubscribeAsync is Unsubscribe without waiting.
func (bus *Bus) UnsubscribeAsync(channel string) *Reply {
	reply := newReply()
	if !bus.loop.post(func() { bus.unsubscribe(reply, channel) }) {
		reply.complete(ErrConnectionClosed)
	}
	return reply
}

// Close terminates the connection, cancels any scheduled reconnect and the
// heartbeat, and rejects outstanding requests with ErrConnectionClosed. It
// returns once the event loop has exited. Closing a closed bus is a no-op.
func (bus *Bus) Close() error {
	reply := bus.CloseAsync()
	<-reply.Done()
	<-bus.loop.done
	return reply.Err()
}

// CloseAsync is Close without waiting; the reply completes after the
// transport close has been requested.
func (bus *Bus) CloseAsync() *Reply {
	reply := newReply()
	if !bus.loop.post(func() {
		bus.logger.Debug("closing")
		bus.shutdown()
		reply.complete(nil)
	}) {
		reply.complete(nil)
	}
	return reply
}

func (bus *Bus) subscribe(reply *Reply, channel string, filter interface{}, handler Handler) {
	if bus.conn.state == StateClosed {
		reply.complete(ErrConnectionClosed)
		return
	}
	if bus.registry.Has(channel) {
		bus.logger.Debug("already subscribed", zap.String("channel", channel))
		reply.complete(NewError(AlreadySubscribedError, channel))
		return
	}

	filter = normalizeFilter(filter)
	id := bus.nextID()
	data, err := encodeRequest(Request{ID: id, Type: FrameSubscribe, Channel: channel, Filter: filter})
	if err != nil {
		reply.complete(NewError(ProtocolError, err))
		return
	}

	bus.pending.attach(id, reply, func() {
		bus.logger.Debug("subscribed", zap.String("channel", channel))
		bus.registry.Commit(Subscription{Channel: channel, Filter: filter, Handler: handler})
		bus.publishChannels()
	})
	bus.send(OutboundEntry{ID: id, Type: FrameSubscribe, Data: data})
}

func (bus *Bus) unsubscribe(reply *Reply, channel string) {
	if bus.conn.state == StateClosed {
		reply.complete(ErrConnectionClosed)
		return
	}
	if !bus.registry.Has(channel) {
		bus.logger.Debug("not subscribed", zap.String("channel", channel))
		reply.complete(NewError(NotSubscribedError, channel))
		return
	}

	id := bus.nextID()
	data, err := encodeRequest(Request{ID: id, Type: FrameUnsubscribe, Channel: channel})
	if err != nil {
		reply.complete(NewError(ProtocolError, err))
		return
	}

	bus.pending.attach(id, reply, func() {
		bus.registry.Remove(channel)
		bus.publishChannels()
		bus.logger.Debug("unsubscribed", zap.String("channel", channel))
	})
	bus.send(OutboundEntry{ID: id, Type: FrameUnsubscribe, Data: data})
}

// send appends entry to the outbound queue and flushes it when connected, so
// frames always reach the wire in submission order.
func (bus *Bus) send(entry OutboundEntry) {
	bus.outbound.Push(entry)
	if !bus.conn.connected() {
		bus.metrics.frameQueued()
		bus.logger.Debug("message queued", zap.ByteString("data", entry.Data))
		return
	}
	bus.flush()
}

// flush drains the outbound queue. A failed write leaves the frame at the
// head of the queue and drops the connection so the reconnect path flushes it.
func (bus *Bus) flush() {
	if err := bus.outbound.Drain(bus.write); err != nil {
		bus.metrics.frameQueued()
		bus.logger.Debug("send failed, reconnecting", zap.Error(err), zap.Int("queued", bus.outbound.Len()))
		bus.conn.abandon()
	}
}

func (bus *Bus) write(entry OutboundEntry) error {
	if err := bus.conn.send(entry.Data); err != nil {
		return err
	}
	bus.pending.MarkSent(entry.ID)
	bus.metrics.frameSent(entry.Type)
	bus.logger.Debug("message sent", zap.ByteString("data", entry.Data))
	return nil
}

func (bus *Bus) beat() {
	if !heartbeatDue(bus.conn.state, bus.conn.lastActivity, bus.conn.clock.Now(), bus.cfg.KeepAliveTimeout) {
		return
	}
	bus.logger.Debug("heartbeat")
	id := bus.nextID()
	data, err := encodeRequest(Request{ID: id, Type: FrameHeartbeat})
	if err != nil {
		return
	}
	bus.metrics.heartbeatSent()
	bus.send(OutboundEntry{ID: id, Type: FrameHeartbeat, Data: data})
}

func (bus *Bus) connectionOpened() {
	for _, subscription := range bus.registry.All() {
		id := bus.nextID()
		data, err := encodeRequest(Request{ID: id, Type: FrameSubscribe, Channel: subscription.Channel, Filter: subscription.Filter})
		if err != nil {
			bus.logger.Debug("resubscribe encode failed", zap.String("channel", subscription.Channel), zap.Error(err))
			continue
		}
		// Replays go out ahead of the queued frames.
		if err := bus.write(OutboundEntry{ID: id, Type: FrameSubscribe, Data: data}); err != nil {
			bus.logger.Debug("resubscribe failed, reconnecting", zap.String("channel", subscription.Channel), zap.Error(err))
			bus.conn.abandon()
			return
		}
		bus.logger.Debug("resubscribed", zap.String("channel", subscription.Channel))
	}
	bus.flush()
}

func (bus *Bus) frameReceived(data []byte) {
	bus.router.Route(data)
}

func (bus *Bus) connectionLost() {
	failed := bus.pending.FailSent(ErrConnectionLost)
	bus.metrics.pendingRejected(failed)
	if failed > 0 {
		bus.logger.Debug("rejected in-flight requests", zap.Int("count", failed))
	}
}

func (bus *Bus) connectionClosedByPeer() {
	bus.shutdown()
}

func (bus *Bus) shutdown() {
	if bus.conn.state == StateClosed {
		return
	}
	bus.heartbeat.Stop()
	bus.conn.close()

	failed := bus.pending.FailAll(ErrConnectionClosed)
	bus.metrics.pendingRejected(failed)
	if queued := bus.outbound.Len(); queued > 0 {
		bus.logger.Debug("discarding queued frames", zap.Int("count", queued))
	}
	bus.loop.stop()
}

func (bus *Bus) publishChannels() {
	channels := bus.registry.Channels()
	bus.channels.Store(&channels)
}

// normalizeFilter turns typed nil values into an untyped nil so they are
// omitted from the frame.
func normalizeFilter(filter interface{}) interface{} {
	if filter == nil {
		return nil
	}
	value := reflect.ValueOf(filter)
	switch value.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		if value.IsNil() {
			return nil
		}
	}
	return filter
}
