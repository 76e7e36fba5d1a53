package msgbus

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thejuampi/msgbus-client-go/msgbus/transport"
)

// connectionEvents is implemented by the Bus to sequence the work that
// follows a connection transition.
type connectionEvents interface {
	connectionOpened()
	frameReceived(data []byte)
	connectionLost()
	connectionClosedByPeer()
}

// connectionManager owns the transport and runs the connect/reconnect state
// machine. Every method runs on the event loop.
type connectionManager struct {
	endpoint string
	url      string
	factory  transport.Factory
	clock    Clock
	loop     *eventLoop
	backoff  *ReconnectBackOff
	logger   *zap.Logger
	metrics  *Metrics
	events   connectionEvents

	state          State
	mirror         *atomic.Int32
	hooks          map[State]func()
	transport      transport.Transport
	generation     uint64
	reconnectTimer Timer
	lastActivity   time.Time
}

// transportListener forwards notifications of one transport generation onto
// the event loop. Notifications from replaced transports are ignored there.
type transportListener struct {
	manager    *connectionManager
	generation uint64
}

func (listener transportListener) OnOpen() {
	listener.manager.loop.post(func() {
		listener.manager.handleOpen(listener.generation)
	})
}

func (listener transportListener) OnMessage(data []byte) {
	listener.manager.loop.post(func() {
		listener.manager.handleMessage(listener.generation, data)
	})
}

func (listener transportListener) OnClose(clean bool) {
	listener.manager.loop.post(func() {
		listener.manager.handleClose(listener.generation, clean)
	})
}

func (listener transportListener) OnError(err error) {
	listener.manager.loop.post(func() {
		listener.manager.handleError(listener.generation, err)
	})
}

func (manager *connectionManager) setState(state State) {
	manager.logger.Debug("status", zap.Stringer("status", state))
	manager.state = state
	manager.mirror.Store(int32(state))
	manager.metrics.stateChanged(state)

	if hook := manager.hooks[state]; hook != nil {
		hook()
	}
}

func (manager *connectionManager) on(state State, hook func()) {
	if hook == nil {
		delete(manager.hooks, state)
		return
	}
	manager.hooks[state] = hook
}

func (manager *connectionManager) connected() bool {
	return manager.state == StateConnected
}

func (manager *connectionManager) recordActivity() {
	manager.lastActivity = manager.clock.Now()
}

// connect opens a fresh transport against the resolved endpoint.
func (manager *connectionManager) connect() {
	manager.logger.Debug("connecting", zap.String("endpoint", manager.endpoint))

	manager.generation++
	generation := manager.generation
	manager.transport = manager.factory()
	if err := manager.transport.Open(manager.url, transportListener{manager: manager, generation: generation}); err != nil {
		manager.logger.Debug("transport open failed", zap.Error(err))
		manager.handleClose(generation, false)
	}
}

func (manager *connectionManager) current(generation uint64) bool {
	return generation == manager.generation && manager.state != StateClosed
}

func (manager *connectionManager) handleOpen(generation uint64) {
	if !manager.current(generation) {
		return
	}
	manager.setState(StateConnected)
	manager.recordActivity()
	manager.events.connectionOpened()
}

func (manager *connectionManager) handleMessage(generation uint64, data []byte) {
	if !manager.current(generation) {
		return
	}
	manager.recordActivity()
	manager.events.frameReceived(data)
}

func (manager *connectionManager) handleError(generation uint64, err error) {
	if generation != manager.generation {
		return
	}
	manager.logger.Debug("websocket error", zap.Error(err))
}

func (manager *connectionManager) handleClose(generation uint64, clean bool) {
	if !manager.current(generation) {
		return
	}
	if clean {
		manager.logger.Debug("connection closed by server")
		manager.events.connectionClosedByPeer()
		return
	}

	manager.lost()
}

// abandon drops a live transport that failed a write and schedules a
// reconnect as if it had closed uncleanly. Its later notifications are
// ignored.
func (manager *connectionManager) abandon() {
	if manager.state != StateConnected {
		return
	}
	manager.generation++
	if manager.transport != nil {
		if err := manager.transport.Close(); err != nil {
			manager.logger.Debug("transport close failed", zap.Error(err))
		}
		manager.transport = nil
	}
	manager.lost()
}

func (manager *connectionManager) lost() {
	manager.setState(StateReconnecting)
	manager.events.connectionLost()

	delay := manager.backoff.NextBackOff()
	manager.logger.Debug("reconnect timeout", zap.Duration("delay", delay))
	manager.metrics.reconnectScheduled()
	manager.reconnectTimer = manager.clock.AfterFunc(delay, func() {
		manager.loop.post(manager.reconnect)
	})
}

func (manager *connectionManager) reconnect() {
	manager.reconnectTimer = nil
	if manager.state != StateReconnecting {
		return
	}
	manager.setState(StateConnecting)
	manager.connect()
}

// send writes data to the live transport.
func (manager *connectionManager) send(data []byte) error {
	if manager.transport == nil {
		return NewError(TransportError, "no transport")
	}
	if err := manager.transport.Send(data); err != nil {
		return NewError(TransportError, err)
	}
	manager.recordActivity()
	return nil
}

// close cancels any scheduled reconnect, enters the terminal state and
// closes the transport.
func (manager *connectionManager) close() {
	if manager.reconnectTimer != nil {
		manager.logger.Debug("clearing reconnect timeout")
		manager.reconnectTimer.Stop()
		manager.reconnectTimer = nil
	}

	manager.setState(StateClosed)

	if manager.transport != nil {
		if err := manager.transport.Close(); err != nil {
			manager.logger.Debug("transport close failed", zap.Error(err))
		}
	}
}
