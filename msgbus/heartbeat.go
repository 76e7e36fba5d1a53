package msgbus

import (
	"sync"
	"time"
)

// HeartbeatMonitor fires tick every period until stopped.
type HeartbeatMonitor struct {
	lock    sync.Mutex
	clock   Clock
	period  time.Duration
	tick    func()
	timer   Timer
	started bool
	stopped bool
}

// NewHeartbeatMonitor returns a stopped monitor.
func NewHeartbeatMonitor(c Clock, period time.Duration, tick func()) *HeartbeatMonitor {
	return &HeartbeatMonitor{clock: c, period: period, tick: tick}
}

// Start arms the recurring timer. Calling Start more than once, or after
// Stop, has no effect.
func (monitor *HeartbeatMonitor) Start() {
	monitor.lock.Lock()
	defer monitor.lock.Unlock()
	if monitor.started || monitor.stopped {
		return
	}
	monitor.started = true
	monitor.arm()
}

func (monitor *HeartbeatMonitor) arm() {
	monitor.timer = monitor.clock.AfterFunc(monitor.period, monitor.fire)
}

func (monitor *HeartbeatMonitor) fire() {
	monitor.lock.Lock()
	if monitor.stopped {
		monitor.lock.Unlock()
		return
	}
	monitor.arm()
	monitor.lock.Unlock()

	monitor.tick()
}

// Stop cancels the timer permanently.
func (monitor *HeartbeatMonitor) Stop() {
	monitor.lock.Lock()
	defer monitor.lock.Unlock()
	monitor.stopped = true
	if monitor.timer != nil {
		monitor.timer.Stop()
		monitor.timer = nil
	}
}

// heartbeatDue reports whether a heartbeat must be sent: the connection is up
// and it has been idle for longer than keepAlive, or no activity was ever
// recorded.
func heartbeatDue(state State, lastActivity time.Time, now time.Time, keepAlive time.Duration) bool {
	if state != StateConnected {
		return false
	}
	return lastActivity.IsZero() || now.Sub(lastActivity) > keepAlive
}
