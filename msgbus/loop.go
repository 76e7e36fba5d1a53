package msgbus

import (
	"sync"

	"github.com/eapache/queue"
)

// eventLoop runs posted tasks one at a time on a single goroutine. All bus
// state is owned by the loop; transport notifications, timers and API calls
// reach it only through post.
type eventLoop struct {
	lock    sync.Mutex
	tasks   *queue.Queue
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		tasks: queue.New(),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// post enqueues task. It never blocks and reports false once the loop has
// stopped, in which case task will not run.
func (loop *eventLoop) post(task func()) bool {
	loop.lock.Lock()
	if loop.stopped {
		loop.lock.Unlock()
		return false
	}
	loop.tasks.Add(task)
	loop.lock.Unlock()

	select {
	case loop.wake <- struct{}{}:
	default:
	}
	return true
}

// stop rejects further posts. Tasks already queued still run, then run
// returns. Safe to call from the loop goroutine.
func (loop *eventLoop) stop() {
	loop.lock.Lock()
	loop.stopped = true
	loop.lock.Unlock()

	select {
	case loop.wake <- struct{}{}:
	default:
	}
}

func (loop *eventLoop) next() (func(), bool) {
	loop.lock.Lock()
	defer loop.lock.Unlock()
	if loop.tasks.Length() > 0 {
		return loop.tasks.Remove().(func()), true
	}
	return nil, !loop.stopped
}

func (loop *eventLoop) run() {
	defer close(loop.done)
	for {
		task, alive := loop.next()
		if !alive {
			return
		}
		if task == nil {
			<-loop.wake
			continue
		}
		task()
	}
}
