package shell

import "sync"

// Dispatcher decides where result callbacks run.
type Dispatcher interface {
	Dispatch(fn func())
	Close()
}

// InlineDispatcher runs callbacks on the session's reader goroutine, before
// the completion gate is signalled. Callbacks must not block on further
// commands of the same session.
type InlineDispatcher struct{}

func (InlineDispatcher) Dispatch(fn func()) { fn() }

func (InlineDispatcher) Close() {}

// QueueDispatcher runs callbacks one at a time, in submission order, on a
// dedicated goroutine. Callbacks may submit further commands.
type QueueDispatcher struct {
	jobs chan func()
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewQueueDispatcher starts the dispatch goroutine. size bounds the number
// of queued callbacks before Dispatch blocks.
func NewQueueDispatcher(size int) *QueueDispatcher {
	if size <= 0 {
		size = 64
	}
	q := &QueueDispatcher{
		jobs: make(chan func(), size),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *QueueDispatcher) loop() {
	defer close(q.done)
	for fn := range q.jobs {
		fn()
	}
}

// Dispatch queues fn. Calls after Close are dropped.
func (q *QueueDispatcher) Dispatch(fn func()) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return
	}
	q.jobs <- fn
}

// Close stops accepting callbacks and waits for queued ones to finish.
func (q *QueueDispatcher) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	<-q.done
}
