package session

import (
	"context"
	"sync"
	"time"

	"github.com/Chino66/Command-Tool-Develop/internal/shell"
)

// EventType distinguishes watcher events.
type EventType string

const (
	EventLine   EventType = "line"
	EventResult EventType = "result"
	EventClosed EventType = "closed"
)

// Event is one item streamed to watchers.
type Event struct {
	Type      EventType     `json:"type"`
	SessionID string        `json:"session_id"`
	Line      string        `json:"line,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Result    *shell.Result `json:"result,omitempty"`
}

// Watcher receives events. It is called on the session's reader or
// dispatch goroutine and must not block.
type Watcher func(Event)

// Info describes a registered session.
type Info struct {
	ID        string    `json:"id"`
	Profile   string    `json:"profile"`
	Shell     string    `json:"shell"`
	Transport string    `json:"transport"`
	Pid       int       `json:"pid"`
	State     string    `json:"state"`
	Ready     bool      `json:"ready"`
	Busy      bool      `json:"busy"`
	Debug     bool      `json:"debug"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is a registered session.
type Entry struct {
	sess       *shell.Session
	dispatcher shell.Dispatcher
	createdAt  time.Time
	unsubLines func()

	mu       sync.RWMutex
	watchers map[uint64]Watcher
	nextID   uint64
}

func newEntry(sess *shell.Session, dispatcher shell.Dispatcher) *Entry {
	e := &Entry{
		sess:       sess,
		dispatcher: dispatcher,
		createdAt:  time.Now(),
		watchers:   make(map[uint64]Watcher),
	}
	e.unsubLines = sess.Subscribe(e.onLine)
	return e
}

// ID returns the session id.
func (e *Entry) ID() string { return e.sess.ID() }

// Session returns the underlying interpreter session.
func (e *Entry) Session() *shell.Session { return e.sess }

// Info returns a snapshot of the session's state.
func (e *Entry) Info() Info {
	p := e.sess.Profile()
	return Info{
		ID:        e.sess.ID(),
		Profile:   p.Name,
		Shell:     p.Shell,
		Transport: p.Transport,
		Pid:       e.sess.Pid(),
		State:     e.sess.State().String(),
		Ready:     e.sess.Ready(),
		Busy:      e.sess.Busy(),
		Debug:     e.sess.DebugMode(),
		CreatedAt: e.createdAt,
	}
}

// Exec runs command and waits for its result, publishing it to watchers.
// A non-positive timeout uses the session default. A timed-out command's
// late result is still published.
func (e *Entry) Exec(ctx context.Context, command string, timeout time.Duration) (*shell.Result, error) {
	opts := []shell.RunOption{shell.WithCallback(e.publishResult)}
	if timeout > 0 {
		opts = append(opts, shell.WithTimeout(timeout))
	}
	return e.sess.Exec(ctx, command, opts...)
}

// Run submits command without waiting. Its result is published to
// watchers.
func (e *Entry) Run(command string) error {
	return e.sess.Run(command, e.publishResult)
}

// Watch registers w and returns a function that removes it.
func (e *Entry) Watch(w Watcher) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.watchers[id] = w
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}

func (e *Entry) onLine(line string, kind shell.LineKind) {
	e.publish(Event{Type: EventLine, Line: line, Kind: kind.String()})
}

func (e *Entry) publishResult(r *shell.Result) {
	e.publish(Event{Type: EventResult, Result: r})
}

func (e *Entry) publish(ev Event) {
	ev.SessionID = e.sess.ID()

	e.mu.RLock()
	watchers := make([]Watcher, 0, len(e.watchers))
	for _, w := range e.watchers {
		watchers = append(watchers, w)
	}
	e.mu.RUnlock()

	for _, w := range watchers {
		w(ev)
	}
}

func (e *Entry) close() error {
	e.unsubLines()
	err := e.sess.Close()
	e.dispatcher.Close()

	e.publish(Event{Type: EventClosed})

	e.mu.Lock()
	e.watchers = make(map[uint64]Watcher)
	e.mu.Unlock()
	return err
}
