package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSpawn = errors.New("spawn failed")

func fail() error    { return errSpawn }
func succeed() error { return nil }

// fakeClock lets tests move past the cooldown without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(settings Settings) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := New("sh", settings)
	b.now = clock.Now
	return b, clock
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		failures uint32
		calls    []bool // true = success
		want     State
	}{
		{name: "stays closed on successes", failures: 3, calls: []bool{true, true, true}, want: StateClosed},
		{name: "opens after consecutive failures", failures: 3, calls: []bool{false, false, false}, want: StateOpen},
		{name: "success resets the streak", failures: 3, calls: []bool{false, false, true, false, false}, want: StateClosed},
		{name: "single failure threshold", failures: 1, calls: []bool{false}, want: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBreaker(Settings{Failures: tt.failures, Cooldown: time.Minute})
			for _, ok := range tt.calls {
				if ok {
					_ = b.Do(succeed)
				} else {
					_ = b.Do(fail)
				}
			}
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreakerOpenRejects(t *testing.T) {
	b, _ := newTestBreaker(Settings{Failures: 2, Cooldown: time.Minute})

	assert.ErrorIs(t, b.Do(fail), errSpawn)
	assert.ErrorIs(t, b.Do(fail), errSpawn)

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(Settings{Failures: 1, Cooldown: 30 * time.Second})

	_ = b.Do(fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Settings{Failures: 1, Cooldown: time.Second})

	_ = b.Do(fail)
	clock.Advance(time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Do(fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(Settings{Failures: 1, Cooldown: time.Second})
	_ = b.Do(fail)
	clock.Advance(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = b.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	assert.ErrorIs(t, b.Do(succeed), ErrTooManyRequests)
	close(release)

	assert.Eventually(t, func() bool { return b.State() == StateClosed }, time.Second, time.Millisecond)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Settings{Failures: 1, Cooldown: time.Minute})

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerCounts(t *testing.T) {
	b, _ := newTestBreaker(Settings{Failures: 5})

	_ = b.Do(succeed)
	_ = b.Do(fail)

	counts := b.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerCallbacks(t *testing.T) {
	var transitions []string
	b, clock := newTestBreaker(Settings{
		Failures: 1,
		Cooldown: time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = b.Do(fail)
	clock.Advance(time.Second)
	_ = b.Do(succeed)

	assert.Equal(t, []string{
		"sh:closed->open",
		"sh:open->half-open",
		"sh:half-open->closed",
	}, transitions)
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(Settings{Failures: 1})
	_ = b.Do(fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Do(succeed))
}

func TestGroup(t *testing.T) {
	g := NewGroup(Settings{Failures: 1, Cooldown: time.Minute})

	assert.Same(t, g.Get("bash"), g.Get("bash"))
	_ = g.Get("bash").Do(fail)
	_ = g.Get("sh").Do(succeed)

	assert.Equal(t, map[string]State{
		"bash": StateOpen,
		"sh":   StateClosed,
	}, g.States())
}
