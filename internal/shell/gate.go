package shell

import (
	"context"
	"sync"
	"time"
)

// Outcome is how an armed gate was resolved.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeTimedOut
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timeout"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Gate is a single-flight completion signal.
//
// Lifecycle: Idle -> Armed (Arm) -> resolved by Complete, Cancel or the Wait
// timeout -> Idle (when Wait returns). The first resolution wins; later ones
// are ignored. Only the goroutine that armed the gate may Wait on it.
type Gate struct {
	mu       sync.Mutex
	armed    bool
	bound    bool
	token    uint64
	resolved bool
	outcome  Outcome
	result   *Result
	done     chan struct{}
}

// Arm moves the gate from Idle to Armed. It fails fast with ErrGateArmed,
// without side effects, if the gate is already armed.
func (g *Gate) Arm() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.armed {
		return ErrGateArmed
	}
	g.armed = true
	g.bound = false
	g.token = 0
	g.resolved = false
	g.result = nil
	g.done = make(chan struct{})
	return nil
}

// Bind associates the armed gate with the command whose sentinel completes
// it. Complete calls carrying another token are ignored.
func (g *Gate) Bind(token uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.armed && !g.resolved {
		g.token = token
		g.bound = true
	}
}

// Armed reports whether an asynchronous wait is outstanding.
func (g *Gate) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// Complete resolves the gate for token with r. It returns false if the gate
// is idle, already resolved, or bound to another token.
func (g *Gate) Complete(token uint64, r *Result) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.armed || g.resolved || !g.bound || g.token != token {
		return false
	}
	g.result = r
	g.resolveLocked(OutcomeCompleted)
	return true
}

// Cancel resolves an armed gate as canceled.
func (g *Gate) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.armed || g.resolved {
		return false
	}
	g.resolveLocked(OutcomeCanceled)
	return true
}

// Release disarms the gate without waiting. Used when submission fails
// after Arm.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.armed && !g.resolved {
		g.resolveLocked(OutcomeCanceled)
	}
	g.armed = false
}

// Wait blocks until the gate is resolved, timeout elapses or ctx is done,
// then disarms the gate. A non-positive timeout waits without a deadline.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) (Outcome, *Result) {
	g.mu.Lock()
	if !g.armed {
		g.mu.Unlock()
		return OutcomeCanceled, nil
	}
	done := g.done
	g.mu.Unlock()

	var cancel context.CancelFunc
	waitCtx := ctx
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		waitCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	select {
	case <-done:
	case <-waitCtx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.resolved {
		if ctx.Err() != nil {
			g.resolveLocked(OutcomeCanceled)
		} else {
			g.resolveLocked(OutcomeTimedOut)
		}
	}
	g.armed = false
	return g.outcome, g.result
}

func (g *Gate) resolveLocked(o Outcome) {
	g.resolved = true
	g.outcome = o
	close(g.done)
}
