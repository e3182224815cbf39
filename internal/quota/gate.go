// Package quota bounds aggregate external call volume for one accounting
// period and smooths request bursts across concurrent workers.
package quota

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// ErrExhausted signals the period budget is spent; callers must stop issuing
// calls until the next accounting period.
var ErrExhausted = errors.New("quota: budget exhausted")

// Gate is the one resource shared by every concurrent worker: a unit budget
// for the accounting period plus a limiter that paces requests. Consuming is
// atomic: a call either reserves all requested units or none.
type Gate struct {
	limiter *rate.Limiter

	mu        sync.Mutex
	budget    int
	remaining int
	drained   bool // budget spent; a refund can undo this
	denied    bool // platform-side denial; sticky until Reset
}

// NewGate creates a gate with a per-period unit budget and a per-second
// request pace. budget <= 0 means unlimited units; perSecond <= 0 disables
// pacing.
func NewGate(budget int, perSecond float64) *Gate {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Gate{
		limiter:   rate.NewLimiter(limit, 1),
		budget:    budget,
		remaining: budget,
	}
}

// Acquire consumes units from the period budget, then blocks until the pacer
// grants a slot. It fails with ErrExhausted once the budget is spent or the
// gate was marked exhausted by a platform quota denial.
func (g *Gate) Acquire(ctx context.Context, units int) error {
	if err := g.tryConsume(units); err != nil {
		return err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		g.refund(units)
		return err
	}
	return nil
}

func (g *Gate) tryConsume(units int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.drained || g.denied {
		return ErrExhausted
	}
	if g.budget <= 0 {
		return nil
	}
	if units > g.remaining {
		// Whatever is left cannot serve a full request; the period is done.
		g.drained = true
		return ErrExhausted
	}
	g.remaining -= units
	if g.remaining == 0 {
		g.drained = true
	}
	return nil
}

func (g *Gate) refund(units int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.budget <= 0 {
		return
	}
	g.remaining += units
	if g.remaining > g.budget {
		g.remaining = g.budget
	}
	if g.remaining > 0 {
		g.drained = false
	}
}

// MarkExhausted records a platform-side quota denial; every later Acquire
// fails until Reset.
func (g *Gate) MarkExhausted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.denied = true
}

// Exhausted reports whether the period budget is spent.
func (g *Gate) Exhausted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.drained || g.denied
}

// Remaining returns the units left in the period budget, or -1 when the gate
// is unlimited.
func (g *Gate) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.budget <= 0 {
		return -1
	}
	return g.remaining
}

// Reset restores the full budget for a new accounting period.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = g.budget
	g.drained = false
	g.denied = false
}
