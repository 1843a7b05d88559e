// Package executor tracks placed orders until the broker reports a terminal
// status, and filters replayed fills.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
)

// DefaultEarlyTTL bounds how long a terminal update that arrived before any
// waiter is kept for a late WaitFinal.
const DefaultEarlyTTL = 30 * time.Second

type waiter struct {
	done chan struct{}
	upd  domain.OrderUpdate
	refs int
}

type settled struct {
	upd      domain.OrderUpdate
	at       time.Time
	consumed bool
}

// Awaiter resolves order ids to their terminal OrderUpdate from pushed
// updates. It never polls. Safe for concurrent use.
type Awaiter struct {
	mu      sync.Mutex
	waiting map[string]*waiter
	recent  map[string]*settled
	ttl     time.Duration
	now     func() time.Time
}

// NewAwaiter creates an Awaiter. A non-positive earlyTTL uses DefaultEarlyTTL.
func NewAwaiter(earlyTTL time.Duration) *Awaiter {
	if earlyTTL <= 0 {
		earlyTTL = DefaultEarlyTTL
	}
	return &Awaiter{
		waiting: make(map[string]*waiter),
		recent:  make(map[string]*settled),
		ttl:     earlyTTL,
		now:     time.Now,
	}
}

// WaitFinal blocks until orderID reaches a terminal status or ctx is done.
// Concurrent callers for the same id share one handle; a caller giving up
// does not cancel the others.
func (a *Awaiter) WaitFinal(ctx context.Context, orderID string) (domain.OrderUpdate, error) {
	a.mu.Lock()
	if s, ok := a.recent[orderID]; ok && !s.consumed && a.now().Sub(s.at) < a.ttl {
		s.consumed = true
		a.mu.Unlock()
		return s.upd, nil
	}
	w, ok := a.waiting[orderID]
	if !ok {
		w = &waiter{done: make(chan struct{})}
		a.waiting[orderID] = w
	}
	w.refs++
	a.mu.Unlock()

	select {
	case <-w.done:
		return w.upd, nil
	case <-ctx.Done():
		a.mu.Lock()
		w.refs--
		if w.refs == 0 && a.waiting[orderID] == w {
			delete(a.waiting, orderID)
		}
		a.mu.Unlock()
		return domain.OrderUpdate{}, fmt.Errorf("executor: wait %s: %w", orderID, ctx.Err())
	}
}

// OnOrderUpdate resolves the handle for a terminal update. Non-terminal
// updates are ignored and a repeated terminal update for the same id is a
// no-op.
func (a *Awaiter) OnOrderUpdate(u domain.OrderUpdate) {
	if !u.Status.IsTerminal() || u.OrderID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.prune(now)

	if _, seen := a.recent[u.OrderID]; seen {
		return
	}
	if w, ok := a.waiting[u.OrderID]; ok {
		delete(a.waiting, u.OrderID)
		w.upd = u
		close(w.done)
		a.recent[u.OrderID] = &settled{upd: u, at: now, consumed: true}
		return
	}
	a.recent[u.OrderID] = &settled{upd: u, at: now}
}

// Pending returns the number of order ids with at least one waiter.
func (a *Awaiter) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.waiting)
}

func (a *Awaiter) prune(now time.Time) {
	for id, s := range a.recent {
		if now.Sub(s.at) >= a.ttl {
			delete(a.recent, id)
		}
	}
}

var _ domain.OrderWaiter = (*Awaiter)(nil)
