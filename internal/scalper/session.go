package scalper

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
)

// symbolSession is the per-symbol admission and bookkeeping state. It is
// created on first use and lives for the process lifetime.
type symbolSession struct {
	symbol string

	// sem is the single-flight lock: one token, acquired without waiting.
	sem chan struct{}

	// nextAllowed is the earliest unix-nano time the next snapshot may be
	// admitted.
	nextAllowed atomic.Int64

	mu           sync.Mutex
	entryOrderID string
	tpOrderID    string
	cluster      *domain.DensitySignal
}

func newSymbolSession(symbol string) *symbolSession {
	return &symbolSession{symbol: symbol, sem: make(chan struct{}, 1)}
}

// tryEnterCooldown admits at most one caller per cooldown window. The
// window is reserved with a compare-and-swap so concurrent callers cannot
// both pass.
func (s *symbolSession) tryEnterCooldown(now time.Time, cooldown time.Duration) bool {
	n := now.UnixNano()
	for {
		next := s.nextAllowed.Load()
		if n < next {
			return false
		}
		if s.nextAllowed.CompareAndSwap(next, n+int64(cooldown)) {
			return true
		}
	}
}

// tryLock takes the single-flight token if it is free.
func (s *symbolSession) tryLock() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *symbolSession) unlock() { <-s.sem }

func (s *symbolSession) inFlight() bool { return len(s.sem) == 1 }

func (s *symbolSession) setEntry(id string) {
	s.mu.Lock()
	s.entryOrderID = id
	s.mu.Unlock()
}

func (s *symbolSession) setTakeProfit(id string) {
	s.mu.Lock()
	s.tpOrderID = id
	s.mu.Unlock()
}

func (s *symbolSession) setCluster(sig *domain.DensitySignal) {
	s.mu.Lock()
	s.cluster = sig
	s.mu.Unlock()
}

// forget stops tracking id if it is still the entry or take-profit order.
func (s *symbolSession) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryOrderID == id {
		s.entryOrderID = ""
	}
	if s.tpOrderID == id {
		s.tpOrderID = ""
	}
}

// openOrders returns the entry and take-profit ids still believed open.
func (s *symbolSession) openOrders() (entry, tp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryOrderID, s.tpOrderID
}

// SessionStatus is a point-in-time view of one symbol's session.
type SessionStatus struct {
	Symbol         string                `json:"symbol"`
	InFlight       bool                  `json:"in_flight"`
	EntryOrderID   string                `json:"entry_order_id,omitempty"`
	TPOrderID      string                `json:"tp_order_id,omitempty"`
	Cluster        *domain.DensitySignal `json:"cluster,omitempty"`
	NextAdmissible time.Time             `json:"next_admissible"`
}

func (s *symbolSession) status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := SessionStatus{
		Symbol:       s.symbol,
		InFlight:     s.inFlight(),
		EntryOrderID: s.entryOrderID,
		TPOrderID:    s.tpOrderID,
	}
	if s.cluster != nil {
		c := *s.cluster
		st.Cluster = &c
	}
	if n := s.nextAllowed.Load(); n > 0 {
		st.NextAdmissible = time.Unix(0, n).UTC()
	}
	return st
}
