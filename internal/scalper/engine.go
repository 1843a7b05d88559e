// Package scalper runs the density scalping strategy: it admits density
// signals from published snapshots and drives each through a bounded trade
// lifecycle of entry, take-profit and decay monitoring.
package scalper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/density"
	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/metrics"
)

// compensationTimeout bounds cancels and exits that must complete even
// after the engine is stopped.
const compensationTimeout = 10 * time.Second

// Options holds optional collaborators and behaviour switches.
type Options struct {
	// Sink receives lifecycle events. Nil discards them.
	Sink domain.EventSink
	// Locks, when set, serialises cycles for a symbol across processes.
	Locks   domain.LockManager
	LockTTL time.Duration
	// SignalOnly records admitted signals without trading.
	SignalOnly bool
	Metrics    *metrics.Registry
}

// Engine is the scalper control surface. All exported methods are safe for
// concurrent use.
type Engine struct {
	gateway domain.TradingGateway
	books   domain.BookSource
	liq     domain.LiquiditySource
	waiter  domain.OrderWaiter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	newID   func(domain.OrderRole) string

	running  atomic.Bool
	settings atomic.Pointer[domain.ScalperSettings]

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	cycles sync.WaitGroup

	sessMu   sync.Mutex
	sessions map[string]*symbolSession
}

// New creates a stopped Engine.
func New(gateway domain.TradingGateway, books domain.BookSource, liq domain.LiquiditySource,
	waiter domain.OrderWaiter, opts Options, logger *slog.Logger) *Engine {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	return &Engine{
		gateway:  gateway,
		books:    books,
		liq:      liq,
		waiter:   waiter,
		opts:     opts,
		logger:   logger.With(slog.String("component", "scalper")),
		now:      time.Now,
		newID:    newClientOrderID,
		sessions: make(map[string]*symbolSession),
	}
}

// Running reports whether the engine accepts signals.
func (e *Engine) Running() bool { return e.running.Load() }

// Settings returns the settings captured by the last Start.
func (e *Engine) Settings() (domain.ScalperSettings, bool) {
	s := e.settings.Load()
	if s == nil {
		return domain.ScalperSettings{}, false
	}
	return *s, true
}

// Start captures settings and begins admitting signals. Lifecycles started
// afterwards are cancelled when ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context, s domain.ScalperSettings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running.Load() {
		return domain.ErrAlreadyRunning
	}
	e.settings.Store(&s)
	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.running.Store(true)
	e.opts.Metrics.SetRunning(true)
	e.logger.Info("scalper started",
		slog.String("qty", s.Qty.String()),
		slog.Int64("cooldown_ms", s.CooldownMs),
		slog.Bool("signal_only", e.opts.SignalOnly),
	)
	e.record(domain.StageStarted, "", "", nil)
	return nil
}

// Stop stops admitting signals and cancels in-flight lifecycle waits.
// Orders already placed stay at the broker; use Panic to cancel them.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running.Load() {
		return domain.ErrNotRunning
	}
	e.running.Store(false)
	e.cancel()
	e.opts.Metrics.SetRunning(false)
	e.logger.Info("scalper stopped")
	e.record(domain.StageStopped, "", "", nil)
	return nil
}

// Wait blocks until every lifecycle goroutine has returned.
func (e *Engine) Wait() { e.cycles.Wait() }

// PanicReport lists the outcome of each cancel issued by Panic.
type PanicReport struct {
	Cancelled []string          `json:"cancelled"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Panic stops the engine and best-effort cancels every entry and
// take-profit order the engine believes is open. It works whether or not
// the engine is running. Orders whose cancel failed stay tracked so a
// repeated Panic retries them.
func (e *Engine) Panic(ctx context.Context) PanicReport {
	if err := e.Stop(); err != nil {
		e.logger.Debug("panic on stopped engine")
	}
	report := PanicReport{Failed: make(map[string]string)}
	for _, sess := range e.snapshotSessions() {
		entry, tp := sess.openOrders()
		for _, id := range []string{entry, tp} {
			if id == "" {
				continue
			}
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
			err := e.gateway.Cancel(cctx, id)
			cancel()
			if err != nil {
				e.logger.Warn("panic cancel failed",
					slog.String("symbol", sess.symbol),
					slog.String("order_id", id),
					slog.String("error", err.Error()),
				)
				report.Failed[id] = err.Error()
				continue
			}
			report.Cancelled = append(report.Cancelled, id)
			sess.forget(id)
		}
	}
	e.logger.Warn("panic executed",
		slog.Int("cancelled", len(report.Cancelled)),
		slog.Int("failed", len(report.Failed)),
	)
	e.record(domain.StagePanic, "", "", map[string]any{
		"cancelled": len(report.Cancelled),
		"failed":    len(report.Failed),
	})
	return report
}

// HandleSnapshot is the feed subscriber. It never blocks on I/O: admitted
// signals run their lifecycle on a new goroutine.
func (e *Engine) HandleSnapshot(snap domain.OrderBookSnapshot) {
	if !e.running.Load() {
		return
	}
	s := e.settings.Load()
	sess := e.session(snap.Symbol)
	now := e.now()
	if !sess.tryEnterCooldown(now, time.Duration(s.CooldownMs)*time.Millisecond) {
		return
	}

	var liqPtr *domain.LiquiditySnapshot
	if liq, ok := e.liq.TryGet(snap.Symbol, now, s.LiquidityWindowMinutes); ok {
		liqPtr = &liq
	}
	sig, ok := density.TryFind(snap, *s, liqPtr)
	if !ok {
		return
	}
	e.opts.Metrics.Signal(sig.Symbol, string(sig.Side))

	if e.opts.SignalOnly {
		e.record(domain.StageSignal, sig.Symbol, "", signalDetail(sig))
		return
	}
	if !sess.tryLock() {
		e.logger.Debug("signal dropped, cycle in flight",
			slog.String("symbol", sig.Symbol),
			slog.String("price", sig.Price.String()),
		)
		return
	}
	e.record(domain.StageSignal, sig.Symbol, "", signalDetail(sig))
	e.launch(sess, *s, cycleInput{side: sig.Side, cluster: &sig, fallback: snap})
}

// ManualTest runs one lifecycle for symbol without a density signal, with
// the entry priced two percent away from the touch so it rests passively.
func (e *Engine) ManualTest(symbol string, side domain.Side) error {
	if !e.running.Load() {
		return domain.ErrNotRunning
	}
	if e.opts.SignalOnly {
		return fmt.Errorf("scalper: manual test %s: %w", symbol, domain.ErrSignalOnly)
	}
	s := e.settings.Load()
	snap, ok := e.books.Snapshot(symbol, s.Depth)
	if !ok {
		return fmt.Errorf("scalper: manual test %s: %w", symbol, domain.ErrNoSnapshot)
	}
	bid, okBid := snap.BestBid()
	ask, okAsk := snap.BestAsk()
	if !okBid || !okAsk {
		return fmt.Errorf("scalper: manual test %s: %w", symbol, domain.ErrNoTopOfBook)
	}
	base := bid.Price.Mul(manualBuyFactor)
	if side == domain.SideSell {
		base = ask.Price.Mul(manualSellFactor)
	}

	sess := e.session(symbol)
	if !sess.tryLock() {
		return fmt.Errorf("scalper: manual test %s: %w", symbol, domain.ErrCycleInFlight)
	}
	e.logger.Info("manual test admitted",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("base_price", base.String()),
	)
	e.launch(sess, *s, cycleInput{side: side, manualPrice: base, fallback: snap})
	return nil
}

// Status is the engine state exposed to operators.
type Status struct {
	Running    bool                    `json:"running"`
	SignalOnly bool                    `json:"signal_only"`
	Settings   *domain.ScalperSettings `json:"settings,omitempty"`
	Sessions   []SessionStatus         `json:"sessions"`
}

// Status returns the current engine state with sessions sorted by symbol.
func (e *Engine) Status() Status {
	st := Status{
		Running:    e.running.Load(),
		SignalOnly: e.opts.SignalOnly,
		Sessions:   []SessionStatus{},
	}
	if s, ok := e.Settings(); ok {
		st.Settings = &s
	}
	for _, sess := range e.snapshotSessions() {
		st.Sessions = append(st.Sessions, sess.status())
	}
	sort.Slice(st.Sessions, func(i, j int) bool { return st.Sessions[i].Symbol < st.Sessions[j].Symbol })
	return st
}

func (e *Engine) launch(sess *symbolSession, s domain.ScalperSettings, in cycleInput) {
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()

	e.cycles.Add(1)
	go func() {
		defer e.cycles.Done()
		defer sess.unlock()
		e.runLocked(ctx, sess, s, in)
	}()
}

// runLocked takes the distributed lock when one is configured, then runs
// the lifecycle. Panics are recovered so the symbol lock is always freed.
func (e *Engine) runLocked(ctx context.Context, sess *symbolSession, s domain.ScalperSettings, in cycleInput) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lifecycle panicked",
				slog.String("symbol", sess.symbol),
				slog.Any("recover", r),
			)
			e.record(domain.StageError, sess.symbol, "", map[string]any{"recover": fmt.Sprint(r)})
		}
	}()

	if e.opts.Locks != nil {
		unlock, err := e.opts.Locks.Acquire(ctx, "scalper:"+sess.symbol, e.opts.LockTTL)
		if err != nil {
			e.logger.Warn("cycle skipped, distributed lock unavailable",
				slog.String("symbol", sess.symbol),
				slog.String("error", err.Error()),
			)
			e.opts.Metrics.CycleFinished(outcomeLockHeld, 0)
			return
		}
		defer unlock()
	}

	start := e.now()
	outcome := e.runCycle(ctx, sess, s, in)
	e.opts.Metrics.CycleFinished(outcome, e.now().Sub(start))
}

func (e *Engine) session(symbol string) *symbolSession {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	sess, ok := e.sessions[symbol]
	if !ok {
		sess = newSymbolSession(symbol)
		e.sessions[symbol] = sess
	}
	return sess
}

func (e *Engine) snapshotSessions() []*symbolSession {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	out := make([]*symbolSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

func (e *Engine) record(stage domain.LifecycleStage, symbol, orderID string, detail map[string]any) {
	if e.opts.Sink == nil {
		return
	}
	e.opts.Sink.Record(domain.LifecycleEvent{
		Stage:   stage,
		Symbol:  symbol,
		OrderID: orderID,
		Detail:  detail,
		At:      e.now().UTC(),
	})
}

func signalDetail(sig domain.DensitySignal) map[string]any {
	return map[string]any{
		"side":  string(sig.Side),
		"price": sig.Price.String(),
		"size":  sig.Size.String(),
	}
}
