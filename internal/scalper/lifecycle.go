package scalper

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/platform/broker"
	"github.com/alanyoungcy/densityscalper/internal/tickmath"
)

// Cycle outcomes reported to metrics.
const (
	outcomeLockHeld      = "lock_held"
	outcomeAborted       = "aborted"
	outcomeEntryFailed   = "entry_failed"
	outcomeEntryUnfilled = "entry_unfilled"
	outcomeTPFailed      = "tp_failed"
	outcomeTakeProfit    = "take_profit"
	outcomeEmergencyExit = "emergency_exit"
	outcomeStopped       = "stopped"
)

var (
	manualBuyFactor  = decimal.RequireFromString("0.98")
	manualSellFactor = decimal.RequireFromString("1.02")
)

func newClientOrderID(role domain.OrderRole) string { return broker.NewClientOrderID(role) }

// cycleInput describes what started a lifecycle. cluster is nil for manual
// tests, which price from manualPrice instead and have no decay monitor.
type cycleInput struct {
	side        domain.Side
	cluster     *domain.DensitySignal
	manualPrice decimal.Decimal
	fallback    domain.OrderBookSnapshot
}

// runCycle drives one trade lifecycle and returns its outcome label.
func (e *Engine) runCycle(ctx context.Context, sess *symbolSession, s domain.ScalperSettings, in cycleInput) string {
	symbol := sess.symbol
	log := e.logger.With(slog.String("symbol", symbol), slog.String("side", string(in.side)))

	snap, ok := e.books.Snapshot(symbol, s.Depth)
	if !ok {
		snap = in.fallback
	}
	liq, ok := e.liq.TryGet(symbol, e.now(), s.LiquidityWindowMinutes)
	if !ok {
		return e.abort(log, symbol, "liquidity unavailable")
	}

	qty, ok := orderShares(s, liq.LotSize)
	if !ok {
		return e.abort(log, symbol, "order quantity is not a positive whole number of shares",
			slog.String("qty", s.Qty.String()),
			slog.String("lot_size", liq.LotSize.String()),
		)
	}

	step := liq.PriceStep
	if !step.IsPositive() {
		derived, ok := tickmath.DeriveStepFromOrderBook(snap, s.Depth)
		if !ok {
			return e.abort(log, symbol, "price step unknown")
		}
		step = derived
	}

	var entryPrice decimal.Decimal
	if in.cluster != nil {
		entryPrice = tickmath.ShiftFromDensity(in.side, in.cluster.Price, step, s.EntryOffsetTicks)
	} else {
		entryPrice = in.manualPrice
	}
	entryPrice = tickmath.RoundToStep(entryPrice, step)
	entryPrice = tickmath.ClampNonCrossing(in.side, entryPrice, snap, step)

	sess.setCluster(in.cluster)
	defer sess.setCluster(nil)

	entryID, err := e.gateway.PlaceLimit(ctx, symbol, in.side, qty, entryPrice, e.newID(domain.OrderRoleEntry))
	if err != nil {
		e.opts.Metrics.Order("entry", "error")
		log.Error("entry placement failed",
			slog.String("price", entryPrice.String()),
			slog.String("error", err.Error()),
		)
		e.record(domain.StageError, symbol, "", map[string]any{"op": "place_entry", "error": err.Error()})
		return outcomeEntryFailed
	}
	e.opts.Metrics.Order("entry", "placed")
	sess.setEntry(entryID)
	log.Info("entry placed",
		slog.String("order_id", entryID),
		slog.String("price", entryPrice.String()),
		slog.String("qty", qty.String()),
	)
	e.record(domain.StageEntryPlaced, symbol, entryID, map[string]any{
		"price": entryPrice.String(),
		"qty":   qty.String(),
	})

	final, err := e.waiter.WaitFinal(ctx, entryID)
	if err != nil {
		log.Info("entry wait cancelled", slog.String("order_id", entryID))
		return outcomeStopped
	}
	sess.setEntry("")
	e.record(domain.StageEntryFinal, symbol, entryID, map[string]any{"status": string(final.Status)})
	if final.Status != domain.OrderStatusFilled {
		log.Info("entry not filled, cycle ends",
			slog.String("order_id", entryID),
			slog.String("status", string(final.Status)),
		)
		return outcomeEntryUnfilled
	}

	tpSide := in.side.Opposite()
	tpPrice := takeProfitPrice(in.side, entryPrice, s.TakeProfitPct, step)
	tpID, err := e.gateway.PlaceLimit(ctx, symbol, tpSide, qty, tpPrice, e.newID(domain.OrderRoleTakeProfit))
	if err != nil {
		e.opts.Metrics.Order("take_profit", "error")
		log.Error("take-profit placement failed, position left open",
			slog.String("price", tpPrice.String()),
			slog.String("error", err.Error()),
		)
		e.record(domain.StageTakeProfitFailed, symbol, entryID, map[string]any{
			"price": tpPrice.String(),
			"qty":   qty.String(),
			"error": err.Error(),
		})
		return outcomeTPFailed
	}
	e.opts.Metrics.Order("take_profit", "placed")
	sess.setTakeProfit(tpID)
	log.Info("take-profit placed",
		slog.String("order_id", tpID),
		slog.String("price", tpPrice.String()),
	)
	e.record(domain.StageTakeProfitPlaced, symbol, tpID, map[string]any{"price": tpPrice.String()})

	return e.raceTakeProfit(ctx, log, sess, s, in, tpSide, tpID, qty)
}

type waitResult struct {
	upd domain.OrderUpdate
	err error
}

// raceTakeProfit waits for the take-profit to resolve or the density to
// break, whichever happens first, and cancels the other wait.
func (e *Engine) raceTakeProfit(ctx context.Context, log *slog.Logger, sess *symbolSession,
	s domain.ScalperSettings, in cycleInput, tpSide domain.Side, tpID string, qty decimal.Decimal) string {
	symbol := sess.symbol

	tpCtx, cancelTP := context.WithCancel(ctx)
	breakCtx, cancelBreak := context.WithCancel(ctx)
	defer cancelTP()
	defer cancelBreak()

	tpDone := make(chan waitResult, 1)
	go func() {
		u, err := e.waiter.WaitFinal(tpCtx, tpID)
		tpDone <- waitResult{upd: u, err: err}
	}()
	broken := make(chan bool, 1)
	go func() { broken <- e.waitDensityBreak(breakCtx, symbol, in.cluster, s) }()

	select {
	case r := <-tpDone:
		cancelBreak()
		<-broken
		if r.err != nil {
			log.Info("take-profit wait cancelled", slog.String("order_id", tpID))
			return outcomeStopped
		}
		sess.setTakeProfit("")
		log.Info("take-profit final",
			slog.String("order_id", tpID),
			slog.String("status", string(r.upd.Status)),
		)
		e.record(domain.StageTakeProfitFinal, symbol, tpID, map[string]any{"status": string(r.upd.Status)})
		return outcomeTakeProfit

	case br := <-broken:
		cancelTP()
		r := <-tpDone
		if !br {
			log.Info("decay monitor cancelled", slog.String("order_id", tpID))
			return outcomeStopped
		}
		if r.err == nil {
			// The take-profit resolved in the same instant; nothing to exit.
			sess.setTakeProfit("")
			e.record(domain.StageTakeProfitFinal, symbol, tpID, map[string]any{"status": string(r.upd.Status)})
			return outcomeTakeProfit
		}
		e.record(domain.StageDensityBroken, symbol, tpID, signalDetail(*in.cluster))
		e.emergencyExit(ctx, log, sess, tpSide, tpID, qty)
		return outcomeEmergencyExit
	}
}

// emergencyExit cancels the take-profit and flattens at market. Both steps
// are best-effort, run on a detached context and are always attempted.
func (e *Engine) emergencyExit(ctx context.Context, log *slog.Logger, sess *symbolSession,
	tpSide domain.Side, tpID string, qty decimal.Decimal) {
	symbol := sess.symbol
	detached := context.WithoutCancel(ctx)

	cctx, cancel := context.WithTimeout(detached, compensationTimeout)
	err := e.gateway.Cancel(cctx, tpID)
	cancel()
	if err != nil {
		log.Warn("emergency cancel of take-profit failed",
			slog.String("order_id", tpID),
			slog.String("error", err.Error()),
		)
	} else {
		sess.setTakeProfit("")
	}

	mctx, cancel := context.WithTimeout(detached, compensationTimeout)
	exitID, err := e.gateway.PlaceMarket(mctx, symbol, tpSide, qty, e.newID(domain.OrderRoleExit))
	cancel()
	detail := map[string]any{
		"tp_order_id": tpID,
		"side":        string(tpSide),
		"qty":         qty.String(),
	}
	if err != nil {
		e.opts.Metrics.Order("exit", "error")
		log.Error("emergency market exit failed", slog.String("error", err.Error()))
		detail["error"] = err.Error()
		e.record(domain.StageEmergencyExit, symbol, "", detail)
		return
	}
	e.opts.Metrics.Order("exit", "placed")
	log.Warn("density broken, exited at market",
		slog.String("tp_order_id", tpID),
		slog.String("exit_order_id", exitID),
	)
	e.record(domain.StageEmergencyExit, symbol, exitID, detail)
}

// waitDensityBreak polls the book until the cluster level disappears or
// shrinks below BreakFactor of its original size. It returns false when
// ctx ends first. A nil cluster never breaks.
func (e *Engine) waitDensityBreak(ctx context.Context, symbol string, cluster *domain.DensitySignal, s domain.ScalperSettings) bool {
	if cluster == nil {
		<-ctx.Done()
		return false
	}
	interval := s.BreakCheckInterval()
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			snap, ok := e.books.Snapshot(symbol, s.Depth)
			if !ok {
				continue
			}
			if densityBroken(snap, *cluster, s.BreakFactor) {
				return true
			}
		}
	}
}

// densityBroken reports whether the cluster level is gone from the visible
// depth or has shrunk below factor times its original size.
func densityBroken(snap domain.OrderBookSnapshot, cluster domain.DensitySignal, factor decimal.Decimal) bool {
	levels := snap.Bids
	if cluster.Side == domain.SideSell {
		levels = snap.Asks
	}
	for _, lvl := range levels {
		if lvl.Price.Equal(cluster.Price) {
			return lvl.Size.LessThan(cluster.Size.Mul(factor))
		}
	}
	return true
}

// orderShares converts the configured quantity to shares. It fails unless
// the result is a positive whole number.
func orderShares(s domain.ScalperSettings, lot decimal.Decimal) (decimal.Decimal, bool) {
	qty := s.Qty
	if s.OrderQtyIsLots {
		if !lot.IsPositive() {
			return decimal.Zero, false
		}
		qty = qty.Mul(lot)
	}
	if !qty.IsPositive() || !qty.IsInteger() {
		return decimal.Zero, false
	}
	return qty, true
}

// takeProfitPrice offsets the entry by pct in the profitable direction and
// rounds toward the more favourable fill for the exit side.
func takeProfitPrice(entrySide domain.Side, entry, pct, step decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if entrySide == domain.SideBuy {
		return tickmath.RoundUpToStep(entry.Mul(one.Add(pct)), step)
	}
	return tickmath.RoundDownToStep(entry.Mul(one.Sub(pct)), step)
}

func (e *Engine) abort(log *slog.Logger, symbol, reason string, attrs ...any) string {
	log.Warn("cycle aborted: "+reason, attrs...)
	e.record(domain.StageCycleAborted, symbol, "", map[string]any{"reason": reason})
	return outcomeAborted
}
