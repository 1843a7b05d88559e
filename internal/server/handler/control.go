package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/liquidity"
)

// ControlHandler starts, stops and flattens the scalper.
type ControlHandler struct {
	engine   Controller
	defaults func() domain.ScalperSettings
	runCtx   context.Context
	board    string
	logger   *slog.Logger
}

// NewControlHandler creates a ControlHandler. defaults supplies the settings
// used by a start request with no body. The engine's cycles run under
// runCtx rather than the request context. Symbols without a board get
// board appended.
func NewControlHandler(runCtx context.Context, engine Controller, defaults func() domain.ScalperSettings,
	board string, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		engine:   engine,
		defaults: defaults,
		runCtx:   runCtx,
		board:    board,
		logger:   logHandler(logger, "control"),
	}
}

// Start captures settings and starts the engine. A JSON body overrides
// individual fields of the configured settings.
// POST /api/scalper/start
func (h *ControlHandler) Start(w http.ResponseWriter, r *http.Request) {
	s := h.defaults()
	if _, err := decodeJSON(r, &s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	if err := validateSettings(s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.Start(h.runCtx, s); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("start failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("scalper started via api")
	writeJSON(w, http.StatusOK, map[string]any{"running": true, "settings": s})
}

// Stop halts admission and cancels in-flight waits.
// POST /api/scalper/stop
func (h *ControlHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Stop(); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.logger.Info("scalper stopped via api")
	writeJSON(w, http.StatusOK, map[string]any{"running": false})
}

// Panic stops the engine and cancels every tracked open order.
// POST /api/scalper/panic
func (h *ControlHandler) Panic(w http.ResponseWriter, r *http.Request) {
	report := h.engine.Panic(r.Context())
	h.logger.Warn("panic via api",
		slog.Int("cancelled", len(report.Cancelled)),
		slog.Int("failed", len(report.Failed)),
	)
	status := http.StatusOK
	if len(report.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

type manualRequest struct {
	Symbol string      `json:"symbol"`
	Side   domain.Side `json:"side"`
}

// Manual runs one test cycle at a price away from the top of book.
// POST /api/scalper/manual
func (h *ControlHandler) Manual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	ok, err := decodeJSON(r, &req)
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, `body must be {"symbol","side"}`)
		return
	}
	req.Symbol = liquidity.Normalize(req.Symbol, h.board)
	req.Side = domain.Side(strings.ToLower(string(req.Side)))
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		writeError(w, http.StatusBadRequest, `side must be "buy" or "sell"`)
		return
	}

	err = h.engine.ManualTest(req.Symbol, req.Side)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"symbol": req.Symbol, "side": req.Side})
	case errors.Is(err, domain.ErrNotRunning), errors.Is(err, domain.ErrCycleInFlight), errors.Is(err, domain.ErrSignalOnly):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoSnapshot), errors.Is(err, domain.ErrNoTopOfBook):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("manual test failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func validateSettings(s domain.ScalperSettings) error {
	var errs []string
	one := decimal.NewFromInt(1)
	if !s.Qty.IsPositive() {
		errs = append(errs, "qty must be > 0")
	}
	if s.LiquidityWindowMinutes < 1 {
		errs = append(errs, "liquidity_window_minutes must be >= 1")
	}
	if !s.DensityCoef.IsPositive() {
		errs = append(errs, "density_coef must be > 0")
	}
	if s.EntryOffsetTicks < 0 {
		errs = append(errs, "entry_offset_ticks must be >= 0")
	}
	if !s.TakeProfitPct.IsPositive() || s.TakeProfitPct.GreaterThanOrEqual(one) {
		errs = append(errs, "take_profit_pct must be in (0, 1)")
	}
	if !s.BreakFactor.IsPositive() || s.BreakFactor.GreaterThan(one) {
		errs = append(errs, "break_factor must be in (0, 1]")
	}
	if s.CooldownMs < 0 {
		errs = append(errs, "cooldown_ms must be >= 0")
	}
	if s.Depth < 1 {
		errs = append(errs, "depth must be >= 1")
	}
	if s.BreakCheckMs < 1 {
		errs = append(errs, "break_check_ms must be >= 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(errs, "; "))
	}
	return nil
}
