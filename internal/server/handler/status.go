package handler

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/scalper"
)

// Controller is the engine surface the API drives.
type Controller interface {
	Start(ctx context.Context, s domain.ScalperSettings) error
	Stop() error
	Panic(ctx context.Context) scalper.PanicReport
	ManualTest(symbol string, side domain.Side) error
	Status() scalper.Status
}

// StatusHandler serves the engine state for dashboards.
type StatusHandler struct {
	engine Controller
	mode   string
}

// NewStatusHandler creates a StatusHandler reporting the process mode.
func NewStatusHandler(engine Controller, mode string) *StatusHandler {
	return &StatusHandler{engine: engine, mode: mode}
}

// GetStatus responds with the running flag, the active settings and every
// symbol session with its open order ids.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    h.mode,
		"scalper": h.engine.Status(),
	})
}
