package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrStreamClosed   = errors.New("stream closed")
	ErrLockHeld       = errors.New("lock already held")
	ErrMalformedRow   = errors.New("malformed book row")
	ErrNotRunning     = errors.New("scalper not running")
	ErrAlreadyRunning = errors.New("scalper already running")
	ErrCycleInFlight  = errors.New("trade cycle already in flight")
	ErrNoSnapshot     = errors.New("no order book snapshot")
	ErrNoTopOfBook    = errors.New("no top of book")
	ErrNoToken        = errors.New("no access token")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrSignalOnly     = errors.New("scalper in signal-only mode")
)
