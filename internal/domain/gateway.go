package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TradingGateway places and cancels orders at the broker.
type TradingGateway interface {
	PlaceLimit(ctx context.Context, symbol string, side Side, qty, price decimal.Decimal, clientOrderID string) (orderID string, err error)
	PlaceMarket(ctx context.Context, symbol string, side Side, qty decimal.Decimal, clientOrderID string) (orderID string, err error)
	Cancel(ctx context.Context, orderID string) error
}

// BookSource returns the current top of book without consuming any
// publish-cadence state.
type BookSource interface {
	Snapshot(symbol string, depth int) (OrderBookSnapshot, bool)
}

// LiquiditySource supplies per-symbol liquidity estimates.
type LiquiditySource interface {
	TryGet(symbol string, now time.Time, windowMinutes int) (LiquiditySnapshot, bool)
}

// OrderWaiter resolves an order's terminal status from pushed updates.
type OrderWaiter interface {
	WaitFinal(ctx context.Context, orderID string) (OrderUpdate, error)
}

// EventSink receives lifecycle events. Implementations must not block.
type EventSink interface {
	Record(ev LifecycleEvent)
}

// SnapshotHandler consumes published order book snapshots.
type SnapshotHandler func(snap OrderBookSnapshot)
