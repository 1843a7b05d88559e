package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScalperSettings is the immutable strategy configuration captured at start.
type ScalperSettings struct {
	Qty                    decimal.Decimal `json:"qty"`
	OrderQtyIsLots         bool            `json:"order_qty_is_lots"`
	LiquidityWindowMinutes int             `json:"liquidity_window_minutes"`
	DensityCoef            decimal.Decimal `json:"density_coef"`
	MinDayVolumeShares     decimal.Decimal `json:"min_day_volume_shares"`
	OrderBookSizeIsLots    bool            `json:"order_book_size_is_lots"`
	EntryOffsetTicks       int             `json:"entry_offset_ticks"`
	TakeProfitPct          decimal.Decimal `json:"take_profit_pct"`
	BreakFactor            decimal.Decimal `json:"break_factor"`
	CooldownMs             int64           `json:"cooldown_ms"`
	Depth                  int             `json:"depth"`
	BreakCheckMs           int64           `json:"break_check_ms"`
}

// DefaultScalperSettings returns the stock strategy parameters.
func DefaultScalperSettings() ScalperSettings {
	return ScalperSettings{
		Qty:                    decimal.NewFromInt(1),
		OrderQtyIsLots:         true,
		LiquidityWindowMinutes: 5,
		DensityCoef:            decimal.NewFromInt(1),
		MinDayVolumeShares:     decimal.NewFromInt(100),
		OrderBookSizeIsLots:    true,
		EntryOffsetTicks:       1,
		TakeProfitPct:          decimal.RequireFromString("0.001"),
		BreakFactor:            decimal.RequireFromString("0.5"),
		CooldownMs:             2000,
		Depth:                  20,
		BreakCheckMs:           200,
	}
}

// BreakCheckInterval returns the decay-monitor poll interval.
func (s ScalperSettings) BreakCheckInterval() time.Duration {
	return time.Duration(s.BreakCheckMs) * time.Millisecond
}
