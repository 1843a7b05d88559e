package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LiquiditySnapshot is derived on every lookup from cached metadata, live day
// volume and the session schedule.
type LiquiditySnapshot struct {
	LotSize               decimal.Decimal `json:"lot_size"`
	DayVolumeShares       decimal.Decimal `json:"day_volume_shares"`
	PriceStep             decimal.Decimal `json:"price_step"` // zero means derive from the book
	ElapsedTradingMinutes decimal.Decimal `json:"elapsed_trading_minutes"`
	AvgWindowVolumeShares decimal.Decimal `json:"avg_window_volume_shares"`
}

// AssetInfo is the static instrument metadata used for sizing.
type AssetInfo struct {
	LotSize   decimal.Decimal
	PriceStep decimal.Decimal
}

// Session is one trading interval in UTC.
type Session struct {
	Start time.Time
	End   time.Time
}

// Quote carries the day volume of an instrument.
type Quote struct {
	Symbol    string
	DayVolume decimal.Decimal
}
