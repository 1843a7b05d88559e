// Package density finds the book level whose resting size dominates the
// recent traded volume.
package density

import (
	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/shopspring/decimal"
)

// TryFind scans the top levels of both sides and returns the level with the
// largest share count if it reaches avgWindowVolume*densityCoef. Bids are
// scanned first and ties keep the earlier level. A nil liq means the
// liquidity lookup failed and never yields a signal.
func TryFind(snap domain.OrderBookSnapshot, s domain.ScalperSettings, liq *domain.LiquiditySnapshot) (domain.DensitySignal, bool) {
	if liq == nil || liq.DayVolumeShares.LessThan(s.MinDayVolumeShares) {
		return domain.DensitySignal{}, false
	}
	threshold := liq.AvgWindowVolumeShares.Mul(s.DensityCoef)
	mult := decimal.NewFromInt(1)
	if s.OrderBookSizeIsLots {
		mult = liq.LotSize
	}

	var (
		best      domain.Level
		bestSide  domain.Side
		bestShare decimal.Decimal
		found     bool
	)
	scan := func(side domain.Side, levels []domain.Level) {
		for i, l := range levels {
			if i >= s.Depth {
				return
			}
			shares := l.Size.Mul(mult)
			if !found || shares.GreaterThan(bestShare) {
				best, bestSide, bestShare, found = l, side, shares, true
			}
		}
	}
	scan(domain.SideBuy, snap.Bids)
	scan(domain.SideSell, snap.Asks)

	if !found || bestShare.LessThan(threshold) {
		return domain.DensitySignal{}, false
	}
	return domain.DensitySignal{
		Symbol: snap.Symbol,
		Side:   bestSide,
		Price:  best.Price,
		Size:   best.Size,
	}, true
}
