// Package tickmath quantizes prices to an instrument's price step.
package tickmath

import (
	"sort"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/shopspring/decimal"
)

// DeriveStepFromOrderBook returns the smallest positive gap between distinct
// prices in the top depth levels of both sides combined. It reports false
// when fewer than two distinct prices are present.
func DeriveStepFromOrderBook(snap domain.OrderBookSnapshot, depth int) (decimal.Decimal, bool) {
	seen := make(map[string]struct{})
	prices := make([]decimal.Decimal, 0, 2*depth)
	add := func(levels []domain.Level) {
		for i, l := range levels {
			if i >= depth {
				break
			}
			k := l.Price.String()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			prices = append(prices, l.Price)
		}
	}
	add(snap.Bids)
	add(snap.Asks)
	if len(prices) < 2 {
		return decimal.Zero, false
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	var best decimal.Decimal
	found := false
	for i := 1; i < len(prices); i++ {
		d := prices[i].Sub(prices[i-1])
		if !d.IsPositive() {
			continue
		}
		if !found || d.LessThan(best) {
			best, found = d, true
		}
	}
	return best, found
}

// RoundToStep rounds price half away from zero to the nearest multiple of step.
func RoundToStep(price, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	return price.Div(step).Round(0).Mul(step)
}

// RoundUpToStep returns the smallest multiple of step not below price.
func RoundUpToStep(price, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	return price.Div(step).Ceil().Mul(step)
}

// RoundDownToStep returns the largest multiple of step not above price.
func RoundDownToStep(price, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	return price.Div(step).Floor().Mul(step)
}

// ShiftFromDensity moves an entry price ahead of the density level: above it
// for a buy, below it for a sell.
func ShiftFromDensity(side domain.Side, densityPrice, step decimal.Decimal, ticks int) decimal.Decimal {
	if !step.IsPositive() || ticks == 0 {
		return densityPrice
	}
	shift := step.Mul(decimal.NewFromInt(int64(ticks)))
	if side == domain.SideBuy {
		return densityPrice.Add(shift)
	}
	return densityPrice.Sub(shift)
}

// ClampNonCrossing keeps a new limit order from matching the opposite best
// price: a buy is capped at bestAsk-step, a sell floored at bestBid+step.
func ClampNonCrossing(side domain.Side, price decimal.Decimal, snap domain.OrderBookSnapshot, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return price
	}
	bid, okBid := snap.BestBid()
	ask, okAsk := snap.BestAsk()
	if !okBid || !okAsk {
		return price
	}
	if side == domain.SideBuy {
		if maxBuy := ask.Price.Sub(step); price.GreaterThan(maxBuy) {
			return maxBuy
		}
		return price
	}
	if minSell := bid.Price.Add(step); price.LessThan(minSell) {
		return minSell
	}
	return price
}
