package density

import (
	"testing"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lvl(p, s string) domain.Level { return domain.Level{Price: d(p), Size: d(s)} }

func settings() domain.ScalperSettings {
	s := domain.DefaultScalperSettings()
	s.DensityCoef = d("1")
	s.OrderBookSizeIsLots = false
	s.MinDayVolumeShares = d("100")
	return s
}

func liquidity() *domain.LiquiditySnapshot {
	return &domain.LiquiditySnapshot{
		LotSize:               d("1"),
		DayVolumeShares:       d("50000"),
		AvgWindowVolumeShares: d("1000"),
	}
}

func TestThreshold(t *testing.T) {
	pass := domain.OrderBookSnapshot{Symbol: "X", Bids: []domain.Level{lvl("100", "1200")}}
	sig, ok := TryFind(pass, settings(), liquidity())
	require.True(t, ok)
	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.True(t, sig.Size.Equal(d("1200")))

	fail := domain.OrderBookSnapshot{Symbol: "X", Bids: []domain.Level{lvl("100", "900")}}
	_, ok = TryFind(fail, settings(), liquidity())
	assert.False(t, ok)
}

func TestGates(t *testing.T) {
	snap := domain.OrderBookSnapshot{Symbol: "X", Bids: []domain.Level{lvl("100", "5000")}}

	_, ok := TryFind(snap, settings(), nil)
	assert.False(t, ok, "missing liquidity")

	thin := liquidity()
	thin.DayVolumeShares = d("99")
	_, ok = TryFind(snap, settings(), thin)
	assert.False(t, ok, "day volume below gate")
}

func TestLotsConversion(t *testing.T) {
	s := settings()
	s.OrderBookSizeIsLots = true
	liq := liquidity()
	liq.LotSize = d("10")

	snap := domain.OrderBookSnapshot{Symbol: "X", Asks: []domain.Level{lvl("101", "150")}}
	sig, ok := TryFind(snap, s, liq)
	require.True(t, ok, "150 lots of 10 is 1500 shares")
	assert.Equal(t, domain.SideSell, sig.Side)
	assert.True(t, sig.Size.Equal(d("150")), "signal keeps the raw book size")
}

func TestPicksMaxAcrossSidesAndTieFavoursBid(t *testing.T) {
	snap := domain.OrderBookSnapshot{
		Symbol: "X",
		Bids:   []domain.Level{lvl("100", "1100"), lvl("99.9", "2000")},
		Asks:   []domain.Level{lvl("100.1", "3000"), lvl("100.2", "1500")},
	}
	sig, ok := TryFind(snap, settings(), liquidity())
	require.True(t, ok)
	assert.Equal(t, domain.SideSell, sig.Side)
	assert.True(t, sig.Price.Equal(d("100.1")))

	tie := domain.OrderBookSnapshot{
		Symbol: "X",
		Bids:   []domain.Level{lvl("100", "2000")},
		Asks:   []domain.Level{lvl("100.1", "2000")},
	}
	sig, ok = TryFind(tie, settings(), liquidity())
	require.True(t, ok)
	assert.Equal(t, domain.SideBuy, sig.Side)
}

func TestDepthLimitsScan(t *testing.T) {
	s := settings()
	s.Depth = 1
	snap := domain.OrderBookSnapshot{
		Symbol: "X",
		Bids:   []domain.Level{lvl("100", "10"), lvl("99", "9000")},
	}
	_, ok := TryFind(snap, s, liquidity())
	assert.False(t, ok)
}

func TestEndToEndBookProducesBuySignal(t *testing.T) {
	snap := domain.OrderBookSnapshot{
		Symbol: "X",
		Bids:   []domain.Level{lvl("100.00", "5000")},
		Asks:   []domain.Level{lvl("100.10", "4000")},
	}
	sig, ok := TryFind(snap, settings(), liquidity())
	require.True(t, ok)
	assert.Equal(t, domain.SideBuy, sig.Side)
	assert.True(t, sig.Price.Equal(d("100")))
	assert.True(t, sig.Size.Equal(d("5000")))
}
