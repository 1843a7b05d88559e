// Package orderbook reconstructs a per-symbol order book from incremental
// diff rows and extracts throttled snapshots.
package orderbook

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/shopspring/decimal"
)

// Cache holds one symbol's book. Price keys use the canonical decimal string
// so "100.0" and "100.00" address the same level.
type Cache struct {
	symbol string

	mu   sync.Mutex
	bids map[string]domain.Level
	asks map[string]domain.Level

	dirty atomic.Bool
}

// New creates an empty Cache for symbol.
func New(symbol string) *Cache {
	return &Cache{
		symbol: symbol,
		bids:   make(map[string]domain.Level),
		asks:   make(map[string]domain.Level),
	}
}

// Symbol returns the symbol this cache tracks.
func (c *Cache) Symbol() string { return c.symbol }

// ApplyRow applies one diff row. A remove action deletes the price
// unconditionally; any other action deletes on size <= 0 and upserts
// otherwise. Rows whose price or size cannot be parsed leave the book
// untouched and return domain.ErrMalformedRow.
func (c *Cache) ApplyRow(row domain.BookRow) error {
	price, err := decimal.NewFromString(strings.TrimSpace(row.Price))
	if err != nil {
		return fmt.Errorf("orderbook: %s price %q: %w", c.symbol, row.Price, domain.ErrMalformedRow)
	}
	remove := row.Action.IsRemove()
	var size decimal.Decimal
	if !remove {
		size, err = decimal.NewFromString(strings.TrimSpace(row.Size))
		if err != nil {
			return fmt.Errorf("orderbook: %s size %q: %w", c.symbol, row.Size, domain.ErrMalformedRow)
		}
	}

	key := price.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	side := c.bids
	if row.Side == domain.SideSell {
		side = c.asks
	}

	changed := false
	if remove || !size.IsPositive() {
		if _, ok := side[key]; ok {
			delete(side, key)
			changed = true
		}
	} else {
		old, ok := side[key]
		if !ok || !old.Size.Equal(size) {
			side[key] = domain.Level{Price: price, Size: size}
			changed = true
		}
	}
	if changed {
		c.dirty.Store(true)
	}
	return nil
}

// TryBuildSnapshot reads and clears the dirty flag under the book mutex. It
// reports false when nothing changed since the previous call; otherwise it
// returns the top depth levels per side.
func (c *Cache) TryBuildSnapshot(depth int) (domain.OrderBookSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty.Swap(false) {
		return domain.OrderBookSnapshot{}, false
	}
	return c.topNLocked(depth), true
}

// TopN returns the top n levels per side without touching the dirty flag.
func (c *Cache) TopN(n int) domain.OrderBookSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topNLocked(n)
}

func (c *Cache) topNLocked(n int) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Symbol:    c.symbol,
		Timestamp: time.Now().UTC(),
		Bids:      topLevels(c.bids, n, true),
		Asks:      topLevels(c.asks, n, false),
	}
}

// Best returns the current best bid and ask. Either reports false when its
// side is empty.
func (c *Cache) Best() (bid domain.Level, okBid bool, ask domain.Level, okAsk bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range c.bids {
		if !okBid || l.Price.GreaterThan(bid.Price) {
			bid, okBid = l, true
		}
	}
	for _, l := range c.asks {
		if !okAsk || l.Price.LessThan(ask.Price) {
			ask, okAsk = l, true
		}
	}
	return bid, okBid, ask, okAsk
}

// Len returns the number of bid and ask levels held.
func (c *Cache) Len() (bids, asks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bids), len(c.asks)
}

func topLevels(side map[string]domain.Level, n int, desc bool) []domain.Level {
	out := make([]domain.Level, 0, len(side))
	for _, l := range side {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if desc {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
