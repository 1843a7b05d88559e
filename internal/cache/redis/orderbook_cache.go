package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/densityscalper/internal/domain"
)

// DefaultBookTTL expires a symbol's cached book when the feed stops
// refreshing it.
const DefaultBookTTL = time.Minute

// BookCache implements domain.BookCache.
//
// Key schema:
//
//	book:{symbol}:bids      - sorted set of bid prices (score = price)
//	book:{symbol}:asks      - sorted set of ask prices (score = price)
//	book:{symbol}:bid:size  - hash price -> size for bids
//	book:{symbol}:ask:size  - hash price -> size for asks
//	book:{symbol}:meta      - hash with "ts" (unix nanos)
//
// Members are the exact decimal price strings; scores only order them.
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a BookCache. A non-positive ttl uses DefaultBookTTL.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	if ttl <= 0 {
		ttl = DefaultBookTTL
	}
	return &BookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookBidsKey(symbol string) string    { return "book:" + symbol + ":bids" }
func bookAsksKey(symbol string) string    { return "book:" + symbol + ":asks" }
func bookBidSizeKey(symbol string) string { return "book:" + symbol + ":bid:size" }
func bookAskSizeKey(symbol string) string { return "book:" + symbol + ":ask:size" }
func bookMetaKey(symbol string) string    { return "book:" + symbol + ":meta" }

// SetSnapshot atomically replaces the cached book for snap.Symbol.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	sym := snap.Symbol
	keys := []string{bookBidsKey(sym), bookAsksKey(sym), bookBidSizeKey(sym), bookAskSizeKey(sym), bookMetaKey(sym)}

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	writeSide(ctx, pipe, keys[0], keys[2], snap.Bids)
	writeSide(ctx, pipe, keys[1], keys[3], snap.Asks)
	pipe.HSet(ctx, keys[4], "ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10))
	for _, k := range keys {
		pipe.Expire(ctx, k, bc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", sym, err)
	}
	return nil
}

func writeSide(ctx context.Context, pipe redis.Pipeliner, zKey, hKey string, levels []domain.Level) {
	for _, lvl := range levels {
		p := lvl.Price.String()
		pipe.ZAdd(ctx, zKey, redis.Z{Score: lvl.Price.InexactFloat64(), Member: p})
		pipe.HSet(ctx, hKey, p, lvl.Size.String())
	}
}

// GetSnapshot rebuilds the cached book for symbol, bids descending and
// asks ascending. It returns domain.ErrNotFound when nothing is cached.
func (bc *BookCache) GetSnapshot(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	pipe := bc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, bookBidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRange(ctx, bookAsksKey(symbol), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(symbol))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(symbol))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", symbol, err)
	}

	meta := metaCmd.Val()
	if len(meta) == 0 {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get book %s: %w", symbol, domain.ErrNotFound)
	}
	snap := domain.OrderBookSnapshot{Symbol: symbol}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		snap.Timestamp = time.Unix(0, ns).UTC()
	}
	snap.Bids = readSide(bidsCmd.Val(), bidSizeCmd.Val())
	snap.Asks = readSide(asksCmd.Val(), askSizeCmd.Val())
	return snap, nil
}

func readSide(prices []string, sizes map[string]string) []domain.Level {
	out := make([]domain.Level, 0, len(prices))
	for _, p := range prices {
		price, err := decimal.NewFromString(p)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(sizes[p])
		if err != nil {
			continue
		}
		out = append(out, domain.Level{Price: price, Size: size})
	}
	return out
}

var _ domain.BookCache = (*BookCache)(nil)
