// Package feed keeps one order book stream per symbol alive and publishes
// throttled snapshots of the reconstructed books.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/metrics"
	"github.com/alanyoungcy/densityscalper/internal/orderbook"
	"golang.org/x/sync/errgroup"
)

// BookStreamer opens one order book subscription and blocks until it ends.
type BookStreamer interface {
	StreamOrderBook(ctx context.Context, symbol string, fn func(domain.BookRow)) error
}

// Config configures the feed.
type Config struct {
	Symbols         []string
	Depth           int
	PublishInterval time.Duration
	ReconnectDelay  time.Duration
}

// OrderBookFeed owns the per-symbol caches. Symbols are fixed at
// construction.
type OrderBookFeed struct {
	src     BookStreamer
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Registry

	caches map[string]*orderbook.Cache
	order  []string

	mu      sync.RWMutex
	nextSub int
	subs    []subscriber
}

type subscriber struct {
	id int
	fn domain.SnapshotHandler
}

// New creates a feed for cfg.Symbols. m may be nil.
func New(src BookStreamer, cfg Config, logger *slog.Logger, m *metrics.Registry) *OrderBookFeed {
	if cfg.Depth <= 0 {
		cfg.Depth = 20
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 250 * time.Millisecond
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 300 * time.Millisecond
	}
	f := &OrderBookFeed{
		src:     src,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "book_feed")),
		metrics: m,
		caches:  make(map[string]*orderbook.Cache, len(cfg.Symbols)),
	}
	for _, s := range cfg.Symbols {
		if _, ok := f.caches[s]; ok {
			continue
		}
		f.caches[s] = orderbook.New(s)
		f.order = append(f.order, s)
	}
	return f
}

// Symbols returns the subscribed symbols in configuration order.
func (f *OrderBookFeed) Symbols() []string {
	return append([]string(nil), f.order...)
}

// Cache returns the live cache for symbol.
func (f *OrderBookFeed) Cache(symbol string) (*orderbook.Cache, bool) {
	c, ok := f.caches[symbol]
	return c, ok
}

// Snapshot returns the current top depth levels for symbol without consuming
// the publish dirty flag. It reports false for unknown symbols and empty books.
func (f *OrderBookFeed) Snapshot(symbol string, depth int) (domain.OrderBookSnapshot, bool) {
	c, ok := f.caches[symbol]
	if !ok {
		return domain.OrderBookSnapshot{}, false
	}
	snap := c.TopN(depth)
	if len(snap.Bids) == 0 && len(snap.Asks) == 0 {
		return snap, false
	}
	return snap, true
}

// Subscribe registers fn for every published snapshot. Handlers run on the
// publish goroutine in subscription order and must not block.
func (f *OrderBookFeed) Subscribe(fn domain.SnapshotHandler) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs = append(f.subs, subscriber{id: id, fn: fn})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, s := range f.subs {
			if s.id == id {
				f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
				return
			}
		}
	}
}

// Run starts one stream loop per symbol plus the publish loop and blocks
// until ctx is cancelled.
func (f *OrderBookFeed) Run(ctx context.Context) error {
	if len(f.order) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range f.order {
		cache := f.caches[s]
		g.Go(func() error {
			f.streamLoop(gctx, cache)
			return nil
		})
	}
	g.Go(func() error {
		f.publishLoop(gctx)
		return nil
	})
	f.logger.Info("book feed started", slog.Int("symbols", len(f.order)))
	err := g.Wait()
	f.logger.Info("book feed stopped")
	return err
}

func (f *OrderBookFeed) streamLoop(ctx context.Context, cache *orderbook.Cache) {
	symbol := cache.Symbol()
	apply := func(row domain.BookRow) {
		if err := cache.ApplyRow(row); err != nil {
			f.metrics.RowMalformed(symbol)
			f.logger.Debug("book row dropped",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		f.metrics.RowApplied(symbol)
	}
	for {
		err := f.src.StreamOrderBook(ctx, symbol, apply)
		if ctx.Err() != nil {
			return
		}
		attrs := []any{slog.String("symbol", symbol), slog.String("op", "order_book_stream")}
		if err != nil && !errors.Is(err, context.Canceled) {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		f.logger.Warn("book stream disconnected, reconnecting", attrs...)
		f.metrics.Reconnect("order_book")
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.cfg.ReconnectDelay):
		}
	}
}

func (f *OrderBookFeed) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.publishChanged()
		}
	}
}

// publishChanged emits a snapshot for every symbol whose book changed since
// the previous tick.
func (f *OrderBookFeed) publishChanged() {
	for _, s := range f.order {
		snap, ok := f.caches[s].TryBuildSnapshot(f.cfg.Depth)
		if !ok {
			continue
		}
		f.metrics.SnapshotPublished(s)
		f.mu.RLock()
		subs := f.subs
		f.mu.RUnlock()
		for _, sub := range subs {
			sub.fn(snap)
		}
	}
}

var _ domain.BookSource = (*OrderBookFeed)(nil)
