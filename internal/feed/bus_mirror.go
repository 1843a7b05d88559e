package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
)

// bookEvent is the JSON shape published to "ch:book:<symbol>".
type bookEvent struct {
	Event     string         `json:"event"`
	Symbol    string         `json:"symbol"`
	BestBid   string         `json:"best_bid,omitempty"`
	BestAsk   string         `json:"best_ask,omitempty"`
	Bids      []domain.Level `json:"bids"`
	Asks      []domain.Level `json:"asks"`
	Timestamp string         `json:"timestamp"`
}

// BusMirror republishes feed snapshots on the signal bus for dashboards and
// other processes, and stores the latest one in the book cache when one is
// set. Snapshots are queued so a slow bus never stalls the publish loop.
// When the queue is full the new snapshot is dropped.
type BusMirror struct {
	bus    domain.SignalBus
	store  domain.BookCache
	queue  chan domain.OrderBookSnapshot
	logger *slog.Logger
}

// NewBusMirror creates a mirror with a bounded queue. store may be nil.
func NewBusMirror(bus domain.SignalBus, store domain.BookCache, queueSize int, logger *slog.Logger) *BusMirror {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &BusMirror{
		bus:    bus,
		store:  store,
		queue:  make(chan domain.OrderBookSnapshot, queueSize),
		logger: logger.With(slog.String("component", "bus_mirror")),
	}
}

// Handle is a domain.SnapshotHandler. It never blocks.
func (m *BusMirror) Handle(snap domain.OrderBookSnapshot) {
	select {
	case m.queue <- snap:
	default:
	}
}

// Run drains the queue onto the bus until ctx is cancelled.
func (m *BusMirror) Run(ctx context.Context) error {
	m.logger.Info("bus mirror started")
	defer m.logger.Info("bus mirror stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-m.queue:
			if err := m.publish(ctx, snap); err != nil && ctx.Err() == nil {
				m.logger.Debug("bus mirror publish failed",
					slog.String("symbol", snap.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (m *BusMirror) publish(ctx context.Context, snap domain.OrderBookSnapshot) error {
	ev := bookEvent{
		Event:     "book_update",
		Symbol:    snap.Symbol,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
		Timestamp: snap.Timestamp.Format(time.RFC3339Nano),
	}
	if b, ok := snap.BestBid(); ok {
		ev.BestBid = b.Price.String()
	}
	if a, ok := snap.BestAsk(); ok {
		ev.BestAsk = a.Price.String()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.SetSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return m.bus.Publish(ctx, domain.ChannelBookPrefix+snap.Symbol, data)
}
