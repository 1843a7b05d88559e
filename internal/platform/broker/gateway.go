package broker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/executor"
	"github.com/shopspring/decimal"
)

const (
	orderStreamRetryDelay = 300 * time.Millisecond
	tradeReplayWindow     = 10 * time.Minute
)

// Gateway is the trading surface for one account: typed placement and
// cancellation plus fan-out of the order/trade stream to subscribers.
type Gateway struct {
	client    *Client
	streams   *Streams
	accountID string
	logger    *slog.Logger
	trades    *executor.Dedup

	mu        sync.RWMutex
	nextSub   int
	orderSubs []orderSub // in subscription order
	tradeSubs []tradeSub
}

type orderSub struct {
	id int
	fn func(domain.OrderUpdate)
}

type tradeSub struct {
	id int
	fn func(domain.TradeUpdate)
}

// NewGateway creates a Gateway for accountID.
func NewGateway(client *Client, streams *Streams, accountID string, logger *slog.Logger) *Gateway {
	return &Gateway{
		client:    client,
		streams:   streams,
		accountID: accountID,
		logger:    logger.With(slog.String("component", "gateway")),
		trades:    executor.NewDedup(tradeReplayWindow),
	}
}

// AccountID returns the account orders are placed on.
func (g *Gateway) AccountID() string { return g.accountID }

// PlaceLimit places a day limit order.
func (g *Gateway) PlaceLimit(ctx context.Context, symbol string, side domain.Side, qty, price decimal.Decimal, clientOrderID string) (string, error) {
	return g.client.PlaceOrder(ctx, g.accountID, domain.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          domain.OrderTypeLimit,
		Quantity:      qty,
		LimitPrice:    price,
		ClientOrderID: clientOrderID,
	})
}

// PlaceMarket places a market order.
func (g *Gateway) PlaceMarket(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, clientOrderID string) (string, error) {
	return g.client.PlaceOrder(ctx, g.accountID, domain.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          domain.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: clientOrderID,
	})
}

// Cancel cancels an order by broker id.
func (g *Gateway) Cancel(ctx context.Context, orderID string) error {
	return g.client.CancelOrder(ctx, g.accountID, orderID)
}

// OnOrderUpdate subscribes fn to order updates. Subscribers run in
// subscription order on the stream goroutine. The returned func removes the
// subscription.
func (g *Gateway) OnOrderUpdate(fn func(domain.OrderUpdate)) (unsubscribe func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSub
	g.nextSub++
	g.orderSubs = append(g.orderSubs, orderSub{id: id, fn: fn})
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, s := range g.orderSubs {
			if s.id == id {
				g.orderSubs = append(g.orderSubs[:i:i], g.orderSubs[i+1:]...)
				return
			}
		}
	}
}

// OnTrade subscribes fn to de-duplicated trade updates.
func (g *Gateway) OnTrade(fn func(domain.TradeUpdate)) (unsubscribe func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextSub
	g.nextSub++
	g.tradeSubs = append(g.tradeSubs, tradeSub{id: id, fn: fn})
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		for i, s := range g.tradeSubs {
			if s.id == id {
				g.tradeSubs = append(g.tradeSubs[:i:i], g.tradeSubs[i+1:]...)
				return
			}
		}
	}
}

// RunOrderTradeStream keeps the order/trade stream open until ctx is
// cancelled, reconnecting after a fixed delay.
func (g *Gateway) RunOrderTradeStream(ctx context.Context) error {
	for {
		err := g.streams.StreamOrderTrades(ctx, g.accountID, g.dispatchOrder, g.dispatchTrade)
		if ctx.Err() != nil {
			return nil
		}
		attrs := []any{slog.String("op", "order_trade_stream")}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		g.logger.Warn("order stream disconnected, reconnecting", attrs...)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(orderStreamRetryDelay):
		}
	}
}

func (g *Gateway) dispatchOrder(u domain.OrderUpdate) {
	g.mu.RLock()
	subs := g.orderSubs
	g.mu.RUnlock()
	for _, s := range subs {
		s.fn(u)
	}
}

func (g *Gateway) dispatchTrade(t domain.TradeUpdate) {
	if g.trades.IsDuplicate(t.TradeID) {
		return
	}
	g.mu.RLock()
	subs := g.tradeSubs
	g.mu.RUnlock()
	for _, s := range subs {
		s.fn(t)
	}
}

var _ domain.TradingGateway = (*Gateway)(nil)
