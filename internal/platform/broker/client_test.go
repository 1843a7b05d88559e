package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{RESTHost: srv.URL, OrderRatePerSec: 1000, OrderBurst: 100, BreakerMaxFailures: 2, BreakerOpenTimeout: time.Minute}, testLogger())
	c.SetAuthorizer(staticToken("tok"))
	return c
}

func TestAssetAndSchedule(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/assets/{symbol}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "SBER@MISX", r.PathValue("symbol"))
		assert.Equal(t, "acc1", r.URL.Query().Get("account_id"))
		_, _ = w.Write([]byte(`{"lot_size":{"value":"10"},"min_step":"1","decimals":2}`))
	})
	mux.HandleFunc("GET /v1/assets/{symbol}/schedule", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sessions":[
			{"type":"EARLY_TRADING","interval":{"start_time":"2026-03-02T04:00:00Z","end_time":"2026-03-02T07:00:00Z"}},
			{"type":"CLOSED","interval":{"start_time":"2026-03-02T07:00:00Z","end_time":"2026-03-02T07:30:00Z"}},
			{"type":"CORE_TRADING","interval":{"start_time":"2026-03-02T07:30:00Z","end_time":"2026-03-02T15:40:00Z"}},
			{"type":"BROKEN","interval":{"start_time":"2026-03-02T16:00:00Z","end_time":"2026-03-02T15:00:00Z"}}
		]}`))
	})
	c := newTestClient(t, mux)

	info, err := c.Asset(context.Background(), "acc1", "SBER@MISX")
	require.NoError(t, err)
	assert.True(t, info.LotSize.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "0.01", info.PriceStep.String())

	sessions, err := c.Schedule(context.Background(), "SBER@MISX")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, 4, sessions[0].Start.Hour())
	assert.Equal(t, 30, sessions[1].Start.Minute())
}

func TestLastQuote(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/instruments/SBER@MISX/quotes/latest", r.URL.Path)
		_, _ = w.Write([]byte(`{"quote":{"symbol":"SBER@MISX","volume":{"value":"123456"}}}`))
	}))
	q, err := c.LastQuote(context.Background(), "SBER@MISX")
	require.NoError(t, err)
	assert.Equal(t, "123456", q.DayVolume.String())
}

func TestPlaceAndCancelOrder(t *testing.T) {
	var got placeOrderRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/accounts/{acct}/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acc1", r.PathValue("acct"))
		got = placeOrderRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"order_id":"ord-1"}`))
	})
	var cancelled atomic.Bool
	mux.HandleFunc("DELETE /v1/accounts/{acct}/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ord-1", r.PathValue("id"))
		cancelled.Store(true)
		_, _ = w.Write([]byte(`{}`))
	})
	c := newTestClient(t, mux)

	id, err := c.PlaceOrder(context.Background(), "acc1", domain.OrderRequest{
		Symbol:        "SBER@MISX",
		Side:          domain.SideSell,
		Type:          domain.OrderTypeLimit,
		Quantity:      decimal.NewFromInt(10),
		LimitPrice:    decimal.RequireFromString("100.05"),
		ClientOrderID: "T0123456789abcdef012",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", id)
	assert.Equal(t, "SIDE_SELL", got.Side)
	assert.Equal(t, "ORDER_TYPE_LIMIT", got.Type)
	assert.Equal(t, "100.05", got.LimitPrice.Value)
	assert.Equal(t, "10", got.Quantity.Value)

	_, err = c.PlaceOrder(context.Background(), "acc1", domain.OrderRequest{
		Symbol: "SBER@MISX", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, "ORDER_TYPE_MARKET", got.Type)
	assert.Nil(t, got.LimitPrice)

	require.NoError(t, c.CancelOrder(context.Background(), "acc1", "ord-1"))
	assert.True(t, cancelled.Load())
}

func TestPlaceOrderRejectsInvalidRequests(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"order_id":"x"}`))
	}))

	_, err := c.PlaceOrder(context.Background(), "acc1", domain.OrderRequest{
		Symbol: "SBER@MISX", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = c.PlaceOrder(context.Background(), "acc1", domain.OrderRequest{
		Symbol: "SBER@MISX", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Zero(t, calls.Load())
}

func TestStatusMapping(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusNotFound)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(code.Load()))
		_, _ = w.Write([]byte("nope"))
	}))
	_, err := c.LastQuote(context.Background(), "X")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	code.Store(http.StatusUnauthorized)
	_, err = c.LastQuote(context.Background(), "X")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	code.Store(http.StatusTooManyRequests)
	_, err = c.LastQuote(context.Background(), "X")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	for i := 0; i < 2; i++ {
		_, err := c.LastQuote(context.Background(), "X")
		require.Error(t, err)
	}
	_, err := c.LastQuote(context.Background(), "X")
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	for i := 0; i < 5; i++ {
		_, err := c.LastQuote(context.Background(), "X")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrCircuitOpen)
	}
}

func TestAuthAndTokenDetailsAreUnauthenticated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		var req authRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "s3cret", req.Secret)
		_, _ = w.Write([]byte(`{"token":"jwt-1"}`))
	})
	mux.HandleFunc("POST /v1/sessions/details", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"account_ids":["A1","A2"]}`))
	})
	c := newTestClient(t, mux)

	tok, err := c.Auth(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", tok)

	ids, err := c.TokenDetails(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2"}, ids)
}
