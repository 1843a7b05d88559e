package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Streams opens one WebSocket per subscription. Each Stream* call blocks
// until the connection fails or ctx is cancelled; reconnecting is the
// caller's job.
type Streams struct {
	wsURL  string
	auth   Authorizer
	dialer websocket.Dialer
}

// NewStreams creates a stream client for the broker WebSocket endpoint.
func NewStreams(wsURL string, auth Authorizer) *Streams {
	return &Streams{
		wsURL:  wsURL,
		auth:   auth,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
	}
}

// SetAuthorizer installs the token source used on the handshake.
func (s *Streams) SetAuthorizer(a Authorizer) { s.auth = a }

// StreamOrderBook delivers book diff rows for symbol. Rows carrying neither a
// buy nor a sell size are skipped.
func (s *Streams) StreamOrderBook(ctx context.Context, symbol string, fn func(domain.BookRow)) error {
	cmd := wsCommand{Action: "SUBSCRIBE", Type: StreamOrderBook, Symbol: symbol}
	return s.run(ctx, cmd, true, func(env *wsEnvelope) {
		for _, book := range env.OrderBook {
			for _, r := range book.Rows {
				if row, ok := rowFromMessage(r); ok {
					fn(row)
				}
			}
		}
	})
}

// StreamQuotes delivers day-volume quotes for symbols.
func (s *Streams) StreamQuotes(ctx context.Context, symbols []string, fn func(domain.Quote)) error {
	cmd := wsCommand{Action: "SUBSCRIBE", Type: StreamQuotes, Symbols: symbols}
	return s.run(ctx, cmd, true, func(env *wsEnvelope) {
		for _, q := range env.Quote {
			if v, ok := q.Volume.Parse(); ok {
				fn(domain.Quote{Symbol: q.Symbol, DayVolume: v})
			}
		}
	})
}

// StreamOrderTrades delivers order state transitions and fills for an
// account.
func (s *Streams) StreamOrderTrades(ctx context.Context, accountID string, onOrder func(domain.OrderUpdate), onTrade func(domain.TradeUpdate)) error {
	cmd := wsCommand{Action: "SUBSCRIBE", Type: StreamOrderTrade, AccountID: accountID}
	return s.run(ctx, cmd, true, func(env *wsEnvelope) {
		for _, o := range env.Orders {
			if o.OrderID != "" {
				onOrder(orderUpdateFromMessage(o))
			}
		}
		for _, t := range env.Trades {
			if tu, ok := tradeUpdateFromMessage(t); ok {
				onTrade(tu)
			}
		}
	})
}

// StreamTokenRenewal delivers every renewed access token. It authenticates
// with the secret itself, not a bearer token.
func (s *Streams) StreamTokenRenewal(ctx context.Context, secret string, fn func(token string)) error {
	cmd := wsCommand{Action: "SUBSCRIBE", Type: StreamJWTRenewal, Secret: secret}
	return s.run(ctx, cmd, false, func(env *wsEnvelope) {
		if env.Token != "" {
			fn(env.Token)
		}
	})
}

func (s *Streams) run(ctx context.Context, cmd wsCommand, authenticated bool, handle func(*wsEnvelope)) error {
	header := http.Header{}
	if authenticated {
		if s.auth == nil {
			return fmt.Errorf("broker/ws: %s: %w", cmd.Type, domain.ErrNoToken)
		}
		token, err := s.auth.Token(ctx)
		if err != nil {
			return fmt.Errorf("broker/ws: %s: %w", cmd.Type, err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return fmt.Errorf("broker/ws: %s: connect: %w", cmd.Type, err)
	}

	var writeMu sync.Mutex
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			writeMu.Unlock()
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()
	go pingLoop(conn, &writeMu, done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("broker/ws: marshal command: %w", err)
	}
	writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, data)
	writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("broker/ws: %s: subscribe: %w", cmd.Type, err)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("broker/ws: %s: %w: %v", cmd.Type, domain.ErrStreamClosed, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var env wsEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			continue // garbled frames are dropped
		}
		if env.Error != nil {
			if env.Error.Code == http.StatusUnauthorized || strings.Contains(strings.ToUpper(env.Error.Message), "UNAUTH") {
				return fmt.Errorf("broker/ws: %s: %w: %s", cmd.Type, domain.ErrUnauthorized, env.Error.Message)
			}
			return fmt.Errorf("broker/ws: %s: server error %d: %s", cmd.Type, env.Error.Code, env.Error.Message)
		}
		handle(&env)
	}
}

// pingLoop keeps the connection alive until done is closed.
func pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Instruments joins the REST metadata calls with the quote stream.
type Instruments struct {
	*Client
	*Streams
}
