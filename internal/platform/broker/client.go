// Package broker talks to the brokerage REST and streaming APIs: auth,
// instrument metadata, quotes, order placement and the order/trade stream.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config configures the REST client.
type Config struct {
	RESTHost           string
	RequestTimeout     time.Duration
	OrderRatePerSec    float64
	OrderBurst         int
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// Authorizer supplies the bearer token for authenticated calls.
type Authorizer interface {
	Token(ctx context.Context) (string, error)
}

// Client is the broker REST client. Every call goes through a circuit
// breaker; order placement and cancellation also wait on a token bucket.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authorizer
	breaker    *gobreaker.CircuitBreaker
	orders     *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a REST client. Call SetAuthorizer before any
// authenticated request.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.OrderRatePerSec <= 0 {
		cfg.OrderRatePerSec = 10
	}
	if cfg.OrderBurst <= 0 {
		cfg.OrderBurst = 5
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	logger = logger.With(slog.String("component", "broker_client"))

	maxFailures := cfg.BreakerMaxFailures
	st := gobreaker.Settings{
		Name:     "broker_rest",
		Interval: 60 * time.Second,
		Timeout:  cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.RESTHost, "/"),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker:    gobreaker.NewCircuitBreaker(st),
		orders:     rate.NewLimiter(rate.Limit(cfg.OrderRatePerSec), cfg.OrderBurst),
		logger:     logger,
	}
}

// SetAuthorizer installs the token source used for authenticated calls.
func (c *Client) SetAuthorizer(a Authorizer) { c.auth = a }

// Auth exchanges the API secret for an access token.
func (c *Client) Auth(ctx context.Context, secret string) (string, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", authRequest{Secret: secret}, &resp, false); err != nil {
		return "", fmt.Errorf("broker: auth: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("broker: auth: %w", domain.ErrNoToken)
	}
	return resp.Token, nil
}

// TokenDetails returns the account ids the token grants access to.
func (c *Client) TokenDetails(ctx context.Context, token string) ([]string, error) {
	var resp tokenDetailsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/details", tokenDetailsRequest{Token: token}, &resp, false); err != nil {
		return nil, fmt.Errorf("broker: token details: %w", err)
	}
	return resp.AccountIDs, nil
}

// Asset returns lot size and price step for symbol. The step is
// min_step / 10^decimals; zero when it cannot be derived.
func (c *Client) Asset(ctx context.Context, accountID, symbol string) (domain.AssetInfo, error) {
	path := "/v1/assets/" + url.PathEscape(symbol) + "?account_id=" + url.QueryEscape(accountID)
	var resp assetResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return domain.AssetInfo{}, fmt.Errorf("broker: asset %s: %w", symbol, err)
	}
	info := domain.AssetInfo{LotSize: decimal.NewFromInt(1)}
	if lot, ok := resp.LotSize.Parse(); ok && lot.IsPositive() {
		info.LotSize = lot
	}
	if minStep, err := strconv.ParseInt(strings.TrimSpace(resp.MinStep), 10, 64); err == nil && minStep > 0 && resp.Decimals >= 0 {
		info.PriceStep = decimal.New(minStep, -int32(resp.Decimals))
	}
	return info, nil
}

// Schedule returns the open trading sessions for symbol, skipping closed
// and empty intervals.
func (c *Client) Schedule(ctx context.Context, symbol string) ([]domain.Session, error) {
	var resp scheduleResponse
	if err := c.do(ctx, http.MethodGet, "/v1/assets/"+url.PathEscape(symbol)+"/schedule", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("broker: schedule %s: %w", symbol, err)
	}
	out := make([]domain.Session, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		if strings.Contains(strings.ToUpper(s.Type), "CLOSED") || s.Interval == nil {
			continue
		}
		if s.Interval.StartTime == nil || s.Interval.EndTime == nil {
			continue
		}
		start, end := s.Interval.StartTime.UTC(), s.Interval.EndTime.UTC()
		if !end.After(start) {
			continue
		}
		out = append(out, domain.Session{Start: start, End: end})
	}
	return out, nil
}

// LastQuote returns the latest quote for symbol.
func (c *Client) LastQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	var resp lastQuoteResponse
	if err := c.do(ctx, http.MethodGet, "/v1/instruments/"+url.PathEscape(symbol)+"/quotes/latest", nil, &resp, true); err != nil {
		return domain.Quote{}, fmt.Errorf("broker: last quote %s: %w", symbol, err)
	}
	if resp.Quote == nil {
		return domain.Quote{}, fmt.Errorf("broker: last quote %s: %w", symbol, domain.ErrNotFound)
	}
	vol, ok := resp.Quote.Volume.Parse()
	if !ok {
		return domain.Quote{}, fmt.Errorf("broker: last quote %s: no volume", symbol)
	}
	return domain.Quote{Symbol: symbol, DayVolume: vol}, nil
}

// PlaceOrder submits an order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, accountID string, req domain.OrderRequest) (string, error) {
	if err := validateOrder(req); err != nil {
		return "", fmt.Errorf("broker: place order %s: %w", req.ClientOrderID, err)
	}
	if err := c.orders.Wait(ctx); err != nil {
		return "", fmt.Errorf("broker: place order: %w", err)
	}
	body := placeOrderRequest{
		Symbol:        req.Symbol,
		Quantity:      wireDecimal(req.Quantity),
		Side:          wireSide(req.Side),
		Type:          "ORDER_TYPE_MARKET",
		TimeInForce:   "TIME_IN_FORCE_DAY",
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == domain.OrderTypeLimit {
		body.Type = "ORDER_TYPE_LIMIT"
		body.LimitPrice = wireDecimal(req.LimitPrice)
	}
	var resp placeOrderResponse
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/orders"
	if err := c.do(ctx, http.MethodPost, path, body, &resp, true); err != nil {
		return "", fmt.Errorf("broker: place order %s: %w", req.ClientOrderID, err)
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("broker: place order %s: empty order id", req.ClientOrderID)
	}
	return resp.OrderID, nil
}

func validateOrder(req domain.OrderRequest) error {
	switch {
	case req.Symbol == "":
		return fmt.Errorf("%w: empty symbol", domain.ErrInvalidOrder)
	case !req.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity %s", domain.ErrInvalidOrder, req.Quantity)
	case req.Type == domain.OrderTypeLimit && !req.LimitPrice.IsPositive():
		return fmt.Errorf("%w: limit price %s", domain.ErrInvalidOrder, req.LimitPrice)
	}
	return nil
}

// CancelOrder cancels a single order by its id.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) error {
	if err := c.orders.Wait(ctx); err != nil {
		return fmt.Errorf("broker: cancel order: %w", err)
	}
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/orders/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, true); err != nil {
		return fmt.Errorf("broker: cancel order %s: %w", orderID, err)
	}
	return nil
}

// do runs one request through the breaker and decodes a JSON response into
// out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authenticated bool) error {
	respBody, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, method, path, body, authenticated)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", domain.ErrCircuitOpen, err)
		}
		return err
	}
	raw, _ := respBody.([]byte)
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, authenticated bool) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		if c.auth == nil {
			return nil, domain.ErrNoToken
		}
		token, err := c.auth.Token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// statusError is a non-2xx response. kind carries the matching domain error
// when one exists.
type statusError struct {
	code int
	body string
	kind error
}

func (e *statusError) Error() string {
	if e.kind != nil {
		return fmt.Sprintf("%v: HTTP %d: %s", e.kind, e.code, e.body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

func (e *statusError) Unwrap() error { return e.kind }

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	e := &statusError{code: statusCode, body: strings.TrimSpace(string(body))}
	switch statusCode {
	case http.StatusNotFound:
		e.kind = domain.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		e.kind = domain.ErrUnauthorized
	case http.StatusTooManyRequests:
		e.kind = domain.ErrRateLimited
	}
	return e
}

// breakerSuccess keeps client-side rejections from tripping the breaker;
// only transport errors, 5xx and 429 count as failures.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code < 500 && se.code != http.StatusTooManyRequests
	}
	return errors.Is(err, context.Canceled)
}
