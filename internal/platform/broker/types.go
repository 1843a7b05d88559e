package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decimal is the broker's string-wrapped decimal, e.g. {"value":"100.05"}.
type Decimal struct {
	Value string `json:"value"`
}

// Parse returns the decimal value. Empty or non-numeric values report false.
func (d *Decimal) Parse() (decimal.Decimal, bool) {
	if d == nil || d.Value == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(d.Value)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func wireDecimal(v decimal.Decimal) *Decimal {
	return &Decimal{Value: v.String()}
}

// --------------------------------------------------------------------------
// REST payloads
// --------------------------------------------------------------------------

type authRequest struct {
	Secret string `json:"secret"`
}

type authResponse struct {
	Token string `json:"token"`
}

type tokenDetailsRequest struct {
	Token string `json:"token"`
}

type tokenDetailsResponse struct {
	AccountIDs []string `json:"account_ids"`
}

type assetResponse struct {
	LotSize  *Decimal `json:"lot_size"`
	MinStep  string   `json:"min_step"`
	Decimals int      `json:"decimals"`
}

type scheduleResponse struct {
	Sessions []struct {
		Type     string `json:"type"`
		Interval *struct {
			StartTime *time.Time `json:"start_time"`
			EndTime   *time.Time `json:"end_time"`
		} `json:"interval"`
	} `json:"sessions"`
}

type quoteMessage struct {
	Symbol string   `json:"symbol"`
	Volume *Decimal `json:"volume"`
}

type lastQuoteResponse struct {
	Quote *quoteMessage `json:"quote"`
}

type placeOrderRequest struct {
	Symbol        string   `json:"symbol"`
	Quantity      *Decimal `json:"quantity"`
	Side          string   `json:"side"`
	Type          string   `json:"type"`
	TimeInForce   string   `json:"time_in_force"`
	LimitPrice    *Decimal `json:"limit_price,omitempty"`
	ClientOrderID string   `json:"client_order_id"`
}

type placeOrderResponse struct {
	OrderID string `json:"order_id"`
}

// --------------------------------------------------------------------------
// WebSocket payloads
// --------------------------------------------------------------------------

// Stream subscription types.
const (
	StreamOrderBook  = "ORDER_BOOK"
	StreamQuotes     = "QUOTES"
	StreamOrderTrade = "ORDER_TRADE"
	StreamJWTRenewal = "JWT_RENEWAL"
)

type wsCommand struct {
	Action    string   `json:"action"` // "SUBSCRIBE"
	Type      string   `json:"type"`
	Symbol    string   `json:"symbol,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	AccountID string   `json:"account_id,omitempty"`
	Secret    string   `json:"secret,omitempty"`
}

type wsError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type bookRowMessage struct {
	Price    *Decimal `json:"price"`
	BuySize  *Decimal `json:"buy_size,omitempty"`
	SellSize *Decimal `json:"sell_size,omitempty"`
	Action   string   `json:"action"`
}

type orderBookMessage struct {
	Rows []bookRowMessage `json:"rows"`
}

type orderMessage struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Order   struct {
		Symbol        string   `json:"symbol"`
		Side          string   `json:"side"`
		LimitPrice    *Decimal `json:"limit_price"`
		Quantity      *Decimal `json:"quantity"`
		ClientOrderID string   `json:"client_order_id"`
	} `json:"order"`
}

type tradeMessage struct {
	TradeID   string    `json:"trade_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Price     *Decimal  `json:"price"`
	Size      *Decimal  `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// wsEnvelope is the union of every stream payload; each stream fills only
// its own fields.
type wsEnvelope struct {
	Error     *wsError           `json:"error,omitempty"`
	OrderBook []orderBookMessage `json:"order_book,omitempty"`
	Quote     []quoteMessage     `json:"quote,omitempty"`
	Orders    []orderMessage     `json:"orders,omitempty"`
	Trades    []tradeMessage     `json:"trades,omitempty"`
	Token     string             `json:"token,omitempty"`
}
