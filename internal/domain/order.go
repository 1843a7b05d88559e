package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the broker-side order lifecycle.
type OrderStatus string

const (
	OrderStatusUnknown         OrderStatus = "unknown"
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsTerminal reports whether no further transition can follow s.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// OrderRole tags the purpose of an order inside a trade cycle. It is the
// first character of the client order id.
type OrderRole byte

const (
	OrderRoleEntry      OrderRole = 'E'
	OrderRoleTakeProfit OrderRole = 'T'
	OrderRoleExit       OrderRole = 'X'
)

// OrderRequest is a typed placement request handed to the gateway.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal // unused for market orders
	ClientOrderID string
}

// OrderUpdate is a broker-pushed order state transition.
type OrderUpdate struct {
	OrderID       string           `json:"order_id"`
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	Status        OrderStatus      `json:"status"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Qty           *decimal.Decimal `json:"qty,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// TradeUpdate is a broker-pushed fill.
type TradeUpdate struct {
	TradeID   string          `json:"trade_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Timestamp time.Time       `json:"timestamp"`
}
