package broker

import (
	"encoding/hex"
	"strings"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/google/uuid"
)

// Wire enum names change between API revisions, so mappings match on
// upper-cased substrings rather than exact values.

// MapSide maps a wire side to a domain side. Anything without "SELL" is a buy.
func MapSide(s string) domain.Side {
	if strings.Contains(strings.ToUpper(s), "SELL") {
		return domain.SideSell
	}
	return domain.SideBuy
}

// MapStatus maps a wire order status. Partial fills are checked before
// "FILLED" so ORDER_STATUS_PARTIALLY_FILLED stays non-terminal.
func MapStatus(s string) domain.OrderStatus {
	u := strings.ToUpper(s)
	switch {
	case strings.Contains(u, "PART"):
		return domain.OrderStatusPartiallyFilled
	case strings.Contains(u, "FILLED"), strings.Contains(u, "EXECUTED"):
		return domain.OrderStatusFilled
	case strings.Contains(u, "CANCEL"):
		return domain.OrderStatusCanceled
	case strings.Contains(u, "REJECT"):
		return domain.OrderStatusRejected
	case strings.Contains(u, "EXPIRE"):
		return domain.OrderStatusExpired
	case strings.Contains(u, "NEW"), strings.Contains(u, "ACCEPT"), strings.Contains(u, "PENDING"):
		return domain.OrderStatusNew
	default:
		return domain.OrderStatusUnknown
	}
}

// MapAction maps a wire book action. Unknown names pass through verbatim.
func MapAction(s string) domain.BookAction {
	u := strings.ToUpper(s)
	switch {
	case strings.Contains(u, "REMOVE"), strings.Contains(u, "DELETE"):
		return domain.BookActionRemove
	case strings.Contains(u, "UPDATE"):
		return domain.BookActionUpdate
	case strings.Contains(u, "ADD"), strings.Contains(u, "INSERT"):
		return domain.BookActionAdd
	default:
		return domain.BookAction(s)
	}
}

func wireSide(s domain.Side) string {
	if s == domain.SideSell {
		return "SIDE_SELL"
	}
	return "SIDE_BUY"
}

// NewClientOrderID returns a 20-character id: the role tag followed by 19
// hex characters of a random UUID.
func NewClientOrderID(role domain.OrderRole) string {
	id := uuid.New()
	return string(rune(role)) + hex.EncodeToString(id[:])[:19]
}

func rowFromMessage(m bookRowMessage) (domain.BookRow, bool) {
	row := domain.BookRow{Action: MapAction(m.Action)}
	if m.Price != nil {
		row.Price = m.Price.Value
	}
	switch {
	case m.BuySize != nil:
		row.Side, row.Size = domain.SideBuy, m.BuySize.Value
	case m.SellSize != nil:
		row.Side, row.Size = domain.SideSell, m.SellSize.Value
	default:
		return domain.BookRow{}, false
	}
	return row, true
}

func orderUpdateFromMessage(m orderMessage) domain.OrderUpdate {
	u := domain.OrderUpdate{
		OrderID:       m.OrderID,
		Symbol:        m.Order.Symbol,
		Side:          MapSide(m.Order.Side),
		Status:        MapStatus(m.Status),
		ClientOrderID: m.Order.ClientOrderID,
	}
	if v, ok := m.Order.LimitPrice.Parse(); ok {
		u.Price = &v
	}
	if v, ok := m.Order.Quantity.Parse(); ok {
		u.Qty = &v
	}
	return u
}

func tradeUpdateFromMessage(m tradeMessage) (domain.TradeUpdate, bool) {
	price, okP := m.Price.Parse()
	qty, okQ := m.Size.Parse()
	if !okP || !okQ || m.TradeID == "" {
		return domain.TradeUpdate{}, false
	}
	return domain.TradeUpdate{
		TradeID:   m.TradeID,
		Symbol:    m.Symbol,
		Side:      MapSide(m.Side),
		Price:     price,
		Qty:       qty,
		Timestamp: m.Timestamp,
	}, true
}
