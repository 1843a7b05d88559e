package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the book side or order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Level is a single price+size entry in an order book.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// OrderBookSnapshot is an immutable view of the top of a book. Bids are
// sorted descending, asks ascending.
type OrderBookSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
}

// BestBid returns the highest bid, if any.
func (s OrderBookSnapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (s OrderBookSnapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// BookAction is the diff action carried by a book row.
type BookAction string

const (
	BookActionAdd    BookAction = "ADD"
	BookActionUpdate BookAction = "UPDATE"
	BookActionRemove BookAction = "REMOVE"
)

// IsRemove reports whether the action deletes its price level. Unknown
// actions pass through verbatim, so the check is a case-insensitive
// substring match.
func (a BookAction) IsRemove() bool {
	u := strings.ToUpper(string(a))
	return strings.Contains(u, "REMOVE") || strings.Contains(u, "DELETE")
}

// BookRow is one incremental book diff as received from the wire. Price and
// size stay strings until the cache parses them.
type BookRow struct {
	Price  string
	Side   Side
	Size   string
	Action BookAction
}
