package domain

import "github.com/shopspring/decimal"

// DensitySignal is a detected candidate entry: the book level whose resting
// size is large relative to recent traded volume.
type DensitySignal struct {
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
}
