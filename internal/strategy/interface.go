package strategy

import (
	"deribit_go/internal/domain"

	"github.com/shopspring/decimal"
)

// ActionType defines the type of trading action
type ActionType int

const (
	ActionPlaceBuy ActionType = iota + 1
	ActionPlaceSell
	ActionCancel
)

// String returns the string representation of ActionType
func (a ActionType) String() string {
	switch a {
	case ActionPlaceBuy:
		return "PLACE_BUY"
	case ActionPlaceSell:
		return "PLACE_SELL"
	case ActionCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Action represents a decision made by the strategy. OrderID is set only
// for cancels; Price and Amount only for placements.
type Action struct {
	Type       ActionType
	Instrument string
	Price      decimal.Decimal
	Amount     decimal.Decimal
	OrderID    string
}

// Strategy reacts to orderbook updates with zero or more actions. Called
// from the engine's fan-out goroutine, so implementations must be fast and
// must not block.
type Strategy interface {
	OnBookUpdate(book domain.Orderbook) []Action
}
