package domain

// OrderParams describes one order to be routed to the exchange.
// Deribit's REST surface takes plain floats; precision handling lives in
// the strategy layer, which quotes with decimals and converts at the edge.
type OrderParams struct {
	InstrumentName string
	Amount         float64
	Price          float64 // ignored for market orders
	Type           string  // "limit", "market"
	Side           string  // "buy", "sell"
}

const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"

	OrderStatusSubmitted = "SUBMITTED"
	OrderStatusOpen      = "OPEN"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCanceled  = "CANCELED"
)

// OrderCallback reports the outcome of an asynchronously submitted order.
// orderID is empty when err is non-nil.
type OrderCallback func(orderID string, err error)

// Position is one open position as reported by the exchange.
type Position struct {
	InstrumentName     string  `json:"instrument_name"`
	Size               float64 `json:"size"` // positive = long, negative = short
	Direction          string  `json:"direction"`
	AveragePrice       float64 `json:"average_price"`
	MarkPrice          float64 `json:"mark_price"`
	FloatingProfitLoss float64 `json:"floating_profit_loss"`
	RealizedProfitLoss float64 `json:"realized_profit_loss"`
}
