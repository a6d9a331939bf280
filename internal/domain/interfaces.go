package domain

import (
	"context"
)

// FeedSession defines the interface for the upstream market-data connection.
type FeedSession interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Subscribe(symbol string) error
}

// OrderGateway defines the order-routing surface exposed to strategies and
// the operator interface.
type OrderGateway interface {
	PlaceBuy(ctx context.Context, params OrderParams) (string, error)
	PlaceSell(ctx context.Context, params OrderParams) (string, error)
	Cancel(ctx context.Context, orderID string) error
	Modify(ctx context.Context, orderID string, amount, price float64) error
	SubmitAsync(params OrderParams, cb OrderCallback) bool
}

// BookSource is the read side of the order-book engine as seen by local
// consumers (fan-out server, strategies). Callbacks run after each applied
// update, outside the engine's locks, and must not re-enter the engine
// synchronously.
type BookSource interface {
	GetBook(symbol string) Orderbook
	RegisterCallback(cb func(symbol string, book Orderbook))
}
