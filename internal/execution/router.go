// Package execution turns strategy decisions into exchange orders.
package execution

import (
	"context"
	"log/slog"
	"time"

	"deribit_go/internal/domain"
	"deribit_go/internal/strategy"
)

const cancelTimeout = 5 * time.Second

// Router feeds orderbook updates through a strategy and routes the resulting
// actions to the order gateway. Placements go through the gateway's async
// queue so the market-data callback never blocks on network I/O.
type Router struct {
	strat   strategy.Strategy
	gateway domain.OrderGateway
	logger  *slog.Logger

	// invoked after each async placement resolves, nil to ignore
	onPlaced func(action strategy.ActionType, orderID string)
}

// NewRouter wires a strategy to a gateway.
func NewRouter(strat strategy.Strategy, gateway domain.OrderGateway) *Router {
	return &Router{
		strat:   strat,
		gateway: gateway,
		logger:  slog.Default().With(slog.String("module", "execution")),
	}
}

// SetPlacementHook registers a function called with the exchange order id of
// each successful async placement. The market maker uses this to track its
// live quotes.
func (r *Router) SetPlacementHook(hook func(action strategy.ActionType, orderID string)) {
	r.onPlaced = hook
}

// OnBookUpdate is registered as an engine callback.
func (r *Router) OnBookUpdate(symbol string, book domain.Orderbook) {
	actions := r.strat.OnBookUpdate(book)
	for _, action := range actions {
		r.dispatch(action)
	}
}

func (r *Router) dispatch(action strategy.Action) {
	switch action.Type {
	case strategy.ActionPlaceBuy, strategy.ActionPlaceSell:
		r.submit(action)
	case strategy.ActionCancel:
		go r.cancel(action.OrderID)
	default:
		r.logger.Warn("unknown strategy action", slog.Int("type", int(action.Type)))
	}
}

func (r *Router) submit(action strategy.Action) {
	price, _ := action.Price.Float64()
	amount, _ := action.Amount.Float64()
	params := domain.OrderParams{
		InstrumentName: action.Instrument,
		Amount:         amount,
		Price:          price,
		Type:           domain.OrderTypeLimit,
		Side:           domain.SideBuy,
	}
	if action.Type == strategy.ActionPlaceSell {
		params.Side = domain.SideSell
	}

	actionType := action.Type
	ok := r.gateway.SubmitAsync(params, func(orderID string, err error) {
		if err != nil {
			r.logger.Warn("strategy order rejected",
				slog.String("instrument", params.InstrumentName),
				slog.String("side", params.Side),
				slog.Any("error", err))
			return
		}
		r.logger.Info("strategy order placed",
			slog.String("order_id", orderID),
			slog.String("side", params.Side),
			slog.Float64("price", price))
		if r.onPlaced != nil {
			r.onPlaced(actionType, orderID)
		}
	})
	if !ok {
		r.logger.Warn("order queue full, quote dropped",
			slog.String("instrument", params.InstrumentName),
			slog.String("side", params.Side))
	}
}

func (r *Router) cancel(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := r.gateway.Cancel(ctx, orderID); err != nil {
		r.logger.Warn("cancel failed",
			slog.String("order_id", orderID), slog.Any("error", err))
	}
}
