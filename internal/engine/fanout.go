package engine

import (
	"log/slog"

	"deribit_go/internal/domain"
)

// RegisterCallback adds a subscriber to the fan-out list. Callbacks are
// global, not per-symbol; each one sees every applied update. Long-lived
// callbacks only, there is no unregister.
func (m *MarketData) RegisterCallback(cb Callback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// notify delivers an applied update to every subscriber. The callbacks
// mutex is released before invocation so a callback that queries the engine
// cannot deadlock against registration.
func (m *MarketData) notify(symbol string, book domain.Orderbook) {
	m.cbMu.Lock()
	cbs := make([]Callback, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.cbMu.Unlock()

	for _, cb := range cbs {
		m.invoke(cb, symbol, book)
	}
}

// invoke runs one callback, isolating the others from its failures.
func (m *MarketData) invoke(cb Callback, symbol string, book domain.Orderbook) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("orderbook callback panicked",
				slog.String("symbol", symbol),
				slog.Any("panic", r))
		}
	}()
	cb(symbol, book)
}
