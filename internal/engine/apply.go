package engine

import (
	"log/slog"
	"math"

	"deribit_go/internal/domain"
	"deribit_go/internal/event"

	"github.com/tidwall/btree"
)

// apply is the reconstructor: it classifies one update, enforces timestamp
// ordering, mutates the ladders under the symbol lock and recomputes the
// top-of-book cache. Updates for a symbol are serialized by its lock; there
// is no ordering across symbols.
func (m *MarketData) apply(task *event.BookTask) {
	upd := task.Update
	if upd == nil {
		// No data object: discard without touching state.
		return
	}

	e := m.entryFor(task.Symbol)
	e.mu.Lock()
	book := e.book

	// Stale by exchange time: the feed re-sends overlapping updates after
	// a resubscribe, so this is routine, not an error.
	if upd.Timestamp <= book.Timestamp {
		e.mu.Unlock()
		return
	}

	switch upd.Type {
	case event.TypeSnapshot:
		// The snapshot is authoritative: nothing from before survives.
		book.InstrumentName = task.Symbol
		book.Reset()
		m.applyDeltas(task.Symbol, "bids", book.Bids, upd.Bids)
		m.applyDeltas(task.Symbol, "asks", book.Asks, upd.Asks)
	case event.TypeChange:
		// A change can precede the first snapshot; it still claims the book
		// so queries and Symbols agree on what is tracked.
		book.InstrumentName = task.Symbol
		m.applyDeltas(task.Symbol, "bids", book.Bids, upd.Bids)
		m.applyDeltas(task.Symbol, "asks", book.Asks, upd.Asks)
	default:
		e.mu.Unlock()
		m.logger.Debug("discarding update with unknown type",
			slog.String("symbol", task.Symbol),
			slog.String("type", upd.Type))
		return
	}

	book.Timestamp = upd.Timestamp
	book.ChangeID = upd.ChangeID

	// The ladders are the final authority for tops. Explicit best_* fields
	// on change payloads are only cross-checked, never trusted for state.
	book.RecomputeTops()
	if upd.Type == event.TypeChange {
		m.checkAdvertisedTops(task.Symbol, book, upd)
	}

	snapshot := book.Clone()
	e.mu.Unlock()

	m.notify(task.Symbol, snapshot)
}

// applyDeltas mutates one ladder side. A malformed delta is skipped with a
// diagnostic; the rest of the update still applies.
func (m *MarketData) applyDeltas(symbol, side string, ladder *btree.Map[float64, float64], deltas []event.Delta) {
	for i := range deltas {
		d := &deltas[i]
		if !d.Valid {
			m.logger.Warn("skipping malformed ladder delta",
				slog.String("symbol", symbol),
				slog.String("side", side),
				slog.Int("index", i))
			continue
		}
		// "delete" removes the level regardless of amount; otherwise amount
		// zero deletes and any other amount sets the level.
		if d.Op == event.OpDelete || d.Amount == 0 {
			ladder.Delete(d.Price)
			continue
		}
		ladder.Set(d.Price, d.Amount)
	}
}

// checkAdvertisedTops compares the feed's explicit best_* fields against the
// ladder-derived values. Disagreement is logged at debug level; state keeps
// the ladder-derived tops.
func (m *MarketData) checkAdvertisedTops(symbol string, book *domain.Orderbook, upd *event.BookUpdate) {
	if upd.BestBidPrice != nil && math.Abs(*upd.BestBidPrice-book.BestBidPrice) > 1e-9 {
		m.logger.Debug("advertised best bid disagrees with ladder",
			slog.String("symbol", symbol),
			slog.Float64("advertised", *upd.BestBidPrice),
			slog.Float64("derived", book.BestBidPrice))
	}
	if upd.BestAskPrice != nil && math.Abs(*upd.BestAskPrice-book.BestAskPrice) > 1e-9 {
		m.logger.Debug("advertised best ask disagrees with ladder",
			slog.String("symbol", symbol),
			slog.Float64("advertised", *upd.BestAskPrice),
			slog.Float64("derived", book.BestAskPrice))
	}
}
