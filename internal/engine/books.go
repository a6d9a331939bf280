package engine

import (
	"sync"

	"deribit_go/internal/domain"
)

// bookEntry pairs one instrument's book with its lock. A single registry
// lookup hands the caller both, so a worker can never pair the lock of one
// lookup with the book of another. Entries are heap-allocated and never
// removed, so their addresses stay stable across map growth.
type bookEntry struct {
	mu   sync.Mutex
	book *domain.Orderbook
}

// entryFor returns the entry for symbol, creating it on first use. The
// registry mutex guards only the map itself and is released before the
// per-symbol lock is taken.
func (m *MarketData) entryFor(symbol string) *bookEntry {
	m.booksMu.Lock()
	defer m.booksMu.Unlock()
	e, ok := m.books[symbol]
	if !ok {
		e = &bookEntry{book: domain.NewOrderbook()}
		m.books[symbol] = e
	}
	return e
}

// GetBook returns a consistent copy of the named book, or an empty book
// (InstrumentName == "") when no snapshot has been applied for the symbol.
func (m *MarketData) GetBook(symbol string) domain.Orderbook {
	m.booksMu.Lock()
	e, ok := m.books[symbol]
	m.booksMu.Unlock()
	if !ok {
		return *domain.NewOrderbook()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Clone()
}

// Symbols lists the instruments currently tracked, in registry order.
func (m *MarketData) Symbols() []string {
	m.booksMu.Lock()
	defer m.booksMu.Unlock()
	out := make([]string, 0, len(m.books))
	for sym := range m.books {
		out = append(out, sym)
	}
	return out
}
