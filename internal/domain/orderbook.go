package domain

import "github.com/tidwall/btree"

// Orderbook is the local replica of one instrument's limit order book,
// rebuilt from the exchange's differential feed. Ladders map price to
// aggregate amount and are kept sorted by price ascending; a price never
// appears with amount zero. Top-of-book fields are a cache derived from
// the ladders after every applied update.
type Orderbook struct {
	InstrumentName string  `json:"instrument_name"`
	Timestamp      int64   `json:"timestamp"` // exchange milliseconds of the last applied update
	ChangeID       int64   `json:"change_id"`
	BestBidPrice   float64 `json:"best_bid_price"`
	BestBidAmount  float64 `json:"best_bid_amount"`
	BestAskPrice   float64 `json:"best_ask_price"`
	BestAskAmount  float64 `json:"best_ask_amount"`

	Bids *btree.Map[float64, float64] `json:"-"`
	Asks *btree.Map[float64, float64] `json:"-"`
}

// ladderDegree is the B-tree node degree for price ladders.
const ladderDegree = 32

// NewOrderbook returns an empty book with zeroed derived fields.
// An empty book is what the query API hands back for unknown symbols;
// callers detect that case by InstrumentName == "".
func NewOrderbook() *Orderbook {
	return &Orderbook{
		Bids: btree.NewMap[float64, float64](ladderDegree),
		Asks: btree.NewMap[float64, float64](ladderDegree),
	}
}

// Clone returns a consistent copy of the book. Ladder copies are
// copy-on-write, so taking one under the symbol lock is cheap and the
// copy stays stable while the original keeps mutating.
func (ob *Orderbook) Clone() Orderbook {
	cp := *ob
	cp.Bids = ob.Bids.Copy()
	cp.Asks = ob.Asks.Copy()
	return cp
}

// Reset discards both ladders. Used when a snapshot arrives: the snapshot
// is authoritative and nothing from the previous state survives.
func (ob *Orderbook) Reset() {
	ob.Bids = btree.NewMap[float64, float64](ladderDegree)
	ob.Asks = btree.NewMap[float64, float64](ladderDegree)
}

// RecomputeTops rederives the top-of-book cache from the ladders:
// best bid is the highest bid, best ask the lowest ask, zero when the
// side is empty.
func (ob *Orderbook) RecomputeTops() {
	if price, amount, ok := ob.Bids.Max(); ok {
		ob.BestBidPrice, ob.BestBidAmount = price, amount
	} else {
		ob.BestBidPrice, ob.BestBidAmount = 0, 0
	}
	if price, amount, ok := ob.Asks.Min(); ok {
		ob.BestAskPrice, ob.BestAskAmount = price, amount
	} else {
		ob.BestAskPrice, ob.BestAskAmount = 0, 0
	}
}

// Spread returns best_ask - best_bid, or 0 when either side is empty.
func (ob *Orderbook) Spread() float64 {
	if ob.BestBidPrice <= 0 || ob.BestAskPrice <= 0 {
		return 0
	}
	return ob.BestAskPrice - ob.BestBidPrice
}

// MidPrice returns the midpoint of the top of book, or 0 when either side
// is empty.
func (ob *Orderbook) MidPrice() float64 {
	if ob.BestBidPrice <= 0 || ob.BestAskPrice <= 0 {
		return 0
	}
	return (ob.BestBidPrice + ob.BestAskPrice) / 2
}
