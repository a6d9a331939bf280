package event

import "encoding/json"

// Book update types carried by the feed.
const (
	TypeSnapshot = "snapshot"
	TypeChange   = "change"
)

// Ladder delta operations (three-element form).
const (
	OpNew    = "new"
	OpChange = "change"
	OpDelete = "delete"
)

// FeedMessage is one JSON-RPC frame from the exchange stream. Subscription
// acks carry Result; book updates carry Params.
type FeedMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *FeedParams     `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *FeedError      `json:"error,omitempty"`
}

// FeedParams is the notification body of a subscription frame.
type FeedParams struct {
	Channel string      `json:"channel"`
	Data    *BookUpdate `json:"data"`
}

// FeedError is the error object of a JSON-RPC response.
type FeedError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// BookUpdate carries one snapshot or incremental change for a single book.
// The explicit best_* fields are advisory; the engine rederives tops from
// the ladders after every apply.
type BookUpdate struct {
	Type      string  `json:"type"`
	Timestamp int64   `json:"timestamp"`
	ChangeID  int64   `json:"change_id"`
	Bids      []Delta `json:"bids"`
	Asks      []Delta `json:"asks"`

	BestBidPrice  *float64 `json:"best_bid_price,omitempty"`
	BestBidAmount *float64 `json:"best_bid_amount,omitempty"`
	BestAskPrice  *float64 `json:"best_ask_price,omitempty"`
	BestAskAmount *float64 `json:"best_ask_amount,omitempty"`
}

// Delta is one ladder level mutation. The feed encodes it either as a
// two-element array [price, amount] or a three-element array
// [op, price, amount]. Amount zero deletes the level; the "delete" op
// deletes regardless of amount.
//
// Decoding is tolerant: a malformed element leaves Valid false instead of
// failing the whole update, so its siblings still apply. The engine logs
// and skips invalid deltas.
type Delta struct {
	Op     string // "" for the two-element form
	Price  float64
	Amount float64
	Valid  bool
}

// UnmarshalJSON never returns an error; malformed input is flagged via Valid.
func (d *Delta) UnmarshalJSON(b []byte) error {
	d.Op, d.Price, d.Amount, d.Valid = "", 0, 0, false

	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil || len(parts) < 2 {
		return nil
	}

	// Three or more elements with a leading string is the op form.
	if len(parts) >= 3 {
		var op string
		if json.Unmarshal(parts[0], &op) == nil {
			if json.Unmarshal(parts[1], &d.Price) != nil {
				return nil
			}
			if json.Unmarshal(parts[2], &d.Amount) != nil {
				return nil
			}
			d.Op = op
			d.Valid = true
			return nil
		}
	}

	if json.Unmarshal(parts[0], &d.Price) != nil {
		return nil
	}
	if json.Unmarshal(parts[1], &d.Amount) != nil {
		return nil
	}
	d.Valid = true
	return nil
}

// MarshalJSON emits the wire form the delta was decoded from.
func (d Delta) MarshalJSON() ([]byte, error) {
	if d.Op != "" {
		return json.Marshal([]interface{}{d.Op, d.Price, d.Amount})
	}
	return json.Marshal([]float64{d.Price, d.Amount})
}
