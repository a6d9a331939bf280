package strategy

import (
	"log/slog"
	"sync"

	"deribit_go/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	two            = decimal.NewFromInt(2)
	tenThousand    = decimal.NewFromInt(10000)
	defaultTick    = decimal.RequireFromString("0.5")
	defaultSpread  = decimal.NewFromInt(10) // 10 bps
	defaultAmount  = decimal.NewFromInt(10)
	defaultMaxSize = decimal.NewFromInt(100)
)

// MarketMakerConfig tunes one symmetric-quoting instance.
type MarketMakerConfig struct {
	Instrument  string
	SpreadBps   decimal.Decimal // full spread between the two quotes
	QuoteAmount decimal.Decimal
	MaxPosition decimal.Decimal // absolute inventory cap
	TickSize    decimal.Decimal
}

// MarketMaker quotes both sides around the mid price. On every book update
// it cancels its previous quotes and reposts at mid +/- half the configured
// spread, rounded outward to the tick. A side is withheld while filling it
// would push inventory past the position cap.
type MarketMaker struct {
	cfg    MarketMakerConfig
	logger *slog.Logger

	mu          sync.Mutex
	position    decimal.Decimal // signed, positive = long
	realizedPnL decimal.Decimal
	avgPrice    decimal.Decimal
	activeBuy   string // outstanding quote order ids, "" when none
	activeSell  string
}

// NewMarketMaker creates a maker with defaults filled in for zero fields.
func NewMarketMaker(cfg MarketMakerConfig) *MarketMaker {
	if cfg.SpreadBps.IsZero() {
		cfg.SpreadBps = defaultSpread
	}
	if cfg.QuoteAmount.IsZero() {
		cfg.QuoteAmount = defaultAmount
	}
	if cfg.MaxPosition.IsZero() {
		cfg.MaxPosition = defaultMaxSize
	}
	if cfg.TickSize.IsZero() {
		cfg.TickSize = defaultTick
	}
	return &MarketMaker{
		cfg:    cfg,
		logger: slog.Default().With(slog.String("module", "market_maker")),
	}
}

// OnBookUpdate implements Strategy.
func (m *MarketMaker) OnBookUpdate(book domain.Orderbook) []Action {
	if book.InstrumentName != m.cfg.Instrument {
		return nil
	}
	// No quoting into a one-sided or empty book.
	if book.BestBidPrice <= 0 || book.BestAskPrice <= 0 {
		return nil
	}

	mid := decimal.NewFromFloat(book.MidPrice())
	half := mid.Mul(m.cfg.SpreadBps).Div(tenThousand).Div(two)
	bid := m.roundDownToTick(mid.Sub(half))
	ask := m.roundUpToTick(mid.Add(half))

	m.mu.Lock()
	defer m.mu.Unlock()

	actions := make([]Action, 0, 4)
	if m.activeBuy != "" {
		actions = append(actions, Action{Type: ActionCancel, Instrument: m.cfg.Instrument, OrderID: m.activeBuy})
		m.activeBuy = ""
	}
	if m.activeSell != "" {
		actions = append(actions, Action{Type: ActionCancel, Instrument: m.cfg.Instrument, OrderID: m.activeSell})
		m.activeSell = ""
	}

	if m.position.Add(m.cfg.QuoteAmount).Abs().LessThanOrEqual(m.cfg.MaxPosition) {
		actions = append(actions, Action{
			Type:       ActionPlaceBuy,
			Instrument: m.cfg.Instrument,
			Price:      bid,
			Amount:     m.cfg.QuoteAmount,
		})
	} else {
		m.logger.Debug("bid withheld at position cap", slog.String("position", m.position.String()))
	}
	if m.position.Sub(m.cfg.QuoteAmount).Abs().LessThanOrEqual(m.cfg.MaxPosition) {
		actions = append(actions, Action{
			Type:       ActionPlaceSell,
			Instrument: m.cfg.Instrument,
			Price:      ask,
			Amount:     m.cfg.QuoteAmount,
		})
	} else {
		m.logger.Debug("ask withheld at position cap", slog.String("position", m.position.String()))
	}
	return actions
}

// OnOrderPlaced records the live quote id so the next cycle can cancel it.
func (m *MarketMaker) OnOrderPlaced(action ActionType, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch action {
	case ActionPlaceBuy:
		m.activeBuy = orderID
	case ActionPlaceSell:
		m.activeSell = orderID
	}
}

// OnFill updates inventory and realized PnL for one execution.
func (m *MarketMaker) OnFill(side string, price, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	signed := amount
	if side == domain.SideSell {
		signed = amount.Neg()
	}

	// A fill against existing inventory realizes PnL on the closed portion.
	if !m.position.IsZero() && m.position.Sign() != signed.Sign() {
		closed := decimal.Min(m.position.Abs(), signed.Abs())
		diff := price.Sub(m.avgPrice)
		if m.position.Sign() < 0 {
			diff = diff.Neg()
		}
		m.realizedPnL = m.realizedPnL.Add(diff.Mul(closed))
	}

	newPos := m.position.Add(signed)
	switch {
	case newPos.IsZero():
		m.avgPrice = decimal.Zero
	case m.position.IsZero() || m.position.Sign() == signed.Sign():
		notional := m.avgPrice.Mul(m.position.Abs()).Add(price.Mul(signed.Abs()))
		m.avgPrice = notional.Div(newPos.Abs())
	case newPos.Sign() != m.position.Sign():
		// Flipped through flat; the remainder opens at the fill price.
		m.avgPrice = price
	}
	m.position = newPos
}

// Position returns the current signed inventory.
func (m *MarketMaker) Position() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// RealizedPnL returns profit realized by closed inventory.
func (m *MarketMaker) RealizedPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realizedPnL
}

func (m *MarketMaker) roundDownToTick(p decimal.Decimal) decimal.Decimal {
	return p.Div(m.cfg.TickSize).Floor().Mul(m.cfg.TickSize)
}

func (m *MarketMaker) roundUpToTick(p decimal.Decimal) decimal.Decimal {
	return p.Div(m.cfg.TickSize).Ceil().Mul(m.cfg.TickSize)
}
