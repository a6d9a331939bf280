package domain

import (
	"time"
)

// InstrumentInfo is exchange instrument metadata synced at bootstrap.
type InstrumentInfo struct {
	InstrumentName string    `gorm:"primaryKey" json:"instrument_name"`
	Kind           string    `json:"kind"` // "future", "option"
	BaseCurrency   string    `json:"base_currency"`
	QuoteCurrency  string    `json:"quote_currency"`
	TickSize       float64   `json:"tick_size"`
	MinTradeAmount float64   `json:"min_trade_amount"`
	IsActive       bool      `json:"is_active" gorm:"index"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OrderRecord is one row of the local order audit log. ClientID is assigned
// locally before submission; OrderID arrives with the exchange response.
type OrderRecord struct {
	ClientID       string    `gorm:"primaryKey" json:"client_id"`
	OrderID        string    `gorm:"index" json:"order_id"`
	InstrumentName string    `gorm:"index" json:"instrument_name"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Price          float64   `json:"price"`
	Amount         float64   `json:"amount"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
