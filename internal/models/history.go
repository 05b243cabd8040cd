package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HistoryAction represents the economic event recorded by a history entry
type HistoryAction string

const (
	ActionOpen         HistoryAction = "OPEN"
	ActionIncrease     HistoryAction = "INCREASE"
	ActionPartialClose HistoryAction = "PARTIAL_CLOSE"
	ActionClose        HistoryAction = "CLOSE"
	ActionCancel       HistoryAction = "CANCEL"
	ActionExpire       HistoryAction = "EXPIRE"
)

// TradeHistory is an immutable append-only ledger entry. Entries are never
// updated or deleted; the sum of close-entry quantities and realized deltas is
// the source of truth if a trade aggregate is ever rebuilt.
type TradeHistory struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	TradeID     string          `gorm:"size:36;index;not null" json:"trade_id"`
	UserID      uint            `gorm:"index;not null" json:"user_id"`
	Action      HistoryAction   `gorm:"size:20;not null" json:"action"`
	Quantity    decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"price"`
	OrderType   OrderType       `gorm:"size:10;not null" json:"order_type"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0" json:"realized_pnl"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`

	// Relations
	Trade Trade `gorm:"foreignKey:TradeID" json:"-"`
	User  User  `gorm:"foreignKey:UserID" json:"-"`
}

// TableName specifies the table name for TradeHistory model
func (TradeHistory) TableName() string {
	return "trade_histories"
}

// IsCloseEvent returns true for entries that reduce remaining quantity
func (h *TradeHistory) IsCloseEvent() bool {
	return h.Action == ActionClose || h.Action == ActionPartialClose || h.Action == ActionExpire
}
