package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeType represents the instrument class of a trade
type TradeType string

const (
	TradeTypeSpot    TradeType = "SPOT"
	TradeTypeFutures TradeType = "FUTURES"
	TradeTypeOptions TradeType = "OPTIONS"
)

// HoldingType represents the intended holding horizon
type HoldingType string

const (
	HoldingTypeShortTerm HoldingType = "SHORT_TERM"
	HoldingTypeLongTerm  HoldingType = "LONG_TERM"
	HoldingTypeSwing     HoldingType = "SWING"
)

// Direction represents the trade direction
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// TradeStatus represents the lifecycle status of a trade
type TradeStatus string

const (
	TradeStatusPending         TradeStatus = "PENDING"
	TradeStatusOpen            TradeStatus = "OPEN"
	TradeStatusPartiallyClosed TradeStatus = "PARTIALLY_CLOSED"
	TradeStatusClosed          TradeStatus = "CLOSED"
	TradeStatusCancelled       TradeStatus = "CANCELLED"
)

// OrderType represents how an execution was priced
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeExpiry OrderType = "EXPIRY"
)

// OptionType represents the option contract type
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// Trade represents one position lifecycle instance
type Trade struct {
	ID       string `gorm:"primaryKey;size:36" json:"id"`
	UserID   uint   `gorm:"index;not null" json:"user_id"`
	Symbol   string `gorm:"size:20;not null;index" json:"symbol"`
	Name     string `gorm:"size:100" json:"name"`
	Exchange string `gorm:"size:50" json:"exchange"`

	TradeType   TradeType   `gorm:"size:10;not null" json:"trade_type"`
	HoldingType HoldingType `gorm:"size:20;default:'SHORT_TERM'" json:"holding_type"`
	Direction   Direction   `gorm:"size:10;not null" json:"direction"`
	Status      TradeStatus `gorm:"size:20;not null;index" json:"status"`

	TotalQuantity     decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_quantity"`
	RemainingQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"remaining_quantity"`
	AverageEntryPrice decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"average_entry_price"`
	CurrentPrice      decimal.Decimal `gorm:"type:numeric(30,10)" json:"current_price"`
	TotalInvested     decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_invested"`
	RealizedPnL       decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0" json:"realized_pnl"`
	UnrealizedPnL     decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0" json:"unrealized_pnl"`

	OpenedAt  time.Time      `gorm:"not null" json:"opened_at"`
	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Exactly one detail record attaches, chosen by TradeType. SPOT has neither.
	Futures *FuturesDetails `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE" json:"futures_details,omitempty"`
	Options *OptionsDetails `gorm:"foreignKey:TradeID;constraint:OnDelete:CASCADE" json:"options_details,omitempty"`

	// Relations
	User User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName specifies the table name for Trade model
func (Trade) TableName() string {
	return "trades"
}

// IsActive returns true if the trade still carries open quantity
func (t *Trade) IsActive() bool {
	return t.Status == TradeStatusOpen || t.Status == TradeStatusPartiallyClosed
}

// IsTerminal returns true if the trade can no longer be mutated economically
func (t *Trade) IsTerminal() bool {
	return t.Status == TradeStatusClosed || t.Status == TradeStatusCancelled
}

// ExpiryDate returns the expiry of the attached derivative detail, nil for spot
func (t *Trade) ExpiryDate() *time.Time {
	switch t.TradeType {
	case TradeTypeFutures:
		if t.Futures != nil {
			return t.Futures.ExpiryDate
		}
	case TradeTypeOptions:
		if t.Options != nil {
			return &t.Options.ExpiryDate
		}
	}
	return nil
}

// FuturesDetails holds the futures contract terms for a FUTURES trade
type FuturesDetails struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	TradeID        string          `gorm:"size:36;uniqueIndex;not null" json:"trade_id"`
	Leverage       int             `gorm:"not null" json:"leverage"`
	MarginRequired decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"margin_required"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`
	ContractSize   decimal.Decimal `gorm:"type:numeric(30,10);default:1" json:"contract_size"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TableName specifies the table name for FuturesDetails model
func (FuturesDetails) TableName() string {
	return "futures_details"
}

// OptionsDetails holds the option contract terms for an OPTIONS trade
type OptionsDetails struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	TradeID     string          `gorm:"size:36;uniqueIndex;not null" json:"trade_id"`
	OptionType  OptionType      `gorm:"size:10;not null" json:"option_type"`
	Position    Direction       `gorm:"size:10;not null" json:"position"`
	StrikePrice decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"strike_price"`
	ExpiryDate  time.Time       `gorm:"not null;index" json:"expiry_date"`
	Premium     decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"premium"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// TableName specifies the table name for OptionsDetails model
func (OptionsDetails) TableName() string {
	return "options_details"
}
