package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is the cached per-user aggregate. It is always rebuilt as a whole
// from the user's trade set and snapshot history, never patched incrementally.
type Portfolio struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"uniqueIndex;not null" json:"user_id"`

	TotalValue            decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"total_value"`
	TotalInvested         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"total_invested"`
	TotalRealizedPnL      decimal.Decimal `gorm:"column:total_realized_pnl;type:numeric(30,10);not null;default:0" json:"total_realized_pnl"`
	TotalUnrealizedPnL    decimal.Decimal `gorm:"column:total_unrealized_pnl;type:numeric(30,10);not null;default:0" json:"total_unrealized_pnl"`
	TotalReturnPercentage decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"total_return_percentage"`
	DayPnL                decimal.Decimal `gorm:"column:day_pnl;type:numeric(30,10);not null;default:0" json:"day_pnl"`
	DayPnLPercentage      decimal.Decimal `gorm:"column:day_pnl_percentage;type:numeric(30,10);not null;default:0" json:"day_pnl_percentage"`

	ActiveTradesCount  int `gorm:"not null;default:0" json:"active_trades_count"`
	TotalTradesCount   int `gorm:"not null;default:0" json:"total_trades_count"`
	WinningTradesCount int `gorm:"not null;default:0" json:"winning_trades_count"`
	LosingTradesCount  int `gorm:"not null;default:0" json:"losing_trades_count"`

	WinRate     float64 `gorm:"not null;default:0" json:"win_rate"`
	MaxDrawdown float64 `gorm:"not null;default:0" json:"max_drawdown"`
	SharpeRatio float64 `gorm:"not null;default:0" json:"sharpe_ratio"`

	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`

	// Relations
	User User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName specifies the table name for Portfolio model
func (Portfolio) TableName() string {
	return "portfolios"
}

// DailySnapshot is an append-only per-user-per-day record of portfolio value,
// the series behind drawdown and Sharpe computation.
type DailySnapshot struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	UserID       uint            `gorm:"not null;uniqueIndex:idx_snapshot_user_date" json:"user_id"`
	SnapshotDate time.Time       `gorm:"type:date;not null;uniqueIndex:idx_snapshot_user_date" json:"snapshot_date"`
	TotalValue   decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_value"`
	TotalInvested decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"total_invested"`
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null" json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null" json:"unrealized_pnl"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TableName specifies the table name for DailySnapshot model
func (DailySnapshot) TableName() string {
	return "daily_snapshots"
}

// Wallet is the per-user balance row backing the balance service
type Wallet struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uint            `gorm:"uniqueIndex;not null" json:"user_id"`
	Currency  string          `gorm:"size:10;not null;default:'USDT'" json:"currency"`
	Balance   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// Relations
	User User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName specifies the table name for Wallet model
func (Wallet) TableName() string {
	return "wallets"
}
