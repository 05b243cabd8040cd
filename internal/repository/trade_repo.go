package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/venue-simulator/internal/ledger"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTradeNotFound = fmt.Errorf("trade: %w", ports.ErrNotFound)
)

// TradeRepository handles trade data access
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new TradeRepository
func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// roundTrade applies the persistence rounding rule to the monetary fields.
// Arithmetic upstream keeps full precision; this is the single rounding point.
func roundTrade(t *models.Trade) {
	t.TotalQuantity = ledger.RoundMoney(t.TotalQuantity)
	t.RemainingQuantity = ledger.RoundMoney(t.RemainingQuantity)
	t.AverageEntryPrice = ledger.RoundMoney(t.AverageEntryPrice)
	t.CurrentPrice = ledger.RoundMoney(t.CurrentPrice)
	t.TotalInvested = ledger.RoundMoney(t.TotalInvested)
	t.RealizedPnL = ledger.RoundMoney(t.RealizedPnL)
	t.UnrealizedPnL = ledger.RoundMoney(t.UnrealizedPnL)
	if t.Futures != nil {
		t.Futures.MarginRequired = ledger.RoundMoney(t.Futures.MarginRequired)
	}
}

// Create creates a new trade with its detail record in one insert
func (r *TradeRepository) Create(trade *models.Trade) error {
	roundTrade(trade)
	return r.db.Create(trade).Error
}

// GetByID retrieves a trade by ID with its detail record
func (r *TradeRepository) GetByID(id string) (*models.Trade, error) {
	var trade models.Trade
	result := r.db.Preload("Futures").Preload("Options").First(&trade, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &trade, nil
}

// GetByIDForUpdate retrieves a trade by ID under a row lock
func (r *TradeRepository) GetByIDForUpdate(id string) (*models.Trade, error) {
	var trade models.Trade
	result := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&trade, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	// detail rows are not part of the locked select
	if err := r.db.Model(&trade).Preload("Futures").Preload("Options").First(&trade, "id = ?", trade.ID).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// Update saves a trade and its detail record
func (r *TradeRepository) Update(trade *models.Trade) error {
	roundTrade(trade)
	if err := r.db.Save(trade).Error; err != nil {
		return err
	}
	if trade.Futures != nil {
		if err := r.db.Save(trade.Futures).Error; err != nil {
			return err
		}
	}
	if trade.Options != nil {
		if err := r.db.Save(trade.Options).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetByUserID retrieves all trades for a user
func (r *TradeRepository) GetByUserID(userID uint) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.Preload("Futures").Preload("Options").
		Where("user_id = ?", userID).
		Order("opened_at DESC").
		Find(&trades)
	return trades, result.Error
}

// GetActiveByUserID retrieves OPEN and PARTIALLY_CLOSED trades for a user
func (r *TradeRepository) GetActiveByUserID(userID uint) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.Preload("Futures").Preload("Options").
		Where("user_id = ? AND status IN ?", userID, activeStatuses()).
		Find(&trades)
	return trades, result.Error
}

// GetAllActive retrieves all OPEN and PARTIALLY_CLOSED trades
func (r *TradeRepository) GetAllActive() ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.Preload("Futures").Preload("Options").
		Where("status IN ?", activeStatuses()).
		Find(&trades)
	return trades, result.Error
}

// GetExpiredActive retrieves active derivative trades whose expiry has passed
func (r *TradeRepository) GetExpiredActive(now time.Time) ([]models.Trade, error) {
	var trades []models.Trade
	result := r.db.Preload("Futures").Preload("Options").
		Joins("LEFT JOIN futures_details ON futures_details.trade_id = trades.id").
		Joins("LEFT JOIN options_details ON options_details.trade_id = trades.id").
		Where("trades.status IN ?", activeStatuses()).
		Where("futures_details.expiry_date <= ? OR options_details.expiry_date <= ?", now, now).
		Find(&trades)
	return trades, result.Error
}

func activeStatuses() []models.TradeStatus {
	return []models.TradeStatus{models.TradeStatusOpen, models.TradeStatusPartiallyClosed}
}
