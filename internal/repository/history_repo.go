package repository

import (
	"github.com/venue-simulator/internal/ledger"
	"github.com/venue-simulator/internal/models"
	"gorm.io/gorm"
)

// TradeHistoryRepository handles the append-only trade history ledger.
// There are deliberately no update or delete methods.
type TradeHistoryRepository struct {
	db *gorm.DB
}

// NewTradeHistoryRepository creates a new TradeHistoryRepository
func NewTradeHistoryRepository(db *gorm.DB) *TradeHistoryRepository {
	return &TradeHistoryRepository{db: db}
}

// Create appends a new history entry
func (r *TradeHistoryRepository) Create(entry *models.TradeHistory) error {
	entry.Quantity = ledger.RoundMoney(entry.Quantity)
	entry.Price = ledger.RoundMoney(entry.Price)
	entry.RealizedPnL = ledger.RoundMoney(entry.RealizedPnL)
	return r.db.Create(entry).Error
}

// GetByTradeID retrieves all history entries for a trade in event order
func (r *TradeHistoryRepository) GetByTradeID(tradeID string) ([]models.TradeHistory, error) {
	var entries []models.TradeHistory
	result := r.db.Where("trade_id = ?", tradeID).Order("created_at ASC, id ASC").Find(&entries)
	return entries, result.Error
}

// GetByUserIDPaginated retrieves history entries for a user with pagination
func (r *TradeHistoryRepository) GetByUserIDPaginated(userID uint, page, pageSize int) ([]models.TradeHistory, int64, error) {
	var entries []models.TradeHistory
	var total int64

	if err := r.db.Model(&models.TradeHistory{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	result := r.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&entries)

	return entries, total, result.Error
}
