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
	ErrPortfolioNotFound = fmt.Errorf("portfolio: %w", ports.ErrNotFound)
	ErrSnapshotNotFound  = fmt.Errorf("snapshot: %w", ports.ErrNotFound)
)

// PortfolioRepository handles portfolio aggregate persistence
type PortfolioRepository struct {
	db *gorm.DB
}

// NewPortfolioRepository creates a new PortfolioRepository
func NewPortfolioRepository(db *gorm.DB) *PortfolioRepository {
	return &PortfolioRepository{db: db}
}

// GetByUserID retrieves the portfolio for a user
func (r *PortfolioRepository) GetByUserID(userID uint) (*models.Portfolio, error) {
	var portfolio models.Portfolio
	result := r.db.Where("user_id = ?", userID).First(&portfolio)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrPortfolioNotFound
		}
		return nil, result.Error
	}
	return &portfolio, nil
}

// Save fully replaces the portfolio row for the user, creating it if absent
func (r *PortfolioRepository) Save(portfolio *models.Portfolio) error {
	portfolio.TotalValue = ledger.RoundMoney(portfolio.TotalValue)
	portfolio.TotalInvested = ledger.RoundMoney(portfolio.TotalInvested)
	portfolio.TotalRealizedPnL = ledger.RoundMoney(portfolio.TotalRealizedPnL)
	portfolio.TotalUnrealizedPnL = ledger.RoundMoney(portfolio.TotalUnrealizedPnL)
	portfolio.TotalReturnPercentage = ledger.RoundMoney(portfolio.TotalReturnPercentage)
	portfolio.DayPnL = ledger.RoundMoney(portfolio.DayPnL)
	portfolio.DayPnLPercentage = ledger.RoundMoney(portfolio.DayPnLPercentage)

	var existing models.Portfolio
	err := r.db.Where("user_id = ?", portfolio.UserID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(portfolio).Error
	}
	if err != nil {
		return err
	}
	portfolio.ID = existing.ID
	portfolio.CreatedAt = existing.CreatedAt
	return r.db.Save(portfolio).Error
}

// AllUserIDs returns the user IDs of every stored portfolio
func (r *PortfolioRepository) AllUserIDs() ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.Portfolio{}).Pluck("user_id", &ids).Error
	return ids, err
}

// SnapshotRepository handles daily snapshot persistence
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository creates a new SnapshotRepository
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create appends a daily snapshot. The user+date unique index makes a repeated
// snapshot for the same day a no-op instead of a duplicate.
func (r *SnapshotRepository) Create(snapshot *models.DailySnapshot) error {
	snapshot.TotalValue = ledger.RoundMoney(snapshot.TotalValue)
	snapshot.TotalInvested = ledger.RoundMoney(snapshot.TotalInvested)
	snapshot.RealizedPnL = ledger.RoundMoney(snapshot.RealizedPnL)
	snapshot.UnrealizedPnL = ledger.RoundMoney(snapshot.UnrealizedPnL)
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(snapshot).Error
}

// GetByUserID retrieves up to limit snapshots for a user, oldest first
func (r *SnapshotRepository) GetByUserID(userID uint, limit int) ([]models.DailySnapshot, error) {
	var snapshots []models.DailySnapshot
	q := r.db.Where("user_id = ?", userID).Order("snapshot_date ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	result := q.Find(&snapshots)
	return snapshots, result.Error
}

// GetByUserIDAndDate retrieves the snapshot for a user on a specific day
func (r *SnapshotRepository) GetByUserIDAndDate(userID uint, date time.Time) (*models.DailySnapshot, error) {
	var snapshot models.DailySnapshot
	day := date.Truncate(24 * time.Hour)
	result := r.db.Where("user_id = ? AND snapshot_date = ?", userID, day).First(&snapshot)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, result.Error
	}
	return &snapshot, nil
}
