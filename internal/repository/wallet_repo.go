package repository

import (
	"errors"
	"fmt"

	"github.com/venue-simulator/internal/ledger"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound = fmt.Errorf("wallet: %w", ports.ErrNotFound)
)

// WalletRepository handles wallet balance data access
type WalletRepository struct {
	db *gorm.DB
}

// NewWalletRepository creates a new WalletRepository
func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create creates a new wallet
func (r *WalletRepository) Create(wallet *models.Wallet) error {
	wallet.Balance = ledger.RoundMoney(wallet.Balance)
	return r.db.Create(wallet).Error
}

// GetByUserID retrieves the wallet for a user
func (r *WalletRepository) GetByUserID(userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	result := r.db.Where("user_id = ?", userID).First(&wallet)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, result.Error
	}
	return &wallet, nil
}

// GetByUserIDForUpdate retrieves the wallet under a row lock. Must run inside
// a transaction; the lock serializes concurrent balance mutations per user.
func (r *WalletRepository) GetByUserIDForUpdate(userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	result := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&wallet)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, result.Error
	}
	return &wallet, nil
}

// Update saves a wallet
func (r *WalletRepository) Update(wallet *models.Wallet) error {
	wallet.Balance = ledger.RoundMoney(wallet.Balance)
	return r.db.Save(wallet).Error
}
