// Package ports defines the interfaces the engine's services consume.
// Concrete adapters live in internal/repository and internal/pricefeed.
package ports

import (
	"errors"
	"time"

	"github.com/venue-simulator/internal/models"
)

// ErrNotFound is the base sentinel wrapped by every repository's typed
// not-found error, so callers can test for absence without knowing which
// aggregate was missing.
var ErrNotFound = errors.New("record not found")

// TradeRepository handles trade aggregate persistence, detail records included.
type TradeRepository interface {
	Create(trade *models.Trade) error
	GetByID(id string) (*models.Trade, error)
	// GetByIDForUpdate loads the trade under a row lock. Only meaningful
	// inside a Store transaction.
	GetByIDForUpdate(id string) (*models.Trade, error)
	Update(trade *models.Trade) error
	GetByUserID(userID uint) ([]models.Trade, error)
	GetActiveByUserID(userID uint) ([]models.Trade, error)
	GetAllActive() ([]models.Trade, error)
	// GetExpiredActive returns active futures/options trades whose expiry is
	// at or before the given time.
	GetExpiredActive(now time.Time) ([]models.Trade, error)
}

// TradeHistoryRepository is append-only: entries are created and read, never
// updated or deleted.
type TradeHistoryRepository interface {
	Create(entry *models.TradeHistory) error
	GetByTradeID(tradeID string) ([]models.TradeHistory, error)
	GetByUserIDPaginated(userID uint, page, pageSize int) ([]models.TradeHistory, int64, error)
}

// PortfolioRepository persists the per-user cached aggregate.
type PortfolioRepository interface {
	GetByUserID(userID uint) (*models.Portfolio, error)
	// Save fully replaces the portfolio row for the user, creating it if
	// absent.
	Save(portfolio *models.Portfolio) error
	AllUserIDs() ([]uint, error)
}

// SnapshotRepository persists daily portfolio snapshots.
type SnapshotRepository interface {
	Create(snapshot *models.DailySnapshot) error
	GetByUserID(userID uint, limit int) ([]models.DailySnapshot, error)
	GetByUserIDAndDate(userID uint, date time.Time) (*models.DailySnapshot, error)
}

// WalletRepository persists user balances.
type WalletRepository interface {
	Create(wallet *models.Wallet) error
	GetByUserID(userID uint) (*models.Wallet, error)
	// GetByUserIDForUpdate loads the wallet under a row lock. Only meaningful
	// inside a Store transaction.
	GetByUserIDForUpdate(userID uint) (*models.Wallet, error)
	Update(wallet *models.Wallet) error
}

// UserRepository persists registered users.
type UserRepository interface {
	Create(user *models.User) error
	Update(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByUsernameOrEmail(identifier string) (*models.User, error)
	ExistsByUsername(username string) (bool, error)
	ExistsByEmail(email string) (bool, error)
}

// Store bundles the repositories and provides the transaction boundary.
// Inside Transaction the callback receives a Store whose repositories operate
// on the same transaction; returning an error rolls everything back.
type Store interface {
	Trades() TradeRepository
	Histories() TradeHistoryRepository
	Portfolios() PortfolioRepository
	Snapshots() SnapshotRepository
	Wallets() WalletRepository
	Users() UserRepository
	Transaction(fn func(tx Store) error) error
}
