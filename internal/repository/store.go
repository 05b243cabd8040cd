package repository

import (
	"github.com/venue-simulator/internal/ports"
	"gorm.io/gorm"
)

// Store bundles the repositories over one gorm handle and provides the
// transaction boundary the services run their atomic units through.
type Store struct {
	db         *gorm.DB
	trades     *TradeRepository
	histories  *TradeHistoryRepository
	portfolios *PortfolioRepository
	snapshots  *SnapshotRepository
	wallets    *WalletRepository
	users      *UserRepository
}

// NewStore creates a Store over the given database handle
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		trades:     NewTradeRepository(db),
		histories:  NewTradeHistoryRepository(db),
		portfolios: NewPortfolioRepository(db),
		snapshots:  NewSnapshotRepository(db),
		wallets:    NewWalletRepository(db),
		users:      NewUserRepository(db),
	}
}

// Trades returns the trade repository
func (s *Store) Trades() ports.TradeRepository { return s.trades }

// Histories returns the trade history repository
func (s *Store) Histories() ports.TradeHistoryRepository { return s.histories }

// Portfolios returns the portfolio repository
func (s *Store) Portfolios() ports.PortfolioRepository { return s.portfolios }

// Snapshots returns the daily snapshot repository
func (s *Store) Snapshots() ports.SnapshotRepository { return s.snapshots }

// Wallets returns the wallet repository
func (s *Store) Wallets() ports.WalletRepository { return s.wallets }

// Users returns the user repository
func (s *Store) Users() ports.UserRepository { return s.users }

// Transaction runs fn inside a database transaction. The Store passed to fn is
// scoped to that transaction; an error from fn rolls everything back.
func (s *Store) Transaction(fn func(tx ports.Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
