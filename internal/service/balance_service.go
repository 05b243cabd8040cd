package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/ports"
)

// BalanceService owns wallet debits and credits. Methods take the store they
// should operate on so callers can pass a transaction-scoped store and have
// the balance change commit or roll back with the rest of the operation.
type BalanceService struct {
	store ports.Store
}

// NewBalanceService creates a new BalanceService
func NewBalanceService(store ports.Store) *BalanceService {
	return &BalanceService{store: store}
}

// Debit removes amount from the user's wallet, failing without side effects
// when the balance is insufficient.
func (s *BalanceService) Debit(tx ports.Store, userID uint, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative debit amount %s", ErrInvalidTrade, amount)
	}
	wallet, err := tx.Wallets().GetByUserIDForUpdate(userID)
	if err != nil {
		return err
	}
	if wallet.Balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientFunds, wallet.Balance, amount)
	}
	wallet.Balance = wallet.Balance.Sub(amount)
	return tx.Wallets().Update(wallet)
}

// Credit adds amount to the user's wallet. A negative amount is allowed: a
// leveraged loss can exceed the margin being returned.
func (s *BalanceService) Credit(tx ports.Store, userID uint, amount decimal.Decimal) error {
	wallet, err := tx.Wallets().GetByUserIDForUpdate(userID)
	if err != nil {
		return err
	}
	wallet.Balance = wallet.Balance.Add(amount)
	return tx.Wallets().Update(wallet)
}

// Balance returns the user's current wallet balance
func (s *BalanceService) Balance(userID uint) (decimal.Decimal, error) {
	wallet, err := s.store.Wallets().GetByUserID(userID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

// EnsureWallet creates the user's wallet with the given starting balance if it
// does not already exist.
func (s *BalanceService) EnsureWallet(userID uint, initialBalance decimal.Decimal) error {
	_, err := s.store.Wallets().GetByUserID(userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	return s.store.Wallets().Create(&models.Wallet{
		UserID:   userID,
		Currency: "USDT",
		Balance:  initialBalance,
	})
}
