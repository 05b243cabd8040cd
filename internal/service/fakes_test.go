package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/ports"
)

// fakeStore is an in-memory ports.Store. Transaction runs the callback against
// the same store; a returned error leaves previously applied writes in place,
// so tests asserting rollback semantics check observable state the services
// guarantee by ordering (validation before writes).
type fakeStore struct {
	mu         sync.Mutex
	trades     map[string]*models.Trade
	histories  []models.TradeHistory
	portfolios map[uint]*models.Portfolio
	snapshots  []models.DailySnapshot
	wallets    map[uint]*models.Wallet
	users      map[uint]*models.User

	nextHistoryID uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trades:     make(map[string]*models.Trade),
		portfolios: make(map[uint]*models.Portfolio),
		wallets:    make(map[uint]*models.Wallet),
		users:      make(map[uint]*models.User),
	}
}

func (s *fakeStore) Trades() ports.TradeRepository          { return (*fakeTradeRepo)(s) }
func (s *fakeStore) Histories() ports.TradeHistoryRepository { return (*fakeHistoryRepo)(s) }
func (s *fakeStore) Portfolios() ports.PortfolioRepository  { return (*fakePortfolioRepo)(s) }
func (s *fakeStore) Snapshots() ports.SnapshotRepository    { return (*fakeSnapshotRepo)(s) }
func (s *fakeStore) Wallets() ports.WalletRepository        { return (*fakeWalletRepo)(s) }
func (s *fakeStore) Users() ports.UserRepository            { return (*fakeUserRepo)(s) }

func (s *fakeStore) Transaction(fn func(tx ports.Store) error) error {
	return fn(s)
}

func (s *fakeStore) seedWallet(userID uint, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[userID] = &models.Wallet{ID: userID, UserID: userID, Currency: "USDT", Balance: balance}
}

func (s *fakeStore) walletBalance(userID uint) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[userID].Balance
}

func (s *fakeStore) historiesFor(tradeID string) []models.TradeHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TradeHistory
	for _, h := range s.histories {
		if h.TradeID == tradeID {
			out = append(out, h)
		}
	}
	return out
}

type fakeTradeRepo fakeStore

func (r *fakeTradeRepo) Create(trade *models.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *trade
	r.trades[trade.ID] = &cp
	return nil
}

func (r *fakeTradeRepo) GetByID(id string) (*models.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	trade, ok := r.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade: %w", ports.ErrNotFound)
	}
	cp := *trade
	if trade.Futures != nil {
		f := *trade.Futures
		cp.Futures = &f
	}
	if trade.Options != nil {
		o := *trade.Options
		cp.Options = &o
	}
	return &cp, nil
}

func (r *fakeTradeRepo) GetByIDForUpdate(id string) (*models.Trade, error) {
	return r.GetByID(id)
}

func (r *fakeTradeRepo) Update(trade *models.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trades[trade.ID]; !ok {
		return fmt.Errorf("trade: %w", ports.ErrNotFound)
	}
	cp := *trade
	if trade.Futures != nil {
		f := *trade.Futures
		cp.Futures = &f
	}
	if trade.Options != nil {
		o := *trade.Options
		cp.Options = &o
	}
	r.trades[trade.ID] = &cp
	return nil
}

func (r *fakeTradeRepo) GetByUserID(userID uint) ([]models.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Trade
	for _, t := range r.trades {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeTradeRepo) GetActiveByUserID(userID uint) ([]models.Trade, error) {
	all, _ := r.GetByUserID(userID)
	var out []models.Trade
	for _, t := range all {
		if t.IsActive() {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTradeRepo) GetAllActive() ([]models.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Trade
	for _, t := range r.trades {
		if t.IsActive() {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeTradeRepo) GetExpiredActive(now time.Time) ([]models.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Trade
	for _, t := range r.trades {
		if !t.IsActive() {
			continue
		}
		cp := *t
		if t.Futures != nil {
			f := *t.Futures
			cp.Futures = &f
		}
		if t.Options != nil {
			o := *t.Options
			cp.Options = &o
		}
		if exp := cp.ExpiryDate(); exp != nil && !exp.After(now) {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeHistoryRepo fakeStore

func (r *fakeHistoryRepo) Create(entry *models.TradeHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHistoryID++
	entry.ID = r.nextHistoryID
	entry.CreatedAt = time.Now()
	r.histories = append(r.histories, *entry)
	return nil
}

func (r *fakeHistoryRepo) GetByTradeID(tradeID string) ([]models.TradeHistory, error) {
	return (*fakeStore)(r).historiesFor(tradeID), nil
}

func (r *fakeHistoryRepo) GetByUserIDPaginated(userID uint, page, pageSize int) ([]models.TradeHistory, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []models.TradeHistory
	for _, h := range r.histories {
		if h.UserID == userID {
			all = append(all, h)
		}
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

type fakePortfolioRepo fakeStore

func (r *fakePortfolioRepo) GetByUserID(userID uint) (*models.Portfolio, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.portfolios[userID]
	if !ok {
		return nil, fmt.Errorf("portfolio: %w", ports.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (r *fakePortfolioRepo) Save(portfolio *models.Portfolio) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *portfolio
	r.portfolios[portfolio.UserID] = &cp
	return nil
}

func (r *fakePortfolioRepo) AllUserIDs() ([]uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint, 0, len(r.portfolios))
	for id := range r.portfolios {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type fakeSnapshotRepo fakeStore

func (r *fakeSnapshotRepo) Create(snapshot *models.DailySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snapshots {
		if s.UserID == snapshot.UserID && s.SnapshotDate.Equal(snapshot.SnapshotDate) {
			// unique (user, date): silently dropped like ON CONFLICT DO NOTHING
			return nil
		}
	}
	r.snapshots = append(r.snapshots, *snapshot)
	return nil
}

func (r *fakeSnapshotRepo) GetByUserID(userID uint, limit int) ([]models.DailySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DailySnapshot
	for _, s := range r.snapshots {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotDate.Before(out[j].SnapshotDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeSnapshotRepo) GetByUserIDAndDate(userID uint, date time.Time) (*models.DailySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snapshots {
		if s.UserID == userID && s.SnapshotDate.Equal(date) {
			cp := s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("snapshot: %w", ports.ErrNotFound)
}

type fakeWalletRepo fakeStore

func (r *fakeWalletRepo) Create(wallet *models.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *wallet
	r.wallets[wallet.UserID] = &cp
	return nil
}

func (r *fakeWalletRepo) GetByUserID(userID uint) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("wallet: %w", ports.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (r *fakeWalletRepo) GetByUserIDForUpdate(userID uint) (*models.Wallet, error) {
	return r.GetByUserID(userID)
}

func (r *fakeWalletRepo) Update(wallet *models.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *wallet
	r.wallets[wallet.UserID] = &cp
	return nil
}

type fakeUserRepo fakeStore

func (r *fakeUserRepo) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = uint(len(r.users) + 1)
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) Update(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return fmt.Errorf("user: %w", ports.ErrNotFound)
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user: %w", ports.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByUsernameOrEmail(identifier string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == identifier || u.Email == identifier {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user: %w", ports.ErrNotFound)
}

func (r *fakeUserRepo) ExistsByUsername(username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) ExistsByEmail(email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// hookedStore wraps a fakeStore and fires afterListActive once, right after
// the bulk active-trade listing returns. Tests use it to land a concurrent
// mutation between the listing and the locked write-back.
type hookedStore struct {
	*fakeStore
	afterListActive func()
}

func (s *hookedStore) Trades() ports.TradeRepository {
	return &hookedTradeRepo{TradeRepository: s.fakeStore.Trades(), store: s}
}

type hookedTradeRepo struct {
	ports.TradeRepository
	store *hookedStore
}

func (r *hookedTradeRepo) GetAllActive() ([]models.Trade, error) {
	trades, err := r.TradeRepository.GetAllActive()
	if fn := r.store.afterListActive; fn != nil {
		r.store.afterListActive = nil
		fn()
	}
	return trades, err
}

// fakeFeed is a fixed in-memory price source
type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{prices: make(map[string]decimal.Decimal)}
}

func (f *fakeFeed) set(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeFeed) Current(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ports.ErrPriceNotFound, symbol)
	}
	return price, nil
}
