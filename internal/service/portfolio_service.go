package service

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/venue-simulator/internal/ledger"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/ports"
)

const sharpeAnnualization = 365

// PortfolioService rebuilds the per-user portfolio aggregate from the user's
// trade set and snapshot history. The aggregate is always recomputed as a
// whole; nothing is patched incrementally, so a recompute is idempotent for a
// fixed set of trades and prices.
type PortfolioService struct {
	store ports.Store
	locks *UserLocks
}

// NewPortfolioService creates a new PortfolioService
func NewPortfolioService(store ports.Store, locks *UserLocks) *PortfolioService {
	return &PortfolioService{store: store, locks: locks}
}

// Get returns the cached portfolio for a user, recomputing it first if no
// cached row exists yet.
func (s *PortfolioService) Get(userID uint) (*models.Portfolio, error) {
	portfolio, err := s.store.Portfolios().GetByUserID(userID)
	if err == nil {
		return portfolio, nil
	}
	if !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}
	if err := s.Recompute(userID); err != nil {
		return nil, err
	}
	return s.store.Portfolios().GetByUserID(userID)
}

// Recompute rebuilds the portfolio for a user under their lock.
func (s *PortfolioService) Recompute(userID uint) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)
	return s.store.Transaction(func(tx ports.Store) error {
		return s.RecomputeIn(tx, userID)
	})
}

// RecomputeIn rebuilds the portfolio inside an existing transaction. The
// caller is expected to already hold the user's lock.
func (s *PortfolioService) RecomputeIn(tx ports.Store, userID uint) error {
	trades, err := tx.Trades().GetByUserID(userID)
	if err != nil {
		return err
	}

	portfolio := &models.Portfolio{
		UserID:             userID,
		TotalValue:         decimal.Zero,
		TotalInvested:      decimal.Zero,
		TotalRealizedPnL:   decimal.Zero,
		TotalUnrealizedPnL: decimal.Zero,
		LastUpdated:        time.Now(),
	}

	closedCount := 0
	for i := range trades {
		t := &trades[i]
		portfolio.TotalRealizedPnL = portfolio.TotalRealizedPnL.Add(t.RealizedPnL)
		if t.Status != models.TradeStatusCancelled {
			portfolio.TotalInvested = portfolio.TotalInvested.Add(t.TotalInvested)
		}

		switch {
		case t.IsActive():
			portfolio.ActiveTradesCount++
			portfolio.TotalUnrealizedPnL = portfolio.TotalUnrealizedPnL.Add(t.UnrealizedPnL)
		case t.Status == models.TradeStatusClosed:
			closedCount++
			if t.RealizedPnL.IsPositive() {
				portfolio.WinningTradesCount++
			} else if t.RealizedPnL.IsNegative() {
				portfolio.LosingTradesCount++
			}
		}
	}

	portfolio.TotalTradesCount = len(trades)
	portfolio.TotalValue = portfolio.TotalInvested.
		Add(portfolio.TotalRealizedPnL).
		Add(portfolio.TotalUnrealizedPnL)

	totalPnL := portfolio.TotalRealizedPnL.Add(portfolio.TotalUnrealizedPnL)
	portfolio.TotalReturnPercentage = ledger.PnLPercentage(totalPnL, portfolio.TotalInvested)

	denom := closedCount
	if denom == 0 {
		denom = 1
	}
	portfolio.WinRate = float64(portfolio.WinningTradesCount) / float64(denom)

	if err := s.applyDayPnL(tx, portfolio); err != nil {
		return err
	}
	if err := s.applyRiskMetrics(tx, portfolio); err != nil {
		return err
	}

	return tx.Portfolios().Save(portfolio)
}

// Snapshot records today's snapshot for a user. Running it twice on the same
// day is a no-op: the (user, date) unique index swallows the second insert.
func (s *PortfolioService) Snapshot(userID uint) error {
	portfolio, err := s.Get(userID)
	if err != nil {
		return err
	}
	return s.store.Snapshots().Create(&models.DailySnapshot{
		UserID:        userID,
		SnapshotDate:  dateOnly(time.Now()),
		TotalValue:    portfolio.TotalValue,
		TotalInvested: portfolio.TotalInvested,
		RealizedPnL:   portfolio.TotalRealizedPnL,
		UnrealizedPnL: portfolio.TotalUnrealizedPnL,
	})
}

// SnapshotAll snapshots every known portfolio. One user's failure does not
// stop the rest; the last error is returned.
func (s *PortfolioService) SnapshotAll() (snapshotted int, lastErr error) {
	userIDs, err := s.store.Portfolios().AllUserIDs()
	if err != nil {
		return 0, err
	}
	for _, userID := range userIDs {
		if err := s.Snapshot(userID); err != nil {
			lastErr = err
			continue
		}
		snapshotted++
	}
	return snapshotted, lastErr
}

// Snapshots returns up to limit snapshots for a user, oldest first.
func (s *PortfolioService) Snapshots(userID uint, limit int) ([]models.DailySnapshot, error) {
	return s.store.Snapshots().GetByUserID(userID, limit)
}

// applyDayPnL sets the day PnL fields against yesterday's snapshot. Without a
// baseline snapshot the day figures stay at zero.
func (s *PortfolioService) applyDayPnL(tx ports.Store, p *models.Portfolio) error {
	yesterday := dateOnly(time.Now().AddDate(0, 0, -1))
	snap, err := tx.Snapshots().GetByUserIDAndDate(p.UserID, yesterday)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil
		}
		return err
	}

	p.DayPnL = p.TotalValue.Sub(snap.TotalValue)
	p.DayPnLPercentage = ledger.PnLPercentage(p.DayPnL, snap.TotalValue)
	return nil
}

// applyRiskMetrics computes max drawdown and Sharpe ratio over the snapshot
// value series with the current value appended. Fewer than two points means
// both metrics stay at zero.
func (s *PortfolioService) applyRiskMetrics(tx ports.Store, p *models.Portfolio) error {
	snaps, err := tx.Snapshots().GetByUserID(p.UserID, 0)
	if err != nil {
		return err
	}

	values := make([]float64, 0, len(snaps)+1)
	for i := range snaps {
		values = append(values, snaps[i].TotalValue.InexactFloat64())
	}
	values = append(values, p.TotalValue.InexactFloat64())

	p.MaxDrawdown = maxDrawdown(values)
	p.SharpeRatio = sharpeRatio(values)
	return nil
}

// maxDrawdown returns the largest peak-to-trough decline as a percentage of
// the peak.
func maxDrawdown(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	peak := values[0]
	worst := 0.0
	for _, v := range values[1:] {
		if v > peak {
			peak = v
			continue
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}

// sharpeRatio annualizes the mean daily return over its standard deviation,
// with a zero risk-free rate.
func sharpeRatio(values []float64) float64 {
	if len(values) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		returns = append(returns, (values[i]-values[i-1])/values[i-1])
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}

	return mean / math.Sqrt(variance) * math.Sqrt(sharpeAnnualization)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
