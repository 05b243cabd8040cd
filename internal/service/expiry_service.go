package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/venue-simulator/internal/ledger"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/ports"
)

// ExpiryService settles derivative trades whose expiry has passed. Futures
// settle at the current mark price; options settle at intrinsic value, so an
// out-of-the-money option settles at zero and the premium is the loss.
type ExpiryService struct {
	store  ports.Store
	feed   ports.PriceSource
	trades *TradeService
}

// NewExpiryService creates a new ExpiryService
func NewExpiryService(store ports.Store, feed ports.PriceSource, trades *TradeService) *ExpiryService {
	return &ExpiryService{store: store, feed: feed, trades: trades}
}

// ProcessExpiries settles every active derivative whose expiry is at or before
// now. Each trade settles independently: one failure is skipped and the last
// error returned, never aborting the batch. Already-settled trades drop out of
// the expired-active query, so repeated runs are idempotent.
func (s *ExpiryService) ProcessExpiries(ctx context.Context) (settled int, lastErr error) {
	expired, err := s.store.Trades().GetExpiredActive(time.Now())
	if err != nil {
		return 0, err
	}

	for i := range expired {
		trade := &expired[i]
		if err := s.settle(ctx, trade); err != nil {
			lastErr = fmt.Errorf("settle trade %s: %w", trade.ID, err)
			continue
		}
		settled++
	}
	return settled, lastErr
}

func (s *ExpiryService) settle(ctx context.Context, trade *models.Trade) error {
	price, err := s.settlementPrice(ctx, trade)
	if err != nil {
		return err
	}
	_, err = s.trades.CloseFull(trade.UserID, trade.ID, price, models.OrderTypeExpiry)
	return err
}

// settlementPrice is the exit price a trade settles at on expiry.
func (s *ExpiryService) settlementPrice(ctx context.Context, trade *models.Trade) (decimal.Decimal, error) {
	switch trade.TradeType {
	case models.TradeTypeFutures:
		return s.feed.Current(ctx, trade.Symbol)
	case models.TradeTypeOptions:
		if trade.Options == nil {
			return decimal.Zero, fmt.Errorf("options trade %s missing contract terms", trade.ID)
		}
		mark, err := s.feed.Current(ctx, trade.Symbol)
		if err != nil {
			return decimal.Zero, err
		}
		return ledger.IntrinsicValue(trade.Options.OptionType, mark, trade.Options.StrikePrice), nil
	default:
		return decimal.Zero, fmt.Errorf("trade %s of type %s does not expire", trade.ID, trade.TradeType)
	}
}
