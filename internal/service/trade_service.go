package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/venue-simulator/internal/config"
	"github.com/venue-simulator/internal/ledger"
	"github.com/venue-simulator/internal/models"
	"github.com/venue-simulator/internal/ports"
	"github.com/venue-simulator/pkg/logger"
)

const priceTimeout = 3 * time.Second

// equityExchanges are venues with trading hours; a missing mark for one of
// these surfaces as a closed market rather than an unknown symbol.
var equityExchanges = map[string]bool{
	"NYSE":   true,
	"NASDAQ": true,
	"LSE":    true,
}

// TradeService owns the trade lifecycle: open, increase, partial and full
// close, cancel, and mark-to-market. Every mutation runs as one database
// transaction covering the trade, its detail record, one history entry, the
// wallet movement, and the portfolio recompute, all under the owning user's
// lock.
type TradeService struct {
	store      ports.Store
	feed       ports.PriceSource
	balance    *BalanceService
	portfolios *PortfolioService
	cfg        config.EngineConfig
	locks      *UserLocks
	dirty      *dirtySet
}

// NewTradeService creates a new TradeService
func NewTradeService(
	store ports.Store,
	feed ports.PriceSource,
	balance *BalanceService,
	portfolios *PortfolioService,
	cfg config.EngineConfig,
	locks *UserLocks,
) *TradeService {
	return &TradeService{
		store:      store,
		feed:       feed,
		balance:    balance,
		portfolios: portfolios,
		cfg:        cfg,
		locks:      locks,
		dirty:      newDirtySet(),
	}
}

// FuturesTerms carries the futures contract terms of an open request
type FuturesTerms struct {
	Leverage     int             `json:"leverage"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	ContractSize decimal.Decimal `json:"contract_size"`
}

// OptionsTerms carries the option contract terms of an open request
type OptionsTerms struct {
	OptionType  models.OptionType `json:"option_type"`
	Position    models.Direction  `json:"position"`
	StrikePrice decimal.Decimal   `json:"strike_price"`
	ExpiryDate  time.Time         `json:"expiry_date"`
}

// OpenTradeRequest represents a request to open a new trade
type OpenTradeRequest struct {
	UserID      uint
	Symbol      string
	Name        string
	Exchange    string
	TradeType   models.TradeType
	HoldingType models.HoldingType
	Direction   models.Direction
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	OrderType   models.OrderType
	Futures     *FuturesTerms
	Options     *OptionsTerms
}

// Open opens a new trade. The wallet is debited by the trade notional, or by
// the required margin for leveraged instruments, before anything is committed;
// a failed debit aborts the whole operation.
func (s *TradeService) Open(req *OpenTradeRequest) (*models.Trade, error) {
	if err := s.validateOpen(req); err != nil {
		return nil, err
	}

	s.locks.Lock(req.UserID)
	defer s.locks.Unlock(req.UserID)

	notional := req.Quantity.Mul(req.Price)
	cost := notional
	var futures *models.FuturesDetails
	var options *models.OptionsDetails

	switch req.TradeType {
	case models.TradeTypeFutures:
		margin := notional.Div(decimal.NewFromInt(int64(req.Futures.Leverage)))
		contractSize := req.Futures.ContractSize
		if contractSize.IsZero() {
			contractSize = decimal.NewFromInt(1)
		}
		futures = &models.FuturesDetails{
			Leverage:       req.Futures.Leverage,
			MarginRequired: margin,
			ExpiryDate:     req.Futures.ExpiryDate,
			ContractSize:   contractSize,
		}
		cost = margin
	case models.TradeTypeOptions:
		options = &models.OptionsDetails{
			OptionType:  req.Options.OptionType,
			Position:    req.Options.Position,
			StrikePrice: req.Options.StrikePrice,
			ExpiryDate:  req.Options.ExpiryDate,
			Premium:     req.Price,
		}
	}

	if err := s.checkConcentration(req.UserID, notional); err != nil {
		return nil, err
	}

	status := models.TradeStatusOpen
	if req.OrderType == models.OrderTypeLimit {
		status = models.TradeStatusPending
	}

	now := time.Now()
	trade := &models.Trade{
		ID:                uuid.New().String(),
		UserID:            req.UserID,
		Symbol:            req.Symbol,
		Name:              req.Name,
		Exchange:          req.Exchange,
		TradeType:         req.TradeType,
		HoldingType:       req.HoldingType,
		Direction:         req.Direction,
		Status:            status,
		TotalQuantity:     req.Quantity,
		RemainingQuantity: req.Quantity,
		AverageEntryPrice: req.Price,
		CurrentPrice:      req.Price,
		TotalInvested:     notional,
		RealizedPnL:       decimal.Zero,
		UnrealizedPnL:     decimal.Zero,
		OpenedAt:          now,
		Futures:           futures,
		Options:           options,
	}

	err := s.store.Transaction(func(tx ports.Store) error {
		if err := s.balance.Debit(tx, req.UserID, cost); err != nil {
			return err
		}
		if err := tx.Trades().Create(trade); err != nil {
			return err
		}
		if err := tx.Histories().Create(&models.TradeHistory{
			TradeID:   trade.ID,
			UserID:    req.UserID,
			Action:    models.ActionOpen,
			Quantity:  req.Quantity,
			Price:     req.Price,
			OrderType: orderTypeOrMarket(req.OrderType),
		}); err != nil {
			return err
		}
		return s.portfolios.RecomputeIn(tx, req.UserID)
	})
	if err != nil {
		return nil, err
	}

	s.dirty.mark(req.UserID)
	return trade, nil
}

// Increase adds quantity to an OPEN or PARTIALLY_CLOSED trade, recomputing the
// weighted average entry price over the remaining quantity and the increment.
func (s *TradeService) Increase(userID uint, tradeID string, addQuantity, addPrice decimal.Decimal) (*models.Trade, error) {
	if !addQuantity.IsPositive() || !addPrice.IsPositive() {
		return nil, fmt.Errorf("%w: quantity and price must be positive", ErrInvalidTrade)
	}
	if !ledger.FitsPrecision(addQuantity) {
		return nil, fmt.Errorf("%w: quantity exceeds %d fractional digits", ErrInvalidTrade, ledger.PersistencePrecision)
	}

	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	addNotional := addQuantity.Mul(addPrice)
	if err := s.checkConcentration(userID, addNotional); err != nil {
		return nil, err
	}

	var trade *models.Trade
	err := s.store.Transaction(func(tx ports.Store) error {
		var err error
		trade, err = s.loadOwnedTrade(tx, userID, tradeID)
		if err != nil {
			return err
		}
		if !trade.IsActive() {
			return fmt.Errorf("%w: cannot increase a %s trade", ErrInvalidTrade, trade.Status)
		}

		newAvg, err := ledger.WeightedAverage(trade.RemainingQuantity, trade.AverageEntryPrice, addQuantity, addPrice)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTrade, err)
		}

		cost := addNotional
		if trade.TradeType == models.TradeTypeFutures && trade.Futures != nil {
			margin := addNotional.Div(decimal.NewFromInt(int64(trade.Futures.Leverage)))
			trade.Futures.MarginRequired = trade.Futures.MarginRequired.Add(margin)
			cost = margin
		}

		if err := s.balance.Debit(tx, userID, cost); err != nil {
			return err
		}

		trade.AverageEntryPrice = newAvg
		trade.TotalQuantity = trade.TotalQuantity.Add(addQuantity)
		trade.RemainingQuantity = trade.RemainingQuantity.Add(addQuantity)
		trade.TotalInvested = trade.TotalInvested.Add(addNotional)
		trade.UnrealizedPnL = ledger.UnrealizedPnL(trade.Direction, trade.AverageEntryPrice, trade.CurrentPrice, trade.RemainingQuantity)

		if err := tx.Trades().Update(trade); err != nil {
			return err
		}
		if err := tx.Histories().Create(&models.TradeHistory{
			TradeID:   trade.ID,
			UserID:    userID,
			Action:    models.ActionIncrease,
			Quantity:  addQuantity,
			Price:     addPrice,
			OrderType: models.OrderTypeMarket,
		}); err != nil {
			return err
		}
		return s.portfolios.RecomputeIn(tx, userID)
	})
	if err != nil {
		return nil, err
	}

	s.dirty.mark(userID)
	return trade, nil
}

// Close closes quantity units of a trade at exitPrice, booking the realized
// PnL delta and crediting the wallet with the proceeds. Closing the full
// remaining quantity transitions the trade to CLOSED and stamps closed_at.
func (s *TradeService) Close(userID uint, tradeID string, quantity, exitPrice decimal.Decimal, orderType models.OrderType) (*models.Trade, error) {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)
	return s.closeLocked(userID, tradeID, quantity, exitPrice, orderType, false)
}

// CloseFull closes the entire remaining quantity of a trade at exitPrice.
func (s *TradeService) CloseFull(userID uint, tradeID string, exitPrice decimal.Decimal, orderType models.OrderType) (*models.Trade, error) {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)
	return s.closeLocked(userID, tradeID, decimal.Zero, exitPrice, orderType, true)
}

// CloseAtMarket closes quantity units at the current mark price from the feed.
func (s *TradeService) CloseAtMarket(ctx context.Context, userID uint, tradeID string, quantity decimal.Decimal) (*models.Trade, error) {
	trade, err := s.Get(userID, tradeID)
	if err != nil {
		return nil, err
	}
	price, err := s.resolvePrice(ctx, trade.Symbol, trade.Exchange)
	if err != nil {
		return nil, err
	}
	return s.Close(userID, tradeID, quantity, price, models.OrderTypeMarket)
}

func (s *TradeService) closeLocked(userID uint, tradeID string, quantity, exitPrice decimal.Decimal, orderType models.OrderType, full bool) (*models.Trade, error) {
	var trade *models.Trade
	err := s.store.Transaction(func(tx ports.Store) error {
		var err error
		trade, err = s.loadOwnedTrade(tx, userID, tradeID)
		if err != nil {
			return err
		}
		if !trade.IsActive() {
			return fmt.Errorf("%w: cannot close a %s trade", ErrInvalidTrade, trade.Status)
		}
		if full {
			quantity = trade.RemainingQuantity
		}
		if !quantity.IsPositive() || quantity.GreaterThan(trade.RemainingQuantity) {
			return fmt.Errorf("%w: close quantity %s outside (0, %s]", ErrInvalidTrade, quantity, trade.RemainingQuantity)
		}

		delta := ledger.RealizedPnL(trade.Direction, trade.AverageEntryPrice, exitPrice, quantity)

		proceeds := trade.AverageEntryPrice.Mul(quantity).Add(delta)
		if trade.TradeType == models.TradeTypeFutures && trade.Futures != nil {
			marginShare := trade.Futures.MarginRequired.Mul(quantity).Div(trade.RemainingQuantity)
			trade.Futures.MarginRequired = trade.Futures.MarginRequired.Sub(marginShare)
			proceeds = marginShare.Add(delta)
		}

		trade.RealizedPnL = trade.RealizedPnL.Add(delta)
		trade.RemainingQuantity = trade.RemainingQuantity.Sub(quantity)
		trade.CurrentPrice = exitPrice

		action := models.ActionPartialClose
		if trade.RemainingQuantity.IsZero() {
			now := time.Now()
			trade.Status = models.TradeStatusClosed
			trade.ClosedAt = &now
			trade.UnrealizedPnL = decimal.Zero
			action = models.ActionClose
			if orderType == models.OrderTypeExpiry {
				action = models.ActionExpire
			}
		} else {
			trade.Status = models.TradeStatusPartiallyClosed
			trade.UnrealizedPnL = ledger.UnrealizedPnL(trade.Direction, trade.AverageEntryPrice, trade.CurrentPrice, trade.RemainingQuantity)
		}

		if err := s.balance.Credit(tx, userID, proceeds); err != nil {
			return err
		}
		if err := tx.Trades().Update(trade); err != nil {
			return err
		}
		if err := tx.Histories().Create(&models.TradeHistory{
			TradeID:     trade.ID,
			UserID:      userID,
			Action:      action,
			Quantity:    quantity,
			Price:       exitPrice,
			OrderType:   orderTypeOrMarket(orderType),
			RealizedPnL: delta,
		}); err != nil {
			return err
		}
		return s.portfolios.RecomputeIn(tx, userID)
	})
	if err != nil {
		return nil, err
	}

	s.dirty.mark(userID)
	return trade, nil
}

// Cancel cancels a PENDING trade and refunds the reserved funds.
func (s *TradeService) Cancel(userID uint, tradeID string) (*models.Trade, error) {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	var trade *models.Trade
	err := s.store.Transaction(func(tx ports.Store) error {
		var err error
		trade, err = s.loadOwnedTrade(tx, userID, tradeID)
		if err != nil {
			return err
		}
		if trade.Status != models.TradeStatusPending {
			return fmt.Errorf("%w: only PENDING trades can be cancelled, got %s", ErrInvalidTrade, trade.Status)
		}

		refund := trade.TotalInvested
		if trade.TradeType == models.TradeTypeFutures && trade.Futures != nil {
			refund = trade.Futures.MarginRequired
			trade.Futures.MarginRequired = decimal.Zero
		}

		trade.Status = models.TradeStatusCancelled
		trade.UnrealizedPnL = decimal.Zero

		if err := s.balance.Credit(tx, userID, refund); err != nil {
			return err
		}
		if err := tx.Trades().Update(trade); err != nil {
			return err
		}
		if err := tx.Histories().Create(&models.TradeHistory{
			TradeID:   trade.ID,
			UserID:    userID,
			Action:    models.ActionCancel,
			Quantity:  decimal.Zero,
			Price:     decimal.Zero,
			OrderType: models.OrderTypeLimit,
		}); err != nil {
			return err
		}
		return s.portfolios.RecomputeIn(tx, userID)
	})
	if err != nil {
		return nil, err
	}

	s.dirty.mark(userID)
	return trade, nil
}

// Mark updates a trade's mark price and recomputes its unrealized PnL. Not an
// economic event: no history entry, no wallet movement. Terminal trades still
// record the price but keep unrealized PnL at zero.
func (s *TradeService) Mark(trade *models.Trade, markPrice decimal.Decimal) {
	trade.CurrentPrice = markPrice
	if trade.IsTerminal() {
		trade.UnrealizedPnL = decimal.Zero
		return
	}
	trade.UnrealizedPnL = ledger.UnrealizedPnL(trade.Direction, trade.AverageEntryPrice, markPrice, trade.RemainingQuantity)
}

// RefreshUnrealized marks every active trade against the price feed and
// recomputes the affected portfolios. One trade's failure is logged by the
// caller and never aborts the batch; the error returned is the last one seen.
func (s *TradeService) RefreshUnrealized(ctx context.Context) (refreshed int, lastErr error) {
	trades, err := s.store.Trades().GetAllActive()
	if err != nil {
		return 0, err
	}

	byUser := make(map[uint][]models.Trade)
	for _, t := range trades {
		byUser[t.UserID] = append(byUser[t.UserID], t)
	}

	for userID, userTrades := range byUser {
		if err := s.refreshUser(ctx, userID, userTrades); err != nil {
			lastErr = err
			continue
		}
		refreshed += len(userTrades)
		s.dirty.mark(userID)
	}
	return refreshed, lastErr
}

func (s *TradeService) refreshUser(ctx context.Context, userID uint, trades []models.Trade) error {
	s.locks.Lock(userID)
	defer s.locks.Unlock(userID)

	return s.store.Transaction(func(tx ports.Store) error {
		for i := range trades {
			price, err := s.resolvePrice(ctx, trades[i].Symbol, trades[i].Exchange)
			if err != nil {
				// skip symbols without a mark; next tick retries
				logger.Error("Refresh: skipping trade %s (%s): %v", trades[i].ID, trades[i].Symbol, err)
				continue
			}
			// the pre-lock listing is only a work list; a user mutation may
			// have landed since, so re-load the row under the lock
			trade, err := tx.Trades().GetByIDForUpdate(trades[i].ID)
			if err != nil {
				if errors.Is(err, ports.ErrNotFound) {
					continue
				}
				return err
			}
			if !trade.IsActive() {
				continue
			}
			s.Mark(trade, price)
			if err := tx.Trades().Update(trade); err != nil {
				return err
			}
		}
		return s.portfolios.RecomputeIn(tx, userID)
	})
}

// DrainDirty returns the users mutated since the last call and clears the set.
func (s *TradeService) DrainDirty() []uint {
	return s.dirty.drain()
}

// Get returns a trade owned by the user
func (s *TradeService) Get(userID uint, tradeID string) (*models.Trade, error) {
	trade, err := s.store.Trades().GetByID(tradeID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	if trade.UserID != userID {
		return nil, ErrTradeNotFound
	}
	return trade, nil
}

// List returns all trades for a user
func (s *TradeService) List(userID uint) ([]models.Trade, error) {
	return s.store.Trades().GetByUserID(userID)
}

// History returns the history ledger for a trade owned by the user
func (s *TradeService) History(userID uint, tradeID string) ([]models.TradeHistory, error) {
	if _, err := s.Get(userID, tradeID); err != nil {
		return nil, err
	}
	return s.store.Histories().GetByTradeID(tradeID)
}

// UserHistory returns a page of the user's history ledger, newest first
func (s *TradeService) UserHistory(userID uint, page, pageSize int) ([]models.TradeHistory, int64, error) {
	return s.store.Histories().GetByUserIDPaginated(userID, page, pageSize)
}

func (s *TradeService) validateOpen(req *OpenTradeRequest) error {
	if !req.Quantity.IsPositive() || !req.Price.IsPositive() {
		return fmt.Errorf("%w: quantity and price must be positive", ErrInvalidTrade)
	}
	if !ledger.FitsPrecision(req.Quantity) {
		return fmt.Errorf("%w: quantity exceeds %d fractional digits", ErrInvalidTrade, ledger.PersistencePrecision)
	}
	if req.Direction != models.DirectionLong && req.Direction != models.DirectionShort {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidTrade, req.Direction)
	}

	notional := req.Quantity.Mul(req.Price)
	if notional.LessThan(s.cfg.MinAmount()) || notional.GreaterThan(s.cfg.MaxAmount()) {
		return fmt.Errorf("%w: notional %s outside [%s, %s]", ErrInvalidTrade, notional, s.cfg.MinAmount(), s.cfg.MaxAmount())
	}

	switch req.TradeType {
	case models.TradeTypeSpot:
		if req.Futures != nil || req.Options != nil {
			return fmt.Errorf("%w: spot trades carry no derivative terms", ErrInvalidTrade)
		}
	case models.TradeTypeFutures:
		if req.Futures == nil {
			return fmt.Errorf("%w: futures trade requires futures terms", ErrInvalidTrade)
		}
		if req.Futures.Leverage < 1 || req.Futures.Leverage > s.cfg.MaxLeverage {
			return fmt.Errorf("%w: leverage %d outside [1, %d]", ErrLeverageLimitExceeded, req.Futures.Leverage, s.cfg.MaxLeverage)
		}
		if lvl := s.cfg.ActiveRiskLevel(); req.Futures.Leverage > lvl.MaxLeverage {
			return fmt.Errorf("%w: leverage %d above risk tier limit %d", ErrLeverageLimitExceeded, req.Futures.Leverage, lvl.MaxLeverage)
		}
	case models.TradeTypeOptions:
		if req.Options == nil {
			return fmt.Errorf("%w: options trade requires options terms", ErrInvalidTrade)
		}
		if !req.Options.StrikePrice.IsPositive() {
			return fmt.Errorf("%w: strike price must be positive", ErrInvalidTrade)
		}
		if req.Options.ExpiryDate.IsZero() {
			return fmt.Errorf("%w: options trade requires an expiry date", ErrInvalidTrade)
		}
	default:
		return fmt.Errorf("%w: unknown trade type %q", ErrInvalidTrade, req.TradeType)
	}

	return nil
}

// checkConcentration rejects an open or increase whose notional would exceed
// the risk tier's share of the account equity: wallet balance plus the capital
// and unrealized PnL of the active positions. A first position has nothing to
// be concentrated against and is always allowed.
func (s *TradeService) checkConcentration(userID uint, notional decimal.Decimal) error {
	lvl := s.cfg.ActiveRiskLevel()
	if lvl.MaxConcentrationPct >= 100 {
		return nil
	}

	active, err := s.store.Trades().GetActiveByUserID(userID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	equity := decimal.Zero
	wallet, err := s.store.Wallets().GetByUserID(userID)
	if err == nil {
		equity = equity.Add(wallet.Balance)
	} else if !errors.Is(err, ports.ErrNotFound) {
		return err
	}
	for i := range active {
		equity = equity.Add(positionCost(&active[i])).Add(active[i].UnrealizedPnL)
	}

	limit := equity.Mul(decimal.NewFromFloat(lvl.MaxConcentrationPct / 100))
	if notional.GreaterThan(limit) {
		return fmt.Errorf("%w: notional %s above %s (%.0f%% of account equity)", ErrPositionLimitExceeded, notional, limit, lvl.MaxConcentrationPct)
	}
	return nil
}

// positionCost is the capital actually tied up in an active trade: margin for
// futures, the full notional otherwise.
func positionCost(t *models.Trade) decimal.Decimal {
	if t.TradeType == models.TradeTypeFutures && t.Futures != nil {
		return t.Futures.MarginRequired
	}
	return t.AverageEntryPrice.Mul(t.RemainingQuantity)
}

// loadOwnedTrade loads a trade under a row lock and verifies ownership
func (s *TradeService) loadOwnedTrade(tx ports.Store, userID uint, tradeID string) (*models.Trade, error) {
	trade, err := tx.Trades().GetByIDForUpdate(tradeID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	if trade.UserID != userID {
		return nil, ErrTradeNotFound
	}
	return trade, nil
}

// resolvePrice fetches the current mark with a bounded timeout. A timeout is
// transient; a missing price on an equity venue means the market is closed.
func (s *TradeService) resolvePrice(ctx context.Context, symbol, exchange string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	price, err := s.feed.Current(ctx, symbol)
	if err == nil {
		return price, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return decimal.Zero, fmt.Errorf("%w: price feed timeout for %s", ErrTransient, symbol)
	}
	if errors.Is(err, ports.ErrPriceNotFound) && equityExchanges[exchange] {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s on %s", ErrMarketClosed, symbol, exchange)
	}
	return decimal.Zero, err
}

func orderTypeOrMarket(t models.OrderType) models.OrderType {
	if t == "" {
		return models.OrderTypeMarket
	}
	return t
}
