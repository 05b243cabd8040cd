package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/venue-simulator/internal/config"
	"github.com/venue-simulator/internal/models"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type testEnv struct {
	store      *fakeStore
	feed       *fakeFeed
	trades     *TradeService
	portfolios *PortfolioService
	balance    *BalanceService
}

func newTestEnv(t *testing.T, riskLevel string) *testEnv {
	t.Helper()
	store := newFakeStore()
	feed := newFakeFeed()
	locks := NewUserLocks()

	cfg := config.Default().Engine
	if riskLevel != "" {
		cfg.RiskLevel = riskLevel
	}

	balance := NewBalanceService(store)
	portfolios := NewPortfolioService(store, locks)
	trades := NewTradeService(store, feed, balance, portfolios, cfg, locks)
	return &testEnv{store: store, feed: feed, trades: trades, portfolios: portfolios, balance: balance}
}

func spotRequest(userID uint, qty, price string) *OpenTradeRequest {
	return &OpenTradeRequest{
		UserID:    userID,
		Symbol:    "BTCUSDT",
		Name:      "Bitcoin",
		Exchange:  "BINANCE",
		TradeType: models.TradeTypeSpot,
		Direction: models.DirectionLong,
		Quantity:  dec(qty),
		Price:     dec(price),
	}
}

func TestOpenSpotDebitsWallet(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	assert.Equal(t, models.TradeStatusOpen, trade.Status)
	assert.True(t, trade.TotalQuantity.Equal(dec("10")))
	assert.True(t, trade.RemainingQuantity.Equal(dec("10")))
	assert.True(t, trade.AverageEntryPrice.Equal(dec("100")))
	assert.True(t, env.store.walletBalance(1).Equal(dec("4000")))

	entries := env.store.historiesFor(trade.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionOpen, entries[0].Action)
}

func TestOpenLimitOrderStaysPending(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	req := spotRequest(1, "10", "100")
	req.OrderType = models.OrderTypeLimit

	trade, err := env.trades.Open(req)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusPending, trade.Status)
	// funds reserved up front
	assert.True(t, env.store.walletBalance(1).Equal(dec("4000")))
}

func TestOpenInsufficientFunds(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("100"))

	_, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	trades, _ := env.store.Trades().GetByUserID(1)
	assert.Empty(t, trades)
	assert.True(t, env.store.walletBalance(1).Equal(dec("100")))
}

func TestOpenRejectsNonPositiveQuantity(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	_, err := env.trades.Open(spotRequest(1, "0", "100"))
	require.ErrorIs(t, err, ErrInvalidTrade)

	_, err = env.trades.Open(spotRequest(1, "-1", "100"))
	require.ErrorIs(t, err, ErrInvalidTrade)
}

func TestOpenFuturesLeverageBounds(t *testing.T) {
	env := newTestEnv(t, "HIGH")
	env.store.seedWallet(1, dec("100000"))

	req := spotRequest(1, "1", "10000")
	req.TradeType = models.TradeTypeFutures
	req.Futures = &FuturesTerms{Leverage: 60}

	_, err := env.trades.Open(req)
	require.ErrorIs(t, err, ErrLeverageLimitExceeded)

	// nothing persisted, nothing debited
	trades, _ := env.store.Trades().GetByUserID(1)
	assert.Empty(t, trades)
	assert.True(t, env.store.walletBalance(1).Equal(dec("100000")))
}

func TestOpenFuturesRiskTierLeverage(t *testing.T) {
	env := newTestEnv(t, "LOW")
	env.store.seedWallet(1, dec("100000"))

	req := spotRequest(1, "1", "10000")
	req.TradeType = models.TradeTypeFutures
	req.Futures = &FuturesTerms{Leverage: 10} // within [1,50] but above LOW's cap of 5

	_, err := env.trades.Open(req)
	require.ErrorIs(t, err, ErrLeverageLimitExceeded)
}

func TestOpenFuturesDebitsMarginOnly(t *testing.T) {
	env := newTestEnv(t, "HIGH")
	env.store.seedWallet(1, dec("100000"))

	req := spotRequest(1, "1", "10000")
	req.TradeType = models.TradeTypeFutures
	req.Futures = &FuturesTerms{Leverage: 10}

	trade, err := env.trades.Open(req)
	require.NoError(t, err)

	require.NotNil(t, trade.Futures)
	assert.True(t, trade.Futures.MarginRequired.Equal(dec("1000")))
	assert.True(t, env.store.walletBalance(1).Equal(dec("99000")))
}

func TestPartialCloseRealizedPnL(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	// close 4 @ 120: +80 realized
	trade, err = env.trades.Close(1, trade.ID, dec("4"), dec("120"), models.OrderTypeLimit)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusPartiallyClosed, trade.Status)
	assert.True(t, trade.RealizedPnL.Equal(dec("80")), "realized = %s", trade.RealizedPnL)
	assert.True(t, trade.RemainingQuantity.Equal(dec("6")))
	assert.Nil(t, trade.ClosedAt)

	// close remaining 6 @ 90: -60 realized, +20 total
	trade, err = env.trades.Close(1, trade.ID, dec("6"), dec("90"), models.OrderTypeLimit)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, trade.Status)
	assert.True(t, trade.RealizedPnL.Equal(dec("20")), "realized = %s", trade.RealizedPnL)
	assert.True(t, trade.RemainingQuantity.IsZero())
	assert.True(t, trade.UnrealizedPnL.IsZero())
	require.NotNil(t, trade.ClosedAt)

	// wallet: 5000 - 1000 + (400+80) + (600-60) = 5020
	assert.True(t, env.store.walletBalance(1).Equal(dec("5020")), "balance = %s", env.store.walletBalance(1))
}

func TestCloseShortProfitsWhenPriceFalls(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	req := spotRequest(1, "10", "100")
	req.Direction = models.DirectionShort
	trade, err := env.trades.Open(req)
	require.NoError(t, err)

	trade, err = env.trades.Close(1, trade.ID, dec("10"), dec("80"), models.OrderTypeLimit)
	require.NoError(t, err)
	assert.True(t, trade.RealizedPnL.Equal(dec("200")), "realized = %s", trade.RealizedPnL)
}

func TestCloseRejectsExcessQuantity(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	_, err = env.trades.Close(1, trade.ID, dec("11"), dec("120"), models.OrderTypeLimit)
	require.ErrorIs(t, err, ErrInvalidTrade)
}

func TestCloseClosedTradeRejected(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)
	_, err = env.trades.CloseFull(1, trade.ID, dec("110"), models.OrderTypeLimit)
	require.NoError(t, err)

	_, err = env.trades.Close(1, trade.ID, dec("1"), dec("110"), models.OrderTypeLimit)
	require.ErrorIs(t, err, ErrInvalidTrade)
}

func TestCloseFuturesReturnsMarginPlusPnL(t *testing.T) {
	env := newTestEnv(t, "HIGH")
	env.store.seedWallet(1, dec("100000"))

	req := spotRequest(1, "1", "10000")
	req.TradeType = models.TradeTypeFutures
	req.Futures = &FuturesTerms{Leverage: 10}
	trade, err := env.trades.Open(req)
	require.NoError(t, err)

	trade, err = env.trades.CloseFull(1, trade.ID, dec("11000"), models.OrderTypeLimit)
	require.NoError(t, err)
	assert.True(t, trade.RealizedPnL.Equal(dec("1000")))
	// 100000 - 1000 margin + (1000 margin + 1000 pnl)
	assert.True(t, env.store.walletBalance(1).Equal(dec("101000")), "balance = %s", env.store.walletBalance(1))
}

func TestIncreaseRecomputesWeightedAverage(t *testing.T) {
	env := newTestEnv(t, "HIGH")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	trade, err = env.trades.Increase(1, trade.ID, dec("5"), dec("130"))
	require.NoError(t, err)

	// (10*100 + 5*130) / 15 = 110
	assert.True(t, trade.AverageEntryPrice.Equal(dec("110")), "avg = %s", trade.AverageEntryPrice)
	assert.True(t, trade.TotalQuantity.Equal(dec("15")))
	assert.True(t, trade.RemainingQuantity.Equal(dec("15")))
	assert.True(t, env.store.walletBalance(1).Equal(dec("3350")))
}

func TestOpenRejectsOverConcentration(t *testing.T) {
	env := newTestEnv(t, "MEDIUM")
	env.store.seedWallet(1, dec("5000"))

	_, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	// equity is now 4000 wallet + 1000 position; MEDIUM caps one
	// position at 25%, so 2000 notional is over the line
	_, err = env.trades.Open(spotRequest(1, "20", "100"))
	require.ErrorIs(t, err, ErrPositionLimitExceeded)
}

func TestCancelRefundsPendingTrade(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	req := spotRequest(1, "10", "100")
	req.OrderType = models.OrderTypeLimit
	trade, err := env.trades.Open(req)
	require.NoError(t, err)

	trade, err = env.trades.Cancel(1, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusCancelled, trade.Status)
	assert.True(t, env.store.walletBalance(1).Equal(dec("5000")))
}

func TestCancelOpenTradeRejected(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	_, err = env.trades.Cancel(1, trade.ID)
	require.ErrorIs(t, err, ErrInvalidTrade)
}

func TestGetEnforcesOwnership(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	_, err = env.trades.Get(2, trade.ID)
	require.ErrorIs(t, err, ErrTradeNotFound)
}

func TestMarkIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "")
	trade := &models.Trade{
		Direction:         models.DirectionLong,
		Status:            models.TradeStatusOpen,
		AverageEntryPrice: dec("100"),
		RemainingQuantity: dec("10"),
	}

	env.trades.Mark(trade, dec("120"))
	first := trade.UnrealizedPnL
	env.trades.Mark(trade, dec("120"))
	assert.True(t, trade.UnrealizedPnL.Equal(first))
	assert.True(t, first.Equal(dec("200")))
}

func TestMarkTerminalTradeZeroUnrealized(t *testing.T) {
	env := newTestEnv(t, "")
	trade := &models.Trade{
		Direction:         models.DirectionLong,
		Status:            models.TradeStatusClosed,
		AverageEntryPrice: dec("100"),
		RemainingQuantity: decimal.Zero,
	}

	env.trades.Mark(trade, dec("120"))
	assert.True(t, trade.UnrealizedPnL.IsZero())
}

func TestRefreshUnrealizedMarksActiveTrades(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))
	env.feed.set("BTCUSDT", dec("150"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)
	env.trades.DrainDirty()

	refreshed, err := env.trades.RefreshUnrealized(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)

	reloaded, err := env.trades.Get(1, trade.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.UnrealizedPnL.Equal(dec("500")), "unrealized = %s", reloaded.UnrealizedPnL)
	assert.Equal(t, []uint{1}, env.trades.DrainDirty())
}

func TestRefreshDoesNotResurrectClosedTrade(t *testing.T) {
	store := newFakeStore()
	hooked := &hookedStore{fakeStore: store}
	feed := newFakeFeed()
	locks := NewUserLocks()
	cfg := config.Default().Engine

	balance := NewBalanceService(hooked)
	portfolios := NewPortfolioService(hooked, locks)
	trades := NewTradeService(hooked, feed, balance, portfolios, cfg, locks)

	store.seedWallet(1, dec("5000"))
	feed.set("BTCUSDT", dec("110"))

	trade, err := trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	// a user close lands after the refresh job lists active trades but
	// before it takes the user's lock
	hooked.afterListActive = func() {
		_, err := trades.CloseFull(1, trade.ID, dec("110"), models.OrderTypeLimit)
		require.NoError(t, err)
	}

	_, err = trades.RefreshUnrealized(context.Background())
	require.NoError(t, err)

	// the stale pre-lock copy must not win over the committed close
	reloaded, err := trades.Get(1, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeStatusClosed, reloaded.Status)
	assert.True(t, reloaded.RemainingQuantity.IsZero())
	assert.True(t, reloaded.RealizedPnL.Equal(dec("100")), "realized = %s", reloaded.RealizedPnL)
	assert.True(t, reloaded.UnrealizedPnL.IsZero())
	require.NotNil(t, reloaded.ClosedAt)

	// 5000 - 1000 notional + (1000 + 100) proceeds, credited exactly once
	assert.True(t, store.walletBalance(1).Equal(dec("5100")), "balance = %s", store.walletBalance(1))

	// closing again must be rejected, not double-credited
	_, err = trades.Close(1, trade.ID, dec("10"), dec("110"), models.OrderTypeLimit)
	require.ErrorIs(t, err, ErrInvalidTrade)
	assert.True(t, store.walletBalance(1).Equal(dec("5100")))
}

func TestRealizedPnLEqualsHistorySum(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	for _, c := range []struct{ qty, price string }{
		{"4", "120"}, {"3", "95"}, {"3", "101"},
	} {
		trade, err = env.trades.Close(1, trade.ID, dec(c.qty), dec(c.price), models.OrderTypeLimit)
		require.NoError(t, err)
	}

	sum := decimal.Zero
	for _, h := range env.store.historiesFor(trade.ID) {
		if h.IsCloseEvent() {
			sum = sum.Add(h.RealizedPnL)
		}
	}
	assert.True(t, trade.RealizedPnL.Equal(sum), "trade %s vs history %s", trade.RealizedPnL, sum)
}

func TestConcurrentClosesNeverOverdrawQuantity(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	trade, err := env.trades.Open(spotRequest(1, "10", "100"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var successes int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.trades.Close(1, trade.ID, dec("2"), dec("110"), models.OrderTypeLimit); err == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()

	// only 5 closes of 2 fit into a quantity of 10
	assert.EqualValues(t, 5, successes)

	reloaded, err := env.trades.Get(1, trade.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.RemainingQuantity.IsZero())
	assert.Equal(t, models.TradeStatusClosed, reloaded.Status)
}

func TestCloseAtMarketEquityWithoutQuoteIsMarketClosed(t *testing.T) {
	env := newTestEnv(t, "")
	env.store.seedWallet(1, dec("5000"))

	req := spotRequest(1, "10", "100")
	req.Symbol = "AAPL"
	req.Exchange = "NASDAQ"
	trade, err := env.trades.Open(req)
	require.NoError(t, err)

	_, err = env.trades.CloseAtMarket(context.Background(), 1, trade.ID, dec("10"))
	require.ErrorIs(t, err, ErrMarketClosed)
}
