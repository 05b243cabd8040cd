// Package pricefeed supplies current mark prices to the accounting engine.
// A websocket provider keeps an in-memory table warm; redis holds a short-TTL
// copy so restarts and sibling processes see recent marks.
package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/venue-simulator/internal/ports"
)

const (
	staleAfter = 5 * time.Second
	redisTTL   = 5 * time.Second
)

// PriceUpdate represents one mark price observation
type PriceUpdate struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// Provider is a live price source the feed subscribes to
type Provider interface {
	Connect(ctx context.Context) error
	Subscribe(symbols []string) error
	SetSubscriber(subscriber Subscriber)
	// CurrentPrice fetches a price directly, bypassing the stream. Used as
	// the fallback when the streamed mark is stale.
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Close() error
	IsConnected() bool
}

// Subscriber receives streamed price updates
type Subscriber interface {
	OnPriceUpdate(update PriceUpdate)
}

// Feed caches mark prices and implements ports.PriceSource
type Feed struct {
	redis    *redis.Client
	provider Provider

	prices    map[string]PriceUpdate
	pricesMux sync.RWMutex
}

// New creates a Feed over the given redis client and provider
func New(redisClient *redis.Client, provider Provider) *Feed {
	return &Feed{
		redis:    redisClient,
		provider: provider,
		prices:   make(map[string]PriceUpdate),
	}
}

// Start connects the provider and subscribes to the given symbols
func (f *Feed) Start(ctx context.Context, symbols []string) error {
	f.provider.SetSubscriber(f)
	if err := f.provider.Connect(ctx); err != nil {
		return fmt.Errorf("pricefeed: connect: %w", err)
	}
	if len(symbols) > 0 {
		if err := f.provider.Subscribe(symbols); err != nil {
			return fmt.Errorf("pricefeed: subscribe: %w", err)
		}
	}
	return nil
}

// Stop closes the provider connection
func (f *Feed) Stop() {
	_ = f.provider.Close()
}

// OnPriceUpdate implements Subscriber
func (f *Feed) OnPriceUpdate(update PriceUpdate) {
	f.pricesMux.Lock()
	f.prices[update.Symbol] = update
	f.pricesMux.Unlock()

	if f.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	key := priceKey(update.Symbol)
	f.redis.HSet(ctx, key, map[string]interface{}{
		"price":     update.Price.String(),
		"timestamp": update.Timestamp,
	})
	f.redis.Expire(ctx, key, redisTTL)
}

// Current returns the current mark price for a symbol. Lookup order: fresh
// in-memory value, redis copy, direct provider fetch. A symbol unknown to all
// three yields ports.ErrPriceNotFound.
func (f *Feed) Current(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.pricesMux.RLock()
	update, ok := f.prices[symbol]
	f.pricesMux.RUnlock()
	if ok && time.Now().UnixMilli()-update.Timestamp < staleAfter.Milliseconds() {
		return update.Price, nil
	}

	if f.redis != nil {
		raw, err := f.redis.HGet(ctx, priceKey(symbol), "price").Result()
		if err == nil {
			if price, perr := decimal.NewFromString(raw); perr == nil {
				return price, nil
			}
		}
	}

	if f.provider != nil {
		price, err := f.provider.CurrentPrice(ctx, symbol)
		if err == nil {
			f.OnPriceUpdate(PriceUpdate{Symbol: symbol, Price: price, Timestamp: time.Now().UnixMilli()})
			return price, nil
		}
	}

	return decimal.Zero, fmt.Errorf("%w: %s", ports.ErrPriceNotFound, symbol)
}

// IsConnected reports whether the underlying provider stream is up
func (f *Feed) IsConnected() bool {
	return f.provider != nil && f.provider.IsConnected()
}

func priceKey(symbol string) string {
	return "price:" + symbol
}
