package pricefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SimProvider is an in-memory provider for local runs and tests. Prices are
// set explicitly and pushed to the subscriber on every change.
type SimProvider struct {
	mu         sync.RWMutex
	prices     map[string]decimal.Decimal
	subscriber Subscriber
	connected  bool
}

// NewSimProvider creates a SimProvider seeded with the given prices
func NewSimProvider(seed map[string]decimal.Decimal) *SimProvider {
	prices := make(map[string]decimal.Decimal, len(seed))
	for symbol, price := range seed {
		prices[symbol] = price
	}
	return &SimProvider{prices: prices}
}

// Connect marks the provider connected
func (p *SimProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// Subscribe is a no-op; all seeded symbols are always streamed
func (p *SimProvider) Subscribe(symbols []string) error { return nil }

// SetSubscriber sets the price update subscriber
func (p *SimProvider) SetSubscriber(subscriber Subscriber) {
	p.mu.Lock()
	p.subscriber = subscriber
	p.mu.Unlock()
}

// SetPrice updates a symbol's price and notifies the subscriber
func (p *SimProvider) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	p.prices[symbol] = price
	subscriber := p.subscriber
	p.mu.Unlock()

	if subscriber != nil {
		subscriber.OnPriceUpdate(PriceUpdate{
			Symbol:    symbol,
			Price:     price,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// CurrentPrice returns the seeded price for a symbol
func (p *SimProvider) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("pricefeed: no simulated price for %s", symbol)
	}
	return price, nil
}

// Close marks the provider disconnected
func (p *SimProvider) Close() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

// IsConnected reports the simulated connection state
func (p *SimProvider) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}
