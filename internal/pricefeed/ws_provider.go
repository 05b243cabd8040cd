package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/venue-simulator/pkg/logger"
)

const (
	defaultWSURL   = "wss://fstream.binance.com/ws"
	defaultRestURL = "https://fapi.binance.com"

	pingInterval         = 30 * time.Second
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
	restTimeout          = 5 * time.Second
)

// WSProvider streams mark prices over a Binance-style futures websocket
type WSProvider struct {
	wsURL   string
	restURL string

	conn        *websocket.Conn
	connMux     sync.RWMutex
	isConnected bool

	subscriber Subscriber
	subMux     sync.RWMutex

	subscribed    map[string]bool
	subscribedMux sync.RWMutex

	httpClient *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectAttempts int
}

// NewWSProvider creates a websocket provider against the default endpoints
func NewWSProvider() *WSProvider {
	return &WSProvider{
		wsURL:      defaultWSURL,
		restURL:    defaultRestURL,
		subscribed: make(map[string]bool),
		httpClient: &http.Client{Timeout: restTimeout},
	}
}

// IsConnected returns whether the websocket is connected
func (p *WSProvider) IsConnected() bool {
	p.connMux.RLock()
	defer p.connMux.RUnlock()
	return p.isConnected
}

// SetSubscriber sets the price update subscriber
func (p *WSProvider) SetSubscriber(subscriber Subscriber) {
	p.subMux.Lock()
	defer p.subMux.Unlock()
	p.subscriber = subscriber
}

// Connect establishes the websocket connection and starts the read loops
func (p *WSProvider) Connect(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if err := p.connect(); err != nil {
		return err
	}

	p.wg.Add(1)
	go p.messageLoop()

	p.wg.Add(1)
	go p.pingLoop()

	return nil
}

func (p *WSProvider) connect() error {
	p.connMux.Lock()
	defer p.connMux.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(p.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pricefeed: dial %s: %w", p.wsURL, err)
	}

	p.conn = conn
	p.isConnected = true
	p.reconnectAttempts = 0

	logger.Info("[PriceFeed] websocket connected")

	p.subscribedMux.RLock()
	symbols := make([]string, 0, len(p.subscribed))
	for symbol := range p.subscribed {
		symbols = append(symbols, symbol)
	}
	p.subscribedMux.RUnlock()

	if len(symbols) > 0 {
		go p.subscribe(symbols)
	}

	return nil
}

// Subscribe subscribes to mark price updates for the given symbols
func (p *WSProvider) Subscribe(symbols []string) error {
	p.subscribedMux.Lock()
	for _, symbol := range symbols {
		p.subscribed[strings.ToUpper(symbol)] = true
	}
	p.subscribedMux.Unlock()

	return p.subscribe(symbols)
}

func (p *WSProvider) subscribe(symbols []string) error {
	if !p.IsConnected() {
		return fmt.Errorf("pricefeed: not connected")
	}

	streams := make([]string, len(symbols))
	for i, symbol := range symbols {
		streams[i] = strings.ToLower(symbol) + "@markPrice@1s"
	}

	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     time.Now().UnixNano(),
	}

	p.connMux.RLock()
	err := p.conn.WriteJSON(msg)
	p.connMux.RUnlock()

	if err != nil {
		return fmt.Errorf("pricefeed: subscribe: %w", err)
	}

	logger.Info("[PriceFeed] subscribed to %d symbols", len(symbols))
	return nil
}

func (p *WSProvider) messageLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		p.connMux.RLock()
		conn := p.conn
		p.connMux.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("[PriceFeed] websocket error: %v", err)
			}
			p.handleDisconnect()
			continue
		}

		p.handleMessage(message)
	}
}

func (p *WSProvider) handleMessage(message []byte) {
	var data struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		EventTime int64  `json:"E"`
	}
	if err := json.Unmarshal(message, &data); err != nil {
		return
	}
	if data.EventType != "markPriceUpdate" {
		return
	}

	price, err := decimal.NewFromString(data.Price)
	if err != nil {
		return
	}

	p.subMux.RLock()
	subscriber := p.subscriber
	p.subMux.RUnlock()

	if subscriber != nil {
		subscriber.OnPriceUpdate(PriceUpdate{
			Symbol:    data.Symbol,
			Price:     price,
			Timestamp: data.EventTime,
		})
	}
}

func (p *WSProvider) handleDisconnect() {
	p.connMux.Lock()
	p.isConnected = false
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.connMux.Unlock()

	for p.reconnectAttempts < maxReconnectAttempts {
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		p.reconnectAttempts++
		logger.Info("[PriceFeed] reconnect attempt %d/%d", p.reconnectAttempts, maxReconnectAttempts)

		if err := p.connect(); err != nil {
			logger.Error("[PriceFeed] reconnect failed: %v", err)
			continue
		}

		return
	}

	logger.Error("[PriceFeed] max reconnect attempts reached")
}

func (p *WSProvider) pingLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.connMux.RLock()
			conn := p.conn
			isConnected := p.isConnected
			p.connMux.RUnlock()

			if !isConnected || conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.PongMessage, nil); err != nil {
				logger.Error("[PriceFeed] ping failed: %v", err)
			}
		}
	}
}

// CurrentPrice fetches a price over REST, bypassing the stream
func (p *WSProvider) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := p.restURL + "/fapi/v1/ticker/price?symbol=" + strings.ToUpper(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricefeed: rest fetch %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return decimal.Zero, fmt.Errorf("pricefeed: rest fetch %s: status %d: %s", symbol, resp.StatusCode, body)
	}

	var result struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromString(result.Price)
}

// Close closes the websocket connection
func (p *WSProvider) Close() error {
	if p.cancel != nil {
		p.cancel()
	}

	p.connMux.Lock()
	p.isConnected = false
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.connMux.Unlock()

	p.wg.Wait()
	return nil
}
