package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/risk-governor/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	binanceWSURL         = "wss://fstream.binance.com/ws"
	binanceRestURL       = "https://fapi.binance.com"
	pingInterval         = 30 * time.Second
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 10
	restTimeout          = 5 * time.Second
)

// Client is a Binance Futures mark price WebSocket client
type Client struct {
	wsURL       string
	restURL     string
	httpClient  *http.Client
	log         *zap.Logger
	conn        *websocket.Conn
	connMux     sync.RWMutex
	isConnected bool

	subscriber exchange.PriceSubscriber
	subMux     sync.RWMutex

	subscribed    map[string]bool
	subscribedMux sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnectAttempts int
}

// Option configures a Client
type Option func(*Client)

// WithURLs overrides the stream and REST endpoints
func WithURLs(wsURL, restURL string) Option {
	return func(c *Client) {
		c.wsURL = wsURL
		c.restURL = restURL
	}
}

// NewClient creates a new Binance WebSocket client
func NewClient(log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		wsURL:      binanceWSURL,
		restURL:    binanceRestURL,
		httpClient: &http.Client{Timeout: restTimeout},
		log:        log.Named("binance"),
		subscribed: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExchangeName returns the exchange name
func (c *Client) ExchangeName() string {
	return "binance"
}

// IsConnected returns whether the WebSocket is connected
func (c *Client) IsConnected() bool {
	c.connMux.RLock()
	defer c.connMux.RUnlock()
	return c.isConnected
}

// Connect establishes WebSocket connection
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.messageLoop()
	go c.pingLoop()

	return nil
}

// connect establishes the WebSocket connection
func (c *Client) connect() error {
	c.connMux.Lock()
	defer c.connMux.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(c.ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Binance WebSocket: %w", err)
	}

	c.conn = conn
	c.isConnected = true
	c.reconnectAttempts = 0

	c.log.Info("websocket connected")

	// Resubscribe to previous symbols
	c.subscribedMux.RLock()
	symbols := make([]string, 0, len(c.subscribed))
	for symbol := range c.subscribed {
		symbols = append(symbols, symbol)
	}
	c.subscribedMux.RUnlock()

	if len(symbols) > 0 {
		go func() {
			if err := c.subscribe(symbols); err != nil {
				c.log.Warn("resubscribe failed", zap.Error(err))
			}
		}()
	}

	return nil
}

// Subscribe subscribes to price updates for given symbols
func (c *Client) Subscribe(symbols []string) error {
	c.subscribedMux.Lock()
	for _, symbol := range symbols {
		c.subscribed[strings.ToUpper(symbol)] = true
	}
	c.subscribedMux.Unlock()

	return c.subscribe(symbols)
}

// subscribe sends subscription request
func (c *Client) subscribe(symbols []string) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected")
	}

	msg := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streamNames(symbols),
		"id":     time.Now().UnixNano(),
	}

	// gorilla connections allow one concurrent writer
	c.connMux.Lock()
	err := c.conn.WriteJSON(msg)
	c.connMux.Unlock()

	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.log.Info("subscribed", zap.Int("symbols", len(symbols)))
	return nil
}

func streamNames(symbols []string) []string {
	streams := make([]string, len(symbols))
	for i, symbol := range symbols {
		streams[i] = strings.ToLower(symbol) + "@markPrice@1s"
	}
	return streams
}

// SetSubscriber sets the price update subscriber
func (c *Client) SetSubscriber(subscriber exchange.PriceSubscriber) {
	c.subMux.Lock()
	defer c.subMux.Unlock()
	c.subscriber = subscriber
}

// messageLoop handles incoming WebSocket messages
func (c *Client) messageLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMux.RLock()
		conn := c.conn
		c.connMux.RUnlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			c.handleDisconnect()
			continue
		}

		c.handleMessage(message)
	}
}

type markPriceEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// handleMessage processes a WebSocket message
func (c *Client) handleMessage(message []byte) {
	update, ok := parseMarkPrice(message)
	if !ok {
		return
	}

	c.subMux.RLock()
	subscriber := c.subscriber
	c.subMux.RUnlock()

	if subscriber != nil {
		subscriber.OnPriceUpdate(update)
	}
}

func parseMarkPrice(message []byte) (exchange.PriceUpdate, bool) {
	var event markPriceEvent
	if err := json.Unmarshal(message, &event); err != nil {
		return exchange.PriceUpdate{}, false
	}
	if event.EventType != "markPriceUpdate" {
		return exchange.PriceUpdate{}, false
	}
	price, err := decimal.NewFromString(event.MarkPrice)
	if err != nil || !price.IsPositive() {
		return exchange.PriceUpdate{}, false
	}
	return exchange.PriceUpdate{
		Exchange:  "binance",
		Symbol:    event.Symbol,
		Price:     price,
		Timestamp: event.EventTime,
	}, true
}

// handleDisconnect handles WebSocket disconnection
func (c *Client) handleDisconnect() {
	c.connMux.Lock()
	c.isConnected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMux.Unlock()

	for c.reconnectAttempts < maxReconnectAttempts {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}

		c.reconnectAttempts++
		c.log.Info("attempting reconnect",
			zap.Int("attempt", c.reconnectAttempts),
			zap.Int("max", maxReconnectAttempts))

		if err := c.connect(); err != nil {
			c.log.Warn("reconnect failed", zap.Error(err))
			continue
		}

		return
	}

	c.log.Error("max reconnect attempts reached")
}

// pingLoop sends periodic keepalive frames
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMux.Lock()
			if c.isConnected && c.conn != nil {
				if err := c.conn.WriteMessage(websocket.PongMessage, nil); err != nil {
					c.log.Warn("ping failed", zap.Error(err))
				}
			}
			c.connMux.Unlock()
		}
	}
}

// Close closes the WebSocket connection
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}

	c.connMux.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.isConnected = false
	c.connMux.Unlock()

	c.wg.Wait()

	c.log.Info("websocket closed")
	return nil
}

// GetCurrentPrice returns the current mark price from the REST API
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", c.restURL, strings.ToUpper(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("binance premiumIndex %s: status %d", symbol, resp.StatusCode)
	}

	var result struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromString(result.MarkPrice)
}
