// Package feed implements a BarStream over a WebSocket market-data provider
// delivering closed OHLCV bars per subscribed instrument.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"StructPulse/internal/domain/models"
	drepo "StructPulse/internal/domain/repository"
	"StructPulse/pkg/logger"
)

// Client implements repository.BarStream backed by a WebSocket feed.
type Client struct {
	apiKey         string
	websocketURL   string
	instruments    []string
	timeframes     []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a WebSocket bar stream.
func New(apiKey, websocketURL string, instruments, timeframes []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) drepo.BarStream {
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		instruments:    instruments,
		timeframes:     timeframes,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	if c.log != nil {
		c.log.Info("feed connected", logger.String("url", c.websocketURL))
	}
	return nil
}

// Subscribe subscribes to every configured (instrument, timeframe) series.
func (c *Client) Subscribe(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return fmt.Errorf("feed not connected")
	}
	for _, ins := range c.instruments {
		for _, tf := range c.timeframes {
			msg := map[string]string{"type": "subscribe", "symbol": ins, "resolution": tf}
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("subscribe %s/%s: %w", ins, tf, err)
			}
		}
		if c.log != nil {
			c.log.Info("feed subscribed", logger.String("instrument", ins))
		}
	}
	return nil
}

type wireBar struct {
	S  string  `json:"s"`
	TF string  `json:"res"`
	T  int64   `json:"t"` // bar open, unix ms
	O  float64 `json:"o"`
	H  float64 `json:"h"`
	L  float64 `json:"l"`
	C  float64 `json:"c"`
	V  float64 `json:"v"`
}

type wireMessage struct {
	Type string    `json:"type"`
	Data []wireBar `json:"data"`
}

// Read streams incoming bars and errors. The read loop ends on the first
// transport error; the caller decides whether to Reconnect. Both loops hold
// the connection captured at call time, so a Reconnect never races them and a
// fresh Read after reconnecting gets the new connection.
func (c *Client) Read(ctx context.Context) (<-chan *models.IncomingBar, <-chan error) {
	bars := make(chan *models.IncomingBar, 1024)
	errs := make(chan error, 1)
	conn := c.current()
	done := make(chan struct{})

	// ping loop, ends with the read loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(bars)
		defer close(errs)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if conn == nil {
					errs <- fmt.Errorf("feed conn nil")
					return
				}
				_, b, err := conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("feed read: %w", err)
					return
				}
				var m wireMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-bar frames
					continue
				}
				if m.Type != "bar" {
					continue
				}
				for _, d := range m.Data {
					in := &models.IncomingBar{
						Instrument: d.S,
						Timeframe:  string(drepo.NormalizeTimeframe(d.TF)),
						Bar: models.Bar{
							Timestamp: time.UnixMilli(d.T).UTC(),
							Open:      d.O,
							High:      d.H,
							Low:       d.L,
							Close:     d.C,
							Volume:    d.V,
						},
					}
					select {
					case bars <- in:
					default:
						// drop on backpressure; the next bar supersedes
					}
				}
			}
		}
	}()

	return bars, errs
}

// Reconnect closes and reconnects after the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	return c.conn
}
