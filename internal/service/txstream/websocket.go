package txstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Heimdall/internal/domain/models"
	drepo "Heimdall/internal/domain/repository"
	applogger "Heimdall/pkg/logger"
)

// DefaultMaxFrameBytes caps a single upstream frame.
const DefaultMaxFrameBytes = 1 << 20

// WSClient reads transactions from an upstream websocket feed.
// Frames are either a bare transaction, an array of them, or an
// envelope {"type":"transaction","data":...}.
type WSClient struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	maxFrame       int64
	dialer         *websocket.Dialer
	l              *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

type WSOption func(*WSClient)

// WithMaxFrameBytes bounds the size of one frame; larger frames end the session.
func WithMaxFrameBytes(n int64) WSOption {
	return func(c *WSClient) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

func NewWSClient(url string, reconnectDelay, pingInterval time.Duration, l *applogger.Logger, opts ...WSOption) *WSClient {
	if l == nil {
		l = applogger.Nop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	c := &WSClient{
		url:            url,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		maxFrame:       DefaultMaxFrameBytes,
		dialer:         websocket.DefaultDialer,
		l:              l.Component("txstream_ws"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("txstream connect: %w", err)
	}
	conn.SetReadLimit(c.maxFrame)
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.l.Info("connected", applogger.String("url", c.url))
	return nil
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Read starts a read session. The error channel carries at most one error and
// is closed before the transaction channel.
func (c *WSClient) Read(ctx context.Context) (<-chan *models.Transaction, <-chan error) {
	txs := make(chan *models.Transaction, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	sessionCtx, cancel := context.WithCancel(ctx)
	go c.pingLoop(sessionCtx, conn)

	go func() {
		defer close(txs)
		defer close(errs)
		defer cancel()
		if conn == nil {
			errs <- errors.New("txstream: not connected")
			return
		}
		for {
			if sessionCtx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if sessionCtx.Err() == nil {
					c.setConnected(false)
					errs <- fmt.Errorf("txstream read: %w", err)
				}
				return
			}
			batch, err := DecodeFrame(b)
			if err != nil {
				c.l.Debug("ignoring frame", applogger.Error(err))
				continue
			}
			for _, t := range batch {
				select {
				case txs <- t:
				case <-sessionCtx.Done():
					return
				}
			}
		}
	}()

	return txs, errs
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.l.Debug("ping failed", applogger.Error(err))
			}
		}
	}
}

// DecodeFrame extracts the transactions carried by one websocket frame.
func DecodeFrame(b []byte) ([]*models.Transaction, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("empty frame")
	}
	if b[0] == '[' {
		var list []*models.Transaction
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return list, nil
	}

	var env wsEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type != "" {
		if env.Type != "transaction" && env.Type != "transactions" {
			return nil, fmt.Errorf("unsupported frame type %q", env.Type)
		}
		return DecodeFrame(env.Data)
	}

	var t models.Transaction
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return []*models.Transaction{&t}, nil
}

func (c *WSClient) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	return c.Connect(ctx)
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WSClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *WSClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

var _ drepo.TransactionStream = (*WSClient)(nil)
