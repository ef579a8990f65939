package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when sending on a closed connection
var ErrConnectionClosed = errors.New(errors.ErrorTypeSend, "CONNECTION_CLOSED", "connection closed")

// ErrSendBufferFull is returned when the write pump cannot keep up
var ErrSendBufferFull = errors.New(errors.ErrorTypeSend, "SEND_BUFFER_FULL", "send buffer is full")

// ClientOptions represents websocket client options
type ClientOptions struct {
	ID               string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
	SendBufferSize   int
}

// DefaultClientOptions returns default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   512 * 1024, // 512KB
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		SendBufferSize:   256,
	}
}

// Client implements domain.Conn over a gorilla websocket connection
type Client struct {
	id       string
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	options  ClientOptions
	sendChan chan []byte
	handler  domain.MessageHandler
	mu       sync.RWMutex
	closed   bool
	err      error
	wg       sync.WaitGroup
}

// NewClient creates a new WebSocket client
func NewClient(id string, conn *websocket.Conn, logger *logging.Logger, options ClientOptions) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	if logger == nil {
		logger = logging.Discard()
	}

	sendBuffer := options.SendBufferSize
	if sendBuffer <= 0 {
		sendBuffer = 256
	}

	return &Client{
		id:       id,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithFields(map[string]any{"conn_id": id}),
		options:  options,
		sendChan: make(chan []byte, sendBuffer),
	}
}

// ID implements domain.Conn
func (c *Client) ID() string {
	return c.id
}

// Subprotocol returns the sub-protocol negotiated during the handshake
func (c *Client) Subprotocol() string {
	return c.conn.Subprotocol()
}

// Send implements domain.Conn
func (c *Client) Send(ctx context.Context, message []byte) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrConnectionClosed
	}
	c.mu.RUnlock()

	select {
	case c.sendChan <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Receive implements domain.Conn
func (c *Client) Receive(handler domain.MessageHandler) {
	c.handler = handler
}

// Close implements domain.Conn. It does not wait for the pumps, so it is
// safe to call from the message handler.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// Wait blocks until both pumps have stopped
func (c *Client) Wait() {
	c.wg.Wait()
}

// Context implements domain.Conn
func (c *Client) Context() context.Context {
	return c.ctx
}

// Err implements domain.Conn
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Start starts the client read and write pumps
func (c *Client) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// shutdown closes the socket once, recording cause
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	c.mu.Unlock()

	c.logger.Debug("closing connection", "cause", cause)

	c.cancel()

	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug("error closing websocket connection", "error", err)
	}
}

// readPump pumps messages from the websocket connection
func (c *Client) readPump() {
	defer c.wg.Done()
	defer c.logger.Debug("read pump stopped")

	if c.options.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.options.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			c.shutdown(err)
			return
		}

		c.extendReadDeadline()

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if c.handler != nil {
			if err := c.handler(message); err != nil {
				c.logger.Error("message handler error", "error", err)
			}
		}
	}
}

func (c *Client) extendReadDeadline() {
	if c.options.ReadTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	defer c.wg.Done()
	defer c.logger.Debug("write pump stopped")

	interval := c.options.PingInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message := <-c.sendChan:
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("websocket write error", "error", err)
				c.shutdown(err)
				return
			}

		case <-ticker.C:
			if c.options.PingInterval <= 0 {
				continue
			}
			c.setWriteDeadline()
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error("websocket ping error", "error", err)
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Client) setWriteDeadline() {
	if c.options.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	}
}

var _ domain.Conn = (*Client)(nil)
