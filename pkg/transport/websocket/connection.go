package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
	"github.com/HMasataka/chatrelay/pkg/transport/protocol"
	"github.com/gorilla/websocket"
)

// ConnOptions represents per-connection settings
type ConnOptions struct {
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendQueueSize  int
}

// DefaultConnOptions returns default connection options
func DefaultConnOptions() ConnOptions {
	return ConnOptions{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 512 * 1024, // 512KB
		SendQueueSize:  256,
	}
}

// FrameHandler receives each text or binary frame read from the peer.
type FrameHandler func(ctx context.Context, data []byte)

// Connection implements domain.Conn over a gorilla websocket. Pushes are
// encoded and queued; a single write pump drains the queue in order.
type Connection struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *logging.Logger
	options ConnOptions
	send    chan []byte
	handler FrameHandler
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
}

// NewConnection wraps an upgraded websocket connection.
func NewConnection(id string, conn *websocket.Conn, logger *logging.Logger, options ConnOptions) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.WithFields(map[string]any{"client_id": id})

	return &Connection{
		id:      id,
		conn:    conn,
		ctx:     logging.WithLogger(ctx, logger),
		cancel:  cancel,
		logger:  logger,
		options: options,
		send:    make(chan []byte, options.SendQueueSize),
	}
}

// ID implements domain.Handle
func (c *Connection) ID() string {
	return c.id
}

// Push implements domain.Handle. It never blocks: a full queue is reported
// as a delivery error.
func (c *Connection) Push(event domain.Outbound) error {
	data, err := protocol.EncodeOutbound(event)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return domain.ErrConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errors.New(errors.ErrorTypeDelivery, domain.CodeSendBufferFull, "send buffer is full")
	}
}

// OnFrame sets the inbound frame handler. Call before Start.
func (c *Connection) OnFrame(handler FrameHandler) {
	c.handler = handler
}

// Close implements domain.Conn
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.logger.Debug("closing connection")

	// the write pump sends a close frame once the queue is drained
	time.AfterFunc(c.options.WriteTimeout, c.cancel)

	return nil
}

// Context implements domain.Conn
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Start starts the read and write pumps
func (c *Connection) Start() {
	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
}

// Wait blocks until both pumps have exited.
func (c *Connection) Wait() {
	c.wg.Wait()
}

func (c *Connection) readPump() {
	defer c.wg.Done()
	defer func() {
		c.logger.Debug("read pump stopped")
		c.Close()
		c.cancel()
	}()

	c.conn.SetReadLimit(c.options.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.options.ReadTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if c.handler != nil {
			c.handler(c.ctx, message)
		}
	}
}

func (c *Connection) writePump() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.options.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("write pump stopped")
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))

			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", "error", err)
				c.cancel()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("websocket ping error", "error", err)
				c.cancel()
				return
			}
		}
	}
}
