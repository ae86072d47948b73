// Package client is a Go client for the relay's websocket protocol.
package client

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
	"github.com/HMasataka/chatrelay/pkg/transport/protocol"
	gorillaws "github.com/gorilla/websocket"
)

// Options represents client options
type Options struct {
	Logger       *logging.Logger
	Header       http.Header
	WriteTimeout time.Duration
	EventBuffer  int
}

// DefaultOptions returns default client options
func DefaultOptions() Options {
	return Options{
		WriteTimeout: 5 * time.Second,
		EventBuffer:  64,
	}
}

// Client is a single relay connection. Events from the relay are delivered
// in order on Events until the connection ends.
type Client struct {
	conn    *gorillaws.Conn
	options Options
	logger  *logging.Logger

	events  chan domain.Outbound
	closing chan struct{}
	done    chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu     sync.RWMutex
	userID domain.UserID
}

// Dial connects to the relay's websocket endpoint.
func Dial(ctx context.Context, serverURL string, options Options) (*Client, error) {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultOptions().WriteTimeout
	}
	if options.EventBuffer <= 0 {
		options.EventBuffer = DefaultOptions().EventBuffer
	}

	options.Logger.Debug("connecting to relay", "url", serverURL)

	conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, serverURL, options.Header)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to server")
	}

	c := &Client{
		conn:    conn,
		options: options,
		logger:  options.Logger,
		events:  make(chan domain.Outbound, options.EventBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	c.logger.Info("connected to relay", "url", serverURL)
	return c, nil
}

// Events returns the relay's events. The channel is closed when the
// connection ends.
func (c *Client) Events() <-chan domain.Outbound {
	return c.events
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// UserID returns the id last sent with Identify.
func (c *Client) UserID() domain.UserID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Identify claims userID for this connection.
func (c *Client) Identify(userID domain.UserID) error {
	if err := c.send(domain.Identify{UserID: userID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	return nil
}

// Send posts content to the group chat.
func (c *Client) Send(content string) error {
	return c.send(domain.SendMessage{Content: content})
}

// SendPrivate posts content to a single user.
func (c *Client) SendPrivate(receiver domain.UserID, content string) error {
	return c.send(domain.SendMessage{ReceiverID: receiver, Content: content})
}

// Reply posts content quoting an earlier message. An empty receiver replies
// in the group chat.
func (c *Client) Reply(receiver domain.UserID, content string, to domain.Message) error {
	return c.send(domain.SendMessage{
		ReceiverID: receiver,
		Content:    content,
		ReplyTo: &domain.ReplyRef{
			MessageID: to.ID,
			Content:   to.Content,
			SenderID:  to.SenderID,
		},
	})
}

func (c *Client) Typing(receiver domain.UserID) error {
	return c.send(domain.Typing{ReceiverID: receiver, Kind: domain.TypingStarted})
}

func (c *Client) StopTyping(receiver domain.UserID) error {
	return c.send(domain.Typing{ReceiverID: receiver, Kind: domain.TypingStopped})
}

// Close sends a close frame and waits for the read loop to finish.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
		err = c.conn.WriteMessage(gorillaws.CloseMessage,
			gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		select {
		case <-c.done:
		case <-time.After(c.options.WriteTimeout):
		}
		c.conn.Close()
	})
	return err
}

func (c *Client) send(in domain.Inbound) error {
	data, err := protocol.EncodeInbound(in)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return domain.ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.options.WriteTimeout))
	if err := c.conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "WRITE_ERROR", "failed to send frame")
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseGoingAway, gorillaws.CloseNormalClosure) {
				c.logger.Warn("relay connection lost", "error", err)
			}
			return
		}

		event, err := protocol.DecodeOutbound(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		select {
		case c.events <- event:
		case <-c.closing:
			return
		}
	}
}
