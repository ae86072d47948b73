package hub

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
)

// Hub tracks every open transport connection, including anonymous ones,
// and fans events out to all of them. Mutations are serialized through the
// run loop, and registrations and unregistrations share one queue so they
// apply in the order they were requested.
type Hub struct {
	conns      sync.Map // map[string]domain.Conn
	membership chan membershipOp
	broadcast  chan domain.Outbound
	logger     *logging.Logger
	eventBus   eventbus.Bus
	ctx        context.Context
	cancel     context.CancelFunc
	started    atomic.Bool
	wg         sync.WaitGroup

	count      atomic.Int64
	sent       atomic.Int64
	failed     atomic.Int64
	broadcasts atomic.Int64
	startTime  time.Time
}

// membershipOp registers conn when set, otherwise unregisters connID.
type membershipOp struct {
	conn   domain.Conn
	connID string
}

// New creates a new hub
func New(logger *logging.Logger, eventBus eventbus.Bus) *Hub {
	return &Hub{
		membership: make(chan membershipOp, 200),
		broadcast:  make(chan domain.Outbound, 1000),
		logger:     logger,
		eventBus:   eventBus,
		startTime:  time.Now(),
	}
}

// Start implements domain.Hub
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.started.Store(true)
	h.wg.Add(1)
	go h.run()
	h.logger.Info("hub started")
	return nil
}

// Stop implements domain.Hub
func (h *Hub) Stop() error {
	if !h.started.Load() {
		return domain.ErrHubNotStarted
	}

	h.logger.Info("stopping hub")
	h.cancel()
	h.wg.Wait()

	h.conns.Range(func(key, value any) bool {
		value.(domain.Conn).Close()
		h.conns.Delete(key)
		return true
	})
	h.count.Store(0)

	h.logger.Info("hub stopped")
	return nil
}

// Register implements domain.Hub
func (h *Hub) Register(conn domain.Conn) error {
	if err := h.ready(); err != nil {
		return err
	}

	select {
	case h.membership <- membershipOp{conn: conn}:
		return nil
	default:
		return errors.New(errors.ErrorTypeInternal, "REGISTER_QUEUE_FULL", "register queue is full")
	}
}

// Unregister implements domain.Hub
func (h *Hub) Unregister(connID string) error {
	if err := h.ready(); err != nil {
		return err
	}

	select {
	case h.membership <- membershipOp{connID: connID}:
		return nil
	default:
		return errors.New(errors.ErrorTypeInternal, "UNREGISTER_QUEUE_FULL", "unregister queue is full")
	}
}

// Broadcast implements domain.Hub
func (h *Hub) Broadcast(event domain.Outbound) error {
	if err := h.ready(); err != nil {
		return err
	}

	select {
	case h.broadcast <- event:
		return nil
	default:
		return errors.New(errors.ErrorTypeInternal, "BROADCAST_QUEUE_FULL", "broadcast queue is full")
	}
}

// GetConn implements domain.Hub
func (h *Hub) GetConn(connID string) (domain.Conn, bool) {
	if value, ok := h.conns.Load(connID); ok {
		return value.(domain.Conn), true
	}
	return nil, false
}

// Stats implements domain.Hub
func (h *Hub) Stats() domain.HubStats {
	return domain.HubStats{
		ConnectedClients: int(h.count.Load()),
		EventsSent:       h.sent.Load(),
		EventsFailed:     h.failed.Load(),
		Broadcasts:       h.broadcasts.Load(),
		Uptime:           time.Since(h.startTime).Seconds(),
	}
}

func (h *Hub) ready() error {
	if !h.started.Load() {
		return domain.ErrHubNotStarted
	}
	if h.ctx.Err() != nil {
		return domain.ErrHubStopped
	}
	return nil
}

func (h *Hub) run() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case op := <-h.membership:
			if op.conn != nil {
				h.handleRegister(op.conn)
			} else {
				h.handleUnregister(op.connID)
			}

		case event := <-h.broadcast:
			h.handleBroadcast(event)
		}
	}
}

func (h *Hub) handleRegister(conn domain.Conn) {
	connID := conn.ID()

	if _, loaded := h.conns.LoadOrStore(connID, conn); loaded {
		h.logger.Warn("connection already registered", "client_id", connID)
		return
	}

	total := h.count.Add(1)
	h.logger.Debug("connection registered",
		"client_id", connID,
		"total_clients", total,
	)
}

func (h *Hub) handleUnregister(connID string) {
	value, ok := h.conns.LoadAndDelete(connID)
	if !ok {
		return
	}
	value.(domain.Conn).Close()

	total := h.count.Add(-1)
	h.logger.Debug("connection unregistered",
		"client_id", connID,
		"total_clients", total,
	)
}

func (h *Hub) handleBroadcast(event domain.Outbound) {
	var successCount, errorCount int

	h.conns.Range(func(key, value any) bool {
		conn := value.(domain.Conn)
		if err := conn.Push(event); err != nil {
			errorCount++
			h.logger.Warn("failed to push to connection",
				"client_id", conn.ID(),
				"event", event.Kind(),
				"error", err,
			)
		} else {
			successCount++
		}
		return true
	})

	h.sent.Add(int64(successCount))
	h.failed.Add(int64(errorCount))
	h.broadcasts.Add(1)

	h.logger.Debug("broadcast complete",
		"event", event.Kind(),
		"success_count", successCount,
		"error_count", errorCount,
	)

	if h.eventBus != nil && errorCount > 0 {
		h.eventBus.PublishAsync(eventbus.NewEvent(eventbus.EventError, "hub", event.Kind()).
			WithMetadata("failed", strconv.Itoa(errorCount)))
	}
}
