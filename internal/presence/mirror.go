package presence

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/chatrelay/internal/config"
	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Mirror copies the online set into Redis for external readers. It never
// feeds back into routing.
//
// Keys: <prefix>online is a set of user ids, <prefix>version the registry
// version it reflects. Bursts of changes are coalesced; only the newest
// snapshot is written. With a TTL the last written snapshot is rewritten
// every TTL/2, so the keys only expire once the relay stops.
type Mirror struct {
	client  *redis.Client
	prefix  string
	cfg     config.RedisConfig
	logger  *logging.Logger
	write   func(ctx context.Context, snap domain.PresenceSnapshot) error
	refresh time.Duration

	mu      sync.Mutex
	pending *domain.PresenceSnapshot
	last    *domain.PresenceSnapshot
	notify  chan struct{}

	bus    eventbus.Bus
	subID  string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMirror creates a mirror for the configured Redis server.
func NewMirror(cfg config.RedisConfig, logger *logging.Logger) *Mirror {
	m := &Mirror{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
		cfg:    cfg,
		logger: logger.WithFields(map[string]any{"component": "presence-mirror"}),
		notify: make(chan struct{}, 1),
	}
	m.write = m.writeRedis
	if cfg.TTL > 0 {
		m.refresh = cfg.TTL / 2
	}
	return m
}

// OnlineKey is the Redis set holding online user ids.
func (m *Mirror) OnlineKey() string { return m.prefix + "online" }

// VersionKey holds the registry version of the mirrored set.
func (m *Mirror) VersionKey() string { return m.prefix + "version" }

// Start verifies the connection and follows presence changes on bus.
func (m *Mirror) Start(ctx context.Context, bus eventbus.Bus) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "REDIS_UNAVAILABLE", "failed to reach redis")
	}
	m.run(ctx, bus)
	m.logger.Info("presence mirror started", "addr", m.cfg.Addr, "key", m.OnlineKey())
	return nil
}

func (m *Mirror) run(ctx context.Context, bus eventbus.Bus) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.bus = bus
	m.subID = bus.Subscribe(eventbus.EventPresenceChanged, m.observe)

	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop unsubscribes, waits for the writer and closes the client.
func (m *Mirror) Stop() error {
	if m.bus != nil {
		m.bus.Unsubscribe(m.subID)
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	return m.client.Close()
}

// observe runs on the publishing goroutine and must not block.
func (m *Mirror) observe(event *eventbus.Event) {
	snap, ok := event.Data.(domain.PresenceSnapshot)
	if !ok {
		return
	}

	m.mu.Lock()
	if m.pending == nil || snap.Version > m.pending.Version {
		m.pending = &snap
	}
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Mirror) loop(ctx context.Context) {
	defer m.wg.Done()

	var tick <-chan time.Time
	if m.refresh > 0 {
		ticker := time.NewTicker(m.refresh)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.notify:
			m.flush(ctx)
		case <-tick:
			m.renew(ctx)
		}
	}
}

func (m *Mirror) flush(ctx context.Context) {
	m.mu.Lock()
	snap := m.pending
	m.pending = nil
	if snap == nil || (m.last != nil && snap.Version <= m.last.Version) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.write(ctx, *snap); err != nil {
		m.logger.Warn("failed to mirror presence", "version", snap.Version, "error", err)
		m.mu.Lock()
		if m.pending == nil {
			m.pending = snap
		}
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	if m.last == nil || snap.Version > m.last.Version {
		m.last = snap
	}
	m.mu.Unlock()
}

// renew retries a failed write, or else rewrites the last snapshot to push
// the key expiry forward.
func (m *Mirror) renew(ctx context.Context) {
	m.mu.Lock()
	retry := m.pending != nil
	snap := m.last
	m.mu.Unlock()

	if retry {
		m.flush(ctx)
		return
	}
	if snap == nil {
		return
	}
	if err := m.write(ctx, *snap); err != nil {
		m.logger.Warn("failed to renew presence mirror", "version", snap.Version, "error", err)
	}
}

func (m *Mirror) writeRedis(ctx context.Context, snap domain.PresenceSnapshot) error {
	ids := snap.UserIDs()
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = string(id)
	}

	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, m.OnlineKey())
		if len(members) > 0 {
			p.SAdd(ctx, m.OnlineKey(), members...)
			if m.cfg.TTL > 0 {
				p.Expire(ctx, m.OnlineKey(), m.cfg.TTL)
			}
		}
		p.Set(ctx, m.VersionKey(), snap.Version, m.cfg.TTL)
		return nil
	})
	return err
}
