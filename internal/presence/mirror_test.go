package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/chatrelay/internal/config"
	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu       sync.Mutex
	versions []uint64
	last     []domain.UserID
	fail     bool
}

func (w *recordingWriter) write(_ context.Context, snap domain.PresenceSnapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("redis down")
	}
	w.versions = append(w.versions, snap.Version)
	w.last = snap.UserIDs()
	return nil
}

func (w *recordingWriter) snapshot() ([]uint64, []domain.UserID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]uint64(nil), w.versions...), w.last
}

func newTestMirror(t *testing.T) (*Mirror, *recordingWriter, eventbus.Bus) {
	t.Helper()
	return newTestMirrorWithTTL(t, 0)
}

func newTestMirrorWithTTL(t *testing.T, ttl time.Duration) (*Mirror, *recordingWriter, eventbus.Bus) {
	t.Helper()
	m := NewMirror(config.RedisConfig{Addr: "127.0.0.1:0", Prefix: "test:presence:", TTL: ttl}, logging.Discard())
	w := &recordingWriter{}
	m.write = w.write

	bus := eventbus.NewInMemoryBus(8)
	m.run(context.Background(), bus)
	t.Cleanup(func() { m.Stop() })
	return m, w, bus
}

func publish(bus eventbus.Bus, version uint64, users ...domain.UserID) {
	bindings := make([]domain.Binding, len(users))
	for i, u := range users {
		bindings[i] = domain.Binding{UserID: u}
	}
	bus.Publish(eventbus.NewEvent(eventbus.EventPresenceChanged, "test", domain.PresenceSnapshot{
		Version:  version,
		Bindings: bindings,
	}))
}

func TestMirrorKeys(t *testing.T) {
	m := NewMirror(config.RedisConfig{Prefix: "chat:presence:"}, logging.Discard())
	assert.Equal(t, "chat:presence:online", m.OnlineKey())
	assert.Equal(t, "chat:presence:version", m.VersionKey())
}

func TestMirrorWritesLatestSnapshot(t *testing.T) {
	_, w, bus := newTestMirror(t)

	publish(bus, 1, "alice")
	publish(bus, 2, "alice", "bob")
	publish(bus, 3, "bob")

	require.Eventually(t, func() bool {
		versions, _ := w.snapshot()
		return len(versions) > 0 && versions[len(versions)-1] == 3
	}, time.Second, 5*time.Millisecond)

	versions, last := w.snapshot()
	assert.Equal(t, []domain.UserID{"bob"}, last)
	assert.IsIncreasing(t, versions)
}

func TestMirrorIgnoresStaleSnapshots(t *testing.T) {
	_, w, bus := newTestMirror(t)

	publish(bus, 5, "alice")
	require.Eventually(t, func() bool {
		versions, _ := w.snapshot()
		return len(versions) == 1
	}, time.Second, 5*time.Millisecond)

	publish(bus, 4, "alice", "bob")
	time.Sleep(20 * time.Millisecond)

	versions, last := w.snapshot()
	assert.Equal(t, []uint64{5}, versions)
	assert.Equal(t, []domain.UserID{"alice"}, last)
}

func TestMirrorRetriesAfterFailure(t *testing.T) {
	_, w, bus := newTestMirror(t)
	w.mu.Lock()
	w.fail = true
	w.mu.Unlock()

	publish(bus, 1, "alice")
	time.Sleep(20 * time.Millisecond)

	w.mu.Lock()
	w.fail = false
	w.mu.Unlock()
	publish(bus, 2, "alice", "bob")

	require.Eventually(t, func() bool {
		versions, _ := w.snapshot()
		return len(versions) == 1 && versions[0] == 2
	}, time.Second, 5*time.Millisecond)
}

func TestMirrorStartFailsWithoutRedis(t *testing.T) {
	m := NewMirror(config.RedisConfig{Addr: "127.0.0.1:1"}, logging.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.Start(ctx, eventbus.NewInMemoryBus(1))
	assert.Error(t, err)
	assert.NoError(t, m.Stop())
}

func TestMirrorRenewsExpiryWhileIdle(t *testing.T) {
	m, w, bus := newTestMirrorWithTTL(t, 40*time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, m.refresh)

	publish(bus, 1, "alice")

	require.Eventually(t, func() bool {
		versions, _ := w.snapshot()
		return len(versions) >= 3
	}, time.Second, 5*time.Millisecond)

	versions, last := w.snapshot()
	for _, v := range versions {
		assert.Equal(t, uint64(1), v)
	}
	assert.Equal(t, []domain.UserID{"alice"}, last)
}

func TestMirrorWithoutTTLWritesOnlyOnChange(t *testing.T) {
	m, w, bus := newTestMirror(t)
	assert.Zero(t, m.refresh)

	publish(bus, 1, "alice")
	require.Eventually(t, func() bool {
		versions, _ := w.snapshot()
		return len(versions) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	versions, _ := w.snapshot()
	assert.Equal(t, []uint64{1}, versions)
}

func TestMirrorRenewRetriesFailedWrite(t *testing.T) {
	_, w, bus := newTestMirrorWithTTL(t, 40*time.Millisecond)
	w.mu.Lock()
	w.fail = true
	w.mu.Unlock()

	publish(bus, 1, "alice")
	time.Sleep(10 * time.Millisecond)

	w.mu.Lock()
	w.fail = false
	w.mu.Unlock()

	require.Eventually(t, func() bool {
		versions, _ := w.snapshot()
		return len(versions) > 0 && versions[0] == 1
	}, time.Second, 5*time.Millisecond)
}
