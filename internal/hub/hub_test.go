package hub

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	written []domain.Outbound
	closed  bool
	fail    bool
}

func newMockConn(id string) *mockConn {
	ctx, cancel := context.WithCancel(context.Background())
	return &mockConn{id: id, ctx: ctx, cancel: cancel}
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Push(event domain.Outbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("push failed")
	}
	m.written = append(m.written, event)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cancel()
	return nil
}

func (m *mockConn) Context() context.Context { return m.ctx }

func (m *mockConn) getWritten() []domain.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Outbound(nil), m.written...)
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(logging.Discard(), nil)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop() })
	return h
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Stats().ConnectedClients == n
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterBeforeStart(t *testing.T) {
	h := New(logging.Discard(), nil)

	assert.ErrorIs(t, h.Register(newMockConn("c1")), domain.ErrHubNotStarted)
	assert.ErrorIs(t, h.Stop(), domain.ErrHubNotStarted)
}

func TestRegisterAndUnregister(t *testing.T) {
	h := newTestHub(t)
	c := newMockConn("c1")

	require.NoError(t, h.Register(c))
	waitForClients(t, h, 1)

	got, ok := h.GetConn("c1")
	require.True(t, ok)
	assert.Same(t, c, got)

	require.NoError(t, h.Unregister("c1"))
	waitForClients(t, h, 0)
	assert.True(t, c.isClosed())
}

func TestDuplicateRegisterIgnored(t *testing.T) {
	h := newTestHub(t)

	require.NoError(t, h.Register(newMockConn("c1")))
	require.NoError(t, h.Register(newMockConn("c1")))
	require.NoError(t, h.Register(newMockConn("c2")))

	waitForClients(t, h, 2)
}

func TestBroadcastReachesAnonymousConnections(t *testing.T) {
	h := newTestHub(t)
	a := newMockConn("a")
	b := newMockConn("b")
	broken := newMockConn("broken")
	broken.fail = true

	for _, c := range []*mockConn{a, b, broken} {
		require.NoError(t, h.Register(c))
	}
	waitForClients(t, h, 3)

	require.NoError(t, h.Broadcast(domain.UserRemoved{UserID: "carol"}))

	require.Eventually(t, func() bool {
		return h.Stats().Broadcasts == 1
	}, time.Second, 5*time.Millisecond)

	for _, c := range []*mockConn{a, b} {
		written := c.getWritten()
		require.Len(t, written, 1)
		assert.Equal(t, domain.UserRemoved{UserID: "carol"}, written[0])
	}

	stats := h.Stats()
	assert.Equal(t, int64(2), stats.EventsSent)
	assert.Equal(t, int64(1), stats.EventsFailed)
}

func TestStopClosesConnections(t *testing.T) {
	h := New(logging.Discard(), nil)
	require.NoError(t, h.Start(context.Background()))
	c := newMockConn("c1")
	require.NoError(t, h.Register(c))
	waitForClients(t, h, 1)

	require.NoError(t, h.Stop())

	assert.True(t, c.isClosed())
	assert.ErrorIs(t, h.Register(newMockConn("c2")), domain.ErrHubStopped)
	assert.ErrorIs(t, h.Broadcast(domain.UserRemoved{UserID: "x"}), domain.ErrHubStopped)
}

// stallingConn blocks every Push until the test releases it.
type stallingConn struct {
	*mockConn
	entered chan struct{}
	release chan struct{}
}

func (s *stallingConn) Push(event domain.Outbound) error {
	s.entered <- struct{}{}
	<-s.release
	return s.mockConn.Push(event)
}

func TestUnregisterQueuedBehindRegisterIsNotLost(t *testing.T) {
	h := newTestHub(t)
	staller := &stallingConn{
		mockConn: newMockConn("staller"),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	require.NoError(t, h.Register(staller))
	waitForClients(t, h, 1)

	var short []*mockConn
	for i := 0; i < 30; i++ {
		require.NoError(t, h.Broadcast(domain.UserRemoved{UserID: "x"}))
		<-staller.entered

		c := newMockConn("short-" + strconv.Itoa(i))
		short = append(short, c)
		require.NoError(t, h.Register(c))
		require.NoError(t, h.Unregister(c.ID()))

		staller.release <- struct{}{}
	}

	require.Eventually(t, func() bool {
		for _, c := range short {
			if !c.isClosed() {
				return false
			}
		}
		return h.Stats().ConnectedClients == 1
	}, time.Second, 5*time.Millisecond)

	for _, c := range short {
		_, ok := h.GetConn(c.ID())
		assert.False(t, ok, c.ID())
	}
}
