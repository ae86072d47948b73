package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HMasataka/chatrelay/internal/eventbus"
	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
)

// fakeHandle records every pushed event.
type fakeHandle struct {
	id string

	mu     sync.Mutex
	events []domain.Outbound
	fail   error
	onPush func(domain.Outbound)
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) Push(event domain.Outbound) error {
	h.mu.Lock()
	if h.fail != nil {
		h.mu.Unlock()
		return h.fail
	}
	h.events = append(h.events, event)
	hook := h.onPush
	h.mu.Unlock()

	// runs unlocked so it may push back into this handle
	if hook != nil {
		hook(event)
	}
	return nil
}

func (h *fakeHandle) failWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail = err
}

func (h *fakeHandle) all() []domain.Outbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Outbound(nil), h.events...)
}

func (h *fakeHandle) ofKind(kind domain.EventKind) []domain.Outbound {
	var out []domain.Outbound
	for _, e := range h.all() {
		if e.Kind() == kind {
			out = append(out, e)
		}
	}
	return out
}

func (h *fakeHandle) messages() []domain.Message {
	var out []domain.Message
	for _, e := range h.ofKind(domain.KindMessageReceived) {
		out = append(out, e.(domain.MessageReceived).Message)
	}
	return out
}

func (h *fakeHandle) lastPresence() (domain.PresenceUpdate, bool) {
	updates := h.ofKind(domain.KindPresenceUpdate)
	if len(updates) == 0 {
		return domain.PresenceUpdate{}, false
	}
	return updates[len(updates)-1].(domain.PresenceUpdate), true
}

func (h *fakeHandle) reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}

// stubStore assigns ids and applies a per-sender rejection list.
type stubStore struct {
	seq      atomic.Int64
	mu       sync.Mutex
	rejected map[domain.UserID]error
	saved    []domain.Draft
}

func newStubStore() *stubStore {
	return &stubStore{rejected: make(map[domain.UserID]error)}
}

func (s *stubStore) reject(user domain.UserID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[user] = err
}

func (s *stubStore) SaveMessage(ctx context.Context, d domain.Draft) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.rejected[d.SenderID]; ok {
		return domain.Message{}, err
	}
	s.saved = append(s.saved, d)
	return domain.Message{
		ID:         fmt.Sprintf("m%d", s.seq.Add(1)),
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		ReplyTo:    d.ReplyTo,
		CreatedAt:  time.Now(),
	}, nil
}

func (s *stubStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

// recordingBroadcaster stands in for the connection hub.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.Outbound
}

func (b *recordingBroadcaster) Broadcast(event domain.Outbound) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

type testEngine struct {
	*Engine
	store *stubStore
	conns *recordingBroadcaster
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	store := newStubStore()
	conns := &recordingBroadcaster{}
	e := NewEngine(Options{
		Logger:      logging.Discard(),
		EventBus:    eventbus.NewInMemoryBus(64),
		Store:       store,
		Connections: conns,
	})
	t.Cleanup(e.Close)

	return &testEngine{Engine: e, store: store, conns: conns}
}

// connect opens a session on a new handle and identifies it as user.
func (e *testEngine) connect(t *testing.T, user domain.UserID) (*Session, *fakeHandle) {
	t.Helper()
	h := newFakeHandle(string(user) + "-conn")
	s := e.NewSession(h)
	if err := s.Identify(user); err != nil {
		t.Fatalf("identify %s: %v", user, err)
	}
	return s, h
}

func errCode(err error) string {
	if e, ok := errors.As(err); ok {
		return e.Code
	}
	return ""
}
