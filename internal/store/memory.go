package store

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/rs/xid"
)

type userFlags struct {
	suspended        bool
	blockedFromGroup bool
}

// DefaultHistory is how many messages NewMemory retains.
const DefaultHistory = 1000

// Memory keeps moderation flags and the most recent messages in process.
// Unknown senders are allowed.
type Memory struct {
	mu       sync.RWMutex
	messages []domain.Message
	history  int
	users    map[domain.UserID]userFlags
	now      func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithHistory(DefaultHistory)
}

// NewMemoryWithHistory retains at most history messages, dropping the
// oldest first. Zero keeps none.
func NewMemoryWithHistory(history int) *Memory {
	return &Memory{
		history: max(history, 0),
		users:   make(map[domain.UserID]userFlags),
		now:     time.Now,
	}
}

func (m *Memory) SaveMessage(ctx context.Context, draft domain.Draft) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	flags := m.users[draft.SenderID]
	if err := checkModeration(draft, flags.suspended, flags.blockedFromGroup); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:         xid.New().String(),
		SenderID:   draft.SenderID,
		ReceiverID: draft.ReceiverID,
		Content:    draft.Content,
		ReplyTo:    draft.ReplyTo,
		CreatedAt:  m.now(),
	}
	m.retain(msg)
	return msg, nil
}

func (m *Memory) SetSuspended(ctx context.Context, userID domain.UserID, suspended bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flags := m.users[userID]
	flags.suspended = suspended
	m.users[userID] = flags
	return nil
}

func (m *Memory) SetBlockedFromGroup(ctx context.Context, userID domain.UserID, blocked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flags := m.users[userID]
	flags.blockedFromGroup = blocked
	m.users[userID] = flags
	return nil
}

func (m *Memory) retain(msg domain.Message) {
	if m.history == 0 {
		return
	}
	if len(m.messages) >= m.history {
		n := copy(m.messages, m.messages[len(m.messages)-m.history+1:])
		clear(m.messages[n:])
		m.messages = m.messages[:n]
	}
	m.messages = append(m.messages, msg)
}

// Messages returns the retained messages in insertion order.
func (m *Memory) Messages() []domain.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.messages...)
}

func (m *Memory) Close(context.Context) error {
	return nil
}
