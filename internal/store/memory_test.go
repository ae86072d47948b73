package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/HMasataka/chatrelay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySaveAssignsIDAndTimestamp(t *testing.T) {
	s := NewMemory()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	reply := &domain.ReplyRef{MessageID: "m0", Content: "q", SenderID: "bob"}
	msg, err := s.SaveMessage(context.Background(), domain.Draft{SenderID: "alice", ReceiverID: "bob", Content: "hi", ReplyTo: reply})

	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, fixed, msg.CreatedAt)
	assert.Equal(t, reply, msg.ReplyTo)
	assert.Equal(t, []domain.Message{msg}, s.Messages())
}

func TestMemoryRejectsSuspendedSender(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.SetSuspended(ctx, "alice", true))

	_, err := s.SaveMessage(ctx, domain.Draft{SenderID: "alice", ReceiverID: "bob", Content: "hi"})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeModeration))
	assert.ErrorIs(t, err, ErrSenderSuspended())
	assert.Empty(t, s.Messages())

	require.NoError(t, s.SetSuspended(ctx, "alice", false))
	_, err = s.SaveMessage(ctx, domain.Draft{SenderID: "alice", ReceiverID: "bob", Content: "hi"})
	assert.NoError(t, err)
}

func TestMemoryGroupBlockOnlyAffectsGroupMessages(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.SetBlockedFromGroup(ctx, "alice", true))

	_, err := s.SaveMessage(ctx, domain.Draft{SenderID: "alice", Content: "hello all"})
	assert.ErrorIs(t, err, ErrSenderBlockedFromGroup())

	_, err = s.SaveMessage(ctx, domain.Draft{SenderID: "alice", ReceiverID: "bob", Content: "just you"})
	assert.NoError(t, err)
}

func TestMemoryHonoursCancelledContext(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SaveMessage(ctx, domain.Draft{SenderID: "alice", Content: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryKeepsOnlyRecentHistory(t *testing.T) {
	s := NewMemoryWithHistory(3)

	var saved []domain.Message
	for i := 0; i < 5; i++ {
		msg, err := s.SaveMessage(context.Background(), domain.Draft{SenderID: "alice", Content: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		saved = append(saved, msg)
	}

	assert.Equal(t, saved[2:], s.Messages())
}

func TestMemoryWithoutHistoryStillSaves(t *testing.T) {
	s := NewMemoryWithHistory(0)

	msg, err := s.SaveMessage(context.Background(), domain.Draft{SenderID: "alice", Content: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Empty(t, s.Messages())
}
