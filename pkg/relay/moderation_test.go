package relay

import (
	"context"
	"sync"
	"testing"

	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvictPushesForceLogoutThenUnbinds(t *testing.T) {
	e := newTestEngine(t)
	sa, a := e.connect(t, "alice")
	_, b := e.connect(t, "bob")
	b.reset()

	assert.True(t, e.Moderator().Evict("alice", "spamming"))

	logout := a.ofKind(domain.KindForceLogout)
	require.Len(t, logout, 1)
	assert.Equal(t, "spamming", logout[0].(domain.ForceLogout).Reason)

	_, ok := e.Registry().Lookup("alice")
	assert.False(t, ok)
	update, ok := b.lastPresence()
	require.True(t, ok)
	assert.Equal(t, []domain.UserID{"bob"}, update.UserIDs)

	// the evicted session's own disconnect is now a no-op
	version := e.Registry().Snapshot().Version
	sa.Disconnect()
	assert.Equal(t, version, e.Registry().Snapshot().Version)
}

func TestEvictedSessionCannotSendUntilReidentified(t *testing.T) {
	e := newTestEngine(t)
	sa, _ := e.connect(t, "alice")
	_, b := e.connect(t, "bob")
	b.reset()

	require.True(t, e.Moderator().Evict("alice", ""))

	state, user := sa.State()
	assert.Equal(t, StateConnected, state)
	assert.Empty(t, user)

	err := sa.Send(context.Background(), domain.SendMessage{Content: "after evict"})
	assert.Equal(t, domain.CodeNotIdentified, errCode(err))
	err = sa.Typing(domain.Typing{ReceiverID: "bob", Kind: domain.TypingStarted})
	assert.Equal(t, domain.CodeNotIdentified, errCode(err))
	assert.Empty(t, b.messages())
	assert.Empty(t, b.ofKind(domain.KindUserTyping))
	assert.Equal(t, []domain.UserID{"bob"}, e.Registry().UserIDs())

	require.NoError(t, sa.Identify("alice"))
	require.NoError(t, sa.Send(context.Background(), domain.SendMessage{Content: "back again"}))
	require.Len(t, b.messages(), 1)
	assert.Equal(t, "back again", b.messages()[0].Content)
}

func TestEvictLeavesOtherUsersSessionsAlone(t *testing.T) {
	e := newTestEngine(t)
	e.connect(t, "alice")
	sb, _ := e.connect(t, "bob")

	e.Moderator().Evict("alice", "")

	state, user := sb.State()
	assert.Equal(t, StateIdentified, state)
	assert.Equal(t, domain.UserID("bob"), user)
}

func TestEvictFollowsRebindDuringLogout(t *testing.T) {
	e := newTestEngine(t)
	first, a := e.connect(t, "alice")

	a2 := newFakeHandle("alice-conn-2")
	second := e.NewSession(a2)
	var once sync.Once
	a.onPush = func(ev domain.Outbound) {
		if ev.Kind() != domain.KindForceLogout {
			return
		}
		once.Do(func() {
			require.NoError(t, second.Identify("alice"))
		})
	}

	require.True(t, e.Moderator().Evict("alice", "bye"))

	assert.Len(t, a.ofKind(domain.KindForceLogout), 1)
	assert.Len(t, a2.ofKind(domain.KindForceLogout), 1)
	_, ok := e.Registry().Lookup("alice")
	assert.False(t, ok)

	for _, s := range []*Session{first, second} {
		state, _ := s.State()
		assert.Equal(t, StateConnected, state)
	}
}

func TestEvictAfterDisconnectIsNoop(t *testing.T) {
	e := newTestEngine(t)
	sa, a := e.connect(t, "alice")
	sa.Disconnect()
	a.reset()

	assert.False(t, e.Moderator().Evict("alice", ""))
	assert.Empty(t, a.all())
}

func TestEvictOfflineUser(t *testing.T) {
	e := newTestEngine(t)

	assert.False(t, e.Moderator().Evict("ghost", ""))
}

func TestEvictDefaultReason(t *testing.T) {
	e := newTestEngine(t)
	_, a := e.connect(t, "alice")

	e.Moderator().Evict("alice", "")

	logout := a.ofKind(domain.KindForceLogout)
	require.Len(t, logout, 1)
	assert.Equal(t, DefaultEvictReason, logout[0].(domain.ForceLogout).Reason)
}

func TestBroadcastUserRemovedUsesConnectionHub(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.Moderator().BroadcastUserRemoved("alice"))

	require.Len(t, e.conns.events, 1)
	assert.Equal(t, domain.UserRemoved{UserID: "alice"}, e.conns.events[0])
}

func TestBroadcastUserRemovedWithoutHub(t *testing.T) {
	m := NewModerator(NewRegistry(logging.Discard(), nil), nil, logging.Discard(), nil)

	assert.Error(t, m.BroadcastUserRemoved("alice"))
}

func TestRemoveUserEvictsAndAnnounces(t *testing.T) {
	e := newTestEngine(t)
	_, a := e.connect(t, "alice")

	evicted, err := e.Moderator().RemoveUser("alice")

	require.NoError(t, err)
	assert.True(t, evicted)
	logout := a.ofKind(domain.KindForceLogout)
	require.Len(t, logout, 1)
	assert.Equal(t, AccountDeletedReason, logout[0].(domain.ForceLogout).Reason)
	assert.Empty(t, e.Registry().UserIDs())
	assert.Len(t, e.conns.events, 1)
}
