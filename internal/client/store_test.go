package client

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
)

func newTestStore() *Store {
	return NewStore(zerolog.Nop())
}

func envelope(t *testing.T, event string, payload any) protocol.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return protocol.Envelope{Event: event, Data: raw}
}

func msgAt(id, chatID int, content string, at time.Time) models.Message {
	return models.Message{ID: id, ChatID: chatID, SenderID: 1, Content: content, CreatedAt: at}
}

func TestHistoryRaceMergesOnlyNewerPending(t *testing.T) {
	store := newTestStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m1 := msgAt(1, 5, "M1", base.Add(100*time.Millisecond))
	m2 := msgAt(2, 5, "M2", base.Add(105*time.Millisecond))

	store.BeginHistoryLoad(5)
	assert.Equal(t, ViewLoading, store.ViewState(5))

	// M2 is pushed while the history fetch is still in flight.
	require.NoError(t, store.Apply(envelope(t, protocol.EventNewMessage, m2)))
	assert.Equal(t, ViewPendingMerge, store.ViewState(5))
	assert.Empty(t, store.Messages(5))

	// History arrives containing only M1; M2 is strictly newer and survives.
	require.NoError(t, store.Apply(envelope(t, protocol.EventChatMessages,
		protocol.ChatMessages{ChatID: 5, Messages: []models.Message{m1}})))

	got := store.Messages(5)
	require.Len(t, got, 2)
	assert.Equal(t, "M1", got[0].Content)
	assert.Equal(t, "M2", got[1].Content)
	assert.Equal(t, ViewReady, store.ViewState(5))
}

func TestHistoryDiscardsPendingAlreadyCovered(t *testing.T) {
	store := newTestStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m1 := msgAt(1, 5, "M1", base)
	m2 := msgAt(2, 5, "M2", base.Add(time.Second))

	store.BeginHistoryLoad(5)
	// Both land as pushes first, then history already contains both.
	require.NoError(t, store.Apply(envelope(t, protocol.EventNewMessage, m1)))
	require.NoError(t, store.Apply(envelope(t, protocol.EventNewMessage, m2)))
	require.NoError(t, store.Apply(envelope(t, protocol.EventChatMessages,
		protocol.ChatMessages{ChatID: 5, Messages: []models.Message{m1, m2}})))

	got := store.Messages(5)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, 2, got[1].ID)
}

func TestDuplicatePushThenHistoryRendersOnce(t *testing.T) {
	store := newTestStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := msgAt(9, 3, "once", at)

	store.BeginHistoryLoad(3)
	require.NoError(t, store.Apply(envelope(t, protocol.EventChatMessages,
		protocol.ChatMessages{ChatID: 3, Messages: nil})))
	require.NoError(t, store.Apply(envelope(t, protocol.EventNewMessage, msg)))
	// The same identifier re-appears in a later history fetch.
	require.NoError(t, store.Apply(envelope(t, protocol.EventChatMessages,
		protocol.ChatMessages{ChatID: 3, Messages: []models.Message{msg}})))

	require.Len(t, store.Messages(3), 1)
}

func TestEqualTimestampsBreakTiesByID(t *testing.T) {
	store := newTestStore()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store.BeginHistoryLoad(4)
	require.NoError(t, store.Apply(envelope(t, protocol.EventChatMessages,
		protocol.ChatMessages{ChatID: 4, Messages: []models.Message{
			msgAt(12, 4, "second", at),
			msgAt(11, 4, "first", at),
		}})))

	got := store.Messages(4)
	require.Len(t, got, 2)
	assert.Equal(t, 11, got[0].ID)
	assert.Equal(t, 12, got[1].ID)
}

func TestPresenceUpdateReachesAllDerivedSurfaces(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Apply(envelope(t, protocol.EventAuthenticated,
		protocol.Authenticated{UserID: 1, MysqlID: "100"})))

	other := models.User{ID: 2, ExternalID: "200", FirstName: "Bob", Online: true}
	self := models.User{ID: 1, ExternalID: "100", FirstName: "Ann", Online: true}
	require.NoError(t, store.Apply(envelope(t, protocol.EventMyChats, []models.ChatView{{
		ID:           7,
		Participants: []models.User{self, other},
		CreatedBy:    self,
	}})))
	require.NoError(t, store.Apply(envelope(t, protocol.EventAllUserStatuses, []models.UserStatus{
		{UserID: 2, ExternalID: "200", Online: true},
	})))

	assert.True(t, store.DirectChatOnline(7))

	// X goes offline: directory, roster and status dot all re-derive.
	require.NoError(t, store.Apply(envelope(t, protocol.EventUserStatusChanged,
		protocol.UserStatusChanged{UserID: 2, MysqlID: "200", Online: false, LastSeen: time.Now()})))

	entry, ok := store.Presence("200")
	require.True(t, ok)
	assert.False(t, entry.Online)
	assert.False(t, store.DirectoryStatuses()["200"].Online)
	assert.False(t, store.DirectChatOnline(7))
	roster := store.ChatRoster(7)
	require.Len(t, roster, 2)
	for _, e := range roster {
		if e.User.ExternalID == "200" {
			assert.False(t, e.Presence.Online)
		}
	}
}

func TestNotificationsBoundedNewestFirst(t *testing.T) {
	store := newTestStore()
	for i := 1; i <= 13; i++ {
		require.NoError(t, store.Apply(envelope(t, protocol.EventNotification, protocol.Notification{
			ChatID:   i,
			ChatName: fmt.Sprintf("chat-%d", i),
			Message:  msgAt(i, i, "hi", time.Now()),
		})))
	}

	notes := store.Notifications()
	require.Len(t, notes, maxNotifications)
	assert.Equal(t, 13, notes[0].ChatID)
	assert.Equal(t, 4, notes[len(notes)-1].ChatID)
}

func TestNotificationForActiveChatIsDropped(t *testing.T) {
	store := newTestStore()
	store.BeginHistoryLoad(5)

	// The open chat shows its messages inline; no notification entry.
	require.NoError(t, store.Apply(envelope(t, protocol.EventNotification, protocol.Notification{
		ChatID:  5,
		Message: msgAt(1, 5, "hi", time.Now()),
	})))
	assert.Empty(t, store.Notifications())

	// A background chat still queues.
	require.NoError(t, store.Apply(envelope(t, protocol.EventNotification, protocol.Notification{
		ChatID:  6,
		Message: msgAt(2, 6, "yo", time.Now()),
	})))
	require.Len(t, store.Notifications(), 1)
	assert.Equal(t, 6, store.Notifications()[0].ChatID)
}

func TestChatListOrderedByLastActivity(t *testing.T) {
	store := newTestStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := msgAt(1, 1, "old", base)
	fresh := msgAt(2, 2, "fresh", base.Add(time.Hour))

	require.NoError(t, store.Apply(envelope(t, protocol.EventMyChats, []models.ChatView{
		{ID: 1, LastMessage: &old, CreatedAt: base},
		{ID: 2, LastMessage: &fresh, CreatedAt: base},
		{ID: 3, CreatedAt: base.Add(30 * time.Minute), UpdatedAt: base.Add(30 * time.Minute)},
	})))

	chats := store.Chats()
	require.Len(t, chats, 3)
	assert.Equal(t, 2, chats[0].ID)
	assert.Equal(t, 3, chats[1].ID)
	assert.Equal(t, 1, chats[2].ID)

	// A new message in the oldest chat moves it to the top.
	require.NoError(t, store.Apply(envelope(t, protocol.EventNewMessage,
		msgAt(3, 1, "bump", base.Add(2*time.Hour)))))
	assert.Equal(t, 1, store.Chats()[0].ID)
}

func TestPendingChatConsumedOnceWhenListArrives(t *testing.T) {
	store := newTestStore()
	store.SetPendingChat(42)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.Apply(envelope(t, protocol.EventMyChats, []models.ChatView{{ID: 42}}))
	}()

	chatID, err := store.ConsumePendingChat(context.Background(), 10*time.Millisecond, 20)
	require.NoError(t, err)
	assert.Equal(t, 42, chatID)
	assert.Equal(t, 42, store.ActiveChatID())

	// Consumed exactly once.
	chatID, err = store.ConsumePendingChat(context.Background(), time.Millisecond, 1)
	require.NoError(t, err)
	assert.Zero(t, chatID)
}

func TestPendingChatTimesOut(t *testing.T) {
	store := newTestStore()
	store.SetPendingChat(42)

	_, err := store.ConsumePendingChat(context.Background(), time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrPendingChatTimeout)
}
