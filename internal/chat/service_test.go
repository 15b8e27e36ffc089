// ABOUTME: Tests for the chat message pipeline
// ABOUTME: Covers persist-before-broadcast, absentee notification, typing throttle, read receipts

package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayline/relay/internal/notify"
	"github.com/stayline/relay/internal/protocol"
	"github.com/stayline/relay/internal/store"
)

type broadcastCall struct {
	conversationID string
	event          *protocol.Event
	exclude        string
}

// fakeRooms records broadcasts and answers membership from a fixed set.
type fakeRooms struct {
	mu      sync.Mutex
	calls   []broadcastCall
	members map[string]bool // connID:conversationID
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{members: make(map[string]bool)}
}

func (f *fakeRooms) Broadcast(conversationID string, event *protocol.Event, excludeConnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{conversationID, event, excludeConnID})
}

func (f *fakeRooms) Contains(connID, conversationID string) bool {
	return f.members[connID+":"+conversationID]
}

func (f *fakeRooms) broadcasts() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastCall(nil), f.calls...)
}

type fakePresence struct {
	online map[string]bool
}

func (f *fakePresence) IsOnline(userID string) bool { return f.online[userID] }

type fakeNotifier struct {
	mu       sync.Mutex
	requests []notify.Request
}

func (f *fakeNotifier) Dispatch(ctx context.Context, req notify.Request) (*store.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &store.NotificationRecord{ID: "rec-1", RecipientID: req.RecipientID}, nil
}

func (f *fakeNotifier) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		ids = append(ids, r.RecipientID)
	}
	return ids
}

type fixture struct {
	mock     *store.MockStore
	rooms    *fakeRooms
	presence *fakePresence
	notifier *fakeNotifier
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := store.NewMockStore()
	require.NoError(t, mock.CreateUser(t.Context(), &store.User{ID: "ada", Name: "Ada", Active: true}))
	require.NoError(t, mock.CreateUser(t.Context(), &store.User{ID: "bea", Name: "Bea", Active: true}))
	require.NoError(t, mock.CreateUser(t.Context(), &store.User{ID: "cal", Name: "Cal", Active: true}))
	require.NoError(t, mock.CreateConversation(t.Context(), &store.Conversation{
		ID:             "conv-1",
		ParticipantIDs: []string{"ada", "bea", "cal"},
		CreatedAt:      time.Now(),
	}))

	rooms := newFakeRooms()
	presence := &fakePresence{online: map[string]bool{"ada": true}}
	notifier := &fakeNotifier{}
	svc := NewService(mock, rooms, presence, notifier, 3*time.Second, nil)
	t.Cleanup(svc.Close)

	return &fixture{mock: mock, rooms: rooms, presence: presence, notifier: notifier, svc: svc}
}

func TestSend_PersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	msg, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "is the flat still available?",
	})
	require.NoError(t, err)
	assert.Equal(t, store.MessageTypeText, msg.Type, "type defaults to text")

	stored, err := f.mock.GetMessage(t.Context(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "is the flat still available?", stored.Body)

	conv, err := f.mock.GetConversation(t.Context(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, conv.LastMessageAt)
	assert.Equal(t, msg.CreatedAt.Unix(), conv.LastMessageAt.Unix())

	calls := f.rooms.broadcasts()
	require.Len(t, calls, 1)
	assert.Equal(t, protocol.TypeNewMessage, calls[0].event.Type)
	assert.Empty(t, calls[0].exclude, "sender receives their own message")
}

func TestSend_RejectsNonParticipant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(t.Context(), "mallory", "conn-m", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hi",
	})
	require.ErrorIs(t, err, ErrNotParticipant)
	assert.Empty(t, f.rooms.broadcasts())
	assert.Empty(t, f.notifier.recipients())
}

func TestSend_UnknownConversation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-404",
		Body:           "hi",
	})
	require.ErrorIs(t, err, store.ErrNotFound, "missing conversation is a client error, not a storage one")
	assert.NotErrorIs(t, err, ErrStorage)
	assert.Empty(t, f.rooms.broadcasts())
}

func TestMarkRead_UnknownConversation(t *testing.T) {
	f := newFixture(t)

	err := f.svc.MarkRead(t.Context(), "ada", "conn-ada", protocol.MarkReadPayload{
		ConversationID: "conv-404",
		MessageID:      "msg-1",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorage)
}

func TestSend_StorageFailureAbortsBeforeBroadcast(t *testing.T) {
	f := newFixture(t)
	f.mock.FailInsertMessage = true

	_, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hi",
	})
	require.ErrorIs(t, err, ErrStorage)
	assert.Empty(t, f.rooms.broadcasts(), "nothing observable for a non-durable message")
	assert.Empty(t, f.notifier.recipients())
}

func TestSend_TouchFailureIsBestEffort(t *testing.T) {
	f := newFixture(t)
	f.mock.FailTouch = true

	msg, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hi",
	})
	require.NoError(t, err)
	require.Len(t, f.rooms.broadcasts(), 1)

	_, err = f.mock.GetMessage(t.Context(), msg.ID)
	require.NoError(t, err)
}

func TestSend_NotifiesOnlyAbsentParticipants(t *testing.T) {
	f := newFixture(t)
	f.presence.online["bea"] = true // bea is connected, cal is not

	_, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hello both",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"cal"}, f.notifier.recipients())
	require.Len(t, f.notifier.requests, 1)
	req := f.notifier.requests[0]
	assert.Equal(t, notify.CategoryMessage, req.Category)
	assert.Equal(t, "New message from Ada", req.Title)
	assert.Equal(t, "conv-1", req.Payload["conversation_id"])
}

func TestSend_TruncatesNotificationPreview(t *testing.T) {
	f := newFixture(t)

	long := ""
	for range 50 {
		long += "abcdefghij"
	}
	_, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           long,
	})
	require.NoError(t, err)

	require.Len(t, f.notifier.requests, 2) // bea and cal are both offline
	assert.Len(t, f.notifier.requests[0].Body, notificationPreviewLimit)
}

func TestSend_PreviewKeepsRuneBoundary(t *testing.T) {
	f := newFixture(t)

	// 50 three-byte runes: the byte limit lands mid-rune.
	body := strings.Repeat("你", 50)
	_, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           body,
	})
	require.NoError(t, err)

	require.NotEmpty(t, f.notifier.requests)
	preview := f.notifier.requests[0].Body
	assert.True(t, utf8.ValidString(preview), "preview must not split a rune")
	assert.LessOrEqual(t, len(preview), notificationPreviewLimit)
	assert.Equal(t, strings.Repeat("你", 46), preview)
}

func TestTyping_ThrottledPerConnection(t *testing.T) {
	f := newFixture(t)
	f.rooms.members["conn-ada:conv-1"] = true

	require.NoError(t, f.svc.Typing("ada", "conn-ada", "conv-1", true))
	require.NoError(t, f.svc.Typing("ada", "conn-ada", "conv-1", true))

	calls := f.rooms.broadcasts()
	require.Len(t, calls, 1, "second start inside the interval is suppressed")
	assert.Equal(t, protocol.TypeUserTyping, calls[0].event.Type)
	assert.Equal(t, "conn-ada", calls[0].exclude, "the typist does not see their own indicator")
}

func TestTyping_StopResetsThrottle(t *testing.T) {
	f := newFixture(t)
	f.rooms.members["conn-ada:conv-1"] = true

	require.NoError(t, f.svc.Typing("ada", "conn-ada", "conv-1", true))
	require.NoError(t, f.svc.Typing("ada", "conn-ada", "conv-1", false))
	require.NoError(t, f.svc.Typing("ada", "conn-ada", "conv-1", true))

	calls := f.rooms.broadcasts()
	require.Len(t, calls, 3)
	assert.Equal(t, protocol.TypeUserStoppedTyping, calls[1].event.Type)
	assert.Equal(t, protocol.TypeUserTyping, calls[2].event.Type)
}

func TestTyping_RequiresRoomMembership(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Typing("ada", "conn-ada", "conv-1", true)
	require.ErrorIs(t, err, ErrNotParticipant)
	assert.Empty(t, f.rooms.broadcasts())
}

func TestMarkRead_PersistsAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	msg, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hi",
	})
	require.NoError(t, err)

	err = f.svc.MarkRead(t.Context(), "bea", "conn-bea", protocol.MarkReadPayload{
		MessageID:      msg.ID,
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	stored, err := f.mock.GetMessage(t.Context(), msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Read)
	require.NotNil(t, stored.ReadBy)
	assert.Equal(t, "bea", *stored.ReadBy)

	calls := f.rooms.broadcasts()
	require.Len(t, calls, 2)
	assert.Equal(t, protocol.TypeMessageRead, calls[1].event.Type)
	assert.Equal(t, "conn-bea", calls[1].exclude)
}

func TestMarkRead_RejectsWrongConversation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mock.CreateConversation(t.Context(), &store.Conversation{
		ID:             "conv-2",
		ParticipantIDs: []string{"ada", "bea"},
		CreatedAt:      time.Now(),
	}))

	msg, err := f.svc.Send(t.Context(), "ada", "conn-ada", protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hi",
	})
	require.NoError(t, err)

	err = f.svc.MarkRead(t.Context(), "bea", "conn-bea", protocol.MarkReadPayload{
		MessageID:      msg.ID,
		ConversationID: "conv-2",
	})
	require.ErrorIs(t, err, ErrMessageMismatch)
}

func TestMarkRead_UnknownMessage(t *testing.T) {
	f := newFixture(t)

	err := f.svc.MarkRead(t.Context(), "bea", "conn-bea", protocol.MarkReadPayload{
		MessageID:      "missing",
		ConversationID: "conv-1",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}
