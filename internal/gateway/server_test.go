// ABOUTME: End-to-end tests for the WebSocket transport
// ABOUTME: Wires real sessions, rooms, presence, pipeline, and dispatcher over a live server

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayline/relay/internal/auth"
	"github.com/stayline/relay/internal/chat"
	"github.com/stayline/relay/internal/notify"
	"github.com/stayline/relay/internal/presence"
	"github.com/stayline/relay/internal/protocol"
	"github.com/stayline/relay/internal/room"
	"github.com/stayline/relay/internal/store"
)

var testSecret = []byte("test-secret")

type harness struct {
	mock       *store.MockStore
	verifier   *auth.JWTVerifier
	dispatcher *notify.Dispatcher
	server     *Server
	httpServer *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mock := store.NewMockStore()
	require.NoError(t, mock.CreateUser(t.Context(), &store.User{
		ID: "ada", Name: "Ada", Email: "ada@example.com", Active: true, EmailOptIn: true,
	}))
	require.NoError(t, mock.CreateUser(t.Context(), &store.User{
		ID: "bea", Name: "Bea", Email: "bea@example.com", Active: true, EmailOptIn: true,
	}))
	require.NoError(t, mock.CreateConversation(t.Context(), &store.Conversation{
		ID:             "conv-1",
		ParticipantIDs: []string{"ada", "bea"},
		CreatedAt:      time.Now(),
	}))

	verifier := auth.NewJWTVerifier(testSecret, mock)
	reg := presence.NewRegistry(nil)
	rooms := room.NewRouter(mock, nil)

	h := &harness{mock: mock, verifier: verifier}

	// No channel senders: notifications are recorded and live-delivered only.
	h.dispatcher = notify.NewDispatcher(mock, nil, liveDeliveryFunc(func(userID string, event *protocol.Event) {
		h.server.DeliverTo(userID, event)
	}), nil)

	pipeline := chat.NewService(mock, rooms, reg, h.dispatcher, time.Second, nil)
	t.Cleanup(pipeline.Close)

	h.server = NewServer(Options{AllowedOrigins: []string{"*"}}, verifier, pipeline, rooms, reg, mock, nil)
	h.httpServer = httptest.NewServer(http.HandlerFunc(h.server.handleWebSocket))
	t.Cleanup(h.httpServer.Close)
	return h
}

type liveDeliveryFunc func(userID string, event *protocol.Event)

func (f liveDeliveryFunc) DeliverTo(userID string, event *protocol.Event) { f(userID, event) }

// client is a minimal test WebSocket client speaking the JSON envelope
// protocol.
type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (h *harness) dial(t *testing.T) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.httpServer.URL, "http")
	conn, _, err := websocket.Dial(t.Context(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return &client{t: t, conn: conn}
}

func (c *client) send(eventType string, payload any) {
	c.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(c.t, err)
	frame, err := json.Marshal(protocol.Envelope{Type: eventType, Data: data})
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(c.t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, frame))
}

func (c *client) recv() protocol.Envelope {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(c.t.Context(), 5*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err, "expected an event before the deadline")
	var env protocol.Envelope
	require.NoError(c.t, json.Unmarshal(data, &env))
	return env
}

// recvType reads events until one of the wanted type arrives.
func (c *client) recvType(eventType string) protocol.Envelope {
	c.t.Helper()
	for range 10 {
		env := c.recv()
		if env.Type == eventType {
			return env
		}
	}
	c.t.Fatalf("never received %s", eventType)
	return protocol.Envelope{}
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := h.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (c *client) authenticate(h *harness, userID string) {
	c.t.Helper()
	c.send(protocol.TypeAuthenticate, protocol.AuthenticatePayload{Token: h.token(c.t, userID)})
	env := c.recv()
	require.Equal(c.t, protocol.TypeAuthenticated, env.Type)
}

func TestServer_AuthenticateAndExchangeMessages(t *testing.T) {
	h := newHarness(t)

	ada := h.dial(t)
	ada.authenticate(h, "ada")
	ada.recvType(protocol.TypeJoinedConversation)

	bea := h.dial(t)
	bea.authenticate(h, "bea")
	bea.recvType(protocol.TypeJoinedConversation)

	ada.send(protocol.TypeSendMessage, protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "is the flat still available?",
	})

	env := bea.recvType(protocol.TypeNewMessage)
	var data protocol.NewMessageData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "conv-1", data.ConversationID)
	assert.Equal(t, "ada", data.Message.SenderID)
	assert.Equal(t, "is the flat still available?", data.Message.Body)

	// Sender receives the broadcast too
	ada.recvType(protocol.TypeNewMessage)

	// Both participants were online, so no offline notification was recorded
	h.dispatcher.Wait()
	recs, err := h.mock.ListNotificationsForUser(t.Context(), "bea", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestServer_OfflineParticipantGetsNotificationRecord(t *testing.T) {
	h := newHarness(t)

	ada := h.dial(t)
	ada.authenticate(h, "ada")
	ada.recvType(protocol.TypeJoinedConversation)

	ada.send(protocol.TypeSendMessage, protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hello bea",
	})
	ada.recvType(protocol.TypeNewMessage)

	// The record is written by the server goroutine after the broadcast, so
	// poll instead of asserting immediately.
	var recs []*store.NotificationRecord
	require.Eventually(t, func() bool {
		var err error
		recs, err = h.mock.ListNotificationsForUser(t.Context(), "bea", 10)
		return err == nil && len(recs) == 1
	}, 5*time.Second, 10*time.Millisecond, "exactly one record for the offline participant")
	assert.Equal(t, notify.CategoryMessage, recs[0].Category)
	assert.Equal(t, "New message from Ada", recs[0].Title)
}

func TestServer_UnauthenticatedSendIsRejected(t *testing.T) {
	h := newHarness(t)

	c := h.dial(t)
	c.send(protocol.TypeSendMessage, protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "sneaky",
	})

	env := c.recv()
	require.Equal(t, protocol.TypeError, env.Type)
	var errData protocol.ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &errData))
	assert.Equal(t, protocol.CodeUnauthenticated, errData.Code)

	msgs, err := h.mock.ListMessages(t.Context(), "conv-1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "no store mutation for rejected sends")
}

func TestServer_InvalidTokenGetsAuthError(t *testing.T) {
	h := newHarness(t)

	c := h.dial(t)
	c.send(protocol.TypeAuthenticate, protocol.AuthenticatePayload{Token: "garbage"})

	env := c.recv()
	assert.Equal(t, protocol.TypeAuthError, env.Type)
}

func TestServer_TypingIndicatorReachesPeerOnly(t *testing.T) {
	h := newHarness(t)

	ada := h.dial(t)
	ada.authenticate(h, "ada")
	ada.recvType(protocol.TypeJoinedConversation)

	bea := h.dial(t)
	bea.authenticate(h, "bea")
	bea.recvType(protocol.TypeJoinedConversation)

	ada.send(protocol.TypeTypingStart, protocol.TypingPayload{ConversationID: "conv-1"})

	env := bea.recvType(protocol.TypeUserTyping)
	var data protocol.TypingData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ada", data.UserID)
}

func TestServer_LiveNotificationDelivery(t *testing.T) {
	h := newHarness(t)

	bea := h.dial(t)
	bea.authenticate(h, "bea")
	bea.recvType(protocol.TypeJoinedConversation)

	_, err := h.dispatcher.Dispatch(t.Context(), notify.Request{
		RecipientID: "bea",
		Category:    notify.CategoryBookingConfirmed,
		Title:       "Booking confirmed",
		Body:        "Your stay at Seaside Flat is confirmed.",
	})
	require.NoError(t, err)

	env := bea.recvType(protocol.TypeNotification)
	var rec store.NotificationRecord
	require.NoError(t, json.Unmarshal(env.Data, &rec))
	assert.Equal(t, notify.CategoryBookingConfirmed, rec.Category)
}

func TestServer_HealthEndpoint(t *testing.T) {
	h := newHarness(t)

	rr := httptest.NewRecorder()
	h.server.handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
