// ABOUTME: Tests for the session state machine
// ABOUTME: Covers the auth gate, auto-join, error mapping, and idempotent close

package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayline/relay/internal/auth"
	"github.com/stayline/relay/internal/chat"
	"github.com/stayline/relay/internal/protocol"
	"github.com/stayline/relay/internal/room"
	"github.com/stayline/relay/internal/store"
)

type fakeVerifier struct {
	identity *auth.Identity
	err      error
}

func (f *fakeVerifier) Verify(ctx context.Context, credential string) (*auth.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

// blockingVerifier parks Verify until released, so a test can interleave
// Close with an in-flight authentication.
type blockingVerifier struct {
	started  chan struct{}
	release  chan struct{}
	identity *auth.Identity
}

func (v *blockingVerifier) Verify(ctx context.Context, credential string) (*auth.Identity, error) {
	close(v.started)
	<-v.release
	return v.identity, nil
}

type fakePipeline struct {
	mu        sync.Mutex
	sends     []protocol.SendMessagePayload
	sendErr   error
	typings   int
	markReads []protocol.MarkReadPayload
	lastUser  string
	lastConn  string
}

func (f *fakePipeline) Send(ctx context.Context, senderID, connID string, p protocol.SendMessagePayload) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUser, f.lastConn = senderID, connID
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, p)
	return &store.Message{ID: "msg-1", ConversationID: p.ConversationID, SenderID: senderID, Body: p.Body}, nil
}

func (f *fakePipeline) Typing(senderID, connID, conversationID string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typings++
	return nil
}

func (f *fakePipeline) MarkRead(ctx context.Context, readerID, connID string, p protocol.MarkReadPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads = append(f.markReads, p)
	return nil
}

type fakeRooms struct {
	mu        sync.Mutex
	joins     []string // conversation IDs
	joinErr   error
	leaveAlls int
}

func (f *fakeRooms) Join(ctx context.Context, connID, conversationID, userID string, sink room.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, conversationID)
	return nil
}

func (f *fakeRooms) LeaveAll(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaveAlls++
}

type fakePresence struct {
	mu          sync.Mutex
	registers   []string
	unregisters []string
}

func (f *fakePresence) Register(userID, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers = append(f.registers, userID)
}

func (f *fakePresence) Unregister(userID, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters = append(f.unregisters, userID)
}

type fixture struct {
	verifier *fakeVerifier
	pipeline *fakePipeline
	rooms    *fakeRooms
	presence *fakePresence
	mock     *store.MockStore
	sess     *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock := store.NewMockStore()
	require.NoError(t, mock.CreateUser(t.Context(), &store.User{ID: "ada", Name: "Ada", Active: true}))
	require.NoError(t, mock.CreateConversation(t.Context(), &store.Conversation{
		ID:             "conv-1",
		ParticipantIDs: []string{"ada", "bea"},
		CreatedAt:      time.Now(),
	}))

	f := &fixture{
		verifier: &fakeVerifier{identity: &auth.Identity{UserID: "ada", Name: "Ada"}},
		pipeline: &fakePipeline{},
		rooms:    &fakeRooms{},
		presence: &fakePresence{},
		mock:     mock,
	}
	f.sess = New(f.verifier, f.pipeline, f.rooms, f.presence, mock, nil)
	t.Cleanup(f.sess.Close)
	return f
}

func envelope(t *testing.T, eventType string, payload any) protocol.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return protocol.Envelope{Type: eventType, Data: data}
}

// nextEvent pops one queued outbound event without blocking forever.
func nextEvent(t *testing.T, s *Session) *protocol.Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		require.NotNil(t, ev, "event queue closed")
		return ev
	default:
		t.Fatal("no event queued")
		return nil
	}
}

func authenticate(t *testing.T, f *fixture) {
	t.Helper()
	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeAuthenticate, protocol.AuthenticatePayload{Token: "tok"}))
	require.Equal(t, StateAuthenticated, f.sess.State())
	ev := nextEvent(t, f.sess)
	require.Equal(t, protocol.TypeAuthenticated, ev.Type)
	// drain the auto-join confirmation
	ev = nextEvent(t, f.sess)
	require.Equal(t, protocol.TypeJoinedConversation, ev.Type)
}

func TestSession_RejectsOperationsBeforeAuth(t *testing.T) {
	f := newFixture(t)

	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeSendMessage, protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hi",
	}))

	ev := nextEvent(t, f.sess)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.CodeUnauthenticated, ev.Data.(protocol.ErrorData).Code)
	assert.Empty(t, f.pipeline.sends, "nothing reaches the pipeline before auth")
}

func TestSession_AuthenticateRegistersAndAutoJoins(t *testing.T) {
	f := newFixture(t)
	authenticate(t, f)

	assert.Equal(t, []string{"ada"}, f.presence.registers)
	assert.Equal(t, []string{"conv-1"}, f.rooms.joins)
	assert.Equal(t, "ada", f.sess.UserID())
}

func TestSession_AuthenticateFailure(t *testing.T) {
	f := newFixture(t)
	f.verifier.err = auth.ErrExpiredToken

	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeAuthenticate, protocol.AuthenticatePayload{Token: "old"}))

	ev := nextEvent(t, f.sess)
	assert.Equal(t, protocol.TypeAuthError, ev.Type)
	assert.Equal(t, "token expired", ev.Data.(protocol.ErrorData).Reason)
	assert.Equal(t, StateUnauthenticated, f.sess.State())
	assert.Empty(t, f.presence.registers)
}

func TestSession_DoubleAuthenticateRejected(t *testing.T) {
	f := newFixture(t)
	authenticate(t, f)

	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeAuthenticate, protocol.AuthenticatePayload{Token: "tok"}))

	ev := nextEvent(t, f.sess)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.CodeBadRequest, ev.Data.(protocol.ErrorData).Code)
	assert.Len(t, f.presence.registers, 1)
}

func TestSession_SendRoutesToPipeline(t *testing.T) {
	f := newFixture(t)
	authenticate(t, f)

	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeSendMessage, protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hello",
	}))

	require.Len(t, f.pipeline.sends, 1)
	assert.Equal(t, "hello", f.pipeline.sends[0].Body)
	assert.Equal(t, "ada", f.pipeline.lastUser)
	assert.Equal(t, f.sess.ID(), f.pipeline.lastConn)
}

func TestSession_PipelineErrorsMapToCodes(t *testing.T) {
	f := newFixture(t)
	authenticate(t, f)
	f.pipeline.sendErr = chat.ErrNotParticipant

	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeSendMessage, protocol.SendMessagePayload{
		ConversationID: "conv-1",
		Body:           "hi",
	}))

	ev := nextEvent(t, f.sess)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.CodeUnauthorized, ev.Data.(protocol.ErrorData).Code)
}

func TestSession_ValidationFailure(t *testing.T) {
	f := newFixture(t)
	authenticate(t, f)

	// body is required
	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeSendMessage, protocol.SendMessagePayload{
		ConversationID: "conv-1",
	}))

	ev := nextEvent(t, f.sess)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.CodeBadRequest, ev.Data.(protocol.ErrorData).Code)
	assert.Empty(t, f.pipeline.sends)
}

func TestSession_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	authenticate(t, f)

	f.sess.HandleEnvelope(t.Context(), protocol.Envelope{
		Type: protocol.TypeSendMessage,
		Data: json.RawMessage(`{"body":`),
	})

	ev := nextEvent(t, f.sess)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.CodeBadRequest, ev.Data.(protocol.ErrorData).Code)
}

func TestSession_UnknownEventType(t *testing.T) {
	f := newFixture(t)
	authenticate(t, f)

	f.sess.HandleEnvelope(t.Context(), protocol.Envelope{Type: "reboot_server"})

	ev := nextEvent(t, f.sess)
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, protocol.CodeBadRequest, ev.Data.(protocol.ErrorData).Code)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	authenticate(t, f)

	f.sess.Close()
	f.sess.Close()

	assert.Equal(t, StateClosed, f.sess.State())
	assert.Equal(t, []string{"ada"}, f.presence.unregisters, "unregistered exactly once")
	assert.Equal(t, 1, f.rooms.leaveAlls)
	assert.False(t, f.sess.TrySend(protocol.Joined("conv-1")), "closed sessions drop events")
	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeTypingStart, protocol.TypingPayload{ConversationID: "conv-1"}))
	assert.Zero(t, f.pipeline.typings)
}

func TestSession_CloseDuringAuthentication(t *testing.T) {
	f := newFixture(t)
	bv := &blockingVerifier{
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		identity: &auth.Identity{UserID: "ada", Name: "Ada"},
	}
	sess := New(bv, f.pipeline, f.rooms, f.presence, f.mock, nil)
	env := envelope(t, protocol.TypeAuthenticate, protocol.AuthenticatePayload{Token: "tok"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		sess.HandleEnvelope(context.Background(), env)
	}()

	<-bv.started
	sess.Close()
	close(bv.release)
	<-done

	assert.Equal(t, StateClosed, sess.State())
	assert.Equal(t, "", sess.UserID(), "closed session never commits the identity")
	assert.Empty(t, f.presence.registers, "no presence registration after close")
	assert.Empty(t, f.rooms.joins, "no auto-join after close")
}

func TestSession_TrySendFullBufferDrops(t *testing.T) {
	f := newFixture(t)

	for range eventBuffer {
		require.True(t, f.sess.TrySend(protocol.Joined("conv-1")))
	}
	assert.False(t, f.sess.TrySend(protocol.Joined("conv-1")))
}

func TestSession_AutoJoinFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.rooms.joinErr = room.ErrNotParticipant

	f.sess.HandleEnvelope(t.Context(), envelope(t, protocol.TypeAuthenticate, protocol.AuthenticatePayload{Token: "tok"}))

	require.Equal(t, StateAuthenticated, f.sess.State())
	ev := nextEvent(t, f.sess)
	assert.Equal(t, protocol.TypeAuthenticated, ev.Type)
	select {
	case ev := <-f.sess.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}
