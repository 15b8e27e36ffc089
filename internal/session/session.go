// ABOUTME: Per-connection state machine: unauthenticated, authenticated, closed
// ABOUTME: Routes inbound envelopes to the chat pipeline and buffers outbound events

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/stayline/relay/internal/auth"
	"github.com/stayline/relay/internal/chat"
	"github.com/stayline/relay/internal/protocol"
	"github.com/stayline/relay/internal/room"
	"github.com/stayline/relay/internal/store"
)

// State of a session. Transitions are one-way:
// unauthenticated -> authenticated -> closed, with closed reachable from
// either earlier state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

// eventBuffer is the outbound queue depth per connection. A client that
// stops draining loses events rather than stalling the broadcaster.
const eventBuffer = 64

// Pipeline is the slice of the chat service the session drives.
type Pipeline interface {
	Send(ctx context.Context, senderID, connID string, p protocol.SendMessagePayload) (*store.Message, error)
	Typing(senderID, connID, conversationID string, typing bool) error
	MarkRead(ctx context.Context, readerID, connID string, p protocol.MarkReadPayload) error
}

// Rooms is the slice of the room router the session drives.
type Rooms interface {
	Join(ctx context.Context, connID, conversationID, userID string, sink room.Sink) error
	LeaveAll(connID string)
}

// PresenceTracker records which users hold live connections.
type PresenceTracker interface {
	Register(userID, connID string)
	Unregister(userID, connID string)
}

// ConversationSource lists the conversations a user belongs to, used for the
// auto-join after authentication.
type ConversationSource interface {
	ListConversationsForUser(ctx context.Context, userID string) ([]*store.Conversation, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Session is the server-side state for one client connection. It implements
// room.Sink so the router can deliver broadcasts to it.
type Session struct {
	id string

	mu       sync.Mutex
	state    State
	identity *auth.Identity

	events    chan *protocol.Event
	closeOnce sync.Once

	verifier      auth.Verifier
	pipeline      Pipeline
	rooms         Rooms
	presence      PresenceTracker
	conversations ConversationSource
	logger        *slog.Logger
}

// New creates a session in the unauthenticated state.
func New(verifier auth.Verifier, pipeline Pipeline, rooms Rooms, presence PresenceTracker, conversations ConversationSource, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Session{
		id:            id,
		state:         StateUnauthenticated,
		events:        make(chan *protocol.Event, eventBuffer),
		verifier:      verifier,
		pipeline:      pipeline,
		rooms:         rooms,
		presence:      presence,
		conversations: conversations,
		logger:        logger.With("component", "session", "conn_id", id),
	}
}

// ID returns the connection's unique identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated user's ID, or "" before authentication.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.UserID
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events is the outbound queue the transport write loop drains. It is closed
// when the session closes.
func (s *Session) Events() <-chan *protocol.Event { return s.events }

// TrySend queues an outbound event without blocking. It returns false when
// the session is closed or its buffer is full; the event is dropped.
func (s *Session) TrySend(event *protocol.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

// Close transitions to the closed state and tears down presence and room
// membership. Safe to call multiple times; the cleanup runs exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		userID := ""
		if s.identity != nil {
			userID = s.identity.UserID
		}
		s.state = StateClosed
		close(s.events)
		s.mu.Unlock()

		if userID != "" {
			s.presence.Unregister(userID, s.id)
		}
		s.rooms.LeaveAll(s.id)

		s.logger.Debug("session closed", "user_id", userID)
	})
}

// HandleEnvelope dispatches one inbound frame. Before authentication only
// authenticate is accepted; everything else earns an error event. Errors are
// reported to the client over the event queue, never returned to the
// transport: a bad frame does not terminate the connection.
func (s *Session) HandleEnvelope(ctx context.Context, env protocol.Envelope) {
	if s.State() == StateClosed {
		return
	}

	if env.Type == protocol.TypeAuthenticate {
		s.handleAuthenticate(ctx, env.Data)
		return
	}

	if s.State() != StateAuthenticated {
		s.TrySend(protocol.Error(protocol.CodeUnauthenticated, "authenticate first"))
		return
	}

	switch env.Type {
	case protocol.TypeJoinConversation:
		s.handleJoin(ctx, env.Data)
	case protocol.TypeSendMessage:
		s.handleSend(ctx, env.Data)
	case protocol.TypeTypingStart:
		s.handleTyping(env.Data, true)
	case protocol.TypeTypingStop:
		s.handleTyping(env.Data, false)
	case protocol.TypeMarkRead:
		s.handleMarkRead(ctx, env.Data)
	default:
		s.TrySend(protocol.Error(protocol.CodeBadRequest, fmt.Sprintf("unknown event type %q", env.Type)))
	}
}

func (s *Session) handleAuthenticate(ctx context.Context, data json.RawMessage) {
	if s.State() == StateAuthenticated {
		s.TrySend(protocol.Error(protocol.CodeBadRequest, "already authenticated"))
		return
	}

	var p protocol.AuthenticatePayload
	if !s.decode(data, &p) {
		return
	}

	identity, err := s.verifier.Verify(ctx, p.Token)
	if err != nil {
		s.logger.Info("authentication failed", "error", err)
		s.TrySend(protocol.AuthError(authFailureReason(err)))
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		// Close landed while the token was being verified. The session is
		// already torn down, so the transition must not be committed.
		s.mu.Unlock()
		s.logger.Debug("session closed during authentication", "user_id", identity.UserID)
		return
	}
	s.identity = identity
	s.state = StateAuthenticated
	// Registering under the lock orders it against Close: a close that
	// arrives after this point sees the identity and unregisters it.
	s.presence.Register(identity.UserID, s.id)
	s.mu.Unlock()

	s.TrySend(protocol.Authenticated(identity))
	s.autoJoin(ctx, identity.UserID)

	s.logger.Info("session authenticated", "user_id", identity.UserID)
}

// autoJoin subscribes the connection to every conversation the user already
// belongs to, so messages flow without an explicit join per conversation.
// A partial failure leaves the remaining conversations reachable via
// explicit joins.
func (s *Session) autoJoin(ctx context.Context, userID string) {
	convs, err := s.conversations.ListConversationsForUser(ctx, userID)
	if err != nil {
		s.logger.Warn("auto-join listing failed", "user_id", userID, "error", err)
		return
	}
	for _, conv := range convs {
		if err := s.rooms.Join(ctx, s.id, conv.ID, userID, s); err != nil {
			s.logger.Warn("auto-join failed",
				"user_id", userID,
				"conversation_id", conv.ID,
				"error", err)
			continue
		}
		s.TrySend(protocol.Joined(conv.ID))
	}
	if s.State() == StateClosed {
		// A close that raced the joins has already run its LeaveAll.
		// Leaving again is idempotent and clears memberships added since.
		s.rooms.LeaveAll(s.id)
	}
}

func (s *Session) handleJoin(ctx context.Context, data json.RawMessage) {
	var p protocol.JoinConversationPayload
	if !s.decode(data, &p) {
		return
	}
	if err := s.rooms.Join(ctx, s.id, p.ConversationID, s.UserID(), s); err != nil {
		s.sendError(err)
		return
	}
	s.TrySend(protocol.Joined(p.ConversationID))
}

func (s *Session) handleSend(ctx context.Context, data json.RawMessage) {
	var p protocol.SendMessagePayload
	if !s.decode(data, &p) {
		return
	}
	if _, err := s.pipeline.Send(ctx, s.UserID(), s.id, p); err != nil {
		s.sendError(err)
	}
}

func (s *Session) handleTyping(data json.RawMessage, typing bool) {
	var p protocol.TypingPayload
	if !s.decode(data, &p) {
		return
	}
	if err := s.pipeline.Typing(s.UserID(), s.id, p.ConversationID, typing); err != nil {
		s.sendError(err)
	}
}

func (s *Session) handleMarkRead(ctx context.Context, data json.RawMessage) {
	var p protocol.MarkReadPayload
	if !s.decode(data, &p) {
		return
	}
	if err := s.pipeline.MarkRead(ctx, s.UserID(), s.id, p); err != nil {
		s.sendError(err)
	}
}

// decode unmarshals and validates an inbound payload, reporting failures to
// the client. Returns false when the payload was rejected.
func (s *Session) decode(data json.RawMessage, payload any) bool {
	if err := json.Unmarshal(data, payload); err != nil {
		s.TrySend(protocol.Error(protocol.CodeBadRequest, "malformed payload"))
		return false
	}
	if err := validate.Struct(payload); err != nil {
		s.TrySend(protocol.Error(protocol.CodeBadRequest, err.Error()))
		return false
	}
	return true
}

// sendError maps pipeline and router errors to wire error codes.
func (s *Session) sendError(err error) {
	switch {
	case errors.Is(err, chat.ErrNotParticipant) || errors.Is(err, room.ErrNotParticipant):
		s.TrySend(protocol.Error(protocol.CodeUnauthorized, "not a participant of this conversation"))
	case errors.Is(err, store.ErrNotFound):
		s.TrySend(protocol.Error(protocol.CodeBadRequest, "unknown resource"))
	case errors.Is(err, chat.ErrMessageMismatch):
		s.TrySend(protocol.Error(protocol.CodeBadRequest, "message does not belong to conversation"))
	case errors.Is(err, chat.ErrStorage):
		s.logger.Error("storage failure", "error", err)
		s.TrySend(protocol.Error(protocol.CodeStorage, "temporary storage failure"))
	default:
		s.logger.Error("unexpected pipeline failure", "error", err)
		s.TrySend(protocol.Error(protocol.CodeStorage, "internal error"))
	}
}

// authFailureReason maps verifier errors to client-safe reasons. Unknown and
// inactive accounts are reported the same way as bad tokens.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return "token expired"
	case errors.Is(err, auth.ErrSuspendedAccount):
		return "account suspended"
	default:
		return "invalid credentials"
	}
}
