// ABOUTME: In-memory fan-out of conversation events to subscribed connections
// ABOUTME: Rooms are keyed by conversation ID; join is authorized against the participant list

package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"github.com/stayline/relay/internal/protocol"
)

// ErrNotParticipant is returned when a user tries to join a room for a
// conversation they are not a participant of.
var ErrNotParticipant = errors.New("user is not a conversation participant")

// Sink receives outbound events for one connection. TrySend must not block:
// it returns false when the connection is closed or its buffer is full, and
// the event is simply dropped for that connection.
type Sink interface {
	TrySend(event *protocol.Event) bool
}

// ParticipantSource provides the membership lookup that authorizes joins
type ParticipantSource interface {
	GetParticipants(ctx context.Context, conversationID string) ([]string, error)
}

// Router manages per-conversation broadcast groups. Membership is a set of
// connection IDs, not user IDs: one user may hold several connections and
// each subscribes separately.
type Router struct {
	mu           sync.RWMutex
	rooms        map[string]map[string]Sink     // conversationID -> connID -> sink
	joined       map[string]map[string]struct{} // connID -> conversation IDs
	participants ParticipantSource
	logger       *slog.Logger
}

// NewRouter creates a router. Pass nil logger for default.
func NewRouter(participants ParticipantSource, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		rooms:        make(map[string]map[string]Sink),
		joined:       make(map[string]map[string]struct{}),
		participants: participants,
		logger:       logger.With("component", "room"),
	}
}

// Join adds a connection to a conversation's room after verifying that the
// user is a participant. Membership is re-checked on every join attempt, not
// cached: the participant list can change elsewhere in the platform between
// the session's auto-join and a later explicit join.
// The membership lookup runs before any lock is taken.
func (r *Router) Join(ctx context.Context, connID, conversationID, userID string, sink Sink) error {
	participants, err := r.participants.GetParticipants(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("looking up participants: %w", err)
	}
	if !lo.Contains(participants, userID) {
		return fmt.Errorf("%w: user %s, conversation %s", ErrNotParticipant, userID, conversationID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[conversationID]; !ok {
		r.rooms[conversationID] = make(map[string]Sink)
	}
	r.rooms[conversationID][connID] = sink

	if _, ok := r.joined[connID]; !ok {
		r.joined[connID] = make(map[string]struct{})
	}
	r.joined[connID][conversationID] = struct{}{}

	r.logger.Debug("connection joined room",
		"conversation_id", conversationID,
		"conn_id", connID,
		"room_size", len(r.rooms[conversationID]),
	)
	return nil
}

// Leave removes a connection from one room. Leaving a room the connection is
// not in is a no-op.
func (r *Router) Leave(connID, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(connID, conversationID)
}

// LeaveAll removes a connection from every room it joined. Called exactly
// once from the session's close path.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationID := range r.joined[connID] {
		r.leaveLocked(connID, conversationID)
	}
	delete(r.joined, connID)
}

// leaveLocked removes one membership. Must be called with mu held.
func (r *Router) leaveLocked(connID, conversationID string) {
	room, ok := r.rooms[conversationID]
	if !ok {
		return
	}
	if _, ok := room[connID]; !ok {
		return
	}

	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, conversationID)
	}
	if set, ok := r.joined[connID]; ok {
		delete(set, conversationID)
	}

	r.logger.Debug("connection left room",
		"conversation_id", conversationID,
		"conn_id", connID,
	)
}

// Contains reports whether a connection is currently in a room.
func (r *Router) Contains(connID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[conversationID][connID]
	return ok
}

// Broadcast delivers the event to every connection in the room, except an
// optionally excluded connection (used for typing indicators to avoid echo).
// Sends are non-blocking; a closed or slow connection just misses the event.
func (r *Router) Broadcast(conversationID string, event *protocol.Event, excludeConnID string) {
	r.mu.RLock()
	room, ok := r.rooms[conversationID]
	if !ok || len(room) == 0 {
		r.mu.RUnlock()
		return
	}

	// Copy sinks under read lock to avoid holding the lock during sends
	targets := make([]Sink, 0, len(room))
	for connID, sink := range room {
		if excludeConnID != "" && connID == excludeConnID {
			continue
		}
		targets = append(targets, sink)
	}
	r.mu.RUnlock()

	for _, sink := range targets {
		if !sink.TrySend(event) {
			r.logger.Debug("dropped event for unavailable connection",
				"conversation_id", conversationID,
				"event_type", event.Type,
			)
		}
	}
}
