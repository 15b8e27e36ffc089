// ABOUTME: Message pipeline: persist, fan out to present connections, notify absent participants
// ABOUTME: Also handles throttled typing indicators and read receipts

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/stayline/relay/internal/notify"
	"github.com/stayline/relay/internal/protocol"
	"github.com/stayline/relay/internal/store"
	"github.com/stayline/relay/internal/throttle"
)

var (
	// ErrNotParticipant is returned when the acting user is not a member of
	// the target conversation.
	ErrNotParticipant = errors.New("user is not a conversation participant")

	// ErrStorage wraps persistence failures. The triggering event must not
	// be broadcast when this is returned.
	ErrStorage = errors.New("storage operation failed")

	// ErrMessageMismatch is returned when a read receipt names a message
	// that belongs to a different conversation.
	ErrMessageMismatch = errors.New("message does not belong to conversation")
)

// notificationPreviewLimit caps the message body carried into offline
// notifications.
const notificationPreviewLimit = 140

// ChatStore is the slice of the store the pipeline needs.
type ChatStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetParticipants(ctx context.Context, conversationID string) ([]string, error)
	TouchLastMessageAt(ctx context.Context, conversationID string, at time.Time) error
	InsertMessage(ctx context.Context, msg *store.Message) error
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	SetMessageRead(ctx context.Context, messageID, readerID string, at time.Time) error
}

// Broadcaster fans events out to the connections subscribed to a
// conversation. Satisfied by room.Router.
type Broadcaster interface {
	Broadcast(conversationID string, event *protocol.Event, excludeConnID string)
	Contains(connID, conversationID string) bool
}

// Presence answers whether a user currently holds any live connection.
type Presence interface {
	IsOnline(userID string) bool
}

// Notifier records and delivers offline notifications. Satisfied by
// notify.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, req notify.Request) (*store.NotificationRecord, error)
}

// Service implements the message pipeline. Messages are persisted before any
// broadcast: a client never sees a message that could be lost on restart.
type Service struct {
	store    ChatStore
	rooms    Broadcaster
	presence Presence
	notifier Notifier
	typing   *throttle.Gate
	logger   *slog.Logger
}

// NewService creates the pipeline. typingInterval bounds how often a single
// connection can emit a typing indicator per conversation. Pass nil logger
// for default.
func NewService(st ChatStore, rooms Broadcaster, presence Presence, notifier Notifier, typingInterval time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		rooms:    rooms,
		presence: presence,
		notifier: notifier,
		typing:   throttle.New(typingInterval, 10000),
		logger:   logger.With("component", "chat"),
	}
}

// Send runs the full pipeline for one outgoing message. The order is fixed:
// authorize, persist, touch the conversation, broadcast, notify absentees.
// Persistence failure aborts before any participant can observe the message.
func (s *Service) Send(ctx context.Context, senderID, connID string, p protocol.SendMessagePayload) (*store.Message, error) {
	participants, err := s.store.GetParticipants(ctx, p.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: looking up participants: %v", ErrStorage, err)
	}
	if !lo.Contains(participants, senderID) {
		return nil, fmt.Errorf("%w: user %s, conversation %s", ErrNotParticipant, senderID, p.ConversationID)
	}

	msgType := p.Type
	if msgType == "" {
		msgType = store.MessageTypeText
	}
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: p.ConversationID,
		SenderID:       senderID,
		Body:           p.Body,
		Type:           msgType,
		Attachments:    p.Attachments,
		CreatedAt:      time.Now(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: inserting message: %v", ErrStorage, err)
	}

	// Best effort: the message is already durable, a stale last-message
	// timestamp only affects inbox ordering.
	if err := s.store.TouchLastMessageAt(ctx, p.ConversationID, msg.CreatedAt); err != nil {
		s.logger.Warn("failed to update conversation timestamp",
			"conversation_id", p.ConversationID,
			"error", err)
	}

	s.rooms.Broadcast(p.ConversationID, protocol.NewMessage(msg), "")

	s.notifyAbsent(ctx, msg, participants)

	s.logger.Debug("message delivered",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", senderID,
	)
	return msg, nil
}

// notifyAbsent dispatches an offline notification to every participant who
// is neither the sender nor currently online. Dispatch failures are logged
// and do not affect the already-delivered message.
func (s *Service) notifyAbsent(ctx context.Context, msg *store.Message, participants []string) {
	if s.notifier == nil {
		return
	}

	title := "New message"
	if sender, err := s.store.GetUser(ctx, msg.SenderID); err == nil {
		title = fmt.Sprintf("New message from %s", sender.Name)
	}

	preview := msg.Body
	if len(preview) > notificationPreviewLimit {
		// Walk back from the byte limit so the cut never splits a rune.
		cut := notificationPreviewLimit
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}

	for _, userID := range participants {
		if userID == msg.SenderID || s.presence.IsOnline(userID) {
			continue
		}
		_, err := s.notifier.Dispatch(ctx, notify.Request{
			RecipientID: userID,
			Category:    notify.CategoryMessage,
			Title:       title,
			Body:        preview,
			Payload: map[string]string{
				"conversation_id": msg.ConversationID,
				"message_id":      msg.ID,
			},
		})
		if err != nil {
			s.logger.Error("failed to dispatch offline notification",
				"recipient_id", userID,
				"message_id", msg.ID,
				"error", err)
		}
	}
}

// Typing broadcasts a typing indicator to the other room members. Start
// events are throttled per connection and conversation; stop events always
// go through and reset the throttle so the next start is immediate.
// Membership is checked against the live room, not the store: typing carries
// no durable effect, so a per-keystroke database round trip buys nothing.
func (s *Service) Typing(senderID, connID, conversationID string, typing bool) error {
	if !s.rooms.Contains(connID, conversationID) {
		return fmt.Errorf("%w: connection %s, conversation %s", ErrNotParticipant, connID, conversationID)
	}

	key := connID + ":" + conversationID
	if typing {
		if !s.typing.Allow(key) {
			return nil
		}
	} else {
		s.typing.Forget(key)
	}

	s.rooms.Broadcast(conversationID, protocol.UserTyping(senderID, conversationID, typing), connID)
	return nil
}

// MarkRead persists a read receipt and broadcasts it to the room. The
// receipt is never turned into an offline notification.
func (s *Service) MarkRead(ctx context.Context, readerID, connID string, p protocol.MarkReadPayload) error {
	participants, err := s.store.GetParticipants(ctx, p.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: looking up participants: %v", ErrStorage, err)
	}
	if !lo.Contains(participants, readerID) {
		return fmt.Errorf("%w: user %s, conversation %s", ErrNotParticipant, readerID, p.ConversationID)
	}

	msg, err := s.store.GetMessage(ctx, p.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: loading message: %v", ErrStorage, err)
	}
	if msg.ConversationID != p.ConversationID {
		return fmt.Errorf("%w: message %s, conversation %s", ErrMessageMismatch, p.MessageID, p.ConversationID)
	}

	if err := s.store.SetMessageRead(ctx, p.MessageID, readerID, time.Now()); err != nil {
		return fmt.Errorf("%w: persisting read receipt: %v", ErrStorage, err)
	}

	s.rooms.Broadcast(p.ConversationID, protocol.MessageRead(p.MessageID, p.ConversationID, readerID), connID)
	return nil
}

// Close releases the typing throttle's background resources.
func (s *Service) Close() {
	s.typing.Close()
}
