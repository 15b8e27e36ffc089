// ABOUTME: Wire protocol for the bidirectional client connection
// ABOUTME: JSON envelopes, inbound payloads with validation tags, outbound event constructors

package protocol

import (
	"encoding/json"

	"github.com/stayline/relay/internal/auth"
	"github.com/stayline/relay/internal/store"
)

// Inbound event types (client -> server)
const (
	TypeAuthenticate     = "authenticate"
	TypeJoinConversation = "join_conversation"
	TypeSendMessage      = "send_message"
	TypeTypingStart      = "typing_start"
	TypeTypingStop       = "typing_stop"
	TypeMarkRead         = "mark_read"
)

// Outbound event types (server -> client)
const (
	TypeAuthenticated      = "authenticated"
	TypeAuthError          = "auth_error"
	TypeJoinedConversation = "joined_conversation"
	TypeError              = "error"
	TypeNewMessage         = "new_message"
	TypeUserTyping         = "user_typing"
	TypeUserStoppedTyping  = "user_stopped_typing"
	TypeMessageRead        = "message_read"
	TypeNotification       = "notification"
)

// Error codes carried by error and auth_error events
const (
	CodeUnauthenticated = "unauthenticated"
	CodeUnauthorized    = "unauthorized"
	CodeStorage         = "storage_error"
	CodeBadRequest      = "bad_request"
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound event before marshaling.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// AuthenticatePayload carries the bearer credential.
type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

// JoinConversationPayload asks to join a conversation room.
type JoinConversationPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

// SendMessagePayload carries an outgoing message.
type SendMessagePayload struct {
	ConversationID string   `json:"conversation_id" validate:"required"`
	Body           string   `json:"body" validate:"required,max=4000"`
	Type           string   `json:"type" validate:"omitempty,oneof=text attachment system"`
	Attachments    []string `json:"attachments" validate:"omitempty,max=10,dive,url"`
}

// TypingPayload marks the start or stop of typing in a conversation.
type TypingPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

// MarkReadPayload marks a message as read.
type MarkReadPayload struct {
	MessageID      string `json:"message_id" validate:"required"`
	ConversationID string `json:"conversation_id" validate:"required"`
}

// ErrorData is the payload of error and auth_error events.
type ErrorData struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// NewMessageData carries a broadcast message.
type NewMessageData struct {
	ConversationID string         `json:"conversation_id"`
	Message        *store.Message `json:"message"`
}

// TypingData identifies who is typing where.
type TypingData struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

// MessageReadData carries a read receipt.
type MessageReadData struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	ReadBy         string `json:"read_by"`
}

// JoinedData confirms room membership.
type JoinedData struct {
	ConversationID string `json:"conversation_id"`
}

// Authenticated builds the post-auth confirmation event.
func Authenticated(identity *auth.Identity) *Event {
	return &Event{Type: TypeAuthenticated, Data: identity}
}

// AuthError builds an authentication failure event.
func AuthError(reason string) *Event {
	return &Event{Type: TypeAuthError, Data: ErrorData{Code: CodeUnauthenticated, Reason: reason}}
}

// Error builds a generic error event with a machine-readable code.
func Error(code, reason string) *Event {
	return &Event{Type: TypeError, Data: ErrorData{Code: code, Reason: reason}}
}

// Joined builds a joined_conversation confirmation.
func Joined(conversationID string) *Event {
	return &Event{Type: TypeJoinedConversation, Data: JoinedData{ConversationID: conversationID}}
}

// NewMessage builds the broadcast event for a persisted message.
func NewMessage(msg *store.Message) *Event {
	return &Event{Type: TypeNewMessage, Data: NewMessageData{
		ConversationID: msg.ConversationID,
		Message:        msg,
	}}
}

// UserTyping builds a typing indicator event.
func UserTyping(userID, conversationID string, typing bool) *Event {
	eventType := TypeUserTyping
	if !typing {
		eventType = TypeUserStoppedTyping
	}
	return &Event{Type: eventType, Data: TypingData{
		UserID:         userID,
		ConversationID: conversationID,
	}}
}

// MessageRead builds a read-receipt broadcast event.
func MessageRead(messageID, conversationID, readBy string) *Event {
	return &Event{Type: TypeMessageRead, Data: MessageReadData{
		MessageID:      messageID,
		ConversationID: conversationID,
		ReadBy:         readBy,
	}}
}

// Notification wraps a persisted notification record for live delivery.
func Notification(rec *store.NotificationRecord) *Event {
	return &Event{Type: TypeNotification, Data: rec}
}
