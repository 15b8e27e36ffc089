// ABOUTME: Store interface and data types for relay persistence
// ABOUTME: Defines User, Conversation, Message, NotificationRecord and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when trying to create an entity whose ID already exists
var ErrDuplicateID = errors.New("entity already exists")

// User is the marketplace account snapshot the messaging core needs:
// identity flags for authentication and contact details for notification
// delivery. The broader platform owns the full profile.
type User struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	PushToken  string     `json:"-"`
	Active     bool       `json:"active"`
	Suspended  bool       `json:"suspended"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	// Per-channel opt-ins for MESSAGE notifications. Event categories like
	// KYC decisions ignore these and use their own channel sets.
	EmailOptIn bool `json:"email_opt_in"`
	SMSOptIn   bool `json:"sms_opt_in"`
	PushOptIn  bool `json:"push_opt_in"`
}

// Conversation links a set of participants. The participant list is ordered
// for display but membership checks treat it as a set. Membership is
// immutable within this core; the booking flow owns participant changes.
type Conversation struct {
	ID             string     `json:"id"`
	ParticipantIDs []string   `json:"participant_ids"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// MessageType constants for message types
const (
	MessageTypeText       = "text"
	MessageTypeAttachment = "attachment"
	MessageTypeSystem     = "system"
)

// Message is a single conversation message. It is persisted before any
// broadcast and immutable afterwards except for the read flag.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Body           string     `json:"body"`
	Type           string     `json:"type"`
	Attachments    []string   `json:"attachments,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Read           bool       `json:"read"`
	ReadBy         *string    `json:"read_by,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// Notification channel names, used as column discriminators and config keys.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"
)

// ChannelStatus records the outcome of one delivery channel attempt.
// Statuses are set independently per channel and never rolled back.
type ChannelStatus struct {
	Attempted bool       `json:"attempted"`
	Succeeded bool       `json:"succeeded"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// NotificationRecord is the durable proof that a notable event was raised
// for a recipient, independent of whether any delivery channel succeeded.
type NotificationRecord struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Category    string            `json:"category"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Payload     map[string]string `json:"payload,omitempty"`
	Email       ChannelStatus     `json:"email"`
	SMS         ChannelStatus     `json:"sms"`
	Push        ChannelStatus     `json:"push"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store defines the interface for relay persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetParticipants(ctx context.Context, conversationID string) ([]string, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)
	TouchLastMessageAt(ctx context.Context, conversationID string, at time.Time) error

	// Messages
	InsertMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	SetMessageRead(ctx context.Context, messageID, readerID string, at time.Time) error

	// Notifications
	InsertNotification(ctx context.Context, rec *NotificationRecord) error
	GetNotification(ctx context.Context, id string) (*NotificationRecord, error)
	ListNotificationsForUser(ctx context.Context, userID string, limit int) ([]*NotificationRecord, error)
	UpdateChannelStatus(ctx context.Context, id, channel string, succeeded bool, at time.Time) error

	// Close releases any resources held by the store
	Close() error
}
