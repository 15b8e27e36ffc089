// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	conversations map[string]*Conversation
	messages      map[string]*Message            // keyed by message ID
	byConv        map[string][]string            // conversationID -> ordered message IDs
	notifications map[string]*NotificationRecord // keyed by notification ID

	// Optional failure injection for pipeline tests
	FailInsertMessage bool
	FailTouch         bool
	FailInsertNotif   bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string]*Message),
		byConv:        make(map[string][]string),
		notifications: make(map[string]*NotificationRecord),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.ID]; exists {
		return ErrDuplicateID
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateID
	}
	c := *conv
	c.ParticipantIDs = append([]string(nil), conv.ParticipantIDs...)
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	result.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	return &result, nil
}

// GetParticipants returns the participant IDs of a conversation.
func (m *MockStore) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), c.ParticipantIDs...), nil
}

// ListConversationsForUser returns conversations containing the user,
// most recently active first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.conversations {
		for _, p := range c.ParticipantIDs {
			if p == userID {
				result := *c
				result.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
				convs = append(convs, &result)
				break
			}
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return activityTime(convs[i]).After(activityTime(convs[j]))
	})
	return convs, nil
}

func activityTime(c *Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// TouchLastMessageAt updates the conversation's last-message timestamp.
func (m *MockStore) TouchLastMessageAt(ctx context.Context, conversationID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailTouch {
		return ErrNotFound
	}
	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	t := at
	c.LastMessageAt = &t
	return nil
}

// InsertMessage stores a new message.
func (m *MockStore) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInsertMessage {
		return context.DeadlineExceeded
	}
	if _, exists := m.messages[msg.ID]; exists {
		return ErrDuplicateID
	}
	copied := *msg
	m.messages[copied.ID] = &copied
	m.byConv[copied.ConversationID] = append(m.byConv[copied.ConversationID], copied.ID)
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// ListMessages returns messages of a conversation in insertion order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byConv[conversationID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	msgs := make([]*Message, 0, len(ids))
	for _, id := range ids {
		result := *m.messages[id]
		msgs = append(msgs, &result)
	}
	return msgs, nil
}

// SetMessageRead marks a message as read.
func (m *MockStore) SetMessageRead(ctx context.Context, messageID, readerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Read = true
	reader := readerID
	t := at
	msg.ReadBy = &reader
	msg.ReadAt = &t
	return nil
}

// InsertNotification stores a new notification record.
func (m *MockStore) InsertNotification(ctx context.Context, rec *NotificationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInsertNotif {
		return context.DeadlineExceeded
	}
	if _, exists := m.notifications[rec.ID]; exists {
		return ErrDuplicateID
	}
	copied := *rec
	m.notifications[copied.ID] = &copied
	return nil
}

// GetNotification retrieves a notification record by ID.
func (m *MockStore) GetNotification(ctx context.Context, id string) (*NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *rec
	return &result, nil
}

// ListNotificationsForUser returns a user's notification records, newest first.
func (m *MockStore) ListNotificationsForUser(ctx context.Context, userID string, limit int) ([]*NotificationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []*NotificationRecord
	for _, rec := range m.notifications {
		if rec.RecipientID == userID {
			result := *rec
			recs = append(recs, &result)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// UpdateChannelStatus records the outcome of one channel attempt.
func (m *MockStore) UpdateChannelStatus(ctx context.Context, id, channel string, succeeded bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	status := ChannelStatus{Attempted: true, Succeeded: succeeded, Timestamp: &t}
	switch channel {
	case ChannelEmail:
		rec.Email = status
	case ChannelSMS:
		rec.SMS = status
	case ChannelPush:
		rec.Push = status
	default:
		return ErrNotFound
	}
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
