// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides user/conversation/message/notification persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			push_token TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			suspended INTEGER NOT NULL DEFAULT 0,
			verified_at DATETIME,
			email_opt_in INTEGER NOT NULL DEFAULT 1,
			sms_opt_in INTEGER NOT NULL DEFAULT 0,
			push_opt_in INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			last_message_at DATETIME,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_user
			ON conversation_participants(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			body TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT 'text',
			attachments TEXT,
			created_at DATETIME NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			read_by TEXT,
			read_at DATETIME,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			category TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			payload TEXT,
			email_attempted INTEGER NOT NULL DEFAULT 0,
			email_succeeded INTEGER NOT NULL DEFAULT 0,
			email_at DATETIME,
			sms_attempted INTEGER NOT NULL DEFAULT 0,
			sms_succeeded INTEGER NOT NULL DEFAULT 0,
			sms_at DATETIME,
			push_attempted INTEGER NOT NULL DEFAULT 0,
			push_succeeded INTEGER NOT NULL DEFAULT 0,
			push_at DATETIME,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_recipient_created
			ON notifications(recipient_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user row
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (
			id, name, email, phone, push_token, active, suspended, verified_at,
			email_opt_in, sms_opt_in, push_opt_in, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Phone,
		user.PushToken,
		boolToInt(user.Active),
		boolToInt(user.Suspended),
		nullableTime(user.VerifiedAt),
		boolToInt(user.EmailOptIn),
		boolToInt(user.SMSOptIn),
		boolToInt(user.PushOptIn),
		user.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, name, email, phone, push_token, active, suspended, verified_at,
		       email_opt_in, sms_opt_in, push_opt_in, created_at
		FROM users WHERE id = ?
	`

	user := &User{}
	var active, suspended, emailOpt, smsOpt, pushOpt int
	var verifiedAt sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.PushToken,
		&active,
		&suspended,
		&verifiedAt,
		&emailOpt,
		&smsOpt,
		&pushOpt,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.Active = active != 0
	user.Suspended = suspended != 0
	user.EmailOptIn = emailOpt != 0
	user.SMSOptIn = smsOpt != 0
	user.PushOptIn = pushOpt != 0
	if user.VerifiedAt, err = parseNullableTime(verifiedAt); err != nil {
		return nil, fmt.Errorf("parsing verified_at: %w", err)
	}
	if user.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return user, nil
}

// CreateConversation inserts a conversation and its participant rows in one transaction
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (id, last_message_at, created_at) VALUES (?, ?, ?)`,
		conv.ID,
		nullableTime(conv.LastMessageAt),
		conv.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for i, userID := range conv.ParticipantIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, position) VALUES (?, ?, ?)`,
			conv.ID, userID, i,
		)
		if err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation with its ordered participant list
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{ID: id}
	var lastMessageAt sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT last_message_at, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&lastMessageAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	if conv.LastMessageAt, err = parseNullableTime(lastMessageAt); err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if conv.ParticipantIDs, err = s.GetParticipants(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetParticipants returns participant user IDs in insertion order.
// Returns ErrNotFound if the conversation does not exist.
func (s *SQLiteStore) GetParticipants(ctx context.Context, conversationID string) ([]string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM conversations WHERE id = ?`, conversationID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_participants WHERE conversation_id = ? ORDER BY position ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participant rows: %w", err)
	}
	return ids, nil
}

// ListConversationsForUser returns conversations the user participates in,
// most recently active first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.last_message_at, c.created_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		var lastMessageAt sql.NullString
		var createdAt string
		if err := rows.Scan(&conv.ID, &lastMessageAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		if conv.LastMessageAt, err = parseNullableTime(lastMessageAt); err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	for _, conv := range convs {
		if conv.ParticipantIDs, err = s.GetParticipants(ctx, conv.ID); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// TouchLastMessageAt updates the conversation's last-message timestamp
func (s *SQLiteStore) TouchLastMessageAt(ctx context.Context, conversationID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		at.Format(time.RFC3339), conversationID,
	)
	if err != nil {
		return fmt.Errorf("updating last_message_at: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage persists a message row
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *Message) error {
	var attachments any
	if len(msg.Attachments) > 0 {
		data, err := json.Marshal(msg.Attachments)
		if err != nil {
			return fmt.Errorf("encoding attachments: %w", err)
		}
		attachments = string(data)
	}

	query := `
		INSERT INTO messages (
			id, conversation_id, sender_id, body, type, attachments,
			created_at, read, read_by, read_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Body,
		msg.Type,
		attachments,
		msg.CreatedAt.Format(time.RFC3339),
		boolToInt(msg.Read),
		msg.ReadBy,
		nullableTime(msg.ReadAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"type", msg.Type,
	)
	return nil
}

// GetMessage retrieves a single message by ID
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, body, type, attachments,
		       created_at, read, read_by, read_at
		FROM messages WHERE id = ?
	`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return msg, err
}

// ListMessages returns the most recent messages of a conversation in
// chronological order. Uses a DESC subquery to pick the N most recent rows,
// then re-orders ASC so callers receive messages in conversation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, type, attachments,
		       created_at, read, read_by, read_at
		FROM (
			SELECT id, conversation_id, sender_id, body, type, attachments,
			       created_at, read, read_by, read_at
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return msgs, nil
}

// SetMessageRead marks a message as read by the given reader
func (s *SQLiteStore) SetMessageRead(ctx context.Context, messageID, readerID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = 1, read_by = ?, read_at = ? WHERE id = ?`,
		readerID, at.Format(time.RFC3339), messageID,
	)
	if err != nil {
		return fmt.Errorf("updating read flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertNotification persists a notification record
func (s *SQLiteStore) InsertNotification(ctx context.Context, rec *NotificationRecord) error {
	var payload any
	if len(rec.Payload) > 0 {
		data, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}
		payload = string(data)
	}

	query := `
		INSERT INTO notifications (
			id, recipient_id, category, title, body, payload,
			email_attempted, email_succeeded, email_at,
			sms_attempted, sms_succeeded, sms_at,
			push_attempted, push_succeeded, push_at,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.RecipientID,
		rec.Category,
		rec.Title,
		rec.Body,
		payload,
		boolToInt(rec.Email.Attempted), boolToInt(rec.Email.Succeeded), nullableTime(rec.Email.Timestamp),
		boolToInt(rec.SMS.Attempted), boolToInt(rec.SMS.Succeeded), nullableTime(rec.SMS.Timestamp),
		boolToInt(rec.Push.Attempted), boolToInt(rec.Push.Succeeded), nullableTime(rec.Push.Timestamp),
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("inserting notification: %w", err)
	}

	s.logger.Debug("saved notification",
		"notification_id", rec.ID,
		"recipient_id", rec.RecipientID,
		"category", rec.Category,
	)
	return nil
}

// GetNotification retrieves a notification record by ID
func (s *SQLiteStore) GetNotification(ctx context.Context, id string) (*NotificationRecord, error) {
	query := notificationSelect + ` WHERE id = ?`
	rec, err := scanNotification(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListNotificationsForUser returns a user's notification records, newest first
func (s *SQLiteStore) ListNotificationsForUser(ctx context.Context, userID string, limit int) ([]*NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := notificationSelect + ` WHERE recipient_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var recs []*NotificationRecord
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return recs, nil
}

// UpdateChannelStatus records the outcome of one channel attempt.
// The channel must be one of ChannelEmail, ChannelSMS, ChannelPush.
func (s *SQLiteStore) UpdateChannelStatus(ctx context.Context, id, channel string, succeeded bool, at time.Time) error {
	switch channel {
	case ChannelEmail, ChannelSMS, ChannelPush:
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}

	query := fmt.Sprintf(
		`UPDATE notifications SET %s_attempted = 1, %s_succeeded = ?, %s_at = ? WHERE id = ?`,
		channel, channel, channel,
	)
	res, err := s.db.ExecContext(ctx, query, boolToInt(succeeded), at.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("updating channel status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const notificationSelect = `
	SELECT id, recipient_id, category, title, body, payload,
	       email_attempted, email_succeeded, email_at,
	       sms_attempted, sms_succeeded, sms_at,
	       push_attempted, push_succeeded, push_at,
	       created_at
	FROM notifications
`

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	msg := &Message{}
	var attachments sql.NullString
	var createdAt string
	var read int
	var readAt sql.NullString

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Body,
		&msg.Type,
		&attachments,
		&createdAt,
		&read,
		&msg.ReadBy,
		&readAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message row: %w", err)
	}

	msg.Read = read != 0
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments: %w", err)
		}
	}
	if msg.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if msg.ReadAt, err = parseNullableTime(readAt); err != nil {
		return nil, fmt.Errorf("parsing read_at: %w", err)
	}
	return msg, nil
}

func scanNotification(row rowScanner) (*NotificationRecord, error) {
	rec := &NotificationRecord{}
	var payload sql.NullString
	var createdAt string
	var emailAttempted, emailSucceeded, smsAttempted, smsSucceeded, pushAttempted, pushSucceeded int
	var emailAt, smsAt, pushAt sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.RecipientID,
		&rec.Category,
		&rec.Title,
		&rec.Body,
		&payload,
		&emailAttempted, &emailSucceeded, &emailAt,
		&smsAttempted, &smsSucceeded, &smsAt,
		&pushAttempted, &pushSucceeded, &pushAt,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning notification row: %w", err)
	}

	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &rec.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
	}
	rec.Email = ChannelStatus{Attempted: emailAttempted != 0, Succeeded: emailSucceeded != 0}
	rec.SMS = ChannelStatus{Attempted: smsAttempted != 0, Succeeded: smsSucceeded != 0}
	rec.Push = ChannelStatus{Attempted: pushAttempted != 0, Succeeded: pushSucceeded != 0}
	if rec.Email.Timestamp, err = parseNullableTime(emailAt); err != nil {
		return nil, fmt.Errorf("parsing email_at: %w", err)
	}
	if rec.SMS.Timestamp, err = parseNullableTime(smsAt); err != nil {
		return nil, fmt.Errorf("parsing sms_at: %w", err)
	}
	if rec.Push.Timestamp, err = parseNullableTime(pushAt); err != nil {
		return nil, fmt.Errorf("parsing push_at: %w", err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint error.
// modernc.org/sqlite does not export a typed error for this, so match the text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
