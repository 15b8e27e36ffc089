// ABOUTME: Notification dispatcher with record-first persistence and independent channel delivery
// ABOUTME: Creates the durable NotificationRecord, then attempts each channel without blocking the caller

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/stayline/relay/internal/protocol"
	"github.com/stayline/relay/internal/store"
)

// Notification categories raised by this core and its sibling producers
// (booking flow, payment processor, KYC review).
const (
	CategoryMessage          = "MESSAGE"
	CategoryBookingRequested = "BOOKING_REQUESTED"
	CategoryBookingConfirmed = "BOOKING_CONFIRMED"
	CategoryBookingCancelled = "BOOKING_CANCELLED"
	CategoryPaymentSucceeded = "PAYMENT_SUCCEEDED"
	CategoryPaymentFailed    = "PAYMENT_FAILED"
	CategoryKYCApproved      = "KYC_APPROVED"
	CategoryKYCRejected      = "KYC_REJECTED"
)

// defaultChannelTimeout bounds one delivery-channel attempt.
const defaultChannelTimeout = 10 * time.Second

// statusWriteTimeout bounds the channel-status write that follows an
// attempt, independently of the attempt's own deadline.
const statusWriteTimeout = 5 * time.Second

// Request describes one notifiable event for one recipient.
type Request struct {
	RecipientID string
	Category    string
	Title       string
	Body        string
	Payload     map[string]string
}

// Content is the rendered material handed to a channel sender.
type Content struct {
	Title    string
	Body     string
	HTMLBody string
	Payload  map[string]string
}

// Sender delivers rendered content to one recipient contact over one
// channel. Failures are recorded on the notification record, never
// propagated to the event that triggered the dispatch.
type Sender interface {
	Send(ctx context.Context, contact string, content Content) error
}

// NotificationStore defines what the dispatcher needs from storage
type NotificationStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	InsertNotification(ctx context.Context, rec *store.NotificationRecord) error
	UpdateChannelStatus(ctx context.Context, id, channel string, succeeded bool, at time.Time) error
}

// LiveDelivery pushes a notification event to a recipient's live
// connections, if any. Nil disables live delivery.
type LiveDelivery interface {
	DeliverTo(userID string, event *protocol.Event)
}

// Dispatcher creates notification records and fans delivery out across
// channels. The record is the source of truth that the event was raised;
// channel attempts run independently and never roll each other back.
type Dispatcher struct {
	store   NotificationStore
	senders map[string]Sender
	live    LiveDelivery
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. senders maps channel names
// (store.ChannelEmail, store.ChannelSMS, store.ChannelPush) to their
// senders; channels without a sender are never attempted. Pass nil live to
// disable live delivery and nil logger for default.
func NewDispatcher(st NotificationStore, senders map[string]Sender, live LiveDelivery, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   st,
		senders: senders,
		live:    live,
		timeout: defaultChannelTimeout,
		logger:  logger.With("component", "notify"),
	}
}

// Dispatch persists the notification record, then attempts each selected
// channel in its own goroutine and returns without waiting for them. The
// only failure mode is the record insert itself: once the record exists the
// triggering business event is complete regardless of channel outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*store.NotificationRecord, error) {
	user, err := d.store.GetUser(ctx, req.RecipientID)
	if err != nil {
		// The record is still created: the event happened even if the
		// recipient snapshot is unavailable, but no channel can be chosen.
		d.logger.Warn("recipient lookup failed, recording without delivery",
			"recipient_id", req.RecipientID,
			"error", err)
		user = nil
	}

	rec := &store.NotificationRecord{
		ID:          uuid.New().String(),
		RecipientID: req.RecipientID,
		Category:    req.Category,
		Title:       req.Title,
		Body:        req.Body,
		Payload:     req.Payload,
		CreatedAt:   time.Now(),
	}
	if err := d.store.InsertNotification(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting notification record: %w", err)
	}

	d.logger.Debug("notification recorded",
		"notification_id", rec.ID,
		"recipient_id", rec.RecipientID,
		"category", rec.Category,
	)

	if d.live != nil {
		d.live.DeliverTo(req.RecipientID, protocol.Notification(rec))
	}

	for _, channel := range channelsFor(req.Category, user) {
		sender, ok := d.senders[channel]
		if !ok {
			continue
		}
		contact := contactFor(channel, user)
		d.wg.Add(1)
		go d.attempt(rec.ID, channel, sender, contact, Content{
			Title:    req.Title,
			Body:     req.Body,
			HTMLBody: renderHTML(req.Body),
			Payload:  req.Payload,
		})
	}

	return rec, nil
}

// attempt runs one channel delivery and records its outcome. It uses a
// fresh context so an already-cancelled caller (for example a closed
// connection) does not abort the delivery.
func (d *Dispatcher) attempt(recordID, channel string, sender Sender, contact string, content Content) {
	defer d.wg.Done()

	sendCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
	err := sender.Send(sendCtx, contact, content)
	cancel()
	succeeded := err == nil
	if err != nil {
		d.logger.Warn("notification channel delivery failed",
			"notification_id", recordID,
			"channel", channel,
			"error", err)
	}

	// The send context may have expired; the status write gets its own
	// deadline so a timed-out attempt is still recorded.
	statusCtx, statusCancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer statusCancel()

	if updateErr := d.store.UpdateChannelStatus(statusCtx, recordID, channel, succeeded, time.Now()); updateErr != nil {
		d.logger.Error("failed to record channel status",
			"notification_id", recordID,
			"channel", channel,
			"error", updateErr)
	}
}

// Wait blocks until all in-flight channel attempts have resolved. Called
// on shutdown so deliveries are not cut off mid-send, and by tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// channelsFor selects the delivery channels for a category. Event
// categories carry fixed channel sets; MESSAGE follows the recipient's
// stored opt-ins. Channels whose contact detail is missing are dropped.
func channelsFor(category string, user *store.User) []string {
	if user == nil {
		return nil
	}

	var channels []string
	switch category {
	case CategoryMessage:
		if user.EmailOptIn {
			channels = append(channels, store.ChannelEmail)
		}
		if user.SMSOptIn {
			channels = append(channels, store.ChannelSMS)
		}
		if user.PushOptIn {
			channels = append(channels, store.ChannelPush)
		}
	case CategoryKYCApproved, CategoryKYCRejected:
		channels = []string{store.ChannelEmail, store.ChannelSMS}
	case CategoryBookingRequested, CategoryBookingConfirmed, CategoryBookingCancelled:
		channels = []string{store.ChannelEmail, store.ChannelPush}
	case CategoryPaymentSucceeded, CategoryPaymentFailed:
		channels = []string{store.ChannelEmail}
	default:
		channels = []string{store.ChannelEmail}
	}

	return lo.Filter(channels, func(channel string, _ int) bool {
		return contactFor(channel, user) != ""
	})
}

// contactFor returns the recipient contact for a channel, empty if unset.
func contactFor(channel string, user *store.User) string {
	if user == nil {
		return ""
	}
	switch channel {
	case store.ChannelEmail:
		return user.Email
	case store.ChannelSMS:
		return user.Phone
	case store.ChannelPush:
		return user.PushToken
	}
	return ""
}
