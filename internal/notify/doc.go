// Package notify creates notification records and delivers them across
// channels.
//
// # Record first, then deliver
//
// Dispatch always persists the NotificationRecord before touching any
// channel. The record is the durable proof that the event was raised; a
// total delivery failure still leaves the record behind and does not fail
// the business event that triggered it.
//
// # Channel independence
//
// Each selected channel is attempted in its own goroutine with its own
// timeout context. Outcomes are written to the record per channel and
// never rolled back: email failing has no effect on the sms attempt or
// its recorded status. There is no retry; delivery is at-most-once per
// channel, and the record shows exactly what was attempted.
//
// # Channel selection
//
// Selection is category-driven, not per call site. Event categories (KYC
// decisions, booking changes, payment results) carry fixed channel sets;
// MESSAGE notifications follow the recipient's stored per-channel
// opt-ins. Channels with no usable contact detail are skipped.
//
// # Senders
//
// EmailSender speaks SMTP via go-mail, with the markdown body rendered to
// an HTML alternative. WebhookSender covers the SMS and push providers,
// which share a JSON POST contract.
package notify
