// Package store provides persistence for the relay messaging core.
//
// # Overview
//
// The store package defines the Store interface and its SQLite-backed
// implementation. It covers four entity families:
//
//   - Users: account snapshots (identity flags + contact details + opt-ins)
//   - Conversations: participant sets with a last-activity timestamp
//   - Messages: conversation messages with a mutable read flag
//   - Notifications: durable notification records with per-channel status
//
// # Store Interface
//
// All consumers depend on the Store interface, never on SQLiteStore
// directly. Tests use MockStore, an in-memory implementation with the same
// semantics.
//
//	s, err := store.NewSQLiteStore("/var/lib/relay/relay.db")
//
// # Invariants
//
// Messages are inserted before any real-time delivery happens; the read
// flag is the only mutable message field. Notification channel statuses
// are written independently per channel and never reset: a failed email
// attempt does not touch the sms or push columns.
//
// # Errors
//
// Lookups of missing entities return ErrNotFound. Creating an entity with
// an existing ID returns ErrDuplicateID. Both are sentinel errors intended
// for errors.Is checks.
package store
