// ABOUTME: Package documentation for the chat message pipeline
// ABOUTME: Explains the persist-before-broadcast ordering and the notify-absent rule

// Package chat implements the message pipeline that sits between the
// connection layer and the store.
//
// Every outgoing message follows the same fixed order:
//
//  1. Authorize the sender against the conversation's participant list.
//  2. Persist the message. A failure here aborts the pipeline; nothing is
//     broadcast for a message that is not durable.
//  3. Update the conversation's last-message timestamp (best effort).
//  4. Broadcast to every connection subscribed to the conversation's room.
//  5. Dispatch an offline notification to every participant who is neither
//     the sender nor currently online.
//
// Typing indicators and read receipts share the same entry point but carry
// lighter rules: typing is throttled and checked only against live room
// membership, read receipts are persisted and broadcast but never become
// offline notifications.
package chat
