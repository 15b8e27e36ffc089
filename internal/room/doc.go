// Package room fans conversation events out to subscribed connections.
//
// # Rooms
//
// A room is the set of connections currently subscribed to one
// conversation's broadcasts. Rooms are keyed by conversation ID and hold
// connection IDs, since one user may be connected from several devices.
//
// # Authorization
//
// Join verifies the user against the conversation's participant list on
// every attempt. The session's auto-join at authentication time is a
// convenience precomputation, not a grant: explicit joins and sends
// re-verify because membership is mutable in the broader platform.
//
// # Delivery
//
// Broadcast copies the member sinks under a read lock and sends outside
// it; sends never block. A connection that has closed or fallen behind
// simply misses the event, which keeps one slow client from stalling a
// conversation.
package room
