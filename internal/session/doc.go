// ABOUTME: Package documentation for the connection session layer
// ABOUTME: Describes the state machine and the single-close guarantee

// Package session holds the server-side state for one client connection.
//
// A session starts unauthenticated and accepts exactly one kind of inbound
// event, authenticate. A verified credential moves it to the authenticated
// state, registers the user's presence, and auto-joins the rooms of every
// conversation the user belongs to. From there inbound envelopes are routed
// to the chat pipeline and the room router.
//
// Close is terminal and idempotent: presence is unregistered and room
// memberships are released exactly once no matter how many paths (read loop
// failure, write loop failure, server shutdown) race to close the session.
//
// The session implements room.Sink. TrySend never blocks; a session whose
// buffer is full or that is already closed simply misses the event, which
// keeps one slow client from stalling a whole conversation.
package session
