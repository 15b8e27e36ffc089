// ABOUTME: Package documentation for the WebSocket transport layer
// ABOUTME: Describes the connection lifecycle and the read/write loop split

// Package gateway is the transport edge of the server. It accepts WebSocket
// connections, frames the JSON envelope protocol, and binds each connection
// to a session.
//
// Each connection runs two loops. The read loop decodes inbound envelopes
// and hands them to the session. The write loop drains the session's event
// queue onto the wire. Either loop failing closes the session, and the
// session's close path tears down presence and room membership exactly once.
//
// The server also implements notify.LiveDelivery: a notification dispatched
// while the recipient is connected is pushed over every connection that user
// holds, in addition to being recorded.
package gateway
