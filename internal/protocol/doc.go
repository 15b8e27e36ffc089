// Package protocol defines the JSON wire protocol of the relay connection.
//
// Every frame is an Envelope {type, data}. Inbound payload structs carry
// go-playground/validator tags; the session layer validates them before
// acting. Outbound events are built through the constructor functions so
// event shapes stay consistent across producers (session, pipeline,
// dispatcher).
package protocol
