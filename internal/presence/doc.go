// Package presence tracks which users hold live authenticated connections.
//
// The Registry is a pure in-memory map of user ID to connection-ID set,
// guarded by a single RWMutex. Only connection sessions mutate it; every
// other component (message pipeline, notification dispatcher) queries it
// read-only through IsOnline and ConnectionsFor.
//
// Presence is process-local. Scaling across instances means replacing the
// Registry with a shared external implementation behind the same methods.
package presence
