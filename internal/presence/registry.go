// ABOUTME: In-memory registry of authenticated users and their live connections
// ABOUTME: Single lock-guarded map, mutated only by connection sessions

package presence

import (
	"log/slog"
	"sync"
)

// Registry tracks which users currently hold at least one authenticated
// connection. A user may hold several connections (multiple devices); the
// entry for a user exists exactly as long as one connection remains.
//
// The registry is an explicit dependency passed to every handler, never a
// package-level singleton, so tests can run independent instances and a
// multi-instance deployment can swap in a shared implementation behind the
// same methods.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[string]struct{} // userID -> set of connection IDs
	logger *slog.Logger
}

// NewRegistry creates an empty presence registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]map[string]struct{}),
		logger: logger.With("component", "presence"),
	}
}

// Register records a live authenticated connection for the user.
func (r *Registry) Register(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[userID]; !ok {
		r.conns[userID] = make(map[string]struct{})
	}
	r.conns[userID][connID] = struct{}{}

	r.logger.Debug("connection registered",
		"user_id", userID,
		"conn_id", connID,
		"user_connections", len(r.conns[userID]),
	)
}

// Unregister removes a connection for the user. Removing the last connection
// removes the user's entry entirely. Unregistering a connection that is not
// present is a no-op.
func (r *Registry) Unregister(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return
	}
	if _, ok := set[connID]; !ok {
		return
	}

	delete(set, connID)
	if len(set) == 0 {
		delete(r.conns, userID)
	}

	r.logger.Debug("connection unregistered",
		"user_id", userID,
		"conn_id", connID,
		"user_connections", len(set),
	)
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns[userID]) > 0
}

// ConnectionsFor returns the connection IDs the user currently holds.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.conns[userID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// OnlineUsers returns the number of distinct users currently online.
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
