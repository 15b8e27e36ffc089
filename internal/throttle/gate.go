// ABOUTME: Thread-safe TTL gate for rate-limiting repeated signals per key
// ABOUTME: Used to suppress repeat typing indicators from the same connection

package throttle

import (
	"sync"
	"time"
)

// Gate allows one event per key per interval. It is used to keep a client
// that emits typing_start on every keystroke from flooding a room; the
// first signal passes, repeats inside the interval are suppressed.
type Gate struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	interval time.Duration
	maxKeys  int
	done     chan struct{}
	closed   bool
}

// New creates a gate with the given interval and maximum tracked key count.
// A background goroutine periodically drops stale keys.
func New(interval time.Duration, maxKeys int) *Gate {
	g := &Gate{
		lastSeen: make(map[string]time.Time),
		interval: interval,
		maxKeys:  maxKeys,
		done:     make(chan struct{}),
	}
	go g.cleanup()
	return g
}

// Allow reports whether an event for the key may pass now, and marks the
// key if so. The check and the mark are one atomic step.
func (g *Gate) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if last, ok := g.lastSeen[key]; ok && now.Sub(last) < g.interval {
		return false
	}

	if len(g.lastSeen) >= g.maxKeys {
		g.evictStaleLocked(now)
	}
	g.lastSeen[key] = now
	return true
}

// Forget drops a key immediately, re-arming it. Called when a connection
// closes so its keys don't linger until cleanup.
func (g *Gate) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.lastSeen, key)
}

// evictStaleLocked removes all expired keys. Must be called with mu held.
// If nothing is expired the map stays over maxKeys until entries age out;
// the cap is a safety valve, not a hard limit.
func (g *Gate) evictStaleLocked(now time.Time) {
	for key, last := range g.lastSeen {
		if now.Sub(last) >= g.interval {
			delete(g.lastSeen, key)
		}
	}
}

// cleanup runs in a background goroutine, periodically removing stale keys.
func (g *Gate) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.mu.Lock()
			g.evictStaleLocked(time.Now())
			g.mu.Unlock()
		case <-g.done:
			return
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
