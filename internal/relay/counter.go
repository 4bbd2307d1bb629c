// ABOUTME: Process-wide count of active relay sessions
// ABOUTME: Feeds the health report; decrement below zero clamps and logs

package relay

import (
	"log/slog"
	"sync"
)

// Counter tracks the number of live relay sessions. The count covers the
// whole session window, from just before the backend dial until teardown.
type Counter struct {
	mu     sync.Mutex
	active int
	logger *slog.Logger
}

// NewCounter creates a session counter.
func NewCounter(logger *slog.Logger) *Counter {
	return &Counter{logger: logger.With("component", "relay")}
}

// Increment records a new session.
func (c *Counter) Increment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
}

// Decrement records a finished session. An underflow means a bookkeeping
// bug; the count clamps at zero rather than going negative.
func (c *Counter) Decrement() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == 0 {
		c.logger.Error("session counter underflow")
		return
	}
	c.active--
}

// Count returns the current number of active sessions.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
