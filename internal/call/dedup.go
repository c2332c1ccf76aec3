package call

import (
	"sync"
	"time"
)

// dedupGuard remembers recently processed conversation IDs so a redelivered
// incoming-call event (reconnect re-arm, relay retry) is discarded instead
// of reopening an offer. It is a delivery filter only - it never feeds back
// into session state once an ID has been legitimately processed.
type dedupGuard struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newDedupGuard(window time.Duration) *dedupGuard {
	return &dedupGuard{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// remember marks id as processed starting now.
func (g *dedupGuard) remember(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(time.Now())
	g.seen[id] = time.Now()
}

// recentlySeen reports whether id was processed within the window.
func (g *dedupGuard) recentlySeen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now()
	g.prune(now)
	at, ok := g.seen[id]
	return ok && now.Sub(at) < g.window
}

// prune must be called with g.mu held.
func (g *dedupGuard) prune(now time.Time) {
	for id, at := range g.seen {
		if now.Sub(at) >= g.window {
			delete(g.seen, id)
		}
	}
}
