// ABOUTME: Sliding-window per-identity admission control shared by platform connectors.
// ABOUTME: Windows are pruned lazily on each check and guarded per identity, not globally.

package ratelimit

import (
	"sync"
	"time"
)

// window holds the admission timestamps for one identity.
// Its mutex serializes prune-check-record for that identity only.
type window struct {
	mu    sync.Mutex
	times []time.Time
}

// Limiter tracks sliding admission windows keyed by identity. Identities are
// namespaced by the caller (e.g. "devnet:user123") so connectors never
// interfere with each other.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window

	now func() time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records an admission for identity and returns true if fewer than max
// admissions remain within the trailing window. When the window is full it
// returns false without recording. Safe for concurrent use, including
// concurrent calls for the same identity.
func (l *Limiter) Allow(identity string, max int, windowDur time.Duration) bool {
	w := l.window(identity)

	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := l.now().Add(-windowDur)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept

	if len(w.times) >= max {
		return false
	}
	w.times = append(w.times, l.now())
	return true
}

// Reset clears all identities. Used on full connector reset, not per message.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}

// window returns the state for identity, creating it on first use.
func (l *Limiter) window(identity string) *window {
	l.mu.RLock()
	w, ok := l.windows[identity]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[identity]; ok {
		return w
	}
	w = &window{}
	l.windows[identity] = w
	return w
}
