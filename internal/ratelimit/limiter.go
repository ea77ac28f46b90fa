// Package ratelimit provides a per-user sliding-window request counter.
//
// The window is in-process and resets on restart; it is deliberately not
// shared across instances (distributed limiting is out of scope).
package ratelimit

import (
	"sync"
	"time"
)

const (
	defaultLimit  = 30
	defaultWindow = time.Minute
)

// Limiter admits or rejects requests per user based on how many were made
// in the trailing window.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[int64][]time.Time
	now    func() time.Time // overridable in tests
}

func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{
		limit:  limit,
		window: window,
		hits:   map[int64][]time.Time{},
		now:    time.Now,
	}
}

// Admit prunes the user's expired request instants, then admits and records
// the request if the remaining count is under the ceiling. A rejected
// request is not recorded. An instant exactly at the window boundary counts
// as expired (strict after comparison).
func (l *Limiter) Admit(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.hits[userID][:0]
	for _, t := range l.hits[userID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.hits[userID] = kept
		return false
	}

	l.hits[userID] = append(kept, now)
	return true
}

// Reset forgets all recorded requests for the user.
func (l *Limiter) Reset(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, userID)
}
