package router

import (
	"context"
	"sync"
	"time"
)

// DefaultMessagesPerMinute is the per-user chat_message budget.
const DefaultMessagesPerMinute = 100

// RateLimiter implements per-user fixed-window rate limiting.
// ARCHITECTURAL DISCOVERY: per-user state with periodic cleanup keeps memory
// bounded by the number of recently active senders.
type RateLimiter struct {
	mu      sync.Mutex
	users   map[string]*userWindow
	limit   int
	window  time.Duration
	idleTTL time.Duration
	now     func() time.Time
}

type userWindow struct {
	count int
	start time.Time
}

// NewRateLimiter allows limit messages per window per user. A limit of zero
// or less disables limiting.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		users:   make(map[string]*userWindow),
		limit:   limit,
		window:  window,
		idleTTL: 5 * window,
		now:     time.Now,
	}
}

// Allow records one message for userID and reports whether it fits the budget.
func (rl *RateLimiter) Allow(userID string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.users[userID]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.users[userID] = &userWindow{count: 1, start: now}
		return true
	}
	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

// Cleanup forgets users idle for longer than five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, w := range rl.users {
		if now.Sub(w.start) > rl.idleTTL {
			delete(rl.users, userID)
		}
	}
}

// Run calls Cleanup once per window until ctx is canceled.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.users)
}
