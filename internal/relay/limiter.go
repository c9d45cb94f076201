// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter throttles requests per user with independent token buckets.
// Buckets are created lazily and never evicted; user ids are bounded in
// practice by the active user population.
type Limiter struct {
	mu    sync.Mutex
	users map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

// NewLimiter creates a per-user limiter allowing rps sustained requests
// per second with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		users: make(map[string]*rate.Limiter),
		rps:   rate.Limit(rps),
		burst: burst,
	}
}

// Allow reports whether the user may issue a request now.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.users[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
