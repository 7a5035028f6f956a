package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows one request per interval for each key (a chat user, a client address).
type Limiter struct {
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	users map[string]time.Time
}

// New returns a limiter; a non-positive interval allows everything.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		interval: interval,
		now:      time.Now,
		users:    make(map[string]time.Time),
	}
}

func (l *Limiter) Allow(key string) bool {
	if l.interval <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lastReq, exists := l.users[key]
	if !exists || now.Sub(lastReq) >= l.interval {
		l.users[key] = now
		return true
	}
	return false
}

// Prune forgets keys whose interval has passed and returns how many remain.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, lastReq := range l.users {
		if now.Sub(lastReq) >= l.interval {
			delete(l.users, key)
		}
	}
	return len(l.users)
}
