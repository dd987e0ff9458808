package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalLimiter is the in-process sliding-window backend: a timestamp log
// per key, pruned on every check and by a background sweep for idle keys.
type LocalLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	stop    chan struct{}

	nowFunc func() time.Time // test hook
}

var _ Limiter = (*LocalLimiter)(nil)

// NewLocalLimiter creates a local limiter and starts its cleanup sweep.
func NewLocalLimiter() *LocalLimiter {
	l := &LocalLimiter{
		windows: make(map[string][]time.Time),
		stop:    make(chan struct{}),
		nowFunc: time.Now,
	}
	go l.sweep()
	return l
}

// Allow records the request and reports whether it fits in the window.
func (l *LocalLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := l.nowFunc()
	cutoff := now.Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	log := l.windows[key]

	// Drop entries that aged out of the window. The log is append-only so
	// it is already in timestamp order.
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	log = append(log[i:], now)
	l.windows[key] = log

	current := len(log)
	allowed := current <= limit
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}

	record("local", allowed)
	return Decision{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   log[0].Add(window),
		Current:   current,
	}, nil
}

// Stop halts the cleanup sweep.
func (l *LocalLimiter) Stop() {
	close(l.stop)
}

func (l *LocalLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			cutoff := l.nowFunc().Add(-time.Hour)
			l.mu.Lock()
			for key, log := range l.windows {
				if len(log) == 0 || log[len(log)-1].Before(cutoff) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
