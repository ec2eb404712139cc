package memorylimiter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limit is the number of attempts allowed per client within Window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultLimit applies when New is given a zero Limit.
var DefaultLimit = Limit{Limit: 100, Window: time.Minute}

// Limiter is an in-memory sliding-window limiter keyed by client.
// It is intended as a single-node fallback when Redis is unavailable.
type Limiter struct {
	mu      sync.Mutex
	limit   Limit
	now     func() time.Time
	clients map[string][]int64 // attempt times in Unix ms, oldest first
	swept   int64              // last sweep of idle clients, Unix ms
}

func New(limit Limit) *Limiter {
	if limit.Limit <= 0 || limit.Window <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{limit: limit, now: time.Now, clients: make(map[string][]int64)}
}

// Allow records an attempt for key and reports whether it is within the limit.
// Denied attempts are not recorded.
func (l *Limiter) Allow(_ context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	if key == "" {
		return false, errors.New("memorylimiter: key required")
	}
	nowMs := l.now().UnixMilli()
	windowStart := nowMs - l.limit.Window.Milliseconds()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Idle clients are dropped at most once per window.
	if nowMs-l.swept >= l.limit.Window.Milliseconds() {
		l.prune(windowStart)
		l.swept = nowMs
	}

	ts := l.clients[key]
	i := 0
	for i < len(ts) && ts[i] <= windowStart {
		i++
	}
	ts = ts[i:]

	if len(ts) >= l.limit.Limit {
		l.clients[key] = ts
		return false, nil
	}
	l.clients[key] = append(ts, nowMs)
	return true, nil
}

// Prune drops clients with no attempts inside the window.
func (l *Limiter) Prune() {
	windowStart := l.now().UnixMilli() - l.limit.Window.Milliseconds()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(windowStart)
}

func (l *Limiter) prune(windowStart int64) {
	for k, ts := range l.clients {
		if len(ts) == 0 || ts[len(ts)-1] <= windowStart {
			delete(l.clients, k)
		}
	}
}
