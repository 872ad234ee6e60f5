package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter allows maxHits per window for each key, refilling smoothly. Keys
// idle for longer than a window are dropped on the next sweep.
type Limiter struct {
	mu        sync.Mutex
	limits    map[string]*entry
	window    time.Duration
	maxHits   int
	lastSweep time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLimiter(window time.Duration, maxHits int) *Limiter {
	return &Limiter{
		limits:  make(map[string]*entry),
		window:  window,
		maxHits: maxHits,
	}
}

func (l *Limiter) Allow(key string) bool {
	return l.allowAt(key, time.Now())
}

// Forget drops the state kept for key
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limits, key)
}

func (l *Limiter) allowAt(key string, now time.Time) bool {
	if l.maxHits <= 0 || l.window <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.window {
		for k, e := range l.limits {
			if now.Sub(e.lastSeen) > l.window {
				delete(l.limits, k)
			}
		}
		l.lastSweep = now
	}

	e, exists := l.limits[key]
	if !exists {
		every := rate.Every(l.window / time.Duration(l.maxHits))
		e = &entry{limiter: rate.NewLimiter(every, l.maxHits)}
		l.limits[key] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limits)
}
