package ratelimit

import (
	"sync"
	"time"
)

// Token bucket refilled at rate tokens per second, holding at most burst
type Limiter struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
	mu         sync.Mutex
}

func NewLimiter(rate float64, burst int) *Limiter {
	return newLimiterAt(rate, burst, time.Now)
}

func newLimiterAt(rate float64, burst int, now func() time.Time) *Limiter {
	return &Limiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: now(),
		now:        now,
	}
}

// Takes one token if available
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastUpdate).Seconds()
	l.lastUpdate = now

	l.tokens += elapsed * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}

	if l.tokens >= 1 {
		l.tokens--
		return true
	}

	return false
}

// Time since the bucket was last drawn from
func (l *Limiter) idleFor(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Sub(l.lastUpdate)
}

// Limiters keyed by remote host, used to throttle connection attempts.
// Hosts that stay quiet for idleAfter are forgotten by a background sweep.
type ClientLimiters struct {
	limiters  map[string]*Limiter
	rate      float64
	burst     int
	idleAfter time.Duration
	now       func() time.Time
	mu        sync.RWMutex
	stop      chan struct{}
	stopOnce  sync.Once
}

func NewClientLimiters(rate float64, burst int) *ClientLimiters {
	cl := newClientLimiters(rate, burst, 10*time.Minute, time.Now)
	go cl.sweep(time.Minute)
	return cl
}

func newClientLimiters(rate float64, burst int, idleAfter time.Duration, now func() time.Time) *ClientLimiters {
	return &ClientLimiters{
		limiters:  make(map[string]*Limiter),
		rate:      rate,
		burst:     burst,
		idleAfter: idleAfter,
		now:       now,
		stop:      make(chan struct{}),
	}
}

// Reports whether key may proceed now
func (cl *ClientLimiters) Allow(key string) bool {
	return cl.Get(key).Allow()
}

func (cl *ClientLimiters) Get(key string) *Limiter {
	cl.mu.RLock()
	limiter, ok := cl.limiters[key]
	cl.mu.RUnlock()
	if ok {
		return limiter
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if limiter, ok := cl.limiters[key]; ok {
		return limiter
	}
	limiter = newLimiterAt(cl.rate, cl.burst, cl.now)
	cl.limiters[key] = limiter
	return limiter
}

func (cl *ClientLimiters) Remove(key string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.limiters, key)
}

func (cl *ClientLimiters) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.limiters)
}

func (cl *ClientLimiters) Stop() {
	cl.stopOnce.Do(func() { close(cl.stop) })
}

// Forgets hosts idle for at least idleAfter and returns how many
func (cl *ClientLimiters) prune() int {
	now := cl.now()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	pruned := 0
	for key, l := range cl.limiters {
		if l.idleFor(now) >= cl.idleAfter {
			delete(cl.limiters, key)
			pruned++
		}
	}
	return pruned
}

func (cl *ClientLimiters) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cl.prune()
		}
	}
}
