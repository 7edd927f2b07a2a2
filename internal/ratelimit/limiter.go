// Package ratelimit bounds per-client request rates on the batch endpoints.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerMinute int
	Burst             int
	// MaxClients caps the tracked-client map; reaching it triggers a sweep of
	// idle entries.
	MaxClients int
}

// DefaultConfig returns default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		Burst:             10,
		MaxClients:        10000,
	}
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks a token bucket per client key (normally the client IP).
type Limiter struct {
	cfg     Config
	mutex   sync.Mutex
	clients map[string]*client
}

// NewLimiter creates a per-client token bucket limiter.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultConfig().Burst
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultConfig().MaxClients
	}
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*client),
	}
}

// Allow checks whether a client may make a request now.
func (l *Limiter) Allow(key string) *Result {
	l.mutex.Lock()
	c, exists := l.clients[key]
	if !exists {
		if len(l.clients) >= l.cfg.MaxClients {
			l.sweepLocked()
		}
		c = &client{
			limiter: rate.NewLimiter(
				rate.Limit(float64(l.cfg.RequestsPerMinute)/60.0),
				l.cfg.Burst,
			),
		}
		l.clients[key] = c
	}
	c.lastSeen = time.Now()
	l.mutex.Unlock()

	allowed := c.limiter.Allow()
	remaining := int(c.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     l.cfg.RequestsPerMinute,
		Remaining: remaining,
	}
	if !allowed {
		// Time until one token refills.
		result.RetryAfter = time.Duration(60.0/float64(l.cfg.RequestsPerMinute)*float64(time.Second)) + time.Second
	}
	return result
}

// sweepLocked drops clients idle for more than ten minutes. Caller holds the
// mutex.
func (l *Limiter) sweepLocked() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// Tracked returns the number of clients currently tracked.
func (l *Limiter) Tracked() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.clients)
}
