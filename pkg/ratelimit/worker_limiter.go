// Package ratelimit provides per-key token bucket limiters for outbound API calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerSecond float64 // 초당 요청 수
	BurstSize         int     // 버스트 허용량

	// IdleTTL drops limiters unused for this long. 0 keeps them forever.
	IdleTTL time.Duration
}

// DefaultConfig is conservative enough for self-hosted PrestaShop and Odoo instances.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		BurstSize:         10,
		IdleTTL:           30 * time.Minute,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// KeyedLimiter hands out one token bucket per key (typically a remote host).
type KeyedLimiter struct {
	cfg Config

	mu       sync.Mutex
	limiters map[string]*entry
	now      func() time.Time
}

func NewKeyedLimiter(cfg Config) *KeyedLimiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	return &KeyedLimiter{cfg: cfg, limiters: make(map[string]*entry), now: time.Now}
}

func (l *KeyedLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.limiters[key]; ok {
		e.lastUsed = now
		return e.limiter
	}
	if l.cfg.IdleTTL > 0 {
		for k, e := range l.limiters {
			if now.Sub(e.lastUsed) > l.cfg.IdleTTL {
				delete(l.limiters, k)
			}
		}
	}
	e := &entry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize), lastUsed: now}
	l.limiters[key] = e
	return e.limiter
}

// Wait blocks until key may make one request or ctx is done.
func (l *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Allow reports whether key may make one request now without waiting.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
