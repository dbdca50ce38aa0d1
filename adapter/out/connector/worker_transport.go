// Package connector implements HTTP clients for the external business systems.
package connector

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/sony/gobreaker"

	"jenn_worker/pkg/httputil"
	"jenn_worker/pkg/ratelimit"
	"jenn_worker/pkg/resilience"
)

// transport guards every call to one remote host with a rate limiter and a circuit breaker.
type transport struct {
	http    *http.Client
	host    string
	limiter *ratelimit.KeyedLimiter
	breaker *gobreaker.CircuitBreaker
}

func (t *transport) do(ctx context.Context, method, rawURL string, body, out any, prepare func(*http.Request)) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, t.host); err != nil {
			return err
		}
	}
	call := func() (any, error) {
		return nil, httputil.DoJSON(ctx, t.http, method, rawURL, body, out, prepare)
	}
	if t.breaker == nil {
		_, err := call()
		return err
	}
	_, err := t.breaker.Execute(call)
	return err
}

// breakerSuccess keeps client errors (bad filter, missing record) from tripping the breaker.
func breakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var se *httputil.StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return errors.Is(err, context.Canceled)
}

// breakers hands out one breaker per remote host, shared by every account on that host.
type breakers struct {
	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker
}

func (b *breakers) get(system, host string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.m == nil {
		b.m = make(map[string]*gobreaker.CircuitBreaker)
	}
	key := system + ":" + host
	if cb, ok := b.m[key]; ok {
		return cb
	}
	cfg := resilience.DefaultBreakerConfig(key)
	cfg.IsSuccessful = breakerSuccess
	cb := resilience.NewBreaker(cfg)
	b.m[key] = cb
	return cb
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}
