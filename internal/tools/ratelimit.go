package tools

import (
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// hostLimiters is a thread-safe per-host token-bucket rate limiter,
// defaulting to 5 req/s with a burst of 10.
type hostLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newHostLimiters(rps float64, burst int) *hostLimiters {
	return &hostLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (h *hostLimiters) forHost(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[host]
	if !ok {
		l = rate.NewLimiter(h.rps, h.burst)
		h.limiters[host] = l
	}
	return l
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// hostBreakers guards each host behind its own circuit breaker so a single
// flaky host cannot exhaust the shared HTTP client's connection pool or
// keep retrying into a dead server.
type hostBreakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newHostBreakers() *hostBreakers {
	return &hostBreakers{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (h *hostBreakers) forHost(host string) *gobreaker.CircuitBreaker {
	h.mu.Lock()
	defer h.mu.Unlock()
	cb, ok := h.breakers[host]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        host,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
		h.breakers[host] = cb
	}
	return cb
}

func (h *hostBreakers) run(host string, fn func() (string, error)) (string, error) {
	cb := h.forHost(host)
	out, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if s, ok := out.(string); ok {
			return s, err
		}
		return "", err
	}
	return out.(string), nil
}
