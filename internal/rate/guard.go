// Package rate keeps outgoing vendor API calls inside the provider's limits.
package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces rate limits for a provider.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu           sync.Mutex
	buckets      map[Window]*bucket
	remainingDay int
	cooldown     time.Time
}

// NewGuard builds a guard; now may be nil for wall-clock time.
func NewGuard(decl Declaration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	g := &Guard{
		decl:         decl,
		now:          now,
		buckets:      make(map[Window]*bucket, len(decl.limits)),
		remainingDay: -1,
	}
	start := now()
	for window, limit := range decl.limits {
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit), last: start}
	}
	return g
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(guard *Guard, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: guard}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		blockedCounter.WithLabelValues(rt.guard.decl.provider, decision.Reason).Inc()
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, RateLimitError{
			Provider: rt.guard.decl.provider,
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes one token from every window, or reports why it cannot.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}
	if g.remainingDay >= 0 && g.remainingDay <= g.decl.dailyFloor {
		return Decision{Allowed: false, Reason: "budget"}
	}

	for window, b := range g.buckets {
		if b.capacity <= 0 {
			return Decision{Allowed: false, Reason: "disabled"}
		}
		refill(b, window.duration(), now)
		if b.tokens < 1 {
			retryAt := b.last.Add(window.duration() / time.Duration(b.capacity))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}
	for _, b := range g.buckets {
		b.tokens--
	}
	if g.remainingDay > 0 {
		g.remainingDay--
	}
	return Decision{Allowed: true}
}

// RecordResponse learns limits and cooldowns from a provider response.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	provider := g.decl.provider
	now := g.now()
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	if remaining := headerInt(headers, g.decl.headers.RemainingDay); remaining >= 0 {
		g.remainingDay = remaining
		remainingGauge.WithLabelValues(provider).Set(float64(remaining))
	}

	retryAfter := headerInt(headers, g.decl.headers.RetryAfter)
	switch {
	case retryAfter > 0:
		g.cooldown = now.Add(time.Duration(retryAfter) * time.Second)
	case status == http.StatusTooManyRequests:
		g.cooldown = now.Add(g.decl.backoff429)
	default:
		return
	}
	cooldownGauge.WithLabelValues(provider).Set(float64(g.cooldown.Unix()))
}

func headerInt(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	val := strings.TrimSpace(h.Get(key))
	if val == "" {
		return -1
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return out
}

func refill(b *bucket, window time.Duration, now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		rate := float64(b.capacity) / window.Seconds()
		b.tokens = min(float64(b.capacity), b.tokens+elapsed*rate)
		b.last = now
	}
}
