package rate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func TestGuardBucketRefills(t *testing.T) {
	clk := &stepClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	g := NewGuard(Provider("gardena").MaxRequestsPer(Second, 1), clk.Now)

	if d := g.ShouldCall(); !d.Allowed {
		t.Fatalf("first call refused: %+v", d)
	}
	d := g.ShouldCall()
	if d.Allowed || d.Reason != "budget" {
		t.Fatalf("second call = %+v, want budget refusal", d)
	}
	if !d.RetryAt.Equal(clk.now.Add(time.Second)) {
		t.Fatalf("retry at %v", d.RetryAt)
	}
	clk.now = clk.now.Add(time.Second)
	if d := g.ShouldCall(); !d.Allowed {
		t.Fatalf("call after refill refused: %+v", d)
	}
}

func TestGuardHonoursRetryAfterAndReserve(t *testing.T) {
	clk := &stepClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	g := NewGuard(Provider("gardena").ReadHeaders(HusqvarnaHeaders()).KeepDailyReserve(10), clk.Now)

	h := http.Header{}
	h.Set("Retry-After", "30")
	g.RecordResponse(http.StatusTooManyRequests, h)
	if d := g.ShouldCall(); d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown, got %+v", d)
	}
	clk.now = clk.now.Add(31 * time.Second)

	h = http.Header{}
	h.Set("X-RateLimit-Remaining", "11")
	g.RecordResponse(http.StatusAccepted, h)
	if d := g.ShouldCall(); !d.Allowed {
		t.Fatalf("expected call above reserve, got %+v", d)
	}
	if d := g.ShouldCall(); d.Allowed || d.Reason != "budget" {
		t.Fatalf("expected reserve refusal, got %+v", d)
	}
}

func TestTooManyRequestsWithoutHeaderBacksOff(t *testing.T) {
	clk := &stepClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	g := NewGuard(Provider("gardena").BackoffOnTooManyRequests(2*time.Minute), clk.Now)
	g.RecordResponse(http.StatusTooManyRequests, http.Header{})
	d := g.ShouldCall()
	if d.Allowed || !d.RetryAt.Equal(clk.now.Add(2*time.Minute)) {
		t.Fatalf("decision = %+v", d)
	}
}

func TestWrapHTTPBlocksLocally(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := WrapHTTP(NewGuard(Provider("gardena").MaxRequestsPer(Day, 1), nil), server.Client())
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()

	_, err = client.Get(server.URL)
	var limited RateLimitError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("server saw %d calls", calls)
	}
}
