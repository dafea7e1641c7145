package estimator

import (
	"errors"
	"math"
	"testing"

	"github.com/joshp123/gomow/internal/history"
)

func TestChargeSeconds(t *testing.T) {
	if _, err := ChargeSeconds(nil, 50); !errors.Is(err, ErrMissingHistory) {
		t.Fatalf("expected ErrMissingHistory, got %v", err)
	}

	samples := []history.ChargeSample{
		{DurationSeconds: 6000, PercentageGained: 60},
		{DurationSeconds: 7000, PercentageGained: 70},
		{DurationSeconds: 9000, PercentageGained: 60}, // 150 s per percent, outlier
	}
	got, err := ChargeSeconds(samples, 40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := 41.5 * 100; got != want {
		t.Fatalf("ChargeSeconds = %v, want %v", got, want)
	}
}

func TestMowingRemaining(t *testing.T) {
	samples := []history.MowSample{
		{DurationSeconds: 5400, EndSoC: 40},
		{DurationSeconds: 5400, EndSoC: 40},
		{DurationSeconds: 1200, EndSoC: 90, ForciblyStopped: true},
	}

	est, err := MowingRemaining(samples, 70)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 90 s per percent for the unforced runs, 120 s for the forced one which
	// the clean average drops (mean 100, limit 12.001).
	if est.AverageEndSoC != 40 {
		t.Fatalf("forced stops must not shift the end SoC, got %v", est.AverageEndSoC)
	}
	if est.SecondsPerPercent != 90 {
		t.Fatalf("unexpected seconds per percent: %v", est.SecondsPerPercent)
	}
	if math.Abs(est.RemainingSeconds-2700) > 1e-9 {
		t.Fatalf("unexpected remaining: %v", est.RemainingSeconds)
	}

	low, err := MowingRemaining(samples, 20)
	if err != nil || low.RemainingSeconds != 0 {
		t.Fatalf("remaining must clamp at zero, got %v %v", low.RemainingSeconds, err)
	}
}

func TestMowingRemainingOnlyForcedStops(t *testing.T) {
	samples := []history.MowSample{{DurationSeconds: 3600, EndSoC: 60, ForciblyStopped: true}}
	if _, err := MowingRemaining(samples, 80); !errors.Is(err, ErrMissingHistory) {
		t.Fatalf("expected ErrMissingHistory without an unforced end SoC, got %v", err)
	}
}
