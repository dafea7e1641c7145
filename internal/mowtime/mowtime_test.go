package mowtime

import (
	"testing"
	"time"

	"github.com/joshp123/gomow/internal/astro"
)

func TestCleanAverage(t *testing.T) {
	tests := []struct {
		name    string
		samples []float64
		want    float64
		ok      bool
	}{
		{name: "empty", samples: nil, ok: false},
		{name: "single", samples: []float64{5}, want: 5, ok: true},
		{name: "outlier dropped", samples: []float64{1, 1, 1, 100}, want: 1, ok: true},
		{name: "tight cluster", samples: []float64{10, 11, 12}, want: 11, ok: true},
		{name: "fallback to plain mean", samples: []float64{0, 10}, want: 5, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CleanAverage(tt.samples)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("CleanAverage(%v) = %v, want %v", tt.samples, got, tt.want)
			}
		})
	}
}

func TestFormatMinutesSeconds(t *testing.T) {
	cases := map[float64]string{
		125:    "2:05",
		59:     "0:59",
		0:      "0:00",
		3600.9: "60:00",
		61.99:  "1:01",
	}
	for in, want := range cases {
		if got := FormatMinutesSeconds(in); got != want {
			t.Fatalf("FormatMinutesSeconds(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestMinutesSinceMidnight(t *testing.T) {
	day := time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)
	sun := astro.Fixed{Rise: 5*time.Hour + 12*time.Minute, Set: 21*time.Hour + 3*time.Minute}

	if got, ok := MinutesSinceMidnight("9:50", day, sun); !ok || got != 590 {
		t.Fatalf("9:50 -> %d %v", got, ok)
	}
	if got, ok := MinutesSinceMidnight("0:00", day, sun); !ok || got != 0 {
		t.Fatalf("midnight must be a valid boundary, got %d %v", got, ok)
	}
	if _, ok := MinutesSinceMidnight("", day, sun); ok {
		t.Fatalf("empty spec must be unset")
	}
	if got, ok := MinutesSinceMidnight(Sunrise, day, sun); !ok || got != 312 {
		t.Fatalf("sunrise -> %d %v", got, ok)
	}
	if got, ok := MinutesSinceMidnight(Sunset, day, sun); !ok || got != 1263 {
		t.Fatalf("sunset -> %d %v", got, ok)
	}
}

type shiftedSun struct{}

func (shiftedSun) Sunrise(day time.Time) time.Time {
	return Midnight(day).Add(-30 * time.Minute)
}

func (shiftedSun) Sunset(day time.Time) time.Time {
	return Midnight(day).Add(24*time.Hour + 20*time.Minute)
}

func TestMinutesSinceMidnightAcrossMidnight(t *testing.T) {
	day := time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)

	if got, _ := MinutesSinceMidnight(Sunset, day, shiftedSun{}); got != 1460 {
		t.Fatalf("sunset after midnight -> %d, want 1460", got)
	}
	if got, _ := MinutesSinceMidnight(Sunrise, day, shiftedSun{}); got != -30 {
		t.Fatalf("sunrise before midnight -> %d, want -30", got)
	}
}

func TestWeekdayID(t *testing.T) {
	if WeekdayID(time.Tuesday) != "tu" || WeekdayID(time.Sunday) != "su" || WeekdayID(time.Saturday) != "sa" {
		t.Fatalf("unexpected weekday mapping")
	}
}
