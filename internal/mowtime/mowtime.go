// Package mowtime holds the small time and statistics helpers shared by the
// scheduler, the lock arbiter and the duration estimator.
package mowtime

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/gomow/internal/astro"
)

const (
	MinutesPerDay = 24 * 60

	Sunrise = "sunrise"
	Sunset  = "sunset"
)

var weekdayIDs = [...]string{"su", "mo", "tu", "we", "th", "fr", "sa"}

// WeekdayIDs lists the schedule keys starting on Monday.
var WeekdayIDs = []string{"mo", "tu", "we", "th", "fr", "sa", "su"}

// WeekdayID maps a weekday to its two-letter schedule key.
func WeekdayID(day time.Weekday) string {
	if day < time.Sunday || day > time.Saturday {
		return "su"
	}
	return weekdayIDs[day]
}

// DayKey identifies a calendar day in the clock's location.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Midnight returns the start of t's calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// MinuteOfDay returns the whole minutes elapsed since t's midnight.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// AtMinute converts minutes relative to day's midnight into a timestamp. Values
// beyond a single day roll into the following days.
func AtMinute(day time.Time, minutes float64) time.Time {
	return Midnight(day).Add(time.Duration(minutes * float64(time.Minute)))
}

// ParseClock parses "H:MM" or "HH:MM" (a bare hour is accepted too) into minutes.
func ParseClock(value string) (int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) == 0 || len(parts) > 2 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minutes := hours * 60
	if len(parts) == 2 {
		m, err := strconv.Atoi(parts[1])
		if err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("invalid minute in %q", value)
		}
		minutes += m
	}
	if hours < 0 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	return minutes, nil
}

// ValidSpec reports whether value is a clock time or an astro keyword.
func ValidSpec(value string) bool {
	if value == Sunrise || value == Sunset {
		return true
	}
	_, err := ParseClock(value)
	return err == nil
}

// MinutesSinceMidnight resolves spec against day. The second return value is
// false for an empty (unset) or unparsable spec, so midnight ("0:00") stays a
// valid boundary. Astro events landing on another calendar day are offset by
// 1440 minutes per day so ordering across midnight is preserved.
func MinutesSinceMidnight(spec string, day time.Time, sun astro.Clock) (int, bool) {
	spec = strings.TrimSpace(spec)
	switch spec {
	case "":
		return 0, false
	case Sunrise, Sunset:
		if sun == nil {
			return 0, false
		}
		var event time.Time
		if spec == Sunrise {
			event = sun.Sunrise(day)
		} else {
			event = sun.Sunset(day)
		}
		event = event.In(day.Location())
		offset := daysBetween(Midnight(day), Midnight(event)) * MinutesPerDay
		return MinuteOfDay(event) + offset, true
	default:
		minutes, err := ParseClock(spec)
		if err != nil {
			return 0, false
		}
		return minutes, true
	}
}

func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 12, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 12, 0, 0, 0, time.UTC)
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// CleanAverage is an outlier-trimmed mean: samples further than 40% of the
// spread from the plain mean are dropped. If nothing survives the plain mean is
// returned. ok is false for empty input.
func CleanAverage(samples []float64) (avg float64, ok bool) {
	if len(samples) == 0 {
		return 0, false
	}
	mean := average(samples)
	lo, hi := samples[0], samples[0]
	for _, v := range samples[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	limit := (hi-lo)*0.4 + 0.001
	kept := make([]float64, 0, len(samples))
	for _, v := range samples {
		if math.Abs(v-mean) < limit {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return mean, true
	}
	return average(kept), true
}

func average(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// FormatMinutesSeconds renders seconds as M:SS, flooring both parts.
func FormatMinutesSeconds(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	minutes := math.Floor(seconds / 60)
	rest := math.Floor(seconds - minutes*60)
	return fmt.Sprintf("%d:%02d", int64(minutes), int64(rest))
}
