package scheduler

import (
	"testing"
	"time"

	"github.com/joshp123/gomow/internal/astro"
)

var sun = astro.Fixed{Rise: 6 * time.Hour, Set: 21 * time.Hour}

// 2024-05-01 is a Wednesday.
func at(hour, minute int) time.Time {
	return time.Date(2024, 5, 1, hour, minute, 0, 0, time.UTC)
}

func everyDay(d DaySchedule) Week {
	w := Week{}
	for _, id := range []string{"mo", "tu", "we", "th", "fr", "sa", "su"} {
		w[id] = d
	}
	return w
}

func TestDisabledDayAlwaysParks(t *testing.T) {
	week := everyDay(DaySchedule{Mowing: true, Budget: 120, EarliestStart: "sunrise", LatestStop: "sunset"})
	week["we"] = DaySchedule{Mowing: false, Budget: 120, EarliestStart: "sunrise", LatestStop: "sunset"}
	for _, hour := range []int{0, 7, 12, 20, 23} {
		res := Evaluate(Input{Now: at(hour, 0), Week: week, Sun: sun})
		if res.Desired != Park || res.Reason != ReasonSchedule {
			t.Fatalf("%02d:00: got %s/%s", hour, res.Desired, res.Reason)
		}
	}
}

func TestBudgetReachedCompletes(t *testing.T) {
	week := everyDay(DaySchedule{Mowing: true, Budget: 120, EarliestStart: "8:00", LatestStop: "20:00"})
	res := Evaluate(Input{Now: at(12, 0), Week: week, Sun: sun, MowedMinutes: 120, Locked: true})
	if res.Desired != Park || res.Reason != ReasonComplete {
		t.Fatalf("got %s/%s", res.Desired, res.Reason)
	}
}

func TestPauseWindow(t *testing.T) {
	week := everyDay(DaySchedule{
		Mowing: true, Budget: 240, EarliestStart: "8:00", LatestStop: "20:00",
		Pause: &Pause{From: "9:50", To: "10:20"},
	})
	res := Evaluate(Input{Now: at(10, 0), Week: week, Sun: sun, MowedMinutes: 30})
	if res.Desired != Park || res.Reason != ReasonPause {
		t.Fatalf("got %s/%s", res.Desired, res.Reason)
	}
	if want := at(10, 20); !res.PlanStart.Equal(want) {
		t.Fatalf("plan start = %s, want %s", res.PlanStart, want)
	}
}

func TestDesiredStatePriorities(t *testing.T) {
	week := everyDay(DaySchedule{Mowing: true, Budget: 120, EarliestStart: "sunrise", LatestStop: "sunset"})
	cases := []struct {
		name   string
		now    time.Time
		locked bool
		state  State
		reason Reason
	}{
		{"before sunrise", at(5, 0), false, Park, ReasonSchedule},
		{"after sunset", at(21, 30), false, Park, ReasonSchedule},
		{"locked", at(12, 0), true, Park, ReasonLocked},
		{"mowing", at(12, 0), false, Mowing, ReasonSchedule},
	}
	for _, tc := range cases {
		res := Evaluate(Input{Now: tc.now, Week: week, Sun: sun, Locked: tc.locked})
		if res.Desired != tc.state || res.Reason != tc.reason {
			t.Fatalf("%s: got %s/%s", tc.name, res.Desired, res.Reason)
		}
	}
}

func TestMissingDay(t *testing.T) {
	res := Evaluate(Input{Now: at(12, 0), Week: Week{"mo": {Mowing: true}}, Sun: sun})
	if res.HasPlan || res.Desired != None {
		t.Fatalf("expected no plan, got %+v", res)
	}
}

func TestPlanStop(t *testing.T) {
	week := everyDay(DaySchedule{
		Mowing: true, Budget: 120, EarliestStart: "8:00", LatestStop: "20:00",
		Pause: &Pause{From: "13:00", To: "14:00"},
	})
	cases := []struct {
		now   time.Time
		mowed float64
		want  time.Time
	}{
		{at(9, 0), 0, at(11, 0)},
		{at(12, 0), 30, at(13, 0)},
		{at(19, 30), 0, at(20, 0)},
		{at(15, 0), 90, at(15, 30)},
	}
	for _, tc := range cases {
		res := Evaluate(Input{Now: tc.now, Week: week, Sun: sun, MowedMinutes: tc.mowed})
		if !res.PlanStop.Equal(tc.want) {
			t.Fatalf("%s mowed %.0f: plan stop = %s, want %s", tc.now, tc.mowed, res.PlanStop, tc.want)
		}
	}
}

func TestUnlimitedBudgetStopsAtLatest(t *testing.T) {
	week := everyDay(DaySchedule{Mowing: true, EarliestStart: "8:00", LatestStop: "sunset"})
	res := Evaluate(Input{Now: at(9, 0), Week: week, Sun: sun, MowedMinutes: 500})
	if res.Desired != Mowing {
		t.Fatalf("got %s/%s", res.Desired, res.Reason)
	}
	if want := at(21, 0); !res.PlanStop.Equal(want) {
		t.Fatalf("plan stop = %s, want %s", res.PlanStop, want)
	}
}

func TestPlanStartScansAhead(t *testing.T) {
	week := everyDay(DaySchedule{Mowing: false})
	week["sa"] = DaySchedule{Mowing: true, Budget: 60, EarliestStart: "9:30", LatestStop: "18:00"}

	res := Evaluate(Input{Now: at(12, 0), Week: week, Sun: sun})
	if want := time.Date(2024, 5, 4, 9, 30, 0, 0, time.UTC); !res.PlanStart.Equal(want) {
		t.Fatalf("plan start = %s, want %s", res.PlanStart, want)
	}

	res = Evaluate(Input{Now: at(12, 0), Week: everyDay(DaySchedule{Mowing: false}), Sun: sun})
	if !res.PlanStart.IsZero() {
		t.Fatalf("expected no plan start, got %s", res.PlanStart)
	}
}

func TestPlanStartLaterToday(t *testing.T) {
	week := everyDay(DaySchedule{Mowing: true, EarliestStart: "sunrise", LatestStop: "sunset"})
	res := Evaluate(Input{Now: at(5, 0), Week: week, Sun: sun})
	if want := at(6, 0); !res.PlanStart.Equal(want) {
		t.Fatalf("plan start = %s, want %s", res.PlanStart, want)
	}
	res = Evaluate(Input{Now: at(12, 0), Week: week, Sun: sun})
	if want := time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC); !res.PlanStart.Equal(want) {
		t.Fatalf("plan start = %s, want %s", res.PlanStart, want)
	}
}

func TestMidnightIsAValidBoundary(t *testing.T) {
	week := everyDay(DaySchedule{Mowing: true, EarliestStart: "0:00", LatestStop: "2:00"})
	res := Evaluate(Input{Now: at(1, 0), Week: week, Sun: sun})
	if res.Desired != Mowing {
		t.Fatalf("got %s/%s", res.Desired, res.Reason)
	}
	res = Evaluate(Input{Now: at(3, 0), Week: week, Sun: sun})
	if res.Desired != Park || res.Reason != ReasonSchedule {
		t.Fatalf("got %s/%s", res.Desired, res.Reason)
	}
}

func TestNextStartMerge(t *testing.T) {
	now := at(12, 0)
	h := Horizons{
		StartCharge: now.Add(30 * time.Minute),
		StartPlan:   now.Add(time.Hour),
		StartLock:   now.Add(2 * time.Hour),
	}
	if got := h.NextStart(now, false); !got.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("next start = %s", got)
	}
	if got := h.NextStart(now, true); !got.IsZero() {
		t.Fatalf("indefinite lock should clear next start, got %s", got)
	}

	h.StopPlan = now.Add(90 * time.Minute)
	if got := h.NextStart(now, false); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("lock beyond plan stop should be ignored, got %s", got)
	}

	h.StopPlan = now.Add(-5 * time.Minute)
	if got := h.NextStart(now, false); !got.Equal(now.Add(2 * time.Hour)) {
		t.Fatalf("stale plan stop should not filter, got %s", got)
	}

	h.StopPlan = now.Add(-time.Minute)
	if got := h.NextStart(now, false); !got.IsZero() {
		t.Fatalf("plan stop within grace should filter, got %s", got)
	}

	h = Horizons{StartPlan: now.Add(-time.Minute)}
	if got := h.NextStart(now, false); !got.IsZero() {
		t.Fatalf("past candidates are ignored, got %s", got)
	}
}

func TestNextStop(t *testing.T) {
	now := at(12, 0)
	h := Horizons{StopPlan: now.Add(time.Hour), StopCharge: now.Add(40 * time.Minute)}
	if got := h.NextStop(now); !got.Equal(now.Add(40 * time.Minute)) {
		t.Fatalf("next stop = %s", got)
	}
	h.StopCharge = now.Add(-time.Minute)
	if got := h.NextStop(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("next stop = %s", got)
	}
	if got := (Horizons{}).NextStop(now); !got.IsZero() {
		t.Fatalf("expected unset stop, got %s", got)
	}
}

func TestObservedState(t *testing.T) {
	cases := map[string]State{
		"OK_CUTTING":           Mowing,
		"OK_LEAVING":           Mowing,
		"OK_CHARGING":          Mowing,
		"OK_SEARCHING":         Park,
		"PARKED_TIMER":         Park,
		"PARKED_PARK_SELECTED": Park,
		"PAUSED":               Park,
		"NONE":                 Unknown,
		"":                     Unknown,
	}
	for activity, want := range cases {
		if got := ObservedState(activity); got != want {
			t.Fatalf("ObservedState(%q) = %s, want %s", activity, got, want)
		}
	}
}

func TestDecide(t *testing.T) {
	now := at(12, 0)
	stop := now.Add(90*time.Minute + 30*time.Second)
	cases := []struct {
		name     string
		desired  State
		observed State
		planStop time.Time
		planned  time.Time
		want     Action
	}{
		{"unknown", Mowing, Unknown, stop, time.Time{}, Action{}},
		{"start", Mowing, Park, stop, time.Time{}, Action{Start: true, Minutes: 90}},
		{"no time left", Mowing, Park, now.Add(30 * time.Second), time.Time{}, Action{}},
		{"in sync", Mowing, Mowing, stop, stop.Add(2 * time.Minute), Action{}},
		{"drifted", Mowing, Mowing, stop, stop.Add(20 * time.Minute), Action{Start: true, Minutes: 90}},
		{"park", Park, Mowing, stop, time.Time{}, Action{Park: true}},
		{"parked", Park, Park, stop, time.Time{}, Action{}},
	}
	for _, tc := range cases {
		if got := Decide(tc.desired, tc.observed, now, tc.planStop, tc.planned); got != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := (DaySchedule{EarliestStart: "sunrise", LatestStop: "21:15"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (DaySchedule{EarliestStart: "noon"}).Validate(); err == nil {
		t.Fatalf("expected invalid earliest start")
	}
	if err := (DaySchedule{Pause: &Pause{From: "12:00"}}).Validate(); err == nil {
		t.Fatalf("expected incomplete pause error")
	}
}
