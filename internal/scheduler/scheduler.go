// Package scheduler evaluates the weekly mowing plan and merges the start and
// stop horizons contributed by the plan, the battery and the lock arbiter.
package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/joshp123/gomow/internal/astro"
	"github.com/joshp123/gomow/internal/mowtime"
)

type State string

const (
	None    State = ""
	Mowing  State = "MOWING"
	Park    State = "PARK"
	Unknown State = "UNKNOWN"
)

type Reason string

const (
	ReasonNone     Reason = ""
	ReasonSchedule Reason = "SCHEDULE"
	ReasonLocked   Reason = "LOCKED"
	ReasonPause    Reason = "PAUSE"
	ReasonComplete Reason = "COMPLETE"
)

// Pause is an optional daily break, both bounds "H:MM" or astro keywords.
type Pause struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// DaySchedule is the plan for one weekday. Budget is in minutes; zero or less
// means no daily limit.
type DaySchedule struct {
	Mowing        bool    `yaml:"mowing" json:"mowing"`
	Budget        float64 `yaml:"mowing_time" json:"mowing_time"`
	EarliestStart string  `yaml:"earliest_start" json:"earliest_start"`
	LatestStop    string  `yaml:"latest_stop" json:"latest_stop"`
	Pause         *Pause  `yaml:"pause,omitempty" json:"pause,omitempty"`
}

// Validate checks the time specifications of a day.
func (d DaySchedule) Validate() error {
	for name, spec := range map[string]string{"earliest_start": d.EarliestStart, "latest_stop": d.LatestStop} {
		if spec != "" && !mowtime.ValidSpec(spec) {
			return fmt.Errorf("%s: invalid time %q", name, spec)
		}
	}
	if d.Pause != nil {
		if (d.Pause.From == "") != (d.Pause.To == "") {
			return fmt.Errorf("pause: from and to must both be set")
		}
		for _, spec := range []string{d.Pause.From, d.Pause.To} {
			if spec != "" && !mowtime.ValidSpec(spec) {
				return fmt.Errorf("pause: invalid time %q", spec)
			}
		}
	}
	return nil
}

// Week maps weekday keys (mo..su) to their plan.
type Week map[string]DaySchedule

// Day returns the plan for t's weekday.
func (w Week) Day(t time.Time) (DaySchedule, bool) {
	d, ok := w[mowtime.WeekdayID(t.Weekday())]
	return d, ok
}

// window is a day plan resolved to minutes since that day's midnight.
type window struct {
	earliest  int
	latest    int
	pause     bool
	pauseFrom int
	pauseTo   int
}

func resolve(d DaySchedule, day time.Time, sun astro.Clock) window {
	w := window{latest: mowtime.MinutesPerDay}
	if v, ok := mowtime.MinutesSinceMidnight(d.EarliestStart, day, sun); ok {
		w.earliest = v
	}
	if v, ok := mowtime.MinutesSinceMidnight(d.LatestStop, day, sun); ok {
		w.latest = v
	}
	if d.Pause != nil {
		from, okFrom := mowtime.MinutesSinceMidnight(d.Pause.From, day, sun)
		to, okTo := mowtime.MinutesSinceMidnight(d.Pause.To, day, sun)
		if okFrom && okTo {
			w.pause, w.pauseFrom, w.pauseTo = true, from, to
		}
	}
	return w
}

type Input struct {
	Now          time.Time
	Week         Week
	Sun          astro.Clock
	MowedMinutes float64
	Locked       bool
}

type Result struct {
	// HasPlan is false when today has no entry in the week.
	HasPlan   bool
	Desired   State
	Reason    Reason
	PlanStop  time.Time
	PlanStart time.Time
}

// Evaluate computes the desired state for in.Now together with the plan's
// stop and start horizons.
func Evaluate(in Input) Result {
	d, ok := in.Week.Day(in.Now)
	if !ok {
		return Result{}
	}
	w := resolve(d, in.Now, in.Sun)
	m := mowtime.MinuteOfDay(in.Now)

	res := Result{
		HasPlan:   true,
		PlanStop:  mowtime.AtMinute(in.Now, planEnd(d, w, m, in.MowedMinutes)),
		PlanStart: nextPlanStart(in, m),
	}

	switch {
	case !d.Mowing:
		res.Desired, res.Reason = Park, ReasonSchedule
	case d.Budget > 0 && in.MowedMinutes >= d.Budget:
		res.Desired, res.Reason = Park, ReasonComplete
	case in.Locked:
		res.Desired, res.Reason = Park, ReasonLocked
	case m < w.earliest || m > w.latest:
		res.Desired, res.Reason = Park, ReasonSchedule
	case w.pause && m >= w.pauseFrom && m <= w.pauseTo:
		res.Desired, res.Reason = Park, ReasonPause
	default:
		res.Desired, res.Reason = Mowing, ReasonSchedule
	}
	return res
}

// planEnd is the minute today's mowing has to stop: the remaining budget, an
// upcoming pause or the latest stop, whichever comes first.
func planEnd(d DaySchedule, w window, m int, mowed float64) float64 {
	end := float64(w.latest)
	if d.Budget > 0 {
		end = math.Min(end, float64(m)+d.Budget-mowed)
	}
	if w.pause && w.pauseFrom > m && w.pauseTo > m {
		end = math.Min(end, float64(w.pauseFrom))
	}
	return end
}

// nextPlanStart scans today and the following six days for the next minute
// mowing may begin.
func nextPlanStart(in Input, m int) time.Time {
	today := mowtime.Midnight(in.Now)
	for i := 0; i < 7; i++ {
		day := today.AddDate(0, 0, i)
		d, ok := in.Week.Day(day)
		if !ok || !d.Mowing {
			continue
		}
		w := resolve(d, day, in.Sun)
		offset := i * mowtime.MinutesPerDay

		start := -1
		if w.pause && w.pauseFrom+offset <= m && w.pauseTo+offset > m {
			start = w.pauseTo
		}
		if w.earliest+offset > m && (start < 0 || w.earliest < start) {
			start = w.earliest
		}
		if start >= 0 {
			return mowtime.AtMinute(day, float64(start))
		}
	}
	return time.Time{}
}

// ObservedState maps a device activity to the state it counts as.
func ObservedState(activity string) State {
	switch activity {
	case "PAUSED", "PARKED_TIMER", "PARKED_PARK_SELECTED", "PARKED_AUTOTIMER", "OK_SEARCHING":
		return Park
	case "OK_CUTTING", "OK_CUTTING_TIMER_OVERRIDDEN", "OK_LEAVING", "OK_CHARGING":
		return Mowing
	default:
		return Unknown
	}
}

// stopGrace keeps a plan stop that just passed relevant for start candidates.
const stopGrace = 2 * time.Minute

// Horizons holds the candidate start and stop times; the zero time is unset.
type Horizons struct {
	StartPlan   time.Time
	StartCharge time.Time
	StartLock   time.Time
	StopPlan    time.Time
	StopCharge  time.Time
}

// NextStart merges the start candidates. A candidate counts when it is not in
// the past and no current plan stop precedes it. An indefinite lock has no
// predictable start.
func (h Horizons) NextStart(now time.Time, lockIndefinite bool) time.Time {
	if lockIndefinite {
		return time.Time{}
	}
	valid := func(t time.Time) bool {
		if t.IsZero() || t.Before(now) {
			return false
		}
		return h.StopPlan.IsZero() || h.StopPlan.After(t) || h.StopPlan.Before(now.Add(-stopGrace))
	}
	var next time.Time
	if valid(h.StartCharge) {
		next = h.StartCharge
	}
	for _, t := range []time.Time{h.StartPlan, h.StartLock} {
		if valid(t) && t.After(next) {
			next = t
		}
	}
	return next
}

// NextStop is the earliest stop candidate that is not in the past.
func (h Horizons) NextStop(now time.Time) time.Time {
	var next time.Time
	for _, t := range []time.Time{h.StopCharge, h.StopPlan} {
		if t.IsZero() || t.Before(now) {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// resyncDrift is how far the device's own end time may wander from the plan
// before a running mower is sent a fresh START.
const resyncDrift = 5 * time.Minute

// Action is what the controller should ask the actuator to do.
type Action struct {
	Start   bool
	Minutes int
	Park    bool
}

// Decide compares the desired and the observed state. plannedEnd is the
// deadline of the last START command seen on the bus, zero if none.
func Decide(desired, observed State, now, planStop, plannedEnd time.Time) Action {
	if observed == Unknown || observed == None {
		return Action{}
	}
	switch desired {
	case Mowing:
		minutes := 0
		if !planStop.IsZero() && planStop.After(now) {
			minutes = int(planStop.Sub(now) / time.Minute)
		}
		if minutes <= 0 {
			return Action{}
		}
		if observed != Mowing {
			return Action{Start: true, Minutes: minutes}
		}
		if plannedEnd.After(now) {
			drift := plannedEnd.Sub(planStop)
			if drift < 0 {
				drift = -drift
			}
			if drift > resyncDrift {
				return Action{Start: true, Minutes: minutes}
			}
		}
	case Park:
		if observed != Park {
			return Action{Park: true}
		}
	}
	return Action{}
}
