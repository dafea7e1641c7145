package controller

import (
	"encoding/json"
	"log"
	"time"

	"github.com/joshp123/gomow/internal/actuator"
	"github.com/joshp123/gomow/internal/scheduler"
	"github.com/joshp123/gomow/internal/statebus"
)

// EvaluateLocks runs a lock cycle now, followed by the schedule check. It also
// runs every minute on its own.
func (c *Controller) EvaluateLocks() {
	c.do(c.lockCycle)
}

func (c *Controller) lockCycle() {
	if !c.started {
		return
	}
	now := c.clock.Now()

	c.verdict = c.locks.Evaluate(now, c.readTrigger)
	c.saveLocks()
	c.horizons.StartLock = c.verdict.Until
	c.publishNextStart()

	if c.cfg.ScheduleActive {
		c.checkPlans(now)
	}

	switch {
	case c.verdict.Indefinite:
		c.publish(KeyLockedUntil, LockedIndefinitely)
	default:
		c.publish(KeyLockedUntil, statebus.Millis(c.verdict.Until))
	}

	c.schedule(lockTimer, lockInterval, c.lockCycle)
}

func (c *Controller) readTrigger(key string) (any, time.Time, bool) {
	st, ok := c.bus.Read(key)
	if !ok {
		return nil, time.Time{}, false
	}
	return st.Value, st.LastChange, true
}

func (c *Controller) checkPlans(now time.Time) {
	activity := c.readString(c.cfg.Keys.Activity)
	observed := scheduler.ObservedState(activity)

	c.hist.AccumulateMowing(now, observed == scheduler.Mowing)
	c.hist.SaveToday()
	today := c.hist.Today(now)

	res := scheduler.Evaluate(scheduler.Input{
		Now:          now,
		Week:         c.cfg.Week,
		Sun:          c.sun,
		MowedMinutes: today.Minutes,
		Locked:       c.verdict.Locked,
	})
	c.result = res
	if !res.HasPlan {
		log.Printf("controller: missing plan for %s", now.Weekday())
		c.publish(KeyScheduleState, string(scheduler.None))
		c.publish(KeyScheduleReason, string(scheduler.ReasonNone))
		return
	}

	c.horizons.StopPlan = res.PlanStop
	c.publishNextStop()
	c.horizons.StartPlan = res.PlanStart
	c.publishNextStart()

	c.publish(KeyScheduleState, string(res.Desired))
	c.publish(KeyScheduleReason, string(res.Reason))

	if observed == scheduler.Unknown {
		c.debugf("activity %q unknown, not actuating", activity)
		return
	}
	c.debugf("plan: observed %s, desired %s (%s)", observed, res.Desired, res.Reason)

	action := scheduler.Decide(res.Desired, observed, now, res.PlanStop, c.plannedEnd)
	switch {
	case action.Start:
		c.send(actuator.StartFor(action.Minutes))
	case action.Park:
		c.debugf("parking because of %s", res.Reason)
		c.send(actuator.Park())
	}
}

func (c *Controller) publishNextStart() {
	next := c.horizons.NextStart(c.clock.Now(), c.verdict.Indefinite)
	c.publish(KeyNextStart, statebus.Millis(next))
}

func (c *Controller) publishNextStop() {
	next := c.horizons.NextStop(c.clock.Now())
	c.publish(KeyNextStop, statebus.Millis(next))
}

func (c *Controller) restoreLocks(restore map[string][]byte) {
	key := c.cfg.Keys.Published(KeyLockStates)
	var raw []byte
	if st, ok := c.bus.Read(key); ok {
		if s := statebus.String(st.Value); s != "" {
			raw = []byte(s)
		}
	}
	if raw == nil {
		raw = restore[key]
	}
	if len(raw) == 0 {
		return
	}
	if err := c.locks.Restore(raw); err != nil {
		log.Printf("controller: lock states unreadable, starting empty: %v", err)
	}
}

func (c *Controller) saveLocks() []byte {
	raw, err := c.locks.Marshal()
	if err != nil {
		log.Printf("controller: encode lock states: %v", err)
		return nil
	}
	c.publish(KeyLockStates, string(raw))
	return raw
}

// lockStates decodes the persisted lock states for status output.
func (c *Controller) lockStates() map[string]any {
	raw, err := c.locks.Marshal()
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
