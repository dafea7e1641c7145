package controller

import (
	"time"

	"github.com/joshp123/gomow/internal/scheduler"
	"github.com/joshp123/gomow/internal/statebus"
)

// Snapshot is a copy of the controller state for readers outside the event
// context (metrics, gRPC).
type Snapshot struct {
	Started                bool
	Activity               string
	Observed               scheduler.State
	Desired                scheduler.State
	Reason                 scheduler.Reason
	ScheduleActive         bool
	Locked                 bool
	LockIndefinite         bool
	LockedUntil            time.Time
	LockStates             map[string]any
	NextStart              time.Time
	NextStop               time.Time
	PlannedEnd             time.Time
	MowingStarted          time.Time
	ChargingStarted        time.Time
	StopRequested          bool
	BatteryLevel           float64
	RemainingChargeSeconds float64
	RemainingMowingSeconds float64
	MowedMinutesToday      float64
	ChargeSamples          int
	MowSamples             int
	UpdatedAt              time.Time
}

func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

func (c *Controller) refreshSnapshot() {
	if !c.started {
		return
	}
	now := c.clock.Now()
	activity := c.readString(c.cfg.Keys.Activity)
	snap := Snapshot{
		Started:                true,
		Activity:               activity,
		Observed:               scheduler.ObservedState(activity),
		Desired:                c.result.Desired,
		Reason:                 c.result.Reason,
		ScheduleActive:         c.cfg.ScheduleActive,
		Locked:                 c.verdict.Locked,
		LockIndefinite:         c.verdict.Indefinite,
		LockedUntil:            c.verdict.Until,
		LockStates:             c.lockStates(),
		NextStart:              c.horizons.NextStart(now, c.verdict.Indefinite),
		NextStop:               c.horizons.NextStop(now),
		PlannedEnd:             c.plannedEnd,
		MowingStarted:          c.mowingStarted,
		ChargingStarted:        c.chargingStarted,
		StopRequested:          c.readStopSwitch(),
		BatteryLevel:           c.batteryLevel(),
		RemainingChargeSeconds: c.remainingCharge,
		RemainingMowingSeconds: c.remainingMowing,
		MowedMinutesToday:      c.hist.MinutesToday(now),
		ChargeSamples:          len(c.hist.Charge()),
		MowSamples:             len(c.hist.Mow()),
		UpdatedAt:              now,
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
}

func (c *Controller) readStopSwitch() bool {
	st, ok := c.bus.Read(c.cfg.Keys.Published(KeyStopMowing))
	return ok && st.Ack && statebus.Bool(st.Value)
}
