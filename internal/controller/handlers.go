package controller

import (
	"log"
	"time"

	"github.com/joshp123/gomow/internal/actuator"
	"github.com/joshp123/gomow/internal/history"
	"github.com/joshp123/gomow/internal/statebus"
)

// OnActivity handles an acknowledged change of the mower activity.
func (c *Controller) OnActivity(activity string) {
	c.do(func() { c.onActivity(activity) })
}

// OnBatteryState handles an acknowledged change of the battery charge state.
func (c *Controller) OnBatteryState(prev, state string) {
	c.do(func() { c.onBatteryState(prev, state) })
}

// OnBatteryLevel handles an acknowledged change of the battery level.
func (c *Controller) OnBatteryLevel(prev, level float64) {
	c.do(func() { c.onBatteryLevel(prev, level) })
}

// OnCommand observes a command written to the mower, whoever sent it.
func (c *Controller) OnCommand(value any) {
	c.do(func() { c.onCommand(value) })
}

// OnStopMowing latches a manual stop request.
func (c *Controller) OnStopMowing(stop bool) {
	c.do(func() { c.onStopMowing(stop) })
}

// OnHealth handles a change of the overall mower health state.
func (c *Controller) OnHealth(state string) {
	c.do(func() { c.onHealth(state) })
}

func (c *Controller) onActivity(activity string) {
	if !c.started {
		return
	}
	now := c.clock.Now()
	c.cancel(parkOverride)

	switch activity {
	case activityLeaving:
		c.debugf("mower is leaving the station")
		c.cancel(chargeCountdown)
		c.mowingStarted = now
		c.stopRequested = false
		c.publish(KeyNextStart, 0)
		c.publishRemainingCharge(0)
		c.horizons.StartCharge = time.Time{}
		c.estimateMowing()
		c.publishNextStop()

	case activityTimerPark:
		if c.cfg.ScheduleActive {
			// The device passes through its timer park while a manual start is
			// being applied, so only override once it stays there.
			c.schedule(parkOverride, parkOverrideDelay, func() {
				c.debugf("overriding device timer park")
				c.send(actuator.Park())
			})
		}

	case activitySearching:
		c.endMowing(now)
	}
}

// onFirstActivity handles the first activity report after startup, which is
// retained telemetry arriving late rather than a transition.
func (c *Controller) onFirstActivity(activity string) {
	if !c.started {
		return
	}
	if activity != activityLeaving && c.mowingStarted.IsZero() && c.mowingActive() {
		c.debugf("mowing reported after startup, resuming run")
		c.mowingStarted = c.clock.Now()
		c.estimateMowing()
	}
	c.onActivity(activity)
}

func (c *Controller) endMowing(now time.Time) {
	c.debugf("mower ended mowing and is searching for the station")
	c.cancel(mowCountdown)
	c.horizons.StopCharge = time.Time{}
	c.publish(KeyNextStop, 0)
	c.publishRemainingMowing(0)

	deadlinePassed := !c.plannedEnd.IsZero() && !now.Before(c.plannedEnd)
	if !c.mowingStarted.IsZero() {
		endSoC := c.batteryLevel()
		duration := now.Sub(c.mowingStarted)
		stopped := c.stopRequested || deadlinePassed
		c.stopRequested = false
		c.mowingStarted = time.Time{}

		if duration >= history.MinMowDuration {
			c.hist.AddMow(history.MowSample{
				DurationSeconds: duration.Seconds(),
				EndSoC:          endSoC,
				ForciblyStopped: stopped,
			})
			c.hist.SaveMow()
			log.Printf("controller: recorded mowing run of %s ending at %.0f%% (stopped=%t), %d entries",
				duration.Round(time.Second), endSoC, stopped, len(c.hist.Mow()))
		} else {
			c.debugf("mowing run of %s too short to record", duration.Round(time.Second))
		}
	}

	if deadlinePassed {
		c.plannedEnd = time.Time{}
		c.publish(KeyMowingUntil, 0)
	}
}

func (c *Controller) onBatteryState(prev, state string) {
	if !c.started {
		return
	}
	now := c.clock.Now()

	switch {
	case state == batteryCharging:
		c.debugf("mower started charging")
		c.cancel(mowCountdown)
		c.publishRemainingMowing(0)
		c.horizons.StopCharge = time.Time{}
		c.publishNextStop()

		soc := c.batteryLevel()
		c.chargingStartSoC = soc
		c.chargingStarted = now
		c.estimateCharge(100 - soc)

	case state == batteryOK && prev == batteryCharging:
		c.cancel(chargeCountdown)
		c.publishRemainingCharge(0)
		if c.chargingStarted.IsZero() {
			return
		}
		started, startSoC := c.chargingStarted, c.chargingStartSoC
		c.chargingStarted = time.Time{}

		soc := c.batteryLevel()
		if soc < history.FullChargeSoC {
			c.debugf("charging ended at %.0f%%, not recording", soc)
			return
		}
		gained := 100 - startSoC
		if gained < history.MinChargeGainedPct {
			c.debugf("only %.0f%% charged, not recording", gained)
			return
		}
		duration := now.Sub(started)
		c.hist.AddCharge(history.ChargeSample{DurationSeconds: duration.Seconds(), PercentageGained: gained})
		c.hist.SaveCharge()
		log.Printf("controller: recorded charge of %.0f%% in %s, %d entries",
			gained, duration.Round(time.Second), len(c.hist.Charge()))
	}
}

func (c *Controller) onBatteryLevel(prev, level float64) {
	if !c.started {
		return
	}
	if level <= prev {
		if c.mowingActive() {
			c.estimateMowing()
		}
		return
	}
	c.estimateCharge(100 - level)
}

func (c *Controller) onCommand(value any) {
	if !c.started {
		return
	}
	now := c.clock.Now()
	c.plannedEnd = time.Time{}

	cmd := actuator.Parse(value)
	switch {
	case cmd.IsPark():
		c.debugf("park command %s", cmd)
		if c.mowingActive() {
			c.stopRequested = true
		}
		c.publish(KeyMowingUntil, 0)
	case cmd.Kind == actuator.StartDontOverride:
	default:
		c.plannedEnd = now.Add(time.Duration(cmd.Seconds) * time.Second)
		c.debugf("mowing command, planned end %s", c.plannedEnd.Format(time.RFC3339))
		c.publish(KeyMowingUntil, statebus.Millis(c.plannedEnd))
	}
}

func (c *Controller) onStopMowing(stop bool) {
	if !c.started {
		return
	}
	if stop && c.mowingActive() {
		c.stopRequested = true
	}
	c.publish(KeyStopMowing, stop)
}

func (c *Controller) onHealth(state string) {
	if !c.started || state != healthError || len(c.cfg.NotifyTargets) == 0 {
		return
	}
	if c.readString(c.cfg.Keys.LastError) != errOutsideWorkingArea {
		return
	}
	log.Printf("controller: mower is outside its working area")
	for _, target := range c.cfg.NotifyTargets {
		c.bus.Write(target, c.cfg.NotifyMessage, false)
	}
}
