package controller

import (
	"time"

	"github.com/joshp123/gomow/internal/estimator"
	"github.com/joshp123/gomow/internal/mowtime"
)

// estimateCharge publishes the expected time to charge neededSoC percent and
// starts its countdown.
func (c *Controller) estimateCharge(neededSoC float64) {
	c.cancel(chargeCountdown)
	seconds, err := estimator.ChargeSeconds(c.hist.Charge(), neededSoC)
	if err != nil {
		c.debugf("charge estimate: %v", err)
		return
	}
	c.debugf("charge time estimated at %.0fs for %.0f%%", seconds, neededSoC)

	c.publishRemainingCharge(seconds)
	c.countdown(chargeCountdown, seconds, c.publishRemainingCharge)

	c.horizons.StartCharge = c.clock.Now().Add(secondsDuration(seconds))
	c.publishNextStart()
}

// estimateMowing publishes the expected remaining run time of the current
// mowing cycle, clamped to a commanded mowing deadline.
func (c *Controller) estimateMowing() {
	c.cancel(mowCountdown)
	if c.mowingStarted.IsZero() {
		return
	}
	est, err := estimator.MowingRemaining(c.hist.Mow(), c.batteryLevel())
	if err != nil {
		c.debugf("mowing estimate: %v", err)
		return
	}
	now := c.clock.Now()
	remaining := est.RemainingSeconds
	end := now.Add(secondsDuration(remaining))
	if !c.plannedEnd.IsZero() && end.After(c.plannedEnd) {
		c.debugf("planned mowing end comes before the battery runs low")
		end = c.plannedEnd
		remaining = 0
	}
	c.debugf("mowing for %s (avg %.1fs/%%, end soc %.0f%%), %.0fs left",
		now.Sub(c.mowingStarted).Round(time.Second), est.SecondsPerPercent, est.AverageEndSoC, remaining)

	c.publishRemainingMowing(remaining)
	c.horizons.StopCharge = end
	c.publishNextStop()
	c.countdown(mowCountdown, remaining, c.publishRemainingMowing)
}

// countdown republishes seconds once per second until it reaches zero.
func (c *Controller) countdown(kind timerKind, seconds float64, publish func(float64)) {
	if seconds <= 0 {
		return
	}
	remaining := seconds
	var tick func()
	tick = func() {
		remaining--
		if remaining < 0 {
			remaining = 0
		}
		publish(remaining)
		if remaining > 0 {
			c.schedule(kind, countdownInterval, tick)
		}
	}
	c.schedule(kind, countdownInterval, tick)
}

func (c *Controller) publishRemainingCharge(seconds float64) {
	c.remainingCharge = seconds
	c.publish(KeyRemainingCharge, seconds)
	c.publish(KeyRemainingChargeStr, remainingString(seconds))
}

func (c *Controller) publishRemainingMowing(seconds float64) {
	c.remainingMowing = seconds
	c.publish(KeyRemainingMowing, seconds)
	c.publish(KeyRemainingMowingStr, remainingString(seconds))
}

// remainingString leaves reset countdowns blank instead of "0:00".
func remainingString(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	return mowtime.FormatMinutesSeconds(seconds)
}

func secondsDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
