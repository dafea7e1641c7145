// Package metrics exposes the controller state to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gomow/internal/controller"
	"github.com/joshp123/gomow/internal/scheduler"
)

// Source is anything that can report a controller snapshot.
type Source interface {
	Snapshot() controller.Snapshot
}

// Collector reads the controller snapshot on every scrape.
type Collector struct {
	source Source

	batteryLevel     prometheus.Gauge
	remainingCharge  prometheus.Gauge
	remainingMowing  prometheus.Gauge
	mowedToday       prometheus.Gauge
	locked           prometheus.Gauge
	lockIndefinite   prometheus.Gauge
	lockedUntil      prometheus.Gauge
	nextStart        prometheus.Gauge
	nextStop         prometheus.Gauge
	plannedEnd       prometheus.Gauge
	stopRequested    prometheus.Gauge
	scheduleActive   prometheus.Gauge
	desiredState     *prometheus.GaugeVec
	observedState    *prometheus.GaugeVec
	historySamples   *prometheus.GaugeVec
	lockTriggerState *prometheus.GaugeVec
	lastUpdated      prometheus.Gauge
	up               prometheus.Gauge
}

func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		batteryLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_battery_level_percent",
			Help: "Last reported battery level",
		}),
		remainingCharge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_remaining_charge_seconds",
			Help: "Estimated seconds until charging completes",
		}),
		remainingMowing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_remaining_mowing_seconds",
			Help: "Estimated seconds until the mower returns to charge",
		}),
		mowedToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_mowed_today_minutes",
			Help: "Minutes mowed on the current day",
		}),
		locked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_locked_bool",
			Help: "Mowing is locked by a trigger (1=locked, 0=free)",
		}),
		lockIndefinite: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_lock_indefinite_bool",
			Help: "Lock has no scheduled release (1=indefinite)",
		}),
		lockedUntil: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_locked_until_timestamp_seconds",
			Help: "Scheduled lock release (epoch seconds, 0 when unset)",
		}),
		nextStart: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_next_start_timestamp_seconds",
			Help: "Predicted next mowing start (epoch seconds, 0 when unknown)",
		}),
		nextStop: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_next_stop_timestamp_seconds",
			Help: "Predicted next mowing stop (epoch seconds, 0 when unknown)",
		}),
		plannedEnd: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_commanded_end_timestamp_seconds",
			Help: "End of the last mowing command (epoch seconds, 0 when unset)",
		}),
		stopRequested: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_stop_requested_bool",
			Help: "Manual stop switch (1=on)",
		}),
		scheduleActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_schedule_active_bool",
			Help: "Weekly schedule overrides the device (1=active)",
		}),
		desiredState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gomow_desired_state",
			Help: "Desired state from the weekly plan (1 for the current state and reason)",
		}, []string{"state", "reason"}),
		observedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gomow_observed_state",
			Help: "Observed mower state (1 for the current activity)",
		}, []string{"state", "activity"}),
		historySamples: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gomow_history_samples",
			Help: "Recorded cycle samples per kind",
		}, []string{"kind"}),
		lockTriggerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gomow_lock_trigger_active_bool",
			Help: "Per-trigger lock state (1=locking)",
		}, []string{"trigger"}),
		lastUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_last_event_timestamp_seconds",
			Help: "Time the controller last processed an event (epoch seconds)",
		}),
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gomow_controller_up",
			Help: "Controller started (1=running, 0=not started)",
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range c.collectors() {
		collector.Describe(ch)
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()

	c.desiredState.Reset()
	c.observedState.Reset()
	c.historySamples.Reset()
	c.lockTriggerState.Reset()

	if !snap.Started {
		c.up.Set(0)
		c.collectAll(ch)
		return
	}

	c.up.Set(1)
	c.batteryLevel.Set(snap.BatteryLevel)
	c.remainingCharge.Set(snap.RemainingChargeSeconds)
	c.remainingMowing.Set(snap.RemainingMowingSeconds)
	c.mowedToday.Set(snap.MowedMinutesToday)
	c.locked.Set(boolToFloat(snap.Locked))
	c.lockIndefinite.Set(boolToFloat(snap.LockIndefinite))
	c.lockedUntil.Set(timestamp(snap.LockedUntil))
	c.nextStart.Set(timestamp(snap.NextStart))
	c.nextStop.Set(timestamp(snap.NextStop))
	c.plannedEnd.Set(timestamp(snap.PlannedEnd))
	c.stopRequested.Set(boolToFloat(snap.StopRequested))
	c.scheduleActive.Set(boolToFloat(snap.ScheduleActive))
	c.lastUpdated.Set(timestamp(snap.UpdatedAt))

	if snap.Desired != scheduler.None {
		c.desiredState.With(prometheus.Labels{"state": string(snap.Desired), "reason": string(snap.Reason)}).Set(1)
	}
	c.observedState.With(prometheus.Labels{"state": string(snap.Observed), "activity": snap.Activity}).Set(1)
	c.historySamples.With(prometheus.Labels{"kind": "charge"}).Set(float64(snap.ChargeSamples))
	c.historySamples.With(prometheus.Labels{"kind": "mow"}).Set(float64(snap.MowSamples))

	now := snap.UpdatedAt
	for trigger, raw := range snap.LockStates {
		c.lockTriggerState.With(prometheus.Labels{"trigger": trigger}).Set(boolToFloat(triggerLocking(raw, now)))
	}

	c.collectAll(ch)
}

func (c *Collector) collectAll(ch chan<- prometheus.Metric) {
	for _, collector := range c.collectors() {
		collector.Collect(ch)
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.batteryLevel,
		c.remainingCharge,
		c.remainingMowing,
		c.mowedToday,
		c.locked,
		c.lockIndefinite,
		c.lockedUntil,
		c.nextStart,
		c.nextStop,
		c.plannedEnd,
		c.stopRequested,
		c.scheduleActive,
		c.desiredState,
		c.observedState,
		c.historySamples,
		c.lockTriggerState,
		c.lastUpdated,
		c.up,
	}
}

// triggerLocking reads a decoded lock state ({"state": bool|ms, "since": ms}).
func triggerLocking(raw any, now time.Time) bool {
	m, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	switch state := m["state"].(type) {
	case bool:
		return state
	case float64:
		return time.UnixMilli(int64(state)).After(now)
	default:
		return false
	}
}

func timestamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.Unix())
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
