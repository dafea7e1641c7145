// Package controller owns the mower's mutable state and reacts to telemetry:
// it tracks mowing and charging cycles, runs the lock arbiter and the weekly
// scheduler, and sends commands when the mower is not where the plan wants it.
//
// All state is touched from a single event context. Bus handlers and timer
// callbacks only enqueue work; Run drains the queue on its own goroutine and,
// until Run is started, work drains inline on the caller.
package controller

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/joshp123/gomow/internal/actuator"
	"github.com/joshp123/gomow/internal/astro"
	"github.com/joshp123/gomow/internal/clock"
	"github.com/joshp123/gomow/internal/history"
	"github.com/joshp123/gomow/internal/lock"
	"github.com/joshp123/gomow/internal/scheduler"
	"github.com/joshp123/gomow/internal/statebus"
)

// Published value names, relative to Keys.Base.
const (
	KeyStopMowing         = "stop_mowing"
	KeyMowingUntil        = "cmd_mowing_until"
	KeyScheduleState      = "current_schedule_state"
	KeyScheduleReason     = "current_schedule_reason"
	KeyNextStart          = "next_start"
	KeyNextStop           = "next_stop"
	KeyLockedUntil        = "locked_until"
	KeyRemainingCharge    = "remaining_charge_time"
	KeyRemainingChargeStr = "remaining_charge_time_str"
	KeyRemainingMowing    = "remaining_mowing_time"
	KeyRemainingMowingStr = "remaining_mowing_time_str"
	KeyChargingHistory    = "charging_history"
	KeyMowingHistory      = "mowing_history"
	KeyMowingTimeDay      = "mowing_time_day"
	KeyLockStates         = "mowing_lock_states"
)

// LockedIndefinitely is published as locked_until while a lock has no release time.
const LockedIndefinitely = "indefinite"

const (
	lockInterval      = 60 * time.Second
	countdownInterval = time.Second
	parkOverrideDelay = 10 * time.Second
)

const (
	activityLeaving   = "OK_LEAVING"
	activitySearching = "OK_SEARCHING"
	activityTimerPark = "PARKED_TIMER"

	batteryCharging = "CHARGING"
	batteryOK       = "OK"

	healthOK              = "OK"
	healthError           = "ERROR"
	errOutsideWorkingArea = "OUTSIDE_WORKING_AREA"
)

// DefaultNotifyMessage is written to notification targets when the mower has
// left its working area.
const DefaultNotifyMessage = "Warning! The mower is outside its working area."

// Keys names the telemetry keys the controller reads and the prefix it
// publishes under.
type Keys struct {
	Base         string
	Activity     string
	Health       string
	LastError    string
	BatteryState string
	BatteryLevel string
	Command      string
}

// Published returns the bus key of a published value.
func (k Keys) Published(name string) string {
	if k.Base == "" {
		return name
	}
	return k.Base + "." + name
}

type Config struct {
	Keys           Keys
	Week           scheduler.Week
	ScheduleActive bool
	Locks          []lock.Rule
	NotifyTargets  []string
	NotifyMessage  string
	Debug          bool
}

type timerKind int

const (
	lockTimer timerKind = iota
	chargeCountdown
	mowCountdown
	parkOverride
	numTimers
)

type timerSlot struct {
	timer clock.Timer
	gen   uint64
}

type Controller struct {
	cfg   Config
	bus   statebus.Bus
	act   actuator.Actuator
	clock clock.Clock
	sun   astro.Clock

	qmu      sync.Mutex
	pending  []func()
	draining bool
	looping  bool
	wake     chan struct{}

	// Event context only.
	started          bool
	hist             *history.Store
	locks            *lock.Arbiter
	verdict          lock.Verdict
	result           scheduler.Result
	horizons         scheduler.Horizons
	timers           [numTimers]timerSlot
	mowingStarted    time.Time
	chargingStarted  time.Time
	chargingStartSoC float64
	plannedEnd       time.Time
	stopRequested    bool
	remainingCharge  float64
	remainingMowing  float64
	unsubscribe      []func()

	snapMu sync.RWMutex
	snap   Snapshot
}

func New(cfg Config, bus statebus.Bus, act actuator.Actuator, clk clock.Clock, sun astro.Clock) *Controller {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.NotifyMessage == "" {
		cfg.NotifyMessage = DefaultNotifyMessage
	}
	return &Controller{
		cfg:   cfg,
		bus:   bus,
		act:   act,
		clock: clk,
		sun:   sun,
		locks: lock.NewArbiter(withStopRule(cfg.Locks, cfg.Keys.Published(KeyStopMowing))),
		wake:  make(chan struct{}, 1),
	}
}

// withStopRule makes the manual stop switch an always-present lock.
func withStopRule(rules []lock.Rule, stopKey string) []lock.Rule {
	for _, r := range rules {
		if r.Trigger == stopKey {
			return rules
		}
	}
	return append([]lock.Rule{{Trigger: stopKey, Value: true, Mode: lock.Equal}}, rules...)
}

// Start loads persisted state, resumes cycles already in progress, subscribes
// to the bus and runs the first lock cycle. restore holds values mirrored to
// blob storage and is only consulted for keys missing on the bus.
func (c *Controller) Start(restore map[string][]byte) {
	c.do(func() { c.init(restore) })
}

// Run processes queued events until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.qmu.Lock()
	c.looping = true
	c.qmu.Unlock()
	defer func() {
		c.qmu.Lock()
		c.looping = false
		c.qmu.Unlock()
	}()

	for {
		c.drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
	}
}

// Shutdown cancels timers, flushes histories and lock states to the bus and
// returns their persisted form for mirroring.
func (c *Controller) Shutdown(ctx context.Context) (map[string][]byte, error) {
	done := make(chan map[string][]byte, 1)
	c.enqueue(func() {
		done <- c.shutdown()
	})
	select {
	case snap := <-done:
		return snap, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Controller) shutdown() map[string][]byte {
	for _, unsub := range c.unsubscribe {
		unsub()
	}
	c.unsubscribe = nil
	for kind := timerKind(0); kind < numTimers; kind++ {
		c.cancel(kind)
	}
	if !c.started {
		return nil
	}
	c.hist.Save()
	raw := c.saveLocks()
	snap := c.hist.Snapshot()
	if raw != nil {
		snap[c.cfg.Keys.Published(KeyLockStates)] = raw
	}
	c.started = false
	return snap
}

// do enqueues f and refreshes the read-only snapshot afterwards.
func (c *Controller) do(f func()) {
	c.enqueue(func() {
		f()
		c.refreshSnapshot()
	})
}

func (c *Controller) enqueue(f func()) {
	c.qmu.Lock()
	c.pending = append(c.pending, f)
	looping := c.looping
	c.qmu.Unlock()

	if looping {
		select {
		case c.wake <- struct{}{}:
		default:
		}
		return
	}
	c.drain()
}

// drain runs queued work one closure at a time. Work enqueued while draining
// is picked up by the same drain, after the current closure.
func (c *Controller) drain() {
	c.qmu.Lock()
	if c.draining {
		c.qmu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		f := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		c.qmu.Unlock()
		f()
		c.qmu.Lock()
	}
	c.draining = false
	c.qmu.Unlock()
}

// schedule replaces the timer of the given kind. A callback from a replaced or
// cancelled timer that already fired is dropped via the generation check.
func (c *Controller) schedule(kind timerKind, d time.Duration, f func()) {
	c.cancel(kind)
	gen := c.timers[kind].gen
	c.timers[kind].timer = c.clock.AfterFunc(d, func() {
		c.do(func() {
			if c.timers[kind].gen != gen {
				return
			}
			c.timers[kind].timer = nil
			f()
		})
	})
}

func (c *Controller) cancel(kind timerKind) {
	slot := &c.timers[kind]
	slot.gen++
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
}

func (c *Controller) init(restore map[string][]byte) {
	if c.started {
		return
	}
	now := c.clock.Now()
	keys := c.cfg.Keys

	c.hist = history.Load(c.bus, history.Keys{
		Charge: keys.Published(KeyChargingHistory),
		Mow:    keys.Published(KeyMowingHistory),
		Today:  keys.Published(KeyMowingTimeDay),
	}, now, restore)
	c.restoreLocks(restore)

	if st, ok := c.bus.Read(keys.Published(KeyMowingUntil)); ok {
		end := statebus.FromMillis(st.Value)
		if !end.IsZero() && !end.After(now) {
			log.Printf("controller: clearing past mowing deadline %s", end.Format(time.RFC3339))
			c.publish(KeyMowingUntil, 0)
		} else {
			c.plannedEnd = end
		}
	}

	c.publishRemainingCharge(0)
	c.publishRemainingMowing(0)

	c.subscribe()
	c.started = true

	if c.readString(keys.BatteryState) == batteryCharging {
		soc := c.batteryLevel()
		c.debugf("charging at startup, soc %.0f%%", soc)
		c.chargingStartSoC = soc
		c.chargingStarted = now
		c.estimateCharge(100 - soc)
	}
	if st, ok := c.bus.Read(keys.Activity); ok && st.Ack && c.mowingActive() {
		c.debugf("mowing at startup since %s", st.LastChange.Format(time.RFC3339))
		c.mowingStarted = st.LastChange
		c.estimateMowing()
	}

	c.lockCycle()
}

func (c *Controller) subscribe() {
	keys := c.cfg.Keys
	add := func(pattern string, pred statebus.Predicate, h statebus.Handler) {
		if pattern == "" {
			return
		}
		c.unsubscribe = append(c.unsubscribe, c.bus.Subscribe(pattern, pred, h))
	}

	add(keys.Activity, statebus.AckChanged, func(_ string, old, cur statebus.State) {
		activity := statebus.String(cur.Value)
		if old.Value == nil {
			c.do(func() { c.onFirstActivity(activity) })
			return
		}
		c.OnActivity(activity)
	})
	add(keys.BatteryState, statebus.AckChanged, func(_ string, old, cur statebus.State) {
		c.OnBatteryState(statebus.String(old.Value), statebus.String(cur.Value))
	})
	add(keys.BatteryLevel, statebus.AckChanged, func(_ string, old, cur statebus.State) {
		prev, ok := statebus.Float(old.Value)
		if !ok {
			return
		}
		level, ok := statebus.Float(cur.Value)
		if !ok {
			return
		}
		c.OnBatteryLevel(prev, level)
	})
	add(keys.Health, statebus.Changed, func(_ string, _, cur statebus.State) {
		c.OnHealth(statebus.String(cur.Value))
	})
	add(keys.Command, statebus.Commands, func(_ string, _, cur statebus.State) {
		c.OnCommand(cur.Value)
	})
	add(keys.Published(KeyStopMowing), statebus.Commands, func(_ string, _, cur statebus.State) {
		c.OnStopMowing(statebus.Bool(cur.Value))
	})
	for _, trigger := range c.locks.Triggers() {
		add(trigger, statebus.Acknowledged, func(string, statebus.State, statebus.State) {
			c.EvaluateLocks()
		})
	}
}

// RequestStop sets the manual stop switch the same way a user would, as an
// unacknowledged write the controller then latches.
func (c *Controller) RequestStop(stop bool) {
	c.bus.Write(c.cfg.Keys.Published(KeyStopMowing), stop, false)
}

func (c *Controller) publish(name string, value any) {
	c.bus.Write(c.cfg.Keys.Published(name), value, true)
}

func (c *Controller) send(cmd actuator.Command) {
	if c.act == nil {
		c.debugf("no actuator, dropping %s", cmd)
		return
	}
	if err := c.act.Send(cmd); err != nil {
		log.Printf("controller: send %s: %v", cmd, err)
		return
	}
	c.debugf("sent %s", cmd)
}

func (c *Controller) readString(key string) string {
	if key == "" {
		return ""
	}
	st, ok := c.bus.Read(key)
	if !ok {
		return ""
	}
	return statebus.String(st.Value)
}

func (c *Controller) batteryLevel() float64 {
	if c.cfg.Keys.BatteryLevel == "" {
		return 0
	}
	st, ok := c.bus.Read(c.cfg.Keys.BatteryLevel)
	if !ok {
		return 0
	}
	level, _ := statebus.Float(st.Value)
	return level
}

// healthy treats a missing health value as OK.
func (c *Controller) healthy() bool {
	h := c.readString(c.cfg.Keys.Health)
	return h == "" || h == healthOK
}

// mowingActive reports whether the mower is out on the lawn and healthy.
func (c *Controller) mowingActive() bool {
	activity := c.readString(c.cfg.Keys.Activity)
	if activity == activitySearching {
		return false
	}
	return scheduler.ObservedState(activity) == scheduler.Mowing && c.healthy()
}

func (c *Controller) debugf(format string, args ...any) {
	if c.cfg.Debug {
		log.Printf("controller: "+format, args...)
	}
}
