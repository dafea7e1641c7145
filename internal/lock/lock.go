// Package lock decides whether external conditions (rain, frost, irrigation,
// a manual stop switch) currently forbid mowing, and until when.
package lock

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joshp123/gomow/internal/statebus"
)

// Mode is how a trigger value is compared with the rule's threshold.
type Mode int

const (
	Equal Mode = iota
	LessThan
	GreaterThan
)

func (m Mode) String() string {
	switch m {
	case LessThan:
		return "lower"
	case GreaterThan:
		return "greater"
	default:
		return "equal"
	}
}

// ParseMode accepts the configuration spellings of a comparison mode.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "equal", "eq":
		return Equal, nil
	case "lower", "less", "less_than", "lt":
		return LessThan, nil
	case "greater", "greater_than", "gt":
		return GreaterThan, nil
	default:
		return Equal, fmt.Errorf("unknown lock mode %q", value)
	}
}

// Rule is one configured lock condition.
type Rule struct {
	Trigger string
	Value   any
	Mode    Mode
	// ReleaseDelay is in minutes, or a factor of the active time when
	// ReleaseDelayMultiplier is set.
	ReleaseDelay           float64
	ReleaseDelayMultiplier bool
}

// Matches reports whether value activates the rule.
func (r Rule) Matches(value any) bool {
	switch r.Mode {
	case LessThan, GreaterThan:
		a, ok := statebus.Float(value)
		if !ok {
			return false
		}
		b, ok := statebus.Float(r.Value)
		if !ok {
			return false
		}
		if r.Mode == LessThan {
			return a < b
		}
		return a > b
	default:
		if statebus.Equal(value, r.Value) {
			return true
		}
		if a, ok := statebus.Float(value); ok {
			if b, ok := statebus.Float(r.Value); ok {
				return a == b
			}
		}
		return value != nil && statebus.String(value) == statebus.String(r.Value)
	}
}

// releaseAt computes when a lock that just went inactive lets go.
func (r Rule) releaseAt(changed, since time.Time) time.Time {
	if r.ReleaseDelayMultiplier {
		active := changed.Sub(since)
		if since.IsZero() || active < 0 {
			active = 0
		}
		return changed.Add(time.Duration(r.ReleaseDelay * float64(active)))
	}
	return changed.Add(time.Duration(r.ReleaseDelay * float64(time.Minute)))
}

// Status is the per-rule lock state: inactive, indefinitely active, or
// waiting for ReleaseAt.
type Status struct {
	Indefinite bool
	ReleaseAt  time.Time
	Since      time.Time
}

// Active reports whether the status still locks at now.
func (s Status) Active(now time.Time) bool {
	return s.Indefinite || s.ReleaseAt.After(now)
}

type statusJSON struct {
	State json.RawMessage `json:"state"`
	Since int64           `json:"since"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	var state json.RawMessage
	switch {
	case s.Indefinite:
		state = json.RawMessage("true")
	case !s.ReleaseAt.IsZero():
		state = json.RawMessage(fmt.Sprintf("%d", s.ReleaseAt.UnixMilli()))
	default:
		state = json.RawMessage("false")
	}
	return json.Marshal(statusJSON{State: state, Since: statebus.Millis(s.Since)})
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw statusJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Status{Since: statebus.FromMillis(raw.Since)}
	var state any
	if len(raw.State) > 0 {
		if err := json.Unmarshal(raw.State, &state); err != nil {
			return err
		}
	}
	switch v := state.(type) {
	case bool:
		s.Indefinite = v
	case float64:
		s.ReleaseAt = statebus.FromMillis(v)
	}
	return nil
}

// Verdict is the combined result over all rules.
type Verdict struct {
	Locked     bool
	Indefinite bool
	Until      time.Time
}

// Reader returns a trigger's current value and when it last changed.
type Reader func(trigger string) (value any, lastChange time.Time, ok bool)

// Arbiter evaluates the configured rules and owns their persisted states.
type Arbiter struct {
	rules  []Rule
	states map[string]Status
}

func NewArbiter(rules []Rule) *Arbiter {
	return &Arbiter{
		rules:  append([]Rule(nil), rules...),
		states: make(map[string]Status),
	}
}

func (a *Arbiter) Rules() []Rule {
	return append([]Rule(nil), a.rules...)
}

// Triggers lists the keys the arbiter watches.
func (a *Arbiter) Triggers() []string {
	out := make([]string, 0, len(a.rules))
	for _, r := range a.rules {
		out = append(out, r.Trigger)
	}
	return out
}

// Restore loads persisted states, ignoring triggers no longer configured.
func (a *Arbiter) Restore(raw []byte) error {
	var stored map[string]Status
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("decode lock states: %w", err)
	}
	for _, r := range a.rules {
		if st, ok := stored[r.Trigger]; ok {
			a.states[r.Trigger] = st
		}
	}
	return nil
}

// Marshal returns the persisted form of the lock states.
func (a *Arbiter) Marshal() ([]byte, error) {
	return json.Marshal(a.states)
}

// Status returns the current state of one trigger.
func (a *Arbiter) Status(trigger string) Status {
	return a.states[trigger]
}

// Evaluate updates every rule from its trigger and combines the result.
func (a *Arbiter) Evaluate(now time.Time, read Reader) Verdict {
	for _, r := range a.rules {
		st := a.states[r.Trigger]
		value, changed, ok := read(r.Trigger)
		if changed.IsZero() {
			changed = now
		}

		switch {
		case ok && r.Matches(value):
			st = Status{Indefinite: true, Since: changed}
		case st.Indefinite:
			st.Indefinite = false
			if r.ReleaseDelay > 0 {
				st.ReleaseAt = r.releaseAt(changed, st.Since)
			} else {
				st.ReleaseAt = time.Time{}
			}
		}
		a.states[r.Trigger] = st
	}

	var v Verdict
	for _, r := range a.rules {
		st := a.states[r.Trigger]
		switch {
		case st.Indefinite:
			v.Locked = true
			v.Indefinite = true
		case st.ReleaseAt.After(now):
			v.Locked = true
			if st.ReleaseAt.After(v.Until) {
				v.Until = st.ReleaseAt
			}
		default:
			a.states[r.Trigger] = Status{Since: now}
		}
	}
	if v.Indefinite {
		v.Until = time.Time{}
	}
	return v
}
