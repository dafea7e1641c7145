// Package actuator turns controller decisions into mower commands.
package actuator

import (
	"fmt"
	"math"
	"strings"

	"github.com/joshp123/gomow/internal/statebus"
)

type Kind string

const (
	Start                  Kind = "START_SECONDS_TO_OVERRIDE"
	StartDontOverride      Kind = "START_DONT_OVERRIDE"
	ParkUntilNextTask      Kind = "PARK_UNTIL_NEXT_TASK"
	ParkUntilFurtherNotice Kind = "PARK_UNTIL_FURTHER_NOTICE"
)

// defaultStartSeconds is used for a start command whose duration cannot be read.
const defaultStartSeconds = 60

// Command is one mower command. Seconds is only meaningful for Start.
type Command struct {
	Kind    Kind
	Seconds int
}

// StartFor mows for the given number of minutes.
func StartFor(minutes int) Command {
	return Command{Kind: Start, Seconds: minutes * 60}
}

func Park() Command {
	return Command{Kind: ParkUntilFurtherNotice}
}

// IsPark reports whether the command parks the mower.
func (c Command) IsPark() bool {
	return c.Kind == ParkUntilFurtherNotice || c.Kind == ParkUntilNextTask
}

// Value is the command as written to the command key: whole seconds for a
// start, the command name otherwise.
func (c Command) Value() any {
	if c.Kind == Start {
		return c.Seconds
	}
	return string(c.Kind)
}

func (c Command) String() string {
	if c.Kind == Start {
		return fmt.Sprintf("START(%ds)", c.Seconds)
	}
	return string(c.Kind)
}

// Parse reads a command key value. Durations are truncated to whole minutes.
func Parse(value any) Command {
	if s, ok := value.(string); ok {
		switch k := Kind(strings.TrimSpace(s)); k {
		case ParkUntilFurtherNotice, ParkUntilNextTask, StartDontOverride:
			return Command{Kind: k}
		}
	}
	seconds := defaultStartSeconds
	if f, ok := statebus.Float(value); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		seconds = int(f)
	}
	if seconds < 0 {
		seconds = 0
	}
	return Command{Kind: Start, Seconds: seconds - seconds%60}
}

// Actuator delivers commands to the mower. Delivery is fire-and-forget; the
// controller converges on its next evaluation instead of retrying.
type Actuator interface {
	Send(cmd Command) error
}

// BusActuator writes commands as unacknowledged values on the command key,
// where a vendor bridge picks them up.
type BusActuator struct {
	bus statebus.Bus
	key string
}

func NewBusActuator(bus statebus.Bus, key string) *BusActuator {
	return &BusActuator{bus: bus, key: key}
}

func (a *BusActuator) Send(cmd Command) error {
	if a.key == "" {
		return fmt.Errorf("command key not configured")
	}
	a.bus.Write(a.key, cmd.Value(), false)
	return nil
}
