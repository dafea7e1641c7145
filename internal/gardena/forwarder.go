package gardena

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gomow/internal/actuator"
	"github.com/joshp123/gomow/internal/statebus"
)

const queueSize = 8

var commandsSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gomow_gardena_commands_total",
		Help: "Mower commands forwarded to the Gardena cloud by result",
	},
	[]string{"command", "result"},
)

// MetricsCollectors returns collectors for the forwarder.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{commandsSent}
}

// Sender delivers one command.
type Sender interface {
	Send(ctx context.Context, cmd actuator.Command) error
}

// Forwarder relays every command written to the bus command key to the cloud.
// Bus handlers only queue; delivery happens on the Run goroutine.
type Forwarder struct {
	bus     statebus.Bus
	key     string
	sender  Sender
	timeout time.Duration

	queue chan actuator.Command

	mu    sync.Mutex
	unsub func()
}

func NewForwarder(bus statebus.Bus, key string, sender Sender, timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Forwarder{
		bus:     bus,
		key:     key,
		sender:  sender,
		timeout: timeout,
		queue:   make(chan actuator.Command, queueSize),
	}
}

// Start subscribes to the command key.
func (f *Forwarder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsub != nil {
		return
	}
	f.unsub = f.bus.Subscribe(f.key, statebus.Commands, func(_ string, _, cur statebus.State) {
		cmd := actuator.Parse(cur.Value)
		select {
		case f.queue <- cmd:
		default:
			log.Printf("gardena: command queue full, dropping %s", cmd)
			commandsSent.WithLabelValues(string(cmd.Kind), "dropped").Inc()
		}
	})
}

// Run delivers queued commands until ctx is done.
func (f *Forwarder) Run(ctx context.Context) {
	defer f.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-f.queue:
			f.deliver(ctx, cmd)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, cmd actuator.Command) {
	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.sender.Send(sendCtx, cmd); err != nil {
		log.Printf("gardena: send %s: %v", cmd, err)
		commandsSent.WithLabelValues(string(cmd.Kind), "error").Inc()
		return
	}
	commandsSent.WithLabelValues(string(cmd.Kind), "ok").Inc()
	f.bus.Write(f.key, cmd.Value(), true)
}

func (f *Forwarder) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unsub != nil {
		f.unsub()
		f.unsub = nil
	}
}
