package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/joshp123/gomow/internal/controller"
	"github.com/joshp123/gomow/internal/scheduler"
)

type fixedSource controller.Snapshot

func (s fixedSource) Snapshot() controller.Snapshot { return controller.Snapshot(s) }

func gather(t *testing.T, source Source) map[string][]*dto.Metric {
	t.Helper()
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewCollector(source)); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string][]*dto.Metric)
	for _, mf := range families {
		out[mf.GetName()] = mf.GetMetric()
	}
	return out
}

func gaugeValue(t *testing.T, metrics map[string][]*dto.Metric, name string) float64 {
	t.Helper()
	m := metrics[name]
	if len(m) != 1 {
		t.Fatalf("%s: expected one sample, got %d", name, len(m))
	}
	return m[0].GetGauge().GetValue()
}

func TestCollectorReportsSnapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	metrics := gather(t, fixedSource{
		Started:                true,
		Activity:               "OK_CUTTING",
		Observed:               scheduler.Mowing,
		Desired:                scheduler.Park,
		Reason:                 scheduler.ReasonLocked,
		Locked:                 true,
		LockedUntil:            now.Add(time.Hour),
		BatteryLevel:           64,
		RemainingMowingSeconds: 1200,
		MowSamples:             7,
		ChargeSamples:          3,
		UpdatedAt:              now,
		LockStates: map[string]any{
			"weather.rain": map[string]any{"state": float64(now.Add(time.Hour).UnixMilli()), "since": 0.0},
			"gomow.stop":   map[string]any{"state": false, "since": 0.0},
		},
	})

	if got := gaugeValue(t, metrics, "gomow_controller_up"); got != 1 {
		t.Fatalf("up = %v", got)
	}
	if got := gaugeValue(t, metrics, "gomow_battery_level_percent"); got != 64 {
		t.Fatalf("battery = %v", got)
	}
	if got := gaugeValue(t, metrics, "gomow_locked_until_timestamp_seconds"); got != float64(now.Add(time.Hour).Unix()) {
		t.Fatalf("locked until = %v", got)
	}
	if got := gaugeValue(t, metrics, "gomow_next_start_timestamp_seconds"); got != 0 {
		t.Fatalf("next start = %v", got)
	}
	desired := metrics["gomow_desired_state"]
	if len(desired) != 1 {
		t.Fatalf("expected one desired state sample, got %d", len(desired))
	}
	labels := map[string]string{}
	for _, lp := range desired[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["state"] != "PARK" || labels["reason"] != "LOCKED" {
		t.Fatalf("desired labels = %v", labels)
	}
	if got := len(metrics["gomow_history_samples"]); got != 2 {
		t.Fatalf("history samples = %d", got)
	}
	active := 0.0
	for _, m := range metrics["gomow_lock_trigger_active_bool"] {
		active += m.GetGauge().GetValue()
	}
	if active != 1 {
		t.Fatalf("expected one locking trigger, got %v", active)
	}
}

func TestCollectorBeforeStart(t *testing.T) {
	metrics := gather(t, fixedSource{})
	if got := gaugeValue(t, metrics, "gomow_controller_up"); got != 0 {
		t.Fatalf("up = %v", got)
	}
	if _, ok := metrics["gomow_desired_state"]; ok {
		t.Fatalf("desired state reported before start")
	}
}
