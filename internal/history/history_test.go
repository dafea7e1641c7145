package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/joshp123/gomow/internal/statebus"
)

var testKeys = Keys{Charge: "gomow.charging_history", Mow: "gomow.mowing_history", Today: "gomow.mowing_time_day"}

func newBus(now time.Time) *statebus.Memory {
	return statebus.NewMemory(func() time.Time { return now })
}

func TestLoadEmptyAndMalformed(t *testing.T) {
	now := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	bus := newBus(now)
	bus.Write(testKeys.Charge, "{not json", true)

	s := Load(bus, testKeys, now, nil)
	if len(s.Charge()) != 0 || len(s.Mow()) != 0 {
		t.Fatalf("expected empty histories")
	}
	if got := s.Today(now); got.Date != "2024-05-14" || got.Minutes != 0 {
		t.Fatalf("unexpected today: %+v", got)
	}
}

func TestLoadMigratesParallelArrays(t *testing.T) {
	now := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	bus := newBus(now)
	bus.Write(testKeys.Mow, `{"mowingTimes":[3600,4200],"mowingEndSoC":[35,30]}`, true)

	s := Load(bus, testKeys, now, nil)
	mow := s.Mow()
	if len(mow) != 2 {
		t.Fatalf("expected 2 migrated samples, got %d", len(mow))
	}
	if mow[1] != (MowSample{DurationSeconds: 4200, EndSoC: 30}) {
		t.Fatalf("unexpected migrated sample: %+v", mow[1])
	}

	s.SaveMow()
	st, _ := bus.Read(testKeys.Mow)
	var saved []MowSample
	if err := json.Unmarshal([]byte(st.Value.(string)), &saved); err != nil {
		t.Fatalf("saved history is not the record shape: %v", err)
	}
	if len(saved) != 2 || !st.Ack {
		t.Fatalf("unexpected saved history: %+v", st)
	}
}

func TestLoadRestoresFromSnapshot(t *testing.T) {
	now := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	bus := newBus(now)
	restore := map[string][]byte{testKeys.Charge: []byte(`[{"time":7200,"percentage":80}]`)}

	s := Load(bus, testKeys, now, restore)
	if got := s.Charge(); len(got) != 1 || got[0].DurationSeconds != 7200 {
		t.Fatalf("expected restored charge sample, got %+v", got)
	}
}

func TestAddChargeKeepsNewestTen(t *testing.T) {
	s := Load(newBus(time.Now()), testKeys, time.Now(), nil)
	for i := 0; i < 13; i++ {
		s.AddCharge(ChargeSample{DurationSeconds: float64(i), PercentageGained: 60})
	}
	got := s.Charge()
	if len(got) != MaxChargeSamples {
		t.Fatalf("expected %d samples, got %d", MaxChargeSamples, len(got))
	}
	if got[0].DurationSeconds != 3 || got[9].DurationSeconds != 12 {
		t.Fatalf("oldest samples must be evicted first: %+v", got)
	}
}

func TestTrimMowKeepsTenUnforced(t *testing.T) {
	var samples []MowSample
	for i := 0; i < 5; i++ {
		samples = append(samples, MowSample{DurationSeconds: float64(i), ForciblyStopped: i%2 == 0})
	}
	for i := 5; i < 15; i++ {
		samples = append(samples, MowSample{DurationSeconds: float64(i)})
	}

	got := TrimMow(samples)
	if len(got) != 10 {
		t.Fatalf("expected 10 samples, got %d", len(got))
	}
	if got[0].DurationSeconds != 5 || got[9].DurationSeconds != 14 {
		t.Fatalf("expected the newest entries, got %+v", got)
	}
}

func TestTrimMowKeepsForcedBetweenUnforced(t *testing.T) {
	var samples []MowSample
	for i := 0; i < 12; i++ {
		samples = append(samples, MowSample{DurationSeconds: float64(i)})
	}
	// Newest three were stopped early.
	for i := 12; i < 15; i++ {
		samples = append(samples, MowSample{DurationSeconds: float64(i), ForciblyStopped: true})
	}

	got := TrimMow(samples)
	if len(got) != 13 {
		t.Fatalf("expected 3 forced + 10 unforced, got %d", len(got))
	}
	if got[0].DurationSeconds != 2 {
		t.Fatalf("unexpected oldest kept sample: %+v", got[0])
	}
}

func TestAccumulateMowing(t *testing.T) {
	start := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	s := Load(newBus(start), testKeys, start, nil)

	if s.AccumulateMowing(start.Add(time.Minute), false) {
		t.Fatalf("parked observation must not count")
	}
	if !s.AccumulateMowing(start.Add(3*time.Minute), true) {
		t.Fatalf("mowing observation must count")
	}
	if got := s.Today(start.Add(3 * time.Minute)).Minutes; got != 2 {
		t.Fatalf("expected 2 minutes, got %v", got)
	}

	nextDay := time.Date(2024, 5, 15, 0, 1, 0, 0, time.UTC)
	s.AccumulateMowing(nextDay, true)
	if got := s.Today(nextDay); got.Date != "2024-05-15" || got.Minutes != 0 {
		t.Fatalf("expected a fresh day, got %+v", got)
	}
}

func TestLoadDoesNotCountDowntime(t *testing.T) {
	now := time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)
	bus := newBus(now)
	stale := MowingDay{Date: "2024-05-14", Minutes: 10, LastChange: now.Add(-3 * time.Hour).UnixMilli()}
	raw, _ := json.Marshal(stale)
	bus.Write(testKeys.Today, string(raw), true)

	s := Load(bus, testKeys, now, nil)
	s.AccumulateMowing(now, true)
	if got := s.MinutesToday(now); got != 10 {
		t.Fatalf("expected restored 10 minutes, got %v", got)
	}
	s.AccumulateMowing(now.Add(5*time.Minute), true)
	if got := s.MinutesToday(now.Add(5 * time.Minute)); got != 15 {
		t.Fatalf("expected 15 minutes after one observed interval, got %v", got)
	}
}

func TestMinutesTodayDoesNotRollOver(t *testing.T) {
	now := time.Date(2024, 5, 14, 12, 0, 0, 0, time.UTC)
	s := Load(newBus(now), testKeys, now, nil)
	s.AccumulateMowing(now.Add(4*time.Minute), true)

	nextDay := now.Add(24 * time.Hour)
	if got := s.MinutesToday(nextDay); got != 0 {
		t.Fatalf("expected 0 minutes on a new day, got %v", got)
	}
	if got := s.MinutesToday(now.Add(4 * time.Minute)); got != 4 {
		t.Fatalf("reading must not reset the stored day, got %v", got)
	}
}
