// Package history keeps the bounded charge and mow cycle samples the duration
// estimator learns from, plus today's accumulated mowing minutes.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joshp123/gomow/internal/mowtime"
	"github.com/joshp123/gomow/internal/statebus"
)

const (
	MaxChargeSamples   = 10
	KeepUnforcedMows   = 10
	MinMowDuration     = 30 * time.Minute
	FullChargeSoC      = 99
	MinChargeGainedPct = 50
)

// ChargeSample is one completed charge cycle.
type ChargeSample struct {
	DurationSeconds  float64 `json:"time"`
	PercentageGained float64 `json:"percentage"`
}

// MowSample is one completed mowing run.
type MowSample struct {
	DurationSeconds float64 `json:"time"`
	EndSoC          float64 `json:"soc"`
	ForciblyStopped bool    `json:"stopped"`
}

// MowingDay is the running total of minutes mowed on Date.
type MowingDay struct {
	Date       string  `json:"date"`
	Minutes    float64 `json:"time"`
	LastChange int64   `json:"lastchange"`
}

// legacyMowHistory is the parallel-array shape written by older versions.
type legacyMowHistory struct {
	MowingTimes  []float64 `json:"mowingTimes"`
	MowingEndSoC []float64 `json:"mowingEndSoC"`
}

// Keys names the bus keys the histories persist to.
type Keys struct {
	Charge string
	Mow    string
	Today  string
}

// Store owns the in-memory histories; the bus copy is only written on Save.
type Store struct {
	bus  statebus.Bus
	keys Keys

	charge []ChargeSample
	mow    []MowSample
	today  MowingDay
}

// Load reads persisted histories. Missing or malformed values fall back to the
// matching entry in restore (a blob mirror snapshot, may be nil) and then to empty.
func Load(bus statebus.Bus, keys Keys, now time.Time, restore map[string][]byte) *Store {
	s := &Store{bus: bus, keys: keys}

	if raw := s.raw(keys.Charge, restore); raw != nil {
		charge, err := DecodeCharge(raw)
		if err != nil {
			log.Printf("history: charging history unreadable, starting empty: %v", err)
		}
		s.charge = charge
	}

	if raw := s.raw(keys.Mow, restore); raw != nil {
		mow, migrated, err := DecodeMow(raw)
		if err != nil {
			log.Printf("history: mowing history unreadable, starting empty: %v", err)
		}
		s.mow = mow
		if migrated {
			log.Printf("history: migrated %d mowing entries from parallel arrays", len(mow))
		}
	}

	if raw := s.raw(keys.Today, restore); raw != nil {
		var day MowingDay
		if err := json.Unmarshal(raw, &day); err != nil {
			log.Printf("history: mowing day unreadable, resetting: %v", err)
		} else {
			s.today = day
		}
	}
	if s.today.Date == "" {
		s.today = MowingDay{Date: mowtime.DayKey(now), LastChange: now.UnixMilli()}
	}
	// Time before the restart was not observed.
	s.today.LastChange = now.UnixMilli()

	return s
}

func (s *Store) raw(key string, restore map[string][]byte) []byte {
	if key == "" {
		return nil
	}
	if st, ok := s.bus.Read(key); ok && st.Value != nil {
		switch v := st.Value.(type) {
		case string:
			if v != "" {
				return []byte(v)
			}
		default:
			if data, err := json.Marshal(v); err == nil {
				return data
			}
		}
	}
	if data, ok := restore[key]; ok && len(data) > 0 {
		return data
	}
	return nil
}

// DecodeCharge parses a persisted charging history.
func DecodeCharge(raw []byte) ([]ChargeSample, error) {
	var out []ChargeSample
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode charging history: %w", err)
	}
	return out, nil
}

// DecodeMow parses a persisted mowing history, migrating the legacy shape.
func DecodeMow(raw []byte) ([]MowSample, bool, error) {
	var out []MowSample
	err := json.Unmarshal(raw, &out)
	if err == nil {
		return out, false, nil
	}

	var legacy legacyMowHistory
	if lerr := json.Unmarshal(raw, &legacy); lerr != nil {
		return nil, false, fmt.Errorf("decode mowing history: %w", err)
	}
	if len(legacy.MowingTimes) == 0 {
		return nil, false, errors.New("decode mowing history: unknown shape")
	}
	out = make([]MowSample, 0, len(legacy.MowingTimes))
	for i, duration := range legacy.MowingTimes {
		sample := MowSample{DurationSeconds: duration}
		if i < len(legacy.MowingEndSoC) {
			sample.EndSoC = legacy.MowingEndSoC[i]
		}
		out = append(out, sample)
	}
	return out, true, nil
}

func (s *Store) Charge() []ChargeSample {
	return append([]ChargeSample(nil), s.charge...)
}

func (s *Store) Mow() []MowSample {
	return append([]MowSample(nil), s.mow...)
}

// AddCharge records a finished charge and keeps the newest MaxChargeSamples.
func (s *Store) AddCharge(sample ChargeSample) {
	s.charge = append(s.charge, sample)
	if over := len(s.charge) - MaxChargeSamples; over > 0 {
		s.charge = append([]ChargeSample(nil), s.charge[over:]...)
	}
}

// AddMow records a finished run and trims the history.
func (s *Store) AddMow(sample MowSample) {
	s.mow = TrimMow(append(s.mow, sample))
}

// TrimMow walks from the newest sample backwards and drops everything older
// than the KeepUnforcedMows-th sample that was not forcibly stopped.
func TrimMow(samples []MowSample) []MowSample {
	keep, unforced := 0, 0
	for i := len(samples) - 1; i >= 0; i-- {
		keep++
		if !samples[i].ForciblyStopped {
			unforced++
			if unforced >= KeepUnforcedMows {
				break
			}
		}
	}
	if keep == len(samples) {
		return samples
	}
	return append([]MowSample(nil), samples[len(samples)-keep:]...)
}

// Today returns today's mowing total, starting a new day when the date changed.
func (s *Store) Today(now time.Time) MowingDay {
	s.rollover(now)
	return s.today
}

// AccumulateMowing books the time since the last observation onto today's
// total when the mower is seen mowing. Returns true when the total changed.
func (s *Store) AccumulateMowing(now time.Time, mowing bool) bool {
	s.rollover(now)
	last := time.UnixMilli(s.today.LastChange)
	s.today.LastChange = now.UnixMilli()
	if !mowing || mowtime.DayKey(last.In(now.Location())) != s.today.Date {
		return false
	}
	delta := now.Sub(last)
	if delta <= 0 {
		return false
	}
	s.today.Minutes += delta.Minutes()
	return true
}

// MinutesToday reads today's total without starting a new day.
func (s *Store) MinutesToday(now time.Time) float64 {
	if s.today.Date != mowtime.DayKey(now) {
		return 0
	}
	return s.today.Minutes
}

func (s *Store) rollover(now time.Time) {
	key := mowtime.DayKey(now)
	if s.today.Date != key {
		s.today = MowingDay{Date: key, LastChange: now.UnixMilli()}
	}
}

// Save persists all histories as acknowledged bus values.
func (s *Store) Save() {
	s.SaveCharge()
	s.SaveMow()
	s.SaveToday()
}

func (s *Store) SaveCharge() {
	s.write(s.keys.Charge, s.charge)
}

func (s *Store) SaveMow() {
	s.write(s.keys.Mow, s.mow)
}

func (s *Store) SaveToday() {
	s.write(s.keys.Today, s.today)
}

func (s *Store) write(key string, value any) {
	data, err := s.encode(value)
	if err != nil {
		log.Printf("history: encode %s: %v", key, err)
		return
	}
	s.bus.Write(key, string(data), true)
}

func (s *Store) encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case []ChargeSample:
		if v == nil {
			v = []ChargeSample{}
		}
		return json.Marshal(v)
	case []MowSample:
		if v == nil {
			v = []MowSample{}
		}
		return json.Marshal(v)
	default:
		return json.Marshal(v)
	}
}

// Snapshot returns the persisted form of every history keyed by bus key.
func (s *Store) Snapshot() map[string][]byte {
	out := make(map[string][]byte, 3)
	for key, value := range map[string]any{
		s.keys.Charge: s.charge,
		s.keys.Mow:    s.mow,
		s.keys.Today:  s.today,
	} {
		if data, err := s.encode(value); err == nil {
			out[key] = data
		}
	}
	return out
}
