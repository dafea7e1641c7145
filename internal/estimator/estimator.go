// Package estimator derives expected charge and mowing durations from the
// recorded cycle history.
package estimator

import (
	"errors"
	"math"

	"github.com/joshp123/gomow/internal/history"
	"github.com/joshp123/gomow/internal/mowtime"
)

// ErrMissingHistory means there are not enough usable samples for an estimate.
var ErrMissingHistory = errors.New("not enough history for an estimate")

// chargeTaper pads the estimate for the slow final part of the charge curve.
const chargeTaper = 1.5

// ChargeSeconds estimates how long charging neededSoC more percent takes.
func ChargeSeconds(samples []history.ChargeSample, neededSoC float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrMissingHistory
	}
	perPercent := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.PercentageGained <= 0 {
			continue
		}
		perPercent = append(perPercent, s.DurationSeconds/s.PercentageGained)
	}
	avg, ok := mowtime.CleanAverage(perPercent)
	if !ok || avg <= 0 {
		return 0, ErrMissingHistory
	}
	return (neededSoC + chargeTaper) * avg, nil
}

// MowingEstimate is the projected remaining run time for the current battery.
type MowingEstimate struct {
	RemainingSeconds  float64
	SecondsPerPercent float64
	AverageEndSoC     float64
}

// MowingRemaining estimates how long the mower keeps mowing from currentSoC
// until it typically returns to charge.
func MowingRemaining(samples []history.MowSample, currentSoC float64) (MowingEstimate, error) {
	if len(samples) == 0 {
		return MowingEstimate{}, ErrMissingHistory
	}
	perPercent := make([]float64, 0, len(samples))
	var endSoCs []float64
	for _, s := range samples {
		used := 100 - s.EndSoC
		if used > 0 {
			perPercent = append(perPercent, s.DurationSeconds/used)
		}
		if !s.ForciblyStopped {
			endSoCs = append(endSoCs, s.EndSoC)
		}
	}

	avgPerPercent, ok := mowtime.CleanAverage(perPercent)
	if !ok || avgPerPercent <= 0 {
		return MowingEstimate{}, ErrMissingHistory
	}
	avgEndSoC, ok := mowtime.CleanAverage(endSoCs)
	if !ok {
		return MowingEstimate{}, ErrMissingHistory
	}

	return MowingEstimate{
		RemainingSeconds:  math.Max(0, (currentSoC-avgEndSoC)*avgPerPercent),
		SecondsPerPercent: avgPerPercent,
		AverageEndSoC:     avgEndSoC,
	}, nil
}
