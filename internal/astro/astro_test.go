package astro

import (
	"testing"
	"time"
)

func TestLocationBerlinSummer(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, berlin)
	loc := Location{Latitude: 52.52, Longitude: 13.405}

	rise := loc.Sunrise(day)
	set := loc.Sunset(day)

	// Published almanac values: 04:43 and 21:33 local.
	wantRise := time.Date(2024, 6, 21, 4, 43, 0, 0, berlin)
	wantSet := time.Date(2024, 6, 21, 21, 33, 0, 0, berlin)
	if diff := rise.Sub(wantRise); diff < -5*time.Minute || diff > 5*time.Minute {
		t.Fatalf("sunrise off by %s: %s", diff, rise)
	}
	if diff := set.Sub(wantSet); diff < -5*time.Minute || diff > 5*time.Minute {
		t.Fatalf("sunset off by %s: %s", diff, set)
	}
}

func TestFixed(t *testing.T) {
	f := Fixed{Rise: 6*time.Hour + 30*time.Minute, Set: 20 * time.Hour}
	day := time.Date(2024, 3, 2, 15, 4, 0, 0, time.UTC)

	if got := f.Sunrise(day); !got.Equal(time.Date(2024, 3, 2, 6, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected sunrise: %s", got)
	}
	if got := f.Sunset(day); !got.Equal(time.Date(2024, 3, 2, 20, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected sunset: %s", got)
	}
}
