// Package astro computes local sunrise and sunset times.
package astro

import (
	"math"
	"time"
)

// Clock resolves the astronomical events a day schedule can refer to.
type Clock interface {
	Sunrise(day time.Time) time.Time
	Sunset(day time.Time) time.Time
}

// Location computes sunrise and sunset for a fixed position using the NOAA
// sunrise equation. Accuracy is within a couple of minutes outside polar regions.
type Location struct {
	Latitude  float64
	Longitude float64
}

const (
	julianUnixEpoch = 2440587.5
	julian2000      = 2451545.0
	sunAltitude     = -0.833
	earthTilt       = 23.44
)

func (l Location) Sunrise(day time.Time) time.Time {
	rise, _ := l.events(day)
	return rise
}

func (l Location) Sunset(day time.Time) time.Time {
	_, set := l.events(day)
	return set
}

func (l Location) events(day time.Time) (time.Time, time.Time) {
	loc := day.Location()
	noon := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, time.UTC)
	jd := float64(noon.Unix())/86400 + julianUnixEpoch
	n := math.Round(jd - julian2000 + 0.0008)

	meanSolar := n - l.Longitude/360
	anomaly := math.Mod(357.5291+0.98560028*meanSolar, 360)
	m := rad(anomaly)
	center := 1.9148*math.Sin(m) + 0.02*math.Sin(2*m) + 0.0003*math.Sin(3*m)
	ecliptic := rad(math.Mod(anomaly+center+180+102.9372, 360))
	transit := julian2000 + meanSolar + 0.0053*math.Sin(m) - 0.0069*math.Sin(2*ecliptic)

	sinDecl := math.Sin(ecliptic) * math.Sin(rad(earthTilt))
	cosDecl := math.Cos(math.Asin(sinDecl))
	lat := rad(l.Latitude)
	cosHour := (math.Sin(rad(sunAltitude)) - math.Sin(lat)*sinDecl) / (math.Cos(lat) * cosDecl)

	var hourAngle float64
	switch {
	case cosHour >= 1:
		hourAngle = 0
	case cosHour <= -1:
		hourAngle = 180
	default:
		hourAngle = deg(math.Acos(cosHour))
	}

	rise := fromJulian(transit - hourAngle/360).In(loc)
	set := fromJulian(transit + hourAngle/360).In(loc)
	return rise, set
}

func fromJulian(jd float64) time.Time {
	secs := (jd - julianUnixEpoch) * 86400
	whole := math.Floor(secs)
	return time.Unix(int64(whole), int64((secs-whole)*1e9)).Truncate(time.Second)
}

func rad(d float64) float64 { return d * math.Pi / 180 }

func deg(r float64) float64 { return r * 180 / math.Pi }

// Fixed returns the same local times of day for every date.
type Fixed struct {
	Rise time.Duration
	Set  time.Duration
}

func (f Fixed) Sunrise(day time.Time) time.Time {
	return midnight(day).Add(f.Rise)
}

func (f Fixed) Sunset(day time.Time) time.Time {
	return midnight(day).Add(f.Set)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
