package rate

import "time"

// Window is a provider rate-limit bucket.
type Window int

const (
	Second Window = iota
	Minute
	Day
)

func (w Window) String() string {
	switch w {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) duration() time.Duration {
	switch w {
	case Second:
		return time.Second
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Headers names the response headers a provider reports its limits in.
type Headers struct {
	RemainingDay string
	RetryAfter   string
}

// HusqvarnaHeaders is the header mapping of the Husqvarna / Gardena cloud.
func HusqvarnaHeaders() Headers {
	return Headers{
		RemainingDay: "X-RateLimit-Remaining",
		RetryAfter:   "Retry-After",
	}
}

// Declaration defines a provider's limits.
type Declaration struct {
	provider   string
	limits     map[Window]int
	dailyFloor int
	headers    Headers
	backoff429 time.Duration
}

// Provider starts a declaration for name.
func Provider(name string) Declaration {
	return Declaration{provider: name, backoff429: time.Minute}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// KeepDailyReserve refuses calls once the provider reports at most floor
// requests left for the day.
func (d Declaration) KeepDailyReserve(floor int) Declaration {
	d.dailyFloor = floor
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

// BackoffOnTooManyRequests sets the cooldown used for a 429 without Retry-After.
func (d Declaration) BackoffOnTooManyRequests(cooldown time.Duration) Declaration {
	d.backoff429 = cooldown
	return d
}
