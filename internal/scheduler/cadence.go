// Package scheduler computes when rebalance cycles and expiration sweeps fire.
package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Kind of cadence.
type Kind string

const (
	Weekly Kind = "weekly"
	Daily  Kind = "daily"
)

// Cadence is a recurring wall-clock trigger in a fixed timezone.
type Cadence struct {
	Kind    Kind
	Weekday time.Weekday
	Hour    int
	Minute  int
	Loc     *time.Location
}

// NewCadence parses the textual cadence settings.
func NewCadence(kind, weekday, at, tz string) (Cadence, error) {
	c := Cadence{Kind: Kind(strings.ToLower(strings.TrimSpace(kind)))}
	if c.Kind != Weekly && c.Kind != Daily {
		return Cadence{}, fmt.Errorf("unknown cadence kind %q", kind)
	}

	wd, err := ParseWeekday(weekday)
	if err != nil {
		if c.Kind == Weekly {
			return Cadence{}, err
		}
		wd = time.Friday
	}
	c.Weekday = wd

	if at == "" {
		at = "15:30"
	}
	t, err := time.Parse("15:04", at)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid time of day %q: %w", at, err)
	}
	c.Hour, c.Minute = t.Hour(), t.Minute()

	if tz == "" {
		tz = "America/New_York"
	}
	c.Loc, err = time.LoadLocation(tz)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return c, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// Next returns the first trigger strictly after t.
func (c Cadence) Next(t time.Time) time.Time {
	local := t.In(c.Loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, c.Loc)
	for !candidate.After(local) || !c.matches(candidate) {
		candidate = candidate.AddDate(0, 0, 1)
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), c.Hour, c.Minute, 0, 0, c.Loc)
	}
	return candidate
}

// Due reports whether a trigger fell in (last, now].
func (c Cadence) Due(last, now time.Time) bool {
	return !c.Next(last).After(now)
}

// Between lists every trigger in (from, to], oldest first.
func (c Cadence) Between(from, to time.Time) []time.Time {
	var out []time.Time
	for t := c.Next(from); !t.After(to); t = c.Next(t) {
		out = append(out, t)
	}
	return out
}

func (c Cadence) matches(t time.Time) bool {
	switch c.Kind {
	case Weekly:
		return t.Weekday() == c.Weekday
	default:
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
}

func (c Cadence) String() string {
	if c.Kind == Weekly {
		return fmt.Sprintf("weekly on %s at %02d:%02d %s", c.Weekday, c.Hour, c.Minute, c.Loc)
	}
	return fmt.Sprintf("weekdays at %02d:%02d %s", c.Hour, c.Minute, c.Loc)
}
