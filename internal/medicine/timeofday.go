package medicine

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedTime marks a configured time that is not a valid HH:MM (24h) value.
var ErrMalformedTime = errors.New("malformed schedule time")

// TimeOfDay is a validated wall-clock time (hour 0-23, minute 0-59) with no
// timezone. It is resolved against a location only when matched or anchored
// to a calendar day.
type TimeOfDay struct {
	hour   uint8
	minute uint8
}

// ParseTimeOfDay parses "H:MM" or "HH:MM" in 24-hour form.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: %q, expected HH:MM", ErrMalformedTime, raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid hour in %q", ErrMalformedTime, raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid minute in %q", ErrMalformedTime, raw)
	}
	return TimeOfDay{hour: uint8(h), minute: uint8(m)}, nil
}

// MustTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustTimeOfDay(raw string) TimeOfDay {
	t, err := ParseTimeOfDay(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) Hour() int   { return int(t.hour) }
func (t TimeOfDay) Minute() int { return int(t.minute) }

// MinuteOfDay returns minutes since midnight (0..1439).
func (t TimeOfDay) MinuteOfDay() int { return int(t.hour)*60 + int(t.minute) }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.hour, t.minute) }

// Matches reports exact hour:minute equality with now, read in now's location.
func (t TimeOfDay) Matches(now time.Time) bool {
	return now.Hour() == int(t.hour) && now.Minute() == int(t.minute)
}

// On anchors t to the calendar day of day (read in loc).
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), int(t.hour), int(t.minute), 0, 0, loc)
}

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseTimes validates raw configured times once, at the storage/config boundary.
// Valid entries come back sorted and de-duplicated; invalid ones are returned
// verbatim so the scheduler can report them instead of failing.
func ParseTimes(raw []string) (times []TimeOfDay, rejected []string) {
	seen := make(map[TimeOfDay]struct{}, len(raw))
	for _, r := range raw {
		t, err := ParseTimeOfDay(r)
		if err != nil {
			rejected = append(rejected, r)
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].MinuteOfDay() < times[j].MinuteOfDay() })
	return times, rejected
}

// FormatTimes is the inverse of ParseTimes for persistence (comma separated).
func FormatTimes(times []TimeOfDay, rejected []string) string {
	parts := make([]string, 0, len(times)+len(rejected))
	for _, t := range times {
		parts = append(parts, t.String())
	}
	parts = append(parts, rejected...)
	return strings.Join(parts, ",")
}

// SplitTimes splits a persisted comma separated list.
func SplitTimes(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
