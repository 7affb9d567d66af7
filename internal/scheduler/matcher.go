package scheduler

import (
	"fmt"
	"time"

	"medminder/internal/medicine"
)

// Due is one medicine whose configured time equals the current minute.
type Due struct {
	Medicine    medicine.Medicine
	Time        medicine.TimeOfDay
	ScheduledAt time.Time
}

// MalformedEntry is a configured time that failed validation. It is reported
// on every tick and never stops the others.
type MalformedEntry struct {
	MedicineID string
	Raw        string
	Err        error
}

type MatchResult struct {
	Due       []Due
	Malformed []MalformedEntry
}

// Match compares now (read in loc) against every medicine's times with exact
// hour:minute equality. A medicine listing the same time twice still yields
// one Due.
func Match(now time.Time, loc *time.Location, meds []medicine.Medicine) MatchResult {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)

	var res MatchResult
	for _, m := range meds {
		for _, raw := range m.RejectedTimes {
			res.Malformed = append(res.Malformed, MalformedEntry{
				MedicineID: m.ID,
				Raw:        raw,
				Err:        fmt.Errorf("medicine %s: %w: %q", m.ID, medicine.ErrMalformedTime, raw),
			})
		}
		if !m.Active {
			continue
		}
		seen := make(map[int]struct{}, len(m.Times))
		for _, t := range m.Times {
			if !t.Matches(local) {
				continue
			}
			if _, dup := seen[t.MinuteOfDay()]; dup {
				continue
			}
			seen[t.MinuteOfDay()] = struct{}{}
			res.Due = append(res.Due, Due{Medicine: m, Time: t, ScheduledAt: t.On(local, loc)})
		}
	}
	return res
}
