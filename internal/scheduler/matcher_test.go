package scheduler

import (
	"errors"
	"testing"
	"time"

	"medminder/internal/medicine"
)

func med(id string, active bool, times ...string) medicine.Medicine {
	ts, rejected := medicine.ParseTimes(times)
	return medicine.Medicine{ID: id, OwnerID: "ana", Active: active, Times: ts, RejectedTimes: rejected, DoseSize: 1, RemainingDoses: 10}
}

func TestMatch(t *testing.T) {
	t.Parallel()
	utc := time.UTC
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	at := func(loc *time.Location, hh, mm, ss int) time.Time { return time.Date(2025, 3, 1, hh, mm, ss, 0, loc) }

	tests := []struct {
		name      string
		now       time.Time
		loc       *time.Location
		meds      []medicine.Medicine
		wantDue   []string
		malformed int
	}{
		{name: "exact minute", now: at(utc, 8, 0, 42), loc: utc, meds: []medicine.Medicine{med("a", true, "08:00", "20:00")}, wantDue: []string{"a"}},
		{name: "no tolerance window", now: at(utc, 8, 1, 0), loc: utc, meds: []medicine.Medicine{med("a", true, "08:00")}},
		{name: "inactive never matches", now: at(utc, 8, 0, 0), loc: utc, meds: []medicine.Medicine{med("a", false, "08:00")}},
		{name: "several medicines", now: at(utc, 20, 0, 0), loc: utc, meds: []medicine.Medicine{med("a", true, "08:00", "20:00"), med("b", true, "20:00"), med("c", true, "21:00")}, wantDue: []string{"a", "b"}},
		{name: "read in configured location", now: at(utc, 6, 0, 0), loc: plus2, meds: []medicine.Medicine{med("a", true, "08:00"), med("b", true, "06:00")}, wantDue: []string{"a"}},
		{name: "malformed reported not fatal", now: at(utc, 8, 0, 0), loc: utc, meds: []medicine.Medicine{med("a", true, "8am", "08:00", "24:00")}, wantDue: []string{"a"}, malformed: 2},
		{name: "malformed on inactive still reported", now: at(utc, 8, 0, 0), loc: utc, meds: []medicine.Medicine{med("a", false, "x")}, malformed: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := Match(tt.now, tt.loc, tt.meds)
			if len(res.Due) != len(tt.wantDue) {
				t.Fatalf("due=%+v want %v", res.Due, tt.wantDue)
			}
			for i, d := range res.Due {
				if d.Medicine.ID != tt.wantDue[i] {
					t.Fatalf("due[%d]=%s want %s", i, d.Medicine.ID, tt.wantDue[i])
				}
				if d.ScheduledAt.Second() != 0 || !d.Time.Matches(d.ScheduledAt) {
					t.Fatalf("scheduledAt=%v for %s", d.ScheduledAt, d.Time)
				}
			}
			if len(res.Malformed) != tt.malformed {
				t.Fatalf("malformed=%+v want %d", res.Malformed, tt.malformed)
			}
			for _, mf := range res.Malformed {
				if !errors.Is(mf.Err, medicine.ErrMalformedTime) {
					t.Fatalf("malformed err=%v", mf.Err)
				}
			}
		})
	}
}

func TestMatchScheduledAtCarriesDay(t *testing.T) {
	t.Parallel()
	m := med("a", true, "08:00")
	d1 := Match(time.Date(2025, 3, 1, 8, 0, 5, 0, time.UTC), time.UTC, []medicine.Medicine{m})
	d2 := Match(time.Date(2025, 3, 2, 8, 0, 5, 0, time.UTC), time.UTC, []medicine.Medicine{m})
	if len(d1.Due) != 1 || len(d2.Due) != 1 {
		t.Fatalf("due counts %d/%d", len(d1.Due), len(d2.Due))
	}
	if !d1.Due[0].ScheduledAt.Equal(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("scheduledAt=%v", d1.Due[0].ScheduledAt)
	}
	if d1.Due[0].ScheduledAt.Equal(d2.Due[0].ScheduledAt) {
		t.Fatalf("different days must yield different slots")
	}
}

func TestMatchDeduplicatesTimes(t *testing.T) {
	t.Parallel()
	m := medicine.Medicine{ID: "a", Active: true, Times: []medicine.TimeOfDay{medicine.MustTimeOfDay("08:00"), medicine.MustTimeOfDay("8:00")}}
	res := Match(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), time.UTC, []medicine.Medicine{m})
	if len(res.Due) != 1 {
		t.Fatalf("due=%+v", res.Due)
	}
}
