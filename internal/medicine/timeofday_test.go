package medicine

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "08:00", want: "08:00"},
		{raw: "8:05", want: "08:05"},
		{raw: " 23:59 ", want: "23:59"},
		{raw: "00:00", want: "00:00"},
		{raw: "24:00", wantErr: true},
		{raw: "25:99", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "1200", wantErr: true},
		{raw: "12:5", wantErr: true},
		{raw: "ab:cd", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTimeOfDay(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedTime) {
					t.Fatalf("ParseTimeOfDay(%q) err = %v, want ErrMalformedTime", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) error: %v", tt.raw, err)
			}
			if got.String() != tt.want {
				t.Fatalf("String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseTimesSortsDedupesAndRejects(t *testing.T) {
	t.Parallel()
	times, rejected := ParseTimes([]string{"20:00", "08:00", "25:99", "8:00", "bogus"})
	if len(times) != 2 || times[0].String() != "08:00" || times[1].String() != "20:00" {
		t.Fatalf("times = %v", times)
	}
	if len(rejected) != 2 || rejected[0] != "25:99" || rejected[1] != "bogus" {
		t.Fatalf("rejected = %v", rejected)
	}
}

func TestMatchesAndOn(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	tod := MustTimeOfDay("08:00")

	if !tod.Matches(time.Date(2024, 3, 1, 8, 0, 42, 0, loc)) {
		t.Fatal("expected 08:00:42 to match 08:00")
	}
	if tod.Matches(time.Date(2024, 3, 1, 8, 1, 0, 0, loc)) {
		t.Fatal("08:01 must not match 08:00")
	}

	at := tod.On(time.Date(2024, 3, 1, 8, 0, 42, 0, loc), loc)
	if !at.Equal(time.Date(2024, 3, 1, 8, 0, 0, 0, loc)) {
		t.Fatalf("On = %s", at)
	}
}

func TestFormatSplitTimesRoundTrip(t *testing.T) {
	t.Parallel()
	times, rejected := ParseTimes(SplitTimes("08:00, 20:00,99:99"))
	s := FormatTimes(times, rejected)
	if s != "08:00,20:00,99:99" {
		t.Fatalf("FormatTimes = %q", s)
	}
}
