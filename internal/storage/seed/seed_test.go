package seed

import (
	"strings"
	"testing"

	"medminder/internal/medicine"
)

func TestParseDefaults(t *testing.T) {
	t.Parallel()
	d, err := Parse([]byte(`owners:
  - id: ana
    caregivers:
      - address: bo@example.com
        notify_on_missed: true
medicines:
  - id: aspirin
    owner_id: ana
    times: ["20:00", "08:00", "08:00", "noon"]
  - id: zinc
    owner_id: ana
    active: false
    dose_size: 2
    frequency: weekly
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(d.Owners) != 1 || len(d.Owners[0].Caregivers) != 1 || !d.Owners[0].Caregivers[0].NotifyOnMissed {
		t.Fatalf("owners=%+v", d.Owners)
	}
	a := d.Medicines[0]
	if !a.Active || a.DoseSize != 1 || a.Frequency != medicine.FrequencyDaily {
		t.Fatalf("aspirin defaults=%+v", a)
	}
	if got := medicine.FormatTimes(a.Times, a.RejectedTimes); got != "08:00,20:00,noon" {
		t.Fatalf("times=%q", got)
	}
	z := d.Medicines[1]
	if z.Active || z.DoseSize != 2 || z.Frequency != medicine.FrequencyWeekly {
		t.Fatalf("zinc=%+v", z)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		doc  string
		want string
	}{
		"unknown field":   {doc: "owners:\n  - id: a\n    phone: 1\n", want: "phone"},
		"owner id":        {doc: "owners:\n  - name: nobody\n", want: "owner without id"},
		"unknown owner":   {doc: "medicines:\n  - id: m\n    owner_id: ghost\n", want: "unknown owner"},
		"negative doses":  {doc: "owners:\n  - id: a\nmedicines:\n  - id: m\n    owner_id: a\n    remaining_doses: -1\n", want: "remaining doses"},
		"negative thresh": {doc: "owners:\n  - id: a\nmedicines:\n  - id: m\n    owner_id: a\n    low_stock_threshold: -2\n", want: "threshold"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want containing %q", err, tc.want)
			}
		})
	}
}
