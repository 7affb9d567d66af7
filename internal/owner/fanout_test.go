package owner

import (
	"slices"
	"testing"
)

func TestFanout(t *testing.T) {
	t.Parallel()
	o := Owner{
		ID: "o1",
		Caregivers: []Caregiver{
			{Address: "missed@example.com", NotifyOnMissed: true},
			{Address: "adh@example.com", NotifyOnAdherence: true},
			{Address: "both@example.com", NotifyOnMissed: true, NotifyOnAdherence: true},
			{Address: "none@example.com"},
			{Address: "both@example.com", NotifyOnMissed: true},
			{Address: "  ", NotifyOnMissed: true},
		},
	}
	tests := []struct {
		class Class
		want  []string
	}{
		{class: ClassMissed, want: []string{"missed@example.com", "both@example.com"}},
		{class: ClassLowInventory, want: []string{"missed@example.com", "both@example.com"}},
		{class: ClassAdherence, want: []string{"adh@example.com", "both@example.com"}},
		{class: ClassReminder, want: []string{"adh@example.com", "both@example.com"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.class.String(), func(t *testing.T) {
			t.Parallel()
			got := Fanout(o, tt.class)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("Fanout(%s) = %v, want %v", tt.class, got, tt.want)
			}
			if slices.Contains(got, "none@example.com") {
				t.Fatal("caregiver with no flags must receive nothing")
			}
		})
	}
}

func TestOwnerAddresses(t *testing.T) {
	t.Parallel()
	o := Owner{Email: "me@example.com", PushAddress: "tg:42", NotifyEmail: true}
	if got := o.OwnerAddresses(); !slices.Equal(got, []string{"me@example.com"}) {
		t.Fatalf("email only = %v", got)
	}
	o.NotifyPush = true
	if got := o.OwnerAddresses(); !slices.Equal(got, []string{"me@example.com", "tg:42"}) {
		t.Fatalf("email+push = %v", got)
	}
	o.NotifyEmail = false
	o.NotifyPush = false
	if got := o.OwnerAddresses(); len(got) != 0 {
		t.Fatalf("no flags = %v", got)
	}
}
