package owner

import "strings"

// Class is the kind of event a fanout is computed for.
type Class int

const (
	ClassReminder Class = iota + 1
	ClassMissed
	ClassAdherence
	ClassLowInventory
)

func (c Class) String() string {
	switch c {
	case ClassReminder:
		return "reminder"
	case ClassMissed:
		return "missed"
	case ClassAdherence:
		return "adherence"
	case ClassLowInventory:
		return "low_inventory"
	default:
		return "unknown"
	}
}

// Fanout returns the caregiver addresses that should receive an event of class.
//
//   - missed and low inventory go to caregivers with NotifyOnMissed
//   - adherence and reminders go to caregivers with NotifyOnAdherence
//
// Whether reminders reach caregivers at all is the caller's policy. The result
// keeps directory order and drops blanks and duplicates.
func Fanout(o Owner, class Class) []string {
	out := make([]string, 0, len(o.Caregivers))
	seen := make(map[string]struct{}, len(o.Caregivers))
	for _, c := range o.Caregivers {
		var want bool
		switch class {
		case ClassMissed, ClassLowInventory:
			want = c.NotifyOnMissed
		case ClassAdherence, ClassReminder:
			want = c.NotifyOnAdherence
		}
		addr := strings.TrimSpace(c.Address)
		if !want || addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
