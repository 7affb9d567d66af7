package notify

import (
	"time"

	"medminder/internal/owner"
)

// Notice is one of ReminderNotice, MissedNotice, AdherenceNotice or
// LowInventoryNotice.
type Notice interface {
	Class() owner.Class
	// Recipients resolves delivery addresses for o.
	Recipients(o owner.Owner) []string
	// Key identifies the notice for logs, history and suppression.
	Key() string
	sealed()
}

// ReminderNotice is sent when a dose comes due.
type ReminderNotice struct {
	MedicineID  string
	Medicine    string
	ScheduledAt time.Time
	DoseSize    int
	// Caregivers also notifies caregivers that follow adherence.
	Caregivers bool
}

// MissedNotice is sent when the sweeper marks a dose missed.
type MissedNotice struct {
	MedicineID  string
	Medicine    string
	ScheduledAt time.Time
	MissedAt    time.Time
}

// AdherenceNotice is sent when a dose is marked taken.
type AdherenceNotice struct {
	MedicineID  string
	Medicine    string
	ScheduledAt time.Time
	TakenAt     time.Time
	Remaining   int
}

// LowInventoryNotice is sent by the low-stock scan.
type LowInventoryNotice struct {
	MedicineID string
	Medicine   string
	Remaining  int
	Threshold  int
}

func (ReminderNotice) Class() owner.Class     { return owner.ClassReminder }
func (MissedNotice) Class() owner.Class       { return owner.ClassMissed }
func (AdherenceNotice) Class() owner.Class    { return owner.ClassAdherence }
func (LowInventoryNotice) Class() owner.Class { return owner.ClassLowInventory }

func (n ReminderNotice) Recipients(o owner.Owner) []string {
	out := o.OwnerAddresses()
	if n.Caregivers {
		out = appendUnique(out, owner.Fanout(o, owner.ClassReminder)...)
	}
	return out
}

func (MissedNotice) Recipients(o owner.Owner) []string {
	return appendUnique(o.OwnerAddresses(), owner.Fanout(o, owner.ClassMissed)...)
}

// Adherence goes to caregivers only; the owner is the one who acted.
func (AdherenceNotice) Recipients(o owner.Owner) []string {
	return owner.Fanout(o, owner.ClassAdherence)
}

func (LowInventoryNotice) Recipients(o owner.Owner) []string {
	return appendUnique(o.OwnerAddresses(), owner.Fanout(o, owner.ClassLowInventory)...)
}

func (n ReminderNotice) Key() string {
	return "reminder:" + n.MedicineID + ":" + n.ScheduledAt.UTC().Format(time.RFC3339)
}
func (n MissedNotice) Key() string {
	return "missed:" + n.MedicineID + ":" + n.ScheduledAt.UTC().Format(time.RFC3339)
}
func (n AdherenceNotice) Key() string {
	return "adherence:" + n.MedicineID + ":" + n.ScheduledAt.UTC().Format(time.RFC3339)
}
func (n LowInventoryNotice) Key() string { return "low_inventory:" + n.MedicineID }

func (ReminderNotice) sealed()     {}
func (MissedNotice) sealed()       {}
func (AdherenceNotice) sealed()    {}
func (LowInventoryNotice) sealed() {}

func appendUnique(dst []string, src ...string) []string {
	for _, s := range src {
		dup := false
		for _, d := range dst {
			if d == s {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, s)
		}
	}
	return dst
}
