// Package owner models medication owners and their caregivers, and decides
// who hears about which kind of event.
package owner

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("owner not found")

type Owner struct {
	ID          string
	Name        string
	Email       string
	NotifyEmail bool
	NotifyPush  bool
	// PushAddress is where push notices go, e.g. "tg:123456" or "fcm:<token>".
	PushAddress string
	Caregivers  []Caregiver
}

// Caregiver opts into missed and/or adherence notices. With neither flag set
// it receives nothing.
type Caregiver struct {
	Name              string
	Address           string
	NotifyOnMissed    bool
	NotifyOnAdherence bool
}

// Directory looks up owner profiles.
type Directory interface {
	Get(ctx context.Context, ownerID string) (Owner, error)
}

// OwnerAddresses returns the owner's own delivery addresses per their flags.
func (o Owner) OwnerAddresses() []string {
	out := make([]string, 0, 2)
	if o.NotifyEmail && strings.TrimSpace(o.Email) != "" {
		out = append(out, strings.TrimSpace(o.Email))
	}
	if o.NotifyPush && strings.TrimSpace(o.PushAddress) != "" {
		out = append(out, strings.TrimSpace(o.PushAddress))
	}
	return out
}
