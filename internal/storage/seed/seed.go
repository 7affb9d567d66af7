// Package seed loads owners and medicines from a YAML (or JSON) file so a
// development store starts with data.
package seed

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"medminder/internal/medicine"
	"medminder/internal/owner"
)

// File is the on-disk layout.
//
//	owners:
//	  - id: ana
//	    email: ana@example.com
//	    notify_email: true
//	    caregivers:
//	      - address: tg:1234
//	        notify_on_missed: true
//	medicines:
//	  - id: aspirin
//	    owner_id: ana
//	    times: ["08:00", "20:00"]
//	    remaining_doses: 30
//	    dose_size: 1
//	    low_stock_threshold: 5
type File struct {
	Owners    []Owner    `yaml:"owners"`
	Medicines []Medicine `yaml:"medicines"`
}

type Owner struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Email       string      `yaml:"email"`
	NotifyEmail bool        `yaml:"notify_email"`
	NotifyPush  bool        `yaml:"notify_push"`
	PushAddress string      `yaml:"push_address"`
	Caregivers  []Caregiver `yaml:"caregivers"`
}

type Caregiver struct {
	Name              string `yaml:"name"`
	Address           string `yaml:"address"`
	NotifyOnMissed    bool   `yaml:"notify_on_missed"`
	NotifyOnAdherence bool   `yaml:"notify_on_adherence"`
}

type Medicine struct {
	ID                string   `yaml:"id"`
	OwnerID           string   `yaml:"owner_id"`
	Name              string   `yaml:"name"`
	Active            *bool    `yaml:"active"`
	Frequency         string   `yaml:"frequency"`
	Times             []string `yaml:"times"`
	RemainingDoses    int      `yaml:"remaining_doses"`
	DoseSize          int      `yaml:"dose_size"`
	LowStockThreshold int      `yaml:"low_stock_threshold"`
}

// Data is the validated domain view of a seed file.
type Data struct {
	Owners    []owner.Owner
	Medicines []medicine.Medicine
}

// Load reads and converts path. Malformed medication times are kept as
// rejected entries, not errors.
func Load(path string) (Data, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Data{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Data, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Data{}, fmt.Errorf("seed: %w", err)
	}
	return f.Data()
}

func (f File) Data() (Data, error) {
	var out Data
	owners := make(map[string]struct{}, len(f.Owners))
	for _, so := range f.Owners {
		if strings.TrimSpace(so.ID) == "" {
			return Data{}, fmt.Errorf("seed: owner without id")
		}
		o := owner.Owner{
			ID:          so.ID,
			Name:        so.Name,
			Email:       so.Email,
			NotifyEmail: so.NotifyEmail,
			NotifyPush:  so.NotifyPush,
			PushAddress: so.PushAddress,
		}
		for _, c := range so.Caregivers {
			o.Caregivers = append(o.Caregivers, owner.Caregiver(c))
		}
		owners[o.ID] = struct{}{}
		out.Owners = append(out.Owners, o)
	}
	for _, sm := range f.Medicines {
		times, rejected := medicine.ParseTimes(sm.Times)
		m := medicine.Medicine{
			ID:                sm.ID,
			OwnerID:           sm.OwnerID,
			Name:              sm.Name,
			Active:            sm.Active == nil || *sm.Active,
			Frequency:         medicine.Frequency(sm.Frequency),
			Times:             times,
			RejectedTimes:     rejected,
			RemainingDoses:    sm.RemainingDoses,
			DoseSize:          sm.DoseSize,
			LowStockThreshold: sm.LowStockThreshold,
		}
		if m.Frequency == "" {
			m.Frequency = medicine.FrequencyDaily
		}
		if m.DoseSize == 0 {
			m.DoseSize = 1
		}
		if err := m.Validate(); err != nil {
			return Data{}, fmt.Errorf("seed: %w", err)
		}
		if _, ok := owners[m.OwnerID]; !ok {
			return Data{}, fmt.Errorf("seed: medicine %s references unknown owner %s", m.ID, m.OwnerID)
		}
		out.Medicines = append(out.Medicines, m)
	}
	return out, nil
}
