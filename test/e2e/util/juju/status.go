package juju

import (
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Status is the subset of the `juju status --format=json` document that
// the suite consumes: the application units and the model storage.
type Status struct {
	Applications map[string]Application `json:"applications"`
	Storage      StorageStatus          `json:"storage"`
}

// Application holds the per-unit view of a deployed application.
type Application struct {
	Units map[string]Unit `json:"units"`
}

// Unit is a single running instance of the application.
type Unit struct {
	ProviderID     string         `json:"provider-id"`
	Address        string         `json:"address"`
	Leader         bool           `json:"leader"`
	WorkloadStatus WorkloadStatus `json:"workload-status"`
}

// WorkloadStatus reports the workload state of a unit, e.g. "active" or "blocked".
type WorkloadStatus struct {
	Current string `json:"current"`
	Message string `json:"message"`
}

// StorageStatus holds the volumes section of the status document,
// keyed by volume index.
type StorageStatus struct {
	Volumes map[string]Volume `json:"volumes"`
}

// Volume describes one persistent volume known to the model.
type Volume struct {
	ProviderID  string             `json:"provider-id"`
	Status      VolumeStatus       `json:"status"`
	Attachments *VolumeAttachments `json:"attachments,omitempty"`
}

// VolumeStatus reports the current lifecycle status of a volume,
// e.g. "attached" or "detached".
type VolumeStatus struct {
	Current string `json:"current"`
}

// VolumeAttachments lists the units a volume is attached to.
type VolumeAttachments struct {
	Units map[string]UnitAttachment `json:"units"`
}

// UnitAttachment is the attachment record of a volume for one unit.
// An attachment only counts once its life state is "alive".
type UnitAttachment struct {
	Life string `json:"life"`
}

// Alive reports whether the attachment record has reached the alive state.
func (a UnitAttachment) Alive() bool {
	return a.Life == "alive"
}

// Units returns the units of the given application, or nil if the
// application is not present in the status document.
func (s *Status) Units(app string) map[string]Unit {
	application, ok := s.Applications[app]
	if !ok {
		return nil
	}
	return application.Units
}

// UnitNames returns the unit names of the given application sorted by unit id.
func (s *Status) UnitNames(app string) []string {
	var names []string
	for name := range s.Units(app) {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return UnitID(names[i]) < UnitID(names[j])
	})
	return names
}

// UnitID extracts the numeric id from a unit name, e.g. "mongodb-k8s/2" -> 2.
func UnitID(unitName string) int {
	idx := strings.LastIndex(unitName, "/")
	if idx < 0 {
		return -1
	}
	return cast.ToInt(unitName[idx+1:])
}
