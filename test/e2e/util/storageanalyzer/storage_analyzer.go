// Package storageanalyzer records point-in-time views of the volume
// attachment state of an application and answers aggregate queries over
// the recorded history. It only observes the model; it never changes it.
package storageanalyzer

import (
	"context"
	"sort"

	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/juju"
)

// StatusProvider yields a model status document. *juju.CLI satisfies it.
type StatusProvider interface {
	Status(ctx context.Context) (*juju.Status, error)
}

// ActiveEntity ties a live unit to its pod and the volumes attached to
// it at snapshot time. A volume counts as attached only when its
// attachment record for the unit is alive.
type ActiveEntity struct {
	UnitID            string
	PodID             string
	AttachedVolumeIDs []string
}

// Snapshot is one recorded view of the application's storage state.
// ActiveEntities is ordered by unit id; OrphanVolumes lists the
// provider ids of volumes whose current status is "detached".
type Snapshot struct {
	ActiveEntities []ActiveEntity
	OrphanVolumes  []string
}

// Analyzer accumulates snapshots. The history is append-only: queries
// are pure folds over it, recomputed on every call.
type Analyzer struct {
	provider StatusProvider
	app      string
	history  []Snapshot
}

// New returns an Analyzer observing the given application.
func New(provider StatusProvider, app string) *Analyzer {
	return &Analyzer{provider: provider, app: app}
}

// Run queries the model status, derives a snapshot from it, appends the
// snapshot to the history and returns it. Query or decode failures
// propagate unrecorded.
func (a *Analyzer) Run(ctx context.Context) (Snapshot, error) {
	status, err := a.provider.Status(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := snapshotFromStatus(status, a.app)
	a.history = append(a.history, snapshot)
	return snapshot, nil
}

func snapshotFromStatus(status *juju.Status, app string) Snapshot {
	snapshot := Snapshot{}

	for _, unitName := range status.UnitNames(app) {
		unit := status.Units(app)[unitName]
		entity := ActiveEntity{
			UnitID: unitName,
			PodID:  unit.ProviderID,
		}

		for _, volume := range status.Storage.Volumes {
			if volume.Attachments == nil {
				continue
			}
			attachment, ok := volume.Attachments.Units[unitName]
			if !ok || !attachment.Alive() {
				continue
			}
			entity.AttachedVolumeIDs = append(entity.AttachedVolumeIDs, volume.ProviderID)
		}
		sort.Strings(entity.AttachedVolumeIDs)

		snapshot.ActiveEntities = append(snapshot.ActiveEntities, entity)
	}

	for _, volume := range status.Storage.Volumes {
		if volume.Status.Current == "detached" {
			snapshot.OrphanVolumes = append(snapshot.OrphanVolumes, volume.ProviderID)
		}
	}
	sort.Strings(snapshot.OrphanVolumes)

	return snapshot
}

// VolumesCreated returns the sorted distinct volume ids that were seen
// attached to any unit across the recorded history. Orphan volumes are
// not counted.
func (a *Analyzer) VolumesCreated() []string {
	volumes := map[string]struct{}{}
	for _, snapshot := range a.history {
		for _, entity := range snapshot.ActiveEntities {
			for _, volumeID := range entity.AttachedVolumeIDs {
				volumes[volumeID] = struct{}{}
			}
		}
	}
	return sortedKeys(volumes)
}

// UnitsCreated returns the sorted distinct unit ids observed as active
// across the recorded history.
func (a *Analyzer) UnitsCreated() []string {
	units := map[string]struct{}{}
	for _, snapshot := range a.history {
		for _, entity := range snapshot.ActiveEntities {
			units[entity.UnitID] = struct{}{}
		}
	}
	return sortedKeys(units)
}

// UnitToPVCs maps each unit id to the sorted distinct volume ids ever
// attached to it. A snapshot in which a unit has no attached volumes
// contributes nothing for that unit.
func (a *Analyzer) UnitToPVCs() map[string][]string {
	attachments := map[string]map[string]struct{}{}
	for _, snapshot := range a.history {
		for _, entity := range snapshot.ActiveEntities {
			for _, volumeID := range entity.AttachedVolumeIDs {
				if _, ok := attachments[entity.UnitID]; !ok {
					attachments[entity.UnitID] = map[string]struct{}{}
				}
				attachments[entity.UnitID][volumeID] = struct{}{}
			}
		}
	}
	return sortedSets(attachments)
}

// PVCToUnits is the inverse of UnitToPVCs: each volume id maps to the
// sorted distinct unit ids it was ever attached to.
func (a *Analyzer) PVCToUnits() map[string][]string {
	attachments := map[string]map[string]struct{}{}
	for _, snapshot := range a.history {
		for _, entity := range snapshot.ActiveEntities {
			for _, volumeID := range entity.AttachedVolumeIDs {
				if _, ok := attachments[volumeID]; !ok {
					attachments[volumeID] = map[string]struct{}{}
				}
				attachments[volumeID][entity.UnitID] = struct{}{}
			}
		}
	}
	return sortedSets(attachments)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedSets(sets map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(sets))
	for key, set := range sets {
		out[key] = sortedKeys(set)
	}
	return out
}
