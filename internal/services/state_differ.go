package services

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/fleetsync/server/internal/models"
)

// StateDiff is the semantic difference between two state snapshots
type StateDiff struct {
	Changed     bool    `json:"changed"`
	AddedApps   []int64 `json:"addedApps,omitempty"`
	RemovedApps []int64 `json:"removedApps,omitempty"`
}

// StateDiffer compares state snapshots by semantic content. Key ordering and
// serialization whitespace never count as a change; producers and consumers
// are free to re-serialize.
type StateDiffer struct{}

// NewStateDiffer creates a new StateDiffer
func NewStateDiffer() *StateDiffer {
	return &StateDiffer{}
}

// Diff compares two snapshots and reports which app ids were added or removed
func (d *StateDiffer) Diff(before, after models.StateSnapshot) (StateDiff, error) {
	equal, err := d.Equal(before, after)
	if err != nil {
		return StateDiff{}, err
	}

	diff := StateDiff{Changed: !equal}
	for appID := range after.Apps {
		if _, ok := before.Apps[appID]; !ok {
			diff.AddedApps = append(diff.AddedApps, appID)
		}
	}
	for appID := range before.Apps {
		if _, ok := after.Apps[appID]; !ok {
			diff.RemovedApps = append(diff.RemovedApps, appID)
		}
	}
	sort.Slice(diff.AddedApps, func(i, j int) bool { return diff.AddedApps[i] < diff.AddedApps[j] })
	sort.Slice(diff.RemovedApps, func(i, j int) bool { return diff.RemovedApps[i] < diff.RemovedApps[j] })
	return diff, nil
}

// Equal reports whether two snapshots carry the same semantic content
func (d *StateDiffer) Equal(a, b models.StateSnapshot) (bool, error) {
	canonicalA, err := canonicalSnapshot(a)
	if err != nil {
		return false, err
	}
	canonicalB, err := canonicalSnapshot(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(canonicalA, canonicalB), nil
}

// canonicalSnapshot produces a canonical byte form of a snapshot: map keys
// are emitted sorted and a nil app map collapses to empty, so two semantically
// equal documents always serialize identically.
func canonicalSnapshot(snap models.StateSnapshot) ([]byte, error) {
	if snap.Apps == nil {
		snap.Apps = models.AppMap{}
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	// Round-trip through an untyped value to strip any formatting the
	// producer applied.
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
