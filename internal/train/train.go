// Package train provides the immutable event train set used throughout the
// comparison pipeline: spike events partitioned by unit, each unit holding a
// strictly increasing sequence of frame indices.
package train

import (
	"fmt"
	"sort"
)

// Frame is a spike timestamp expressed as a non-negative sample frame index.
type Frame = int64

// Set is an immutable collection of spike trains keyed by unit ID.
//
// A Set is never mutated after construction. Transformations (DropUnits,
// KeepUnits, RelabelUnits) return new Sets that share the per-unit event
// slices of unaffected units, so copies are cheap at unit granularity.
type Set struct {
	name         string
	samplingRate float64
	units        map[string][]Frame
	unitIDs      []string // Sorted; cached at construction
}

// NewSet builds a Set from per-unit event slices. Every unit's events must be
// strictly increasing and non-negative; violations return a
// *MalformedTrainError. The input map is copied; callers may reuse it.
func NewSet(name string, samplingRate float64, units map[string][]Frame) (*Set, error) {
	s := &Set{
		name:         name,
		samplingRate: samplingRate,
		units:        make(map[string][]Frame, len(units)),
		unitIDs:      make([]string, 0, len(units)),
	}

	for id, events := range units {
		if err := validateTrain(name, id, events); err != nil {
			return nil, err
		}
		copied := make([]Frame, len(events))
		copy(copied, events)
		s.units[id] = copied
		s.unitIDs = append(s.unitIDs, id)
	}
	sort.Strings(s.unitIDs)

	return s, nil
}

// validateTrain checks non-negativity and strict monotonicity.
func validateTrain(setName, unitID string, events []Frame) error {
	for i, f := range events {
		if f < 0 {
			return &MalformedTrainError{
				SetName: setName, UnitID: unitID, Index: i,
				Reason: fmt.Sprintf("negative frame %d", f),
			}
		}
		if i == 0 {
			continue
		}
		switch {
		case f == events[i-1]:
			return &MalformedTrainError{
				SetName: setName, UnitID: unitID, Index: i,
				Reason: fmt.Sprintf("duplicate frame %d", f),
			}
		case f < events[i-1]:
			return &MalformedTrainError{
				SetName: setName, UnitID: unitID, Index: i,
				Reason: fmt.Sprintf("frame %d after %d breaks ordering", f, events[i-1]),
			}
		}
	}
	return nil
}

// Name returns the set's label (typically the sorter or source name).
func (s *Set) Name() string { return s.name }

// SamplingRate returns the sampling rate in Hz the frame indices refer to.
// Zero means unknown.
func (s *Set) SamplingRate() float64 { return s.samplingRate }

// UnitIDs returns the unit identifiers in sorted order. The returned slice
// must not be modified.
func (s *Set) UnitIDs() []string { return s.unitIDs }

// NumUnits returns the number of units in the set.
func (s *Set) NumUnits() int { return len(s.units) }

// HasUnit reports whether the set contains the given unit.
func (s *Set) HasUnit(unitID string) bool {
	_, ok := s.units[unitID]
	return ok
}

// Events returns the full event train of a unit in ascending frame order.
// The returned slice must not be modified.
func (s *Set) Events(unitID string) ([]Frame, error) {
	events, ok := s.units[unitID]
	if !ok {
		return nil, &InvalidUnitError{SetName: s.name, UnitID: unitID}
	}
	return events, nil
}

// NumEvents returns the event count of a unit, or 0 with an error if the
// unit is unknown.
func (s *Set) NumEvents(unitID string) (int, error) {
	events, ok := s.units[unitID]
	if !ok {
		return 0, &InvalidUnitError{SetName: s.name, UnitID: unitID}
	}
	return len(events), nil
}

// TotalEvents returns the event count summed over all units.
func (s *Set) TotalEvents() int {
	total := 0
	for _, events := range s.units {
		total += len(events)
	}
	return total
}

// EventsInRange returns the events of a unit within the half-open frame
// interval [start, end), located by binary search. The returned slice
// aliases the unit's train and must not be modified.
func (s *Set) EventsInRange(unitID string, start, end Frame) ([]Frame, error) {
	events, ok := s.units[unitID]
	if !ok {
		return nil, &InvalidUnitError{SetName: s.name, UnitID: unitID}
	}
	if start >= end {
		return nil, nil
	}

	lo := sort.Search(len(events), func(i int) bool { return events[i] >= start })
	hi := sort.Search(len(events), func(i int) bool { return events[i] >= end })
	if lo == hi {
		return nil, nil
	}
	return events[lo:hi], nil
}

// DropUnits returns a new Set without the listed units. Unknown IDs return
// an *InvalidUnitError. Remaining unit trains are shared, not copied.
func (s *Set) DropUnits(unitIDs ...string) (*Set, error) {
	drop := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		if !s.HasUnit(id) {
			return nil, &InvalidUnitError{SetName: s.name, UnitID: id}
		}
		drop[id] = true
	}

	out := &Set{
		name:         s.name,
		samplingRate: s.samplingRate,
		units:        make(map[string][]Frame, len(s.units)-len(drop)),
	}
	for _, id := range s.unitIDs {
		if !drop[id] {
			out.units[id] = s.units[id]
			out.unitIDs = append(out.unitIDs, id)
		}
	}
	return out, nil
}

// KeepUnits returns a new Set containing only the listed units.
func (s *Set) KeepUnits(unitIDs ...string) (*Set, error) {
	out := &Set{
		name:         s.name,
		samplingRate: s.samplingRate,
		units:        make(map[string][]Frame, len(unitIDs)),
	}
	for _, id := range unitIDs {
		events, ok := s.units[id]
		if !ok {
			return nil, &InvalidUnitError{SetName: s.name, UnitID: id}
		}
		if _, dup := out.units[id]; dup {
			continue
		}
		out.units[id] = events
		out.unitIDs = append(out.unitIDs, id)
	}
	sort.Strings(out.unitIDs)
	return out, nil
}

// RelabelUnits returns a new Set with unit IDs renamed per the mapping.
// Units absent from the mapping keep their IDs. Collisions between new IDs
// are rejected as a *MalformedTrainError since they would merge trains
// silently. Trains are shared, not copied.
func (s *Set) RelabelUnits(mapping map[string]string) (*Set, error) {
	for old := range mapping {
		if !s.HasUnit(old) {
			return nil, &InvalidUnitError{SetName: s.name, UnitID: old}
		}
	}

	out := &Set{
		name:         s.name,
		samplingRate: s.samplingRate,
		units:        make(map[string][]Frame, len(s.units)),
		unitIDs:      make([]string, 0, len(s.units)),
	}
	for _, id := range s.unitIDs {
		newID := id
		if mapped, ok := mapping[id]; ok {
			newID = mapped
		}
		if _, exists := out.units[newID]; exists {
			return nil, &MalformedTrainError{
				SetName: s.name, UnitID: newID,
				Reason: "relabel collision: two units map to the same ID",
			}
		}
		out.units[newID] = s.units[id]
		out.unitIDs = append(out.unitIDs, newID)
	}
	sort.Strings(out.unitIDs)
	return out, nil
}

// Rename returns a new Set with a different name, sharing all trains.
func (s *Set) Rename(name string) *Set {
	return &Set{
		name:         name,
		samplingRate: s.samplingRate,
		units:        s.units,
		unitIDs:      s.unitIDs,
	}
}

// Empty reports whether the set has no events at all (no units, or only
// units with empty trains).
func (s *Set) Empty() bool { return s.TotalEvents() == 0 }
