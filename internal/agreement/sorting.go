package agreement

import (
	"fmt"
	"sort"

	"github.com/neurobench/sortagree/internal/train"
)

// DropReport accounts for every component examined by AgreementSorting:
// callers can observe how many units were dropped versus retained rather
// than having low-support components vanish silently.
type DropReport struct {
	Retained int
	Dropped  int

	// DroppedUnits lists every member of every dropped component.
	DroppedUnits []Member
}

// AgreementSorting collapses each connected component supported by at least
// minimumMatching distinct source sets into one agreement unit. The unit's
// train is the union of its members' events, deduplicated within the
// build-time coincidence window: each run of events closer than the window
// collapses to its earliest timestamp. Components with fewer supporting
// sets are dropped and reported.
func (g *Graph) AgreementSorting(minimumMatching int) (*train.Set, DropReport, error) {
	if minimumMatching < 1 {
		return nil, DropReport{}, fmt.Errorf("minimum matching must be >= 1, got %d", minimumMatching)
	}
	if minimumMatching > len(g.sets) {
		return nil, DropReport{}, fmt.Errorf("minimum matching %d exceeds the %d input sets",
			minimumMatching, len(g.sets))
	}

	var report DropReport
	units := make(map[string][]train.Frame)
	usedIDs := make(map[string]bool)

	for _, members := range g.Components() {
		distinct := make(map[int]bool, len(members))
		for _, m := range members {
			distinct[m.SetIndex] = true
		}
		if len(distinct) < minimumMatching {
			report.Dropped++
			report.DroppedUnits = append(report.DroppedUnits, members...)
			continue
		}

		events, err := g.mergeMembers(members)
		if err != nil {
			return nil, DropReport{}, err
		}
		units[g.unitName(members, usedIDs)] = events
		report.Retained++
	}

	rate := g.sets[0].SamplingRate()
	set, err := train.NewSet("agreement", rate, units)
	if err != nil {
		return nil, DropReport{}, fmt.Errorf("building agreement train set: %w", err)
	}
	return set, report, nil
}

// unitName picks the identifier for an agreement unit: the unit ID of the
// member from the lowest-index set, so a single-sorter component keeps its
// original ID. Collisions across components are disambiguated with a
// numeric suffix.
func (g *Graph) unitName(members []Member, usedIDs map[string]bool) string {
	name := members[0].UnitID
	if usedIDs[name] {
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s#%d", name, n)
			if !usedIDs[candidate] {
				name = candidate
				break
			}
		}
	}
	usedIDs[name] = true
	return name
}

// mergeMembers unions the member trains in ascending order and collapses
// events within the coincidence window to the earliest timestamp.
func (g *Graph) mergeMembers(members []Member) ([]train.Frame, error) {
	// A singleton component is passed through untouched so one-sorter
	// "agreement" reproduces the original unit exactly.
	if len(members) == 1 {
		return g.sets[members[0].SetIndex].Events(members[0].UnitID)
	}

	var merged []train.Frame
	for _, m := range members {
		events, err := g.sets[m.SetIndex].Events(m.UnitID)
		if err != nil {
			return nil, err
		}
		merged = append(merged, events...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })

	window := g.opts.CoincidenceWindow
	out := merged[:0]
	for _, f := range merged {
		if len(out) == 0 || f-out[len(out)-1] > window {
			out = append(out, f)
		}
	}
	return out, nil
}
