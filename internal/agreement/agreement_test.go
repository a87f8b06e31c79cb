package agreement

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurobench/sortagree/internal/compare"
	"github.com/neurobench/sortagree/internal/train"
)

func newSet(t *testing.T, name string, units map[string][]train.Frame) *train.Set {
	t.Helper()
	s, err := train.NewSet(name, 30000, units)
	require.NoError(t, err)
	return s
}

func TestBuild_SingleSet(t *testing.T) {
	s := newSet(t, "only", map[string][]train.Frame{
		"u1": {100, 200},
		"u2": {500, 600, 700},
	})

	g, err := Build([]*train.Set{s}, compare.Options{CoincidenceWindow: 5, MinAccuracy: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2, g.NumNodes())
	assert.Equal(t, 0, g.NumEdges())
}

// One-sorter "agreement" with minimumMatching=1 is identity: every unit
// comes back unchanged.
func TestAgreementSorting_SingleSetIdentity(t *testing.T) {
	s := newSet(t, "only", map[string][]train.Frame{
		"u1": {100, 101, 200}, // Events closer than the window must survive
		"u2": {500, 600},
	})

	g, err := Build([]*train.Set{s}, compare.Options{CoincidenceWindow: 5, MinAccuracy: 0.5})
	require.NoError(t, err)

	result, report, err := g.AgreementSorting(1)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Retained)
	assert.Equal(t, 0, report.Dropped)

	if diff := cmp.Diff(s.UnitIDs(), result.UnitIDs()); diff != "" {
		t.Errorf("unit IDs changed (-want +got):\n%s", diff)
	}
	for _, id := range s.UnitIDs() {
		want, _ := s.Events(id)
		got, err := result.Events(id)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("unit %s events changed (-want +got):\n%s", id, diff)
		}
	}
}

// Two sorters, one shared unit above threshold, nine private units each:
// consensus keeps exactly the shared unit and reports the rest dropped.
func TestAgreementSorting_TwoSorterConsensus(t *testing.T) {
	shared := []train.Frame{1000, 2000, 3000, 4000, 5000, 6000, 7000, 8000, 9000, 10000}
	sharedJittered := make([]train.Frame, len(shared))
	copy(sharedJittered, shared)
	sharedJittered[0] = 1002 // Still within the window; accuracy stays high

	unitsA := map[string][]train.Frame{"shared": shared}
	unitsB := map[string][]train.Frame{"shared": sharedJittered}
	for i := 0; i < 9; i++ {
		unitsA[fmt.Sprintf("a%d", i)] = []train.Frame{train.Frame(100000 + i*5000)}
		unitsB[fmt.Sprintf("b%d", i)] = []train.Frame{train.Frame(200000 + i*5000)}
	}

	a := newSet(t, "sorterA", unitsA)
	b := newSet(t, "sorterB", unitsB)

	g, err := Build([]*train.Set{a, b}, compare.Options{CoincidenceWindow: 5, MinAccuracy: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 20, g.NumNodes())
	assert.Equal(t, 1, g.NumEdges())

	result, report, err := g.AgreementSorting(2)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Retained)
	assert.Equal(t, 18, report.Dropped)
	assert.Len(t, report.DroppedUnits, 18, "dropped units must be reported, not silently lost")
	assert.Equal(t, 1, result.NumUnits())

	events, err := result.Events("shared")
	require.NoError(t, err)
	// Union of the two trains deduplicated within the window: 1000 and
	// 1002 collapse to the earliest, all exact duplicates collapse.
	assert.Equal(t, []train.Frame{1000, 2000, 3000, 4000, 5000, 6000, 7000, 8000, 9000, 10000}, events)
}

// Raising minimumMatching can only shrink the retained unit count.
func TestAgreementSorting_MinimumMatchingMonotonic(t *testing.T) {
	shared := []train.Frame{1000, 2000, 3000}
	a := newSet(t, "a", map[string][]train.Frame{"s": shared, "pa": {50000}})
	b := newSet(t, "b", map[string][]train.Frame{"s": shared, "pb": {60000}})
	c := newSet(t, "c", map[string][]train.Frame{"pc": {70000}})

	g, err := Build([]*train.Set{a, b, c}, compare.Options{CoincidenceWindow: 5, MinAccuracy: 0.5})
	require.NoError(t, err)

	prev := -1
	for _, mm := range []int{1, 2, 3} {
		_, report, err := g.AgreementSorting(mm)
		require.NoError(t, err)
		if prev >= 0 {
			assert.LessOrEqual(t, report.Retained, prev,
				"retained units increased at minimumMatching=%d", mm)
		}
		prev = report.Retained
	}
}

func TestAgreementSorting_NameCollision(t *testing.T) {
	// Both sorters use unit ID "u1" for unrelated trains; with
	// minimumMatching=1 both survive and must not merge.
	a := newSet(t, "a", map[string][]train.Frame{"u1": {100}})
	b := newSet(t, "b", map[string][]train.Frame{"u1": {90000}})

	g, err := Build([]*train.Set{a, b}, compare.Options{CoincidenceWindow: 5, MinAccuracy: 0.5})
	require.NoError(t, err)

	result, report, err := g.AgreementSorting(1)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Retained)
	assert.Equal(t, 2, result.NumUnits(), "colliding IDs must be disambiguated, not merged")
}

func TestBuild_Validation(t *testing.T) {
	s := newSet(t, "s", map[string][]train.Frame{"u1": {1}})

	_, err := Build(nil, compare.Options{})
	assert.Error(t, err)

	dup := newSet(t, "s", map[string][]train.Frame{"u2": {2}})
	_, err = Build([]*train.Set{s, dup}, compare.Options{CoincidenceWindow: 1})
	assert.Error(t, err, "duplicate set names must be rejected")
}

func TestBuild_EmptySetSurfaces(t *testing.T) {
	full := newSet(t, "full", map[string][]train.Frame{"u1": {1, 2, 3}})
	empty := newSet(t, "empty", map[string][]train.Frame{"u1": nil})

	_, err := Build([]*train.Set{full, empty}, compare.Options{CoincidenceWindow: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty", "error must name the offending set")
}

func TestAgreementSorting_BadMinimumMatching(t *testing.T) {
	s := newSet(t, "s", map[string][]train.Frame{"u1": {1}})
	g, err := Build([]*train.Set{s}, compare.Options{CoincidenceWindow: 1})
	require.NoError(t, err)

	_, _, err = g.AgreementSorting(0)
	assert.Error(t, err)
	_, _, err = g.AgreementSorting(2)
	assert.Error(t, err, "minimumMatching beyond the number of sets")
}
