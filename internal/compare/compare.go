// Package compare implements pairwise comparison of spike train sets:
// coincidence counting within a frame window, accuracy scoring, and 1:1
// unit assignment between a reference and a test set.
package compare

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/neurobench/sortagree/internal/train"
)

// AssignMethod selects how the 1:1 unit assignment is resolved from the
// score matrix.
type AssignMethod int

const (
	// AssignGreedy repeatedly picks the highest-accuracy remaining pair.
	// Ties break on lowest reference unit ID, then lowest test unit ID, so
	// results are reproducible regardless of unit storage order.
	AssignGreedy AssignMethod = iota

	// AssignHungarian solves the assignment exactly (maximum total
	// accuracy). Pairs below MinAccuracy are forbidden.
	AssignHungarian

	// AssignOneToMany pairs every test unit with its best-scoring
	// reference unit without claiming the reference exclusively, so one
	// reference may match several test units. Meant for ground-truth
	// comparisons where a true unit is split across sorter units.
	AssignOneToMany
)

// Options configures a comparison.
type Options struct {
	// CoincidenceWindow is the maximum frame distance for two events to
	// count as the same underlying spike. Must be >= 0.
	CoincidenceWindow train.Frame

	// MinAccuracy is the score threshold below which a pair cannot match.
	MinAccuracy float64

	// Assign selects the assignment strategy. Default is AssignGreedy.
	Assign AssignMethod

	// Workers bounds the parallelism of the pair-scoring phase. Zero means
	// one worker per CPU.
	Workers int
}

// EmptyComparisonError reports a comparison against a set with no events.
// This is distinct from a comparison that finds no matches; callers must be
// able to tell "no data" from "no agreement".
type EmptyComparisonError struct {
	SetName string
}

func (e *EmptyComparisonError) Error() string {
	return fmt.Sprintf("comparison requested against empty train set %q", e.SetName)
}

// PairScore holds the coincidence metrics for one (reference, test) unit
// pair.
type PairScore struct {
	RefID        string `json:"ref_unit"`
	TestID       string `json:"test_unit"`
	Coincidences int    `json:"coincidences"`
	RefEvents    int    `json:"ref_events"`
	TestEvents   int    `json:"test_events"`

	// Accuracy is coincidences / (refEvents + testEvents - coincidences),
	// symmetric in the two trains.
	Accuracy float64 `json:"accuracy"`

	// Precision is coincidences / testEvents; Recall is
	// coincidences / refEvents.
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
}

// MatchResult is the outcome of Compare: the resolved 1:1 assignment plus
// the units left over on either side.
type MatchResult struct {
	RefName  string
	TestName string
	Options  Options

	// Matched pairs, sorted by reference then test unit ID. Under
	// AssignOneToMany a reference unit may appear more than once.
	Matched []PairScore

	// MissedRefs are reference units with no assigned test unit (false
	// negative rate 1). FalsePositives are test units with no assigned
	// reference unit (false discovery rate 1). Both sorted.
	MissedRefs     []string
	FalsePositives []string

	// scores retains the full matrix for Score lookups.
	scores map[string]map[string]PairScore
}

// Compare scores every (reference unit, test unit) pair and resolves the
// unit assignment selected by opts.Assign. Either set being empty is an
// *EmptyComparisonError.
func Compare(ref, test *train.Set, opts Options) (*MatchResult, error) {
	if opts.CoincidenceWindow < 0 {
		return nil, fmt.Errorf("coincidence window must be >= 0, got %d", opts.CoincidenceWindow)
	}
	if opts.MinAccuracy < 0 || opts.MinAccuracy > 1 {
		return nil, fmt.Errorf("min accuracy must be in [0,1], got %g", opts.MinAccuracy)
	}
	if ref.Empty() {
		return nil, &EmptyComparisonError{SetName: ref.Name()}
	}
	if test.Empty() {
		return nil, &EmptyComparisonError{SetName: test.Name()}
	}

	refIDs := ref.UnitIDs()
	testIDs := test.UnitIDs()
	matrix := scoreMatrix(ref, test, refIDs, testIDs, opts)

	result := &MatchResult{
		RefName:  ref.Name(),
		TestName: test.Name(),
		Options:  opts,
		scores:   make(map[string]map[string]PairScore, len(refIDs)),
	}
	for ri, refID := range refIDs {
		row := make(map[string]PairScore, len(testIDs))
		for ti, testID := range testIDs {
			row[testID] = matrix[ri][ti]
		}
		result.scores[refID] = row
	}

	var pairs []unitPair
	switch opts.Assign {
	case AssignHungarian:
		pairs = assignHungarian(matrix, opts.MinAccuracy)
	case AssignOneToMany:
		pairs = assignOneToMany(matrix, opts.MinAccuracy)
	default:
		pairs = assignGreedy(matrix, refIDs, testIDs, opts.MinAccuracy)
	}

	matchedRef := make(map[int]bool, len(pairs))
	usedTest := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		matchedRef[p.ri] = true
		usedTest[p.ti] = true
		result.Matched = append(result.Matched, matrix[p.ri][p.ti])
	}
	for ri, refID := range refIDs {
		if !matchedRef[ri] {
			result.MissedRefs = append(result.MissedRefs, refID)
		}
	}
	for ti, testID := range testIDs {
		if !usedTest[ti] {
			result.FalsePositives = append(result.FalsePositives, testID)
		}
	}

	sort.Slice(result.Matched, func(i, j int) bool {
		a, b := result.Matched[i], result.Matched[j]
		if a.RefID != b.RefID {
			return a.RefID < b.RefID
		}
		return a.TestID < b.TestID
	})
	sort.Strings(result.MissedRefs)
	sort.Strings(result.FalsePositives)

	return result, nil
}

// Score returns the raw pair score for any (reference, test) unit pair,
// matched or not.
func (r *MatchResult) Score(refID, testID string) (PairScore, error) {
	row, ok := r.scores[refID]
	if !ok {
		return PairScore{}, &train.InvalidUnitError{SetName: r.RefName, UnitID: refID}
	}
	score, ok := row[testID]
	if !ok {
		return PairScore{}, &train.InvalidUnitError{SetName: r.TestName, UnitID: testID}
	}
	return score, nil
}

// MatchOf returns the matched test unit for a reference unit, or ok=false
// if the unit was missed. Under AssignOneToMany, where a reference can
// match several test units, the lowest test unit ID is returned.
func (r *MatchResult) MatchOf(refID string) (PairScore, bool) {
	for _, p := range r.Matched {
		if p.RefID == refID {
			return p, true
		}
	}
	return PairScore{}, false
}

// scoreMatrix computes the full pair score matrix. Rows are scored in
// parallel; each worker writes only its own rows, so the merge is implicit
// and deterministic.
func scoreMatrix(ref, test *train.Set, refIDs, testIDs []string, opts Options) [][]PairScore {
	matrix := make([][]PairScore, len(refIDs))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(refIDs) {
		workers = len(refIDs)
	}

	rows := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ri := range rows {
				refEvents, _ := ref.Events(refIDs[ri])
				row := make([]PairScore, len(testIDs))
				for ti, testID := range testIDs {
					testEvents, _ := test.Events(testID)
					row[ti] = scorePair(refIDs[ri], testID, refEvents, testEvents, opts.CoincidenceWindow)
				}
				matrix[ri] = row
			}
		}()
	}
	for ri := range refIDs {
		rows <- ri
	}
	close(rows)
	wg.Wait()

	return matrix
}

// scorePair counts coincidences between two sorted trains and derives the
// accuracy, precision and recall for the pair.
func scorePair(refID, testID string, refEvents, testEvents []train.Frame, window train.Frame) PairScore {
	c := countCoincidences(refEvents, testEvents, window)

	score := PairScore{
		RefID:        refID,
		TestID:       testID,
		Coincidences: c,
		RefEvents:    len(refEvents),
		TestEvents:   len(testEvents),
	}
	if denom := len(refEvents) + len(testEvents) - c; denom > 0 {
		score.Accuracy = float64(c) / float64(denom)
	}
	if len(testEvents) > 0 {
		score.Precision = float64(c) / float64(len(testEvents))
	}
	if len(refEvents) > 0 {
		score.Recall = float64(c) / float64(len(refEvents))
	}
	return score
}

// countCoincidences runs a two-pointer merge over two sorted trains. Each
// event participates in at most one coincidence, so the count is bounded by
// min(len(a), len(b)) and the scan is linear in len(a)+len(b).
func countCoincidences(a, b []train.Frame, window train.Frame) int {
	i, j, c := 0, 0, 0
	for i < len(a) && j < len(b) {
		d := a[i] - b[j]
		switch {
		case d > window:
			j++
		case d < -window:
			i++
		default:
			c++
			i++
			j++
		}
	}
	return c
}

// unitPair is a resolved (reference row, test column) assignment.
type unitPair struct {
	ri, ti int
}

// assignGreedy resolves the assignment by repeatedly taking the best
// remaining pair. A pair is eligible when its accuracy is non-zero and at
// least MinAccuracy. Ties break on (refID, testID) lexicographic order.
func assignGreedy(matrix [][]PairScore, refIDs, testIDs []string, minAccuracy float64) []unitPair {
	var candidates []unitPair
	for ri := range matrix {
		for ti := range matrix[ri] {
			s := matrix[ri][ti]
			if s.Accuracy > 0 && s.Accuracy >= minAccuracy {
				candidates = append(candidates, unitPair{ri, ti})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		sa, sb := matrix[a.ri][a.ti].Accuracy, matrix[b.ri][b.ti].Accuracy
		if sa != sb {
			return sa > sb
		}
		if refIDs[a.ri] != refIDs[b.ri] {
			return refIDs[a.ri] < refIDs[b.ri]
		}
		return testIDs[a.ti] < testIDs[b.ti]
	})

	var pairs []unitPair
	usedRef := make(map[int]bool)
	usedTest := make(map[int]bool)
	for _, c := range candidates {
		if usedRef[c.ri] || usedTest[c.ti] {
			continue
		}
		pairs = append(pairs, c)
		usedRef[c.ri] = true
		usedTest[c.ti] = true
	}
	return pairs
}

// assignHungarian converts accuracies into costs (1 - accuracy) and solves
// the assignment exactly. Pairs below the threshold are forbidden, and any
// assignment the solver makes to a forbidden pair is discarded.
func assignHungarian(matrix [][]PairScore, minAccuracy float64) []unitPair {
	cost := make([][]float64, len(matrix))
	for ri := range matrix {
		cost[ri] = make([]float64, len(matrix[ri]))
		for ti := range matrix[ri] {
			s := matrix[ri][ti]
			if s.Accuracy > 0 && s.Accuracy >= minAccuracy {
				cost[ri][ti] = 1 - s.Accuracy
			} else {
				cost[ri][ti] = hungarianInf
			}
		}
	}

	var pairs []unitPair
	for ri, ti := range hungarianAssign(cost) {
		if ti >= 0 {
			pairs = append(pairs, unitPair{ri, ti})
		}
	}
	return pairs
}

// assignOneToMany pairs each test unit with its best eligible reference
// unit, leaving references shareable. Rows arrive in sorted reference ID
// order, so accuracy ties keep the lowest reference unit ID.
func assignOneToMany(matrix [][]PairScore, minAccuracy float64) []unitPair {
	var pairs []unitPair
	for ti := range matrix[0] {
		best := -1
		for ri := range matrix {
			s := matrix[ri][ti]
			if s.Accuracy <= 0 || s.Accuracy < minAccuracy {
				continue
			}
			if best < 0 || s.Accuracy > matrix[best][ti].Accuracy {
				best = ri
			}
		}
		if best >= 0 {
			pairs = append(pairs, unitPair{best, ti})
		}
	}
	return pairs
}
