package compare

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// AggregateMethod selects how per-pair metrics are combined into a single
// performance figure. The two semantics are distinct and both supported:
// averaging per-unit metrics weights every matched unit equally, while
// pooling weights units by their event counts. On skewed unit sizes they
// disagree.
type AggregateMethod string

const (
	// AggregateByUnit computes each matched pair's metric, then takes the
	// unweighted mean across pairs.
	AggregateByUnit AggregateMethod = "by_unit"

	// AggregatePooled sums coincidence and event counts across all matched
	// pairs, then derives the metrics from the pooled totals.
	AggregatePooled AggregateMethod = "pooled"
)

// Performance holds aggregate accuracy, precision and recall over the
// matched pairs of a MatchResult.
type Performance struct {
	Method    AggregateMethod `json:"method"`
	Accuracy  float64         `json:"accuracy"`
	Precision float64         `json:"precision"`
	Recall    float64         `json:"recall"`

	// MatchedPairs is the number of pairs the aggregate covers; the missed
	// and false-positive unit counts are carried for context.
	MatchedPairs   int `json:"matched_pairs"`
	MissedRefs     int `json:"missed_refs"`
	FalsePositives int `json:"false_positives"`
}

// Performance aggregates the matched pairs with the given method. A result
// with no matched pairs yields all-zero metrics, not an error.
func (r *MatchResult) Performance(method AggregateMethod) (Performance, error) {
	perf := Performance{
		Method:         method,
		MatchedPairs:   len(r.Matched),
		MissedRefs:     len(r.MissedRefs),
		FalsePositives: len(r.FalsePositives),
	}
	if len(r.Matched) == 0 {
		return perf, nil
	}

	switch method {
	case AggregateByUnit:
		acc := make([]float64, len(r.Matched))
		prec := make([]float64, len(r.Matched))
		rec := make([]float64, len(r.Matched))
		for i, p := range r.Matched {
			acc[i] = p.Accuracy
			prec[i] = p.Precision
			rec[i] = p.Recall
		}
		perf.Accuracy = stat.Mean(acc, nil)
		perf.Precision = stat.Mean(prec, nil)
		perf.Recall = stat.Mean(rec, nil)

	case AggregatePooled:
		var c, refTotal, testTotal int
		for _, p := range r.Matched {
			c += p.Coincidences
			refTotal += p.RefEvents
			testTotal += p.TestEvents
		}
		if denom := refTotal + testTotal - c; denom > 0 {
			perf.Accuracy = float64(c) / float64(denom)
		}
		if testTotal > 0 {
			perf.Precision = float64(c) / float64(testTotal)
		}
		if refTotal > 0 {
			perf.Recall = float64(c) / float64(refTotal)
		}

	default:
		return Performance{}, fmt.Errorf("unknown aggregate method %q", method)
	}

	return perf, nil
}
