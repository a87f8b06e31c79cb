// Package groundtruth loads reference spike trains from simulation
// metadata, for evaluating sorter output against known-correct answers.
package groundtruth

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/neurobench/sortagree/internal/train"
)

// manifest is the simulation ground-truth file: per-unit spike frames plus
// the sampling rate they refer to.
type manifest struct {
	Name         string                   `json:"name,omitempty"`
	SamplingRate float64                  `json:"sampling_rate_hz"`
	Units        map[string][]train.Frame `json:"units"`
}

// Load reads a ground-truth manifest and validates it into a train set.
// Unit event arrays need not be sorted in the file; duplicates are still
// rejected.
func Load(path string) (*train.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ground truth: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing ground truth %s: %w", path, err)
	}
	if len(m.Units) == 0 {
		return nil, fmt.Errorf("ground truth %s has no units", path)
	}

	name := m.Name
	if name == "" {
		name = "ground_truth"
	}
	set, err := train.NewSorted(name, m.SamplingRate, m.Units)
	if err != nil {
		return nil, fmt.Errorf("ground truth %s: %w", path, err)
	}
	return set, nil
}
