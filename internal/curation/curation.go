// Package curation exports spike train sets to a phy-style project
// directory for manual curation and re-imports the curated result. An
// export followed by an import with no edits reproduces the original set
// exactly; clusters the curator labels "noise" are omitted on import.
package curation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/neurobench/sortagree/internal/recording"
	"github.com/neurobench/sortagree/internal/train"
)

// Project file names, fixed by the exchange format.
const (
	paramsFile       = "params.json"
	spikeTimesFile   = "spike_times.tsv"
	clusterGroupFile = "cluster_group.tsv"
)

// GroupNoise is the curator label that excludes a cluster on import. Any
// other label (good, mua, unsorted, ...) keeps the cluster.
const GroupNoise = "noise"

// params is the project manifest.
type params struct {
	Source       string  `json:"source"`
	SamplingRate float64 `json:"sampling_rate_hz"`
	NumUnits     int     `json:"n_units"`
	NumChannels  int     `json:"n_channels,omitempty"`
	DatPath      string  `json:"dat_path,omitempty"`
}

// Export writes a curation project for the set into dir, creating it if
// needed. rec is optional; when present its channel count and staged raw
// path are recorded in the manifest so the curation GUI can show waveforms.
func Export(set *train.Set, rec *recording.Recording, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating curation project: %w", err)
	}

	p := params{
		Source:       set.Name(),
		SamplingRate: set.SamplingRate(),
		NumUnits:     set.NumUnits(),
	}
	if rec != nil {
		p.NumChannels = rec.NumChannels()
		p.DatPath = "recording.bin"
		if err := rec.SaveRaw(filepath.Join(dir, p.DatPath), 0); err != nil {
			return fmt.Errorf("staging recording into curation project: %w", err)
		}
	}
	paramsBytes, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, paramsFile), paramsBytes, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", paramsFile, err)
	}

	if err := writeSpikeTimes(set, filepath.Join(dir, spikeTimesFile)); err != nil {
		return err
	}
	return writeClusterGroups(set, filepath.Join(dir, clusterGroupFile))
}

// writeSpikeTimes emits every event as frame<TAB>cluster, globally sorted
// by frame (ties by cluster ID) the way curation tools expect.
func writeSpikeTimes(set *train.Set, path string) error {
	type spike struct {
		frame   train.Frame
		cluster string
	}
	var spikes []spike
	for _, id := range set.UnitIDs() {
		events, err := set.Events(id)
		if err != nil {
			return err
		}
		for _, f := range events {
			spikes = append(spikes, spike{frame: f, cluster: id})
		}
	}
	sort.Slice(spikes, func(i, j int) bool {
		if spikes[i].frame != spikes[j].frame {
			return spikes[i].frame < spikes[j].frame
		}
		return spikes[i].cluster < spikes[j].cluster
	})

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", spikeTimesFile, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "frame\tcluster")
	for _, s := range spikes {
		fmt.Fprintf(w, "%d\t%s\n", s.frame, s.cluster)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

func writeClusterGroups(set *train.Set, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", clusterGroupFile, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "cluster_id\tgroup")
	for _, id := range set.UnitIDs() {
		fmt.Fprintf(w, "%s\tunsorted\n", id)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// Import re-parses a curation project into a train set. Clusters labelled
// noise in cluster_group.tsv are omitted; everything else is reproduced
// exactly as exported (or as edited by the curator).
func Import(dir string) (*train.Set, error) {
	paramsBytes, err := os.ReadFile(filepath.Join(dir, paramsFile))
	if err != nil {
		return nil, fmt.Errorf("reading curation project: %w", err)
	}
	var p params
	if err := json.Unmarshal(paramsBytes, &p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", paramsFile, err)
	}

	groups, err := readClusterGroups(filepath.Join(dir, clusterGroupFile))
	if err != nil {
		return nil, err
	}

	units := make(map[string][]train.Frame)
	for id, group := range groups {
		if group != GroupNoise {
			units[id] = nil
		}
	}

	path := filepath.Join(dir, spikeTimesFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", spikeTimesFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	sawContent := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawContent {
			sawContent = true
			if strings.HasPrefix(line, "frame") {
				continue
			}
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected 2 fields, got %d", path, lineNo, len(fields))
		}
		frame, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad frame %q: %w", path, lineNo, fields[0], err)
		}
		cluster := fields[1]
		if _, ok := groups[cluster]; !ok {
			return nil, fmt.Errorf("%s:%d: cluster %q missing from %s", path, lineNo, cluster, clusterGroupFile)
		}
		if _, keep := units[cluster]; keep {
			units[cluster] = append(units[cluster], frame)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", spikeTimesFile, err)
	}

	name := p.Source
	if name == "" {
		name = filepath.Base(dir)
	}
	return train.NewSorted(name, p.SamplingRate, units)
}

func readClusterGroups(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", clusterGroupFile, err)
	}
	defer f.Close()

	groups := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	sawContent := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawContent {
			sawContent = true
			if strings.HasPrefix(line, "cluster_id") {
				continue
			}
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected 2 fields, got %d", path, lineNo, len(fields))
		}
		groups[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", clusterGroupFile, err)
	}
	return groups, nil
}
