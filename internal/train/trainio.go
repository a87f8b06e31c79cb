package train

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// LoadTSV reads a train set from a two-column tab-separated file:
// frame<TAB>unit, one event per line, in any order. Lines starting with '#'
// and a single optional "frame\tunit" header are skipped. The set name
// defaults to the file's base name without extension.
func LoadTSV(path string, samplingRate float64) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening train file: %w", err)
	}
	defer f.Close()

	units := make(map[string][]Frame)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	sawContent := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// The header may sit below blank lines or comments, so it is
		// recognised on the first content line rather than line 1.
		if !sawContent {
			sawContent = true
			if strings.HasPrefix(line, "frame") {
				continue
			}
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%s:%d: expected 2 tab-separated fields, got %d", path, lineNo, len(fields))
		}
		frame, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad frame %q: %w", path, lineNo, fields[0], err)
		}
		unit := fields[1]
		units[unit] = append(units[unit], frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading train file: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewSorted(name, samplingRate, units)
}

// NewSorted is NewSet for inputs whose per-unit event order is not
// guaranteed: events are sorted (in a private copy) before validation, so
// only genuine duplicates fail.
func NewSorted(name string, samplingRate float64, units map[string][]Frame) (*Set, error) {
	sorted := make(map[string][]Frame, len(units))
	for id, events := range units {
		copied := append([]Frame(nil), events...)
		slices.Sort(copied)
		sorted[id] = copied
	}
	return NewSet(name, samplingRate, sorted)
}

// SaveTSV writes the set in the LoadTSV format, units in sorted ID order.
func (s *Set) SaveTSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating train file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "frame\tunit")
	for _, id := range s.unitIDs {
		for _, frame := range s.units[id] {
			fmt.Fprintf(w, "%d\t%s\n", frame, id)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing train file: %w", err)
	}
	return f.Close()
}
