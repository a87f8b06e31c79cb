// Package sorter invokes external spike-sorting tools. Available tools are
// described by a capability table passed in by the caller, not a global
// registry: each descriptor names the executable, its parameter schema and
// its invocation contract.
package sorter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so descriptors can say "30m" or "1h" in
// YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ParamSpec describes one tunable parameter of a sorter.
type ParamSpec struct {
	Default     any    `yaml:"default"`
	Description string `yaml:"description,omitempty"`
}

// Descriptor describes one external sorter and how to invoke it.
//
// Args may contain the placeholders {recording} (staged raw file path),
// {params} (staged params JSON path), {output} (expected output path) and
// {rate} (sampling rate in Hz), expanded at run time.
type Descriptor struct {
	Name       string               `yaml:"name"`
	Executable string               `yaml:"executable"`
	Args       []string             `yaml:"args"`
	Params     map[string]ParamSpec `yaml:"params,omitempty"`

	// Output is the events file the tool writes, relative to the run
	// directory, in frame<TAB>unit format.
	Output string `yaml:"output"`

	// Timeout bounds a single run; zero means no limit beyond the caller's
	// context.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// Table is an ordered list of sorter descriptors.
type Table struct {
	Sorters []Descriptor `yaml:"sorters"`
}

// LoadTable reads a descriptor table from YAML.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sorter table: %w", err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing sorter table %s: %w", path, err)
	}

	seen := make(map[string]bool, len(t.Sorters))
	for i, d := range t.Sorters {
		if d.Name == "" {
			return nil, fmt.Errorf("sorter table %s: entry %d has no name", path, i)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("sorter table %s: duplicate sorter %q", path, d.Name)
		}
		seen[d.Name] = true
		if d.Executable == "" {
			return nil, fmt.Errorf("sorter %q has no executable", d.Name)
		}
		if d.Output == "" {
			return nil, fmt.Errorf("sorter %q has no output file", d.Name)
		}
	}
	return &t, nil
}

// Find returns the descriptor with the given name.
func (t *Table) Find(name string) (Descriptor, bool) {
	for _, d := range t.Sorters {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Names returns the sorter names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Sorters))
	for i, d := range t.Sorters {
		names[i] = d.Name
	}
	return names
}

// MergeParams applies caller overrides on top of the schema defaults.
// Overrides for parameters not in the schema are rejected so typos fail
// loudly instead of being silently ignored by the tool.
func (d Descriptor) MergeParams(overrides map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(d.Params))
	for name, spec := range d.Params {
		merged[name] = spec.Default
	}
	for name, value := range overrides {
		if _, ok := d.Params[name]; !ok {
			return nil, fmt.Errorf("sorter %q has no parameter %q", d.Name, name)
		}
		merged[name] = value
	}
	return merged, nil
}
