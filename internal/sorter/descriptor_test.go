package sorter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tableYAML = `
sorters:
  - name: fastsort
    executable: fastsort
    args: ["--in", "{recording}", "--out", "{output}", "--rate", "{rate}"]
    params:
      detect_threshold:
        default: 5.0
        description: detection threshold in noise SDs
      min_cluster_size:
        default: 10
    output: firings.tsv
    timeout: 30m
  - name: slowsort
    executable: /opt/slowsort/bin/run
    args: ["{params}", "{output}"]
    output: out/spikes.tsv
`

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sorters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTable(t *testing.T) {
	table, err := LoadTable(writeTable(t, tableYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"fastsort", "slowsort"}, table.Names())

	desc, ok := table.Find("fastsort")
	require.True(t, ok)
	assert.Equal(t, "fastsort", desc.Executable)
	assert.Equal(t, "firings.tsv", desc.Output)
	assert.Equal(t, 5.0, desc.Params["detect_threshold"].Default)

	_, ok = table.Find("ghostsort")
	assert.False(t, ok)
}

func TestLoadTable_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing name", "sorters:\n  - executable: x\n    output: o.tsv\n"},
		{"missing executable", "sorters:\n  - name: a\n    output: o.tsv\n"},
		{"missing output", "sorters:\n  - name: a\n    executable: x\n"},
		{"duplicate name", "sorters:\n  - {name: a, executable: x, output: o.tsv}\n  - {name: a, executable: y, output: o.tsv}\n"},
		{"not yaml", "::::"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadTable(writeTable(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestMergeParams(t *testing.T) {
	table, err := LoadTable(writeTable(t, tableYAML))
	require.NoError(t, err)
	desc, _ := table.Find("fastsort")

	t.Run("defaults", func(t *testing.T) {
		merged, err := desc.MergeParams(nil)
		require.NoError(t, err)
		assert.Equal(t, 5.0, merged["detect_threshold"])
		assert.Equal(t, 10, merged["min_cluster_size"])
	})

	t.Run("override", func(t *testing.T) {
		merged, err := desc.MergeParams(map[string]any{"detect_threshold": 4.0})
		require.NoError(t, err)
		assert.Equal(t, 4.0, merged["detect_threshold"])
		assert.Equal(t, 10, merged["min_cluster_size"])
	})

	t.Run("unknown parameter rejected", func(t *testing.T) {
		_, err := desc.MergeParams(map[string]any{"detect_treshold": 4.0})
		assert.Error(t, err, "typoed parameter must fail loudly")
	})
}
