package curation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurobench/sortagree/internal/recording"
	"github.com/neurobench/sortagree/internal/train"
)

func testSet(t *testing.T) *train.Set {
	t.Helper()
	s, err := train.NewSet("sorterA", 30000, map[string][]train.Frame{
		"u1": {100, 250, 400},
		"u2": {150, 300},
		"u3": {500},
	})
	require.NoError(t, err)
	return s
}

func TestRoundTrip_NoEdits(t *testing.T) {
	original := testSet(t)
	dir := t.TempDir()

	require.NoError(t, Export(original, nil, dir))
	imported, err := Import(dir)
	require.NoError(t, err)

	assert.Equal(t, original.Name(), imported.Name())
	assert.Equal(t, original.SamplingRate(), imported.SamplingRate())
	if diff := cmp.Diff(original.UnitIDs(), imported.UnitIDs()); diff != "" {
		t.Fatalf("unit IDs mismatch (-want +got):\n%s", diff)
	}
	for _, id := range original.UnitIDs() {
		want, _ := original.Events(id)
		got, err := imported.Events(id)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("unit %s events mismatch (-want +got):\n%s", id, diff)
		}
	}
}

func TestImport_NoiseClustersOmitted(t *testing.T) {
	original := testSet(t)
	dir := t.TempDir()
	require.NoError(t, Export(original, nil, dir))

	// Simulate the curator marking u2 as noise.
	groupPath := filepath.Join(dir, "cluster_group.tsv")
	content, err := os.ReadFile(groupPath)
	require.NoError(t, err)
	edited := strings.Replace(string(content), "u2\tunsorted", "u2\tnoise", 1)
	require.NoError(t, os.WriteFile(groupPath, []byte(edited), 0o644))

	imported, err := Import(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"u1", "u3"}, imported.UnitIDs())
	// Kept units unchanged.
	want, _ := original.Events("u1")
	got, _ := imported.Events("u1")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("u1 events mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_RelabelledClustersKept(t *testing.T) {
	original := testSet(t)
	dir := t.TempDir()
	require.NoError(t, Export(original, nil, dir))

	groupPath := filepath.Join(dir, "cluster_group.tsv")
	content, err := os.ReadFile(groupPath)
	require.NoError(t, err)
	edited := strings.Replace(string(content), "u1\tunsorted", "u1\tgood", 1)
	edited = strings.Replace(edited, "u3\tunsorted", "u3\tmua", 1)
	require.NoError(t, os.WriteFile(groupPath, []byte(edited), 0o644))

	imported, err := Import(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, imported.UnitIDs())
}

func TestImport_HeadersBelowBlankLines(t *testing.T) {
	original := testSet(t)
	dir := t.TempDir()
	require.NoError(t, Export(original, nil, dir))

	// Curation tools sometimes leave blank lines above the header; the
	// header must still be recognised as the first content line.
	for _, file := range []string{"spike_times.tsv", "cluster_group.tsv"} {
		path := filepath.Join(dir, file)
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, append([]byte("\n\n"), content...), 0o644))
	}

	imported, err := Import(dir)
	require.NoError(t, err)
	assert.Equal(t, original.UnitIDs(), imported.UnitIDs())
	want, _ := original.Events("u1")
	got, _ := imported.Events("u1")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("u1 events mismatch (-want +got):\n%s", diff)
	}
}

func TestExport_WithRecording(t *testing.T) {
	rec, err := recording.New(30000, [][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	dir := t.TempDir()

	require.NoError(t, Export(testSet(t), rec, dir))

	// The staged recording must itself be loadable.
	staged, err := recording.LoadRaw(filepath.Join(dir, "recording.bin"))
	require.NoError(t, err)
	assert.Equal(t, 2, staged.NumChannels())
	assert.Equal(t, 3, staged.NumFrames())
}

func TestImport_UnknownCluster(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Export(testSet(t), nil, dir))

	// A spike referencing a cluster absent from cluster_group.tsv is a
	// corrupt project, not a unit to invent.
	spikesPath := filepath.Join(dir, "spike_times.tsv")
	f, err := os.OpenFile(spikesPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("999\tghost\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Import(dir)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestImport_MissingProject(t *testing.T) {
	_, err := Import(filepath.Join(t.TempDir(), "nonexistent"))
	assert.Error(t, err)
}
