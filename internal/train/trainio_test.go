package train

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTSV_RoundTrip(t *testing.T) {
	s := mustNewSet(t, "sorterA", map[string][]Frame{
		"u1": {100, 200, 300},
		"u2": {150},
		"u3": nil,
	})

	path := filepath.Join(t.TempDir(), "sorterA.tsv")
	if err := s.SaveTSV(path); err != nil {
		t.Fatalf("SaveTSV: %v", err)
	}

	loaded, err := LoadTSV(path, 30000)
	if err != nil {
		t.Fatalf("LoadTSV: %v", err)
	}
	if loaded.Name() != "sorterA" {
		t.Errorf("expected name from file base, got %q", loaded.Name())
	}

	// u3 has no events so it cannot survive the event-per-line format.
	if diff := cmp.Diff([]string{"u1", "u2"}, loaded.UnitIDs()); diff != "" {
		t.Errorf("unit IDs mismatch (-want +got):\n%s", diff)
	}
	events, _ := loaded.Events("u1")
	if diff := cmp.Diff([]Frame{100, 200, 300}, events); diff != "" {
		t.Errorf("u1 events mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTSV_UnsortedInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messy.tsv")
	content := "frame\tunit\n300\tu1\n100\tu1\n200\tu1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadTSV(path, 30000)
	if err != nil {
		t.Fatalf("LoadTSV: %v", err)
	}
	events, _ := s.Events("u1")
	if diff := cmp.Diff([]Frame{100, 200, 300}, events); diff != "" {
		t.Errorf("events not sorted on load (-want +got):\n%s", diff)
	}
}

func TestLoadTSV_HeaderBelowComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotated.tsv")
	content := "# exported 2026-08-14\n\nframe\tunit\n100\tu1\n200\tu1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := LoadTSV(path, 30000)
	if err != nil {
		t.Fatalf("LoadTSV: %v", err)
	}
	events, _ := s.Events("u1")
	if diff := cmp.Diff([]Frame{100, 200}, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTSV_Duplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.tsv")
	content := "frame\tunit\n100\tu1\n100\tu1\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadTSV(path, 30000); err == nil {
		t.Error("expected duplicate frames to be rejected")
	}
}

func TestLoadTSV_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tsv")
	if err := os.WriteFile(path, []byte("frame\tunit\nnotanumber\tu1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTSV(path, 30000); err == nil {
		t.Error("expected parse error")
	}
}
