package recording

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRaw stages a raw file plus sidecar for LoadRaw tests.
func writeRaw(t *testing.T, dir string, meta Meta, samples []int16) string {
	t.Helper()

	rawPath := filepath.Join(dir, "rec.bin")
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	require.NoError(t, os.WriteFile(rawPath, buf, 0o644))

	metaBytes, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rec.meta.json"), metaBytes, 0o644))
	return rawPath
}

func TestLoadRaw_Interleaved(t *testing.T) {
	meta := Meta{NumChannels: 2, SamplingRate: 1000, Layout: LayoutInterleaved}
	// Frames: (1, -1), (2, -2), (3, -3)
	rawPath := writeRaw(t, t.TempDir(), meta, []int16{1, -1, 2, -2, 3, -3})

	rec, err := LoadRaw(rawPath)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.NumChannels())
	assert.Equal(t, 3, rec.NumFrames())
	assert.Equal(t, 1000.0, rec.SamplingRate())

	ch0, err := rec.Trace(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, ch0)
	ch1, err := rec.Trace(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -2, -3}, ch1)
}

func TestLoadRaw_ChannelMajorAndGain(t *testing.T) {
	meta := Meta{NumChannels: 2, SamplingRate: 1000, Layout: LayoutChannelMajor, GainUV: 0.5}
	rawPath := writeRaw(t, t.TempDir(), meta, []int16{1, 2, 3, 10, 20, 30})

	rec, err := LoadRaw(rawPath)
	require.NoError(t, err)

	ch0, _ := rec.Trace(0)
	assert.Equal(t, []float64{0.5, 1, 1.5}, ch0)
	ch1, _ := rec.Trace(1)
	assert.Equal(t, []float64{5, 10, 15}, ch1)
}

func TestLoadRaw_Validation(t *testing.T) {
	t.Run("bad layout", func(t *testing.T) {
		meta := Meta{NumChannels: 1, SamplingRate: 1000, Layout: "diagonal"}
		rawPath := writeRaw(t, t.TempDir(), meta, []int16{1})
		_, err := LoadRaw(rawPath)
		assert.Error(t, err)
	})

	t.Run("samples not divisible by channels", func(t *testing.T) {
		meta := Meta{NumChannels: 2, SamplingRate: 1000, Layout: LayoutInterleaved}
		rawPath := writeRaw(t, t.TempDir(), meta, []int16{1, 2, 3})
		_, err := LoadRaw(rawPath)
		assert.Error(t, err)
	})

	t.Run("group references missing channel", func(t *testing.T) {
		meta := Meta{NumChannels: 2, SamplingRate: 1000, Layout: LayoutInterleaved,
			Groups: [][]int{{0, 5}}}
		rawPath := writeRaw(t, t.TempDir(), meta, []int16{1, 2})
		_, err := LoadRaw(rawPath)
		assert.Error(t, err)
	})

	t.Run("missing sidecar", func(t *testing.T) {
		dir := t.TempDir()
		rawPath := filepath.Join(dir, "rec.bin")
		require.NoError(t, os.WriteFile(rawPath, []byte{0, 0}, 0o644))
		_, err := LoadRaw(rawPath)
		assert.Error(t, err)
	})
}

func TestSaveRaw_RoundTrip(t *testing.T) {
	rec, err := New(2000, [][]float64{
		{100, -200, 300},
		{-50, 75, -125},
	})
	require.NoError(t, err)

	rawPath := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, rec.SaveRaw(rawPath, 0))

	loaded, err := LoadRaw(rawPath)
	require.NoError(t, err)
	require.Equal(t, rec.NumChannels(), loaded.NumChannels())
	require.Equal(t, rec.NumFrames(), loaded.NumFrames())
	for c := 0; c < rec.NumChannels(); c++ {
		want, _ := rec.Trace(c)
		got, _ := loaded.Trace(c)
		assert.Equal(t, want, got, "channel %d", c)
	}
}

func TestSplitGroups(t *testing.T) {
	meta := Meta{NumChannels: 4, SamplingRate: 1000, Layout: LayoutChannelMajor,
		Groups: [][]int{{0, 1}, {2, 3}}}
	samples := []int16{
		1, 1, // ch0
		2, 2, // ch1
		3, 3, // ch2
		4, 4, // ch3
	}
	rawPath := writeRaw(t, t.TempDir(), meta, samples)

	rec, err := LoadRaw(rawPath)
	require.NoError(t, err)

	groups := rec.SplitGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, []int{0, 1}, groups[0].ChannelIDs())
	assert.Equal(t, []int{2, 3}, groups[1].ChannelIDs())

	ch, _ := groups[1].Trace(0)
	assert.Equal(t, []float64{3, 3}, ch)
}

func TestSplitGroups_NoGroups(t *testing.T) {
	rec, err := New(1000, [][]float64{{1, 2}})
	require.NoError(t, err)
	groups := rec.SplitGroups()
	require.Len(t, groups, 1)
	assert.Same(t, rec, groups[0])
}

func TestBandpass(t *testing.T) {
	// 1 second at 4 kHz: a 10 Hz drift plus a 1 kHz spikelike component.
	// Bandpassing [300, 1900) must remove the drift and keep the 1 kHz
	// component nearly untouched (exact FFT bins, so tolerance is tight).
	const rate = 4000
	const n = 4000
	low := make([]float64, n)
	high := make([]float64, n)
	mixed := make([]float64, n)
	for i := 0; i < n; i++ {
		tSec := float64(i) / rate
		low[i] = 40 * math.Sin(2*math.Pi*10*tSec)
		high[i] = 7 * math.Sin(2*math.Pi*1000*tSec)
		mixed[i] = low[i] + high[i]
	}

	rec, err := New(rate, [][]float64{mixed})
	require.NoError(t, err)

	filtered, err := rec.Bandpass(300, 1900)
	require.NoError(t, err)

	got, _ := filtered.Trace(0)
	for i := 0; i < n; i++ {
		assert.InDelta(t, high[i], got[i], 1e-6, "frame %d", i)
	}
}

func TestBandpass_Validation(t *testing.T) {
	rec, err := New(1000, [][]float64{{1, 2, 3, 4}})
	require.NoError(t, err)

	_, err = rec.Bandpass(500, 300)
	assert.Error(t, err)
	_, err = rec.Bandpass(100, 900)
	assert.Error(t, err, "band edge above Nyquist")
}

func TestCommonReference(t *testing.T) {
	rec, err := New(1000, [][]float64{
		{10, 20},
		{20, 40},
		{30, 90},
	})
	require.NoError(t, err)

	t.Run("median", func(t *testing.T) {
		out, err := rec.CommonReference(ReferenceMedian)
		require.NoError(t, err)
		ch0, _ := out.Trace(0)
		assert.Equal(t, []float64{-10, -20}, ch0) // Medians: 20, 40
	})

	t.Run("average", func(t *testing.T) {
		out, err := rec.CommonReference(ReferenceAverage)
		require.NoError(t, err)
		ch0, _ := out.Trace(0)
		assert.Equal(t, []float64{-10, -30}, ch0) // Means: 20, 50
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := rec.CommonReference("mode")
		assert.Error(t, err)
	})

	// Source recording untouched.
	ch0, _ := rec.Trace(0)
	assert.Equal(t, []float64{10, 20}, ch0)
}
