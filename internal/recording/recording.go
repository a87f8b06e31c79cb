// Package recording loads raw extracellular recordings and provides the
// preprocessing steps applied before spike sorting. A recording is a flat
// little-endian int16 sample file with a JSON sidecar describing its
// layout; in-memory recordings are immutable and filters return copies.
package recording

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Layout values accepted in the sidecar meta.
const (
	LayoutInterleaved  = "interleaved"   // Sample order: frame 0 ch 0..N, frame 1 ch 0..N, ...
	LayoutChannelMajor = "channel_major" // Sample order: ch 0 all frames, ch 1 all frames, ...
)

// Meta is the JSON sidecar (<recording>.meta.json) describing a raw file.
type Meta struct {
	NumChannels  int     `json:"num_channels"`
	SamplingRate float64 `json:"sampling_rate_hz"`
	Layout       string  `json:"layout"`
	GainUV       float64 `json:"gain_uv,omitempty"` // Microvolts per ADC count; 0 means 1.0

	// Groups optionally partitions channels (e.g. tetrodes). Channel
	// indices are zero-based.
	Groups [][]int `json:"groups,omitempty"`
}

// Recording holds per-channel traces in microvolts.
type Recording struct {
	samplingRate float64
	channelIDs   []int
	traces       [][]float64 // traces[c][frame]
	groups       [][]int
}

// metaPath derives the sidecar path: foo.bin → foo.meta.json.
func metaPath(rawPath string) string {
	base := strings.TrimSuffix(rawPath, filepath.Ext(rawPath))
	return base + ".meta.json"
}

// LoadRaw reads a raw int16 recording and its sidecar meta.
func LoadRaw(rawPath string) (*Recording, error) {
	metaBytes, err := os.ReadFile(metaPath(rawPath))
	if err != nil {
		return nil, fmt.Errorf("reading recording meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("parsing recording meta %s: %w", metaPath(rawPath), err)
	}
	if err := meta.validate(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("reading raw samples: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("raw file %s has odd byte length %d", rawPath, len(raw))
	}
	totalSamples := len(raw) / 2
	if totalSamples%meta.NumChannels != 0 {
		return nil, fmt.Errorf("raw file %s: %d samples not divisible by %d channels",
			rawPath, totalSamples, meta.NumChannels)
	}
	numFrames := totalSamples / meta.NumChannels

	gain := meta.GainUV
	if gain == 0 {
		gain = 1.0
	}

	rec := &Recording{
		samplingRate: meta.SamplingRate,
		channelIDs:   make([]int, meta.NumChannels),
		traces:       make([][]float64, meta.NumChannels),
		groups:       meta.Groups,
	}
	for c := 0; c < meta.NumChannels; c++ {
		rec.channelIDs[c] = c
		rec.traces[c] = make([]float64, numFrames)
	}

	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(raw[2*i:]))) * gain
	}
	switch meta.Layout {
	case LayoutInterleaved:
		for f := 0; f < numFrames; f++ {
			for c := 0; c < meta.NumChannels; c++ {
				rec.traces[c][f] = sample(f*meta.NumChannels + c)
			}
		}
	case LayoutChannelMajor:
		for c := 0; c < meta.NumChannels; c++ {
			for f := 0; f < numFrames; f++ {
				rec.traces[c][f] = sample(c*numFrames + f)
			}
		}
	}

	return rec, nil
}

func (m *Meta) validate() error {
	if m.NumChannels <= 0 {
		return fmt.Errorf("recording meta: num_channels must be > 0, got %d", m.NumChannels)
	}
	if m.SamplingRate <= 0 {
		return fmt.Errorf("recording meta: sampling_rate_hz must be > 0, got %g", m.SamplingRate)
	}
	if m.Layout != LayoutInterleaved && m.Layout != LayoutChannelMajor {
		return fmt.Errorf("recording meta: unknown layout %q", m.Layout)
	}
	for gi, group := range m.Groups {
		for _, ch := range group {
			if ch < 0 || ch >= m.NumChannels {
				return fmt.Errorf("recording meta: group %d references channel %d (have %d channels)",
					gi, ch, m.NumChannels)
			}
		}
	}
	return nil
}

// New builds an in-memory recording from per-channel traces. Traces are
// copied. All channels must have equal length.
func New(samplingRate float64, traces [][]float64) (*Recording, error) {
	if len(traces) == 0 {
		return nil, fmt.Errorf("recording needs at least one channel")
	}
	n := len(traces[0])
	rec := &Recording{
		samplingRate: samplingRate,
		channelIDs:   make([]int, len(traces)),
		traces:       make([][]float64, len(traces)),
	}
	for c, tr := range traces {
		if len(tr) != n {
			return nil, fmt.Errorf("channel %d has %d frames, channel 0 has %d", c, len(tr), n)
		}
		rec.channelIDs[c] = c
		rec.traces[c] = append([]float64(nil), tr...)
	}
	return rec, nil
}

// NumChannels returns the channel count.
func (r *Recording) NumChannels() int { return len(r.traces) }

// NumFrames returns the number of sample frames per channel.
func (r *Recording) NumFrames() int {
	if len(r.traces) == 0 {
		return 0
	}
	return len(r.traces[0])
}

// SamplingRate returns the sampling rate in Hz.
func (r *Recording) SamplingRate() float64 { return r.samplingRate }

// ChannelIDs returns the original channel indices of this recording (after
// SplitGroups these are indices into the parent recording).
func (r *Recording) ChannelIDs() []int { return r.channelIDs }

// Trace returns one channel's samples in microvolts. The returned slice
// must not be modified.
func (r *Recording) Trace(channel int) ([]float64, error) {
	if channel < 0 || channel >= len(r.traces) {
		return nil, fmt.Errorf("channel %d out of range (have %d)", channel, len(r.traces))
	}
	return r.traces[channel], nil
}

// Duration returns the recording length in seconds.
func (r *Recording) Duration() float64 {
	if r.samplingRate == 0 {
		return 0
	}
	return float64(r.NumFrames()) / r.samplingRate
}

// SplitGroups partitions the recording into one sub-recording per channel
// group from the sidecar meta. A recording without groups returns itself
// as the single partition. Traces are shared, not copied.
func (r *Recording) SplitGroups() []*Recording {
	if len(r.groups) == 0 {
		return []*Recording{r}
	}
	out := make([]*Recording, 0, len(r.groups))
	for _, group := range r.groups {
		sub := &Recording{
			samplingRate: r.samplingRate,
			channelIDs:   make([]int, 0, len(group)),
			traces:       make([][]float64, 0, len(group)),
		}
		for _, ch := range group {
			sub.channelIDs = append(sub.channelIDs, r.channelIDs[ch])
			sub.traces = append(sub.traces, r.traces[ch])
		}
		out = append(out, sub)
	}
	return out
}

// SaveRaw writes the recording back out as interleaved int16 plus sidecar
// meta, for staging into a sorter run directory. Values are clamped to the
// int16 range.
func (r *Recording) SaveRaw(rawPath string, gainUV float64) error {
	if gainUV == 0 {
		gainUV = 1.0
	}
	numFrames := r.NumFrames()
	buf := make([]byte, 2*numFrames*len(r.traces))
	for f := 0; f < numFrames; f++ {
		for c := range r.traces {
			v := r.traces[c][f] / gainUV
			switch {
			case v > 32767:
				v = 32767
			case v < -32768:
				v = -32768
			}
			binary.LittleEndian.PutUint16(buf[2*(f*len(r.traces)+c):], uint16(int16(v)))
		}
	}
	if err := os.WriteFile(rawPath, buf, 0o644); err != nil {
		return fmt.Errorf("writing raw samples: %w", err)
	}

	meta := Meta{
		NumChannels:  len(r.traces),
		SamplingRate: r.samplingRate,
		Layout:       LayoutInterleaved,
		GainUV:       gainUV,
		Groups:       r.groups,
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(metaPath(rawPath), metaBytes, 0o644); err != nil {
		return fmt.Errorf("writing recording meta: %w", err)
	}
	return nil
}
