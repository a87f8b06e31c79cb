package recording

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Bandpass returns a new recording with each channel filtered to the
// [lowHz, highHz) band. Filtering is done in the frequency domain: a real
// FFT per channel, coefficients outside the band zeroed, inverse transform
// scaled back. Channels are processed in parallel; each goroutine writes
// only its own output trace.
func (r *Recording) Bandpass(lowHz, highHz float64) (*Recording, error) {
	if lowHz < 0 || highHz <= lowHz {
		return nil, fmt.Errorf("invalid band [%g, %g)", lowHz, highHz)
	}
	nyquist := r.samplingRate / 2
	if highHz > nyquist {
		return nil, fmt.Errorf("band edge %g Hz above Nyquist %g Hz", highHz, nyquist)
	}

	n := r.NumFrames()
	out := &Recording{
		samplingRate: r.samplingRate,
		channelIDs:   r.channelIDs,
		traces:       make([][]float64, len(r.traces)),
		groups:       r.groups,
	}

	var wg sync.WaitGroup
	for c := range r.traces {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			fft := fourier.NewFFT(n)
			coeff := fft.Coefficients(nil, r.traces[c])
			for i := range coeff {
				freq := fft.Freq(i) * r.samplingRate
				if freq < lowHz || freq >= highHz {
					coeff[i] = 0
				}
			}
			trace := fft.Sequence(nil, coeff)
			scale := 1 / float64(n)
			for i := range trace {
				trace[i] *= scale
			}
			out.traces[c] = trace
		}(c)
	}
	wg.Wait()

	return out, nil
}

// ReferenceMethod selects the common-reference subtraction applied across
// channels.
type ReferenceMethod string

const (
	ReferenceMedian  ReferenceMethod = "median"
	ReferenceAverage ReferenceMethod = "average"
)

// CommonReference returns a new recording with the per-frame median or
// average across channels subtracted from every channel. This removes
// artefacts shared by the whole probe.
func (r *Recording) CommonReference(method ReferenceMethod) (*Recording, error) {
	if method != ReferenceMedian && method != ReferenceAverage {
		return nil, fmt.Errorf("unknown reference method %q", method)
	}

	n := r.NumFrames()
	numCh := len(r.traces)
	reference := make([]float64, n)

	switch method {
	case ReferenceAverage:
		for f := 0; f < n; f++ {
			sum := 0.0
			for c := 0; c < numCh; c++ {
				sum += r.traces[c][f]
			}
			reference[f] = sum / float64(numCh)
		}
	case ReferenceMedian:
		column := make([]float64, numCh)
		for f := 0; f < n; f++ {
			for c := 0; c < numCh; c++ {
				column[c] = r.traces[c][f]
			}
			sort.Float64s(column)
			if numCh%2 == 1 {
				reference[f] = column[numCh/2]
			} else {
				reference[f] = (column[numCh/2-1] + column[numCh/2]) / 2
			}
		}
	}

	out := &Recording{
		samplingRate: r.samplingRate,
		channelIDs:   r.channelIDs,
		traces:       make([][]float64, numCh),
		groups:       r.groups,
	}
	for c := 0; c < numCh; c++ {
		trace := make([]float64, n)
		for f := 0; f < n; f++ {
			trace[f] = r.traces[c][f] - reference[f]
		}
		out.traces[c] = trace
	}
	return out, nil
}
