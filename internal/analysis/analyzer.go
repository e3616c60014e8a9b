// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"math/cmplx"

	"bandcast/internal/audio"
	applog "bandcast/internal/log"

	"gonum.org/v1/gonum/dsp/fourier"
)

// LoudnessVector holds one smoothed dB loudness value per band, in band
// order. Values are generally in [-60, 0].
type LoudnessVector []float64

// Clone returns a copy that shares no memory with v.
func (v LoudnessVector) Clone() LoudnessVector {
	if v == nil {
		return nil
	}
	out := make(LoudnessVector, len(v))
	copy(out, v)
	return out
}

// binRange is the half-open span of spectral bins that fall into one band.
type binRange struct {
	lo, hi int
}

// Pre-allocated buffers, rebuilt only when the chunk length or frame rate
// changes.
type workspace struct {
	samples   []float64    // Mono samples, windowed in place.
	window    []float64    // Pre-calculated window coefficients.
	fftOutput []complex128 // n/2+1 complex bins.
	ranges    []binRange   // Bin span per band.
}

// Analyzer turns PCM chunks into loudness vectors. Each call windows the
// whole chunk once, transforms it once and folds the band peaks into the
// BandTable. An Analyzer is not safe for concurrent use.
type Analyzer struct {
	table      *BandTable
	windowFunc WindowFunc
	fft        *fourier.FFT
	size       int // Transform length of the current workspace.
	frameRate  int // Frame rate the bin ranges were computed for.
	workspace  workspace
	log        *applog.Logger
}

// NewAnalyzer creates an Analyzer that owns table.
func NewAnalyzer(table *BandTable, windowFunc WindowFunc) (*Analyzer, error) {
	if table == nil || table.Len() == 0 {
		return nil, errors.New("analysis: analyzer needs a band table")
	}
	a := &Analyzer{
		table:      table,
		windowFunc: windowFunc,
		log:        applog.New("Analyzer"),
	}
	a.log.Infof("initialized with %d bands, window %s", table.Len(), windowFunc)
	return a, nil
}

// Bands returns the number of values in every vector.
func (a *Analyzer) Bands() int { return a.table.Len() }

// Table returns the band table the analyzer mutates.
func (a *Analyzer) Table() *BandTable { return a.table }

// Analyze returns a freshly allocated LoudnessVector for chunk.
func (a *Analyzer) Analyze(chunk audio.Chunk) (LoudnessVector, error) {
	return a.AnalyzeInto(make(LoudnessVector, a.table.Len()), chunk)
}

// AnalyzeInto is Analyze writing into dst, which is grown when it is too
// short. Once the workspace is sized for a chunk length it does not
// allocate.
func (a *Analyzer) AnalyzeInto(dst LoudnessVector, chunk audio.Chunk) (LoudnessVector, error) {
	samples, err := decodeMono(a.workspace.samples, chunk)
	if err != nil {
		return dst, err
	}
	a.workspace.samples = samples
	a.prepare(len(samples), chunk.FrameRate)

	// --- 1. Window ---
	for i, w := range a.workspace.window {
		samples[i] *= w
	}

	// --- 2. Transform exactly the windowed slice ---
	a.fft.Coefficients(a.workspace.fftOutput, samples)

	// --- 3. Band peaks ---
	if cap(dst) < a.table.Len() {
		dst = make(LoudnessVector, a.table.Len())
	}
	dst = dst[:a.table.Len()]
	for i, r := range a.workspace.ranges {
		if r.lo >= r.hi {
			dst[i] = a.table.bands[i].update(0, false)
			continue
		}
		var peak float64
		for _, c := range a.workspace.fftOutput[r.lo:r.hi] {
			peak = max(peak, cmplx.Abs(c))
		}
		dst[i] = a.table.bands[i].update(peak, true)
	}
	return dst, nil
}

// prepare sizes the workspace for a transform of n samples at frameRate.
func (a *Analyzer) prepare(n, frameRate int) {
	if n == a.size && frameRate == a.frameRate {
		return
	}
	if n != a.size {
		a.fft = fourier.NewFFT(n)
		a.workspace.window = make([]float64, n)
		applyWindow(a.workspace.window, a.windowFunc)
		a.workspace.fftOutput = make([]complex128, n/2+1)
		a.size = n
	}
	a.frameRate = frameRate
	a.workspace.ranges = bandBins(a.workspace.ranges[:0], a.table, a.fft, frameRate)
	a.log.Debugf("workspace sized for %d samples at %d Hz", n, frameRate)
}

// bandBins maps every band onto the bins whose frequency lies in
// [LowHz, HighHz). Bins are scanned in order, so each span is contiguous.
func bandBins(dst []binRange, table *BandTable, fft *fourier.FFT, frameRate int) []binRange {
	bins := fft.Len()/2 + 1
	rate := float64(frameRate)
	for _, b := range table.bands {
		r := binRange{lo: bins, hi: bins}
		for k := range bins {
			f := fft.Freq(k) * rate
			if f >= b.LowHz && f < b.HighHz {
				if r.lo == bins {
					r.lo = k
				}
				r.hi = k + 1
			}
		}
		dst = append(dst, r)
	}
	return dst
}
