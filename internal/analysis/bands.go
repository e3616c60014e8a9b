// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
)

const (
	HistorySize   = 250   // Peaks remembered per band for the adaptive ceiling.
	MinNormalizer = 500.0 // Ceiling floor, quiet passages are not blown up to 0 dB.
	Epsilon       = 1e-10 // Keeps log10 away from zero.
	FloorDB       = -60.0 // Starting EMA of every band.
)

// Band is the static definition of one frequency range, [LowHz, HighHz).
// Alpha is the EMA smoothing factor in (0, 1], 1 disables smoothing.
type Band struct {
	LowHz  float64
	HighHz float64
	Alpha  float64
}

// DefaultBands returns the ten octave-ish bands from 1 Hz to 16 kHz. The
// low and lower-mid bands get a larger alpha for a snappier bass response.
func DefaultBands(baseAlpha float64) []Band {
	bands := []Band{
		{LowHz: 1, HighHz: 32, Alpha: baseAlpha + 0.10},
		{LowHz: 32, HighHz: 62, Alpha: baseAlpha + 0.10},
		{LowHz: 63, HighHz: 125, Alpha: baseAlpha + 0.15},
		{LowHz: 126, HighHz: 250, Alpha: baseAlpha + 0.15},
		{LowHz: 251, HighHz: 500, Alpha: baseAlpha + 0.15},
		{LowHz: 501, HighHz: 1000, Alpha: baseAlpha + 0.15},
		{LowHz: 1001, HighHz: 2000, Alpha: baseAlpha + 0.10},
		{LowHz: 2001, HighHz: 4000, Alpha: baseAlpha + 0.10},
		{LowHz: 4001, HighHz: 8000, Alpha: baseAlpha + 0.10},
		{LowHz: 8001, HighHz: 16000, Alpha: baseAlpha + 0.10},
	}
	for i := range bands {
		bands[i].Alpha = min(bands[i].Alpha, 1)
	}
	return bands
}

// peakHistory is a fixed ring of the most recent band peaks. The oldest
// entry is overwritten once it is full.
type peakHistory struct {
	buf  [HistorySize]float64
	head int // next write position
	n    int
}

func (h *peakHistory) push(v float64) {
	h.buf[h.head] = v
	h.head = (h.head + 1) % HistorySize
	if h.n < HistorySize {
		h.n++
	}
}

func (h *peakHistory) max() float64 {
	m := math.Inf(-1)
	for i := range h.n {
		m = max(m, h.buf[i])
	}
	return m
}

// values returns the entries in insertion order, oldest first.
func (h *peakHistory) values() []float64 {
	out := make([]float64, 0, h.n)
	start := (h.head - h.n + HistorySize) % HistorySize
	for i := range h.n {
		out = append(out, h.buf[(start+i)%HistorySize])
	}
	return out
}

type bandState struct {
	Band
	history peakHistory
	ema     float64
}

// update folds one spectral peak into the band and returns the new EMA.
// ok is false when no spectral bin fell into the band, the previous EMA is
// then returned unchanged and the history is left alone. Loudness below
// FloorDB is clamped so that silence settles at the floor. A real signal
// more than 60 dB under the band's recent peak therefore also reads FloorDB.
func (b *bandState) update(peak float64, ok bool) float64 {
	if !ok {
		return b.ema
	}
	peak = max(peak, Epsilon)
	b.history.push(peak)
	norm := max(b.history.max(), MinNormalizer)
	db := max(20*math.Log10((peak+Epsilon)/(norm+Epsilon)), FloorDB)
	b.ema = db*b.Alpha + b.ema*(1-b.Alpha)
	return b.ema
}

// BandTable holds the bands and their adaptive state. It belongs to exactly
// one Analyzer and is not safe for concurrent use.
type BandTable struct {
	bands []bandState
}

// NewBandTable validates bands and returns a table with every EMA at
// FloorDB. Bands must be ordered by frequency and must not overlap.
func NewBandTable(bands []Band) (*BandTable, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("%w: no bands", ErrBandTable)
	}
	if len(bands) > 127 {
		return nil, fmt.Errorf("%w: %d bands do not fit the handshake", ErrBandTable, len(bands))
	}
	t := &BandTable{bands: make([]bandState, len(bands))}
	for i, b := range bands {
		if !(b.LowHz < b.HighHz) || b.LowHz < 0 {
			return nil, fmt.Errorf("%w: band %d has range [%g, %g)", ErrBandTable, i, b.LowHz, b.HighHz)
		}
		if !(b.Alpha > 0 && b.Alpha <= 1) {
			return nil, fmt.Errorf("%w: band %d alpha %g is outside (0, 1]", ErrBandTable, i, b.Alpha)
		}
		if i > 0 && b.LowHz < bands[i-1].HighHz {
			return nil, fmt.Errorf("%w: band %d overlaps band %d", ErrBandTable, i, i-1)
		}
		t.bands[i] = bandState{Band: b, ema: FloorDB}
	}
	return t, nil
}

// Len returns the number of bands.
func (t *BandTable) Len() int { return len(t.bands) }

// Band returns the static definition of band i.
func (t *BandTable) Band(i int) Band { return t.bands[i].Band }

// EMA returns the current smoothed loudness of band i.
func (t *BandTable) EMA(i int) float64 { return t.bands[i].ema }

// History returns a copy of band i's peak history, oldest first.
func (t *BandTable) History(i int) []float64 { return t.bands[i].history.values() }

// Reset clears all adaptive state.
func (t *BandTable) Reset() {
	for i := range t.bands {
		t.bands[i].history = peakHistory{}
		t.bands[i].ema = FloorDB
	}
}
