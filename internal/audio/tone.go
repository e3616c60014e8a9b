// SPDX-License-Identifier: MIT
package audio

import (
	"io"
	"math"
)

// ToneSource synthesizes a mono 16-bit sine. It needs no hardware and is
// the default source for demos.
type ToneSource struct {
	frequency float64
	amplitude float64
	rate      int
	frames    int
	remaining int // frames left, negative for endless
	phase     float64
	data      []byte
}

// NewToneSource returns a sine of frequency Hz at frameRate. amplitude is
// a fraction of full scale. total limits the number of frames produced,
// zero or less means endless.
func NewToneSource(frequency, amplitude float64, frameRate, frames, total int) *ToneSource {
	if total <= 0 {
		total = -1
	}
	return &ToneSource{
		frequency: frequency,
		amplitude: min(max(amplitude, 0), 1),
		rate:      frameRate,
		frames:    frames,
		remaining: total,
		data:      make([]byte, 0, frames*2),
	}
}

// FrameRate returns the tone's sample rate in Hz.
func (s *ToneSource) FrameRate() int { return s.rate }

// Next returns the next chunk of the tone.
func (s *ToneSource) Next() (Chunk, error) {
	n := s.frames
	if s.remaining >= 0 {
		n = min(n, s.remaining)
		s.remaining -= n
	}
	if n == 0 {
		return Chunk{}, io.EOF
	}

	step := 2 * math.Pi * s.frequency / float64(s.rate)
	s.data = s.data[:0]
	for range n {
		s.data = appendInt16(s.data, int(math.Sin(s.phase)*s.amplitude*math.MaxInt16))
		s.phase = math.Mod(s.phase+step, 2*math.Pi)
	}
	return Chunk{Data: s.data, SampleWidth: 2, Channels: 1, FrameRate: s.rate}, nil
}

// Close is a no-op.
func (s *ToneSource) Close() error { return nil }
