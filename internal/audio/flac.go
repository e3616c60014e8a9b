// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
)

// FLACSource reads PCM chunks from a FLAC file. Samples are requantized to
// 16-bit and interleaved.
type FLACSource struct {
	stream   *flac.Stream
	frames   int
	channels int
	rate     int
	bps      int
	pending  []int16 // interleaved samples decoded but not yet emitted
	data     []byte
	eof      bool
}

// OpenFLAC opens path for decoding. frames is the number of frames per chunk.
func OpenFLAC(path string, frames int) (*FLACSource, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create FLAC decoder: %w", err)
	}

	s := &FLACSource{
		stream:   stream,
		frames:   frames,
		channels: int(stream.Info.NChannels),
		rate:     int(stream.Info.SampleRate),
		bps:      int(stream.Info.BitsPerSample),
	}
	if s.channels <= 0 || s.rate <= 0 || s.bps <= 0 || s.bps > 32 {
		stream.Close()
		return nil, fmt.Errorf("%w: FLAC %d channels, %d Hz, %d bits",
			ErrUnsupportedFormat, s.channels, s.rate, s.bps)
	}
	s.data = make([]byte, 0, frames*s.channels*2)
	return s, nil
}

// FrameRate returns the stream's sample rate in Hz.
func (s *FLACSource) FrameRate() int { return s.rate }

// Next returns the next chunk. The last chunk of a stream may be short.
func (s *FLACSource) Next() (Chunk, error) {
	want := s.frames * s.channels
	for len(s.pending) < want && !s.eof {
		frame, err := s.stream.ParseNext()
		if errors.Is(err, io.EOF) {
			s.eof = true
			break
		}
		if err != nil {
			return Chunk{}, fmt.Errorf("failed to parse FLAC frame: %w", err)
		}
		if len(frame.Subframes) != s.channels {
			return Chunk{}, fmt.Errorf("%w: FLAC frame with %d subframes, stream has %d channels",
				ErrUnsupportedFormat, len(frame.Subframes), s.channels)
		}
		for i := range frame.Subframes[0].Samples {
			for _, sub := range frame.Subframes {
				s.pending = append(s.pending, requantize16(sub.Samples[i], s.bps))
			}
		}
	}

	n := min(want, len(s.pending))
	n -= n % s.channels
	if n == 0 {
		return Chunk{}, io.EOF
	}

	s.data = s.data[:0]
	for _, v := range s.pending[:n] {
		s.data = appendInt16(s.data, int(v))
	}
	s.pending = append(s.pending[:0], s.pending[n:]...)
	return Chunk{Data: s.data, SampleWidth: 2, Channels: s.channels, FrameRate: s.rate}, nil
}

// Close closes the stream and its file.
func (s *FLACSource) Close() error {
	return s.stream.Close()
}

func requantize16(v int32, bps int) int16 {
	switch {
	case bps > 16:
		return int16(v >> (bps - 16))
	case bps < 16:
		return int16(v << (16 - bps))
	default:
		return int16(v)
	}
}
