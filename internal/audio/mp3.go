// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

// mp3Channels is fixed: go-mp3 always decodes to interleaved 16-bit stereo.
const mp3Channels = 2

// MP3Source reads PCM chunks from an MP3 file.
type MP3Source struct {
	file    *os.File
	decoder *mp3.Decoder
	buf     []byte
}

// OpenMP3 opens path for decoding. frames is the number of frames per chunk.
func OpenMP3(path string, frames int) (*MP3Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	return &MP3Source{
		file:    f,
		decoder: decoder,
		buf:     make([]byte, frames*mp3Channels*2),
	}, nil
}

// FrameRate returns the decoded sample rate in Hz.
func (s *MP3Source) FrameRate() int { return s.decoder.SampleRate() }

// Next returns the next chunk. The decoder already yields little-endian
// int16, so bytes pass through untouched.
func (s *MP3Source) Next() (Chunk, error) {
	n, err := io.ReadFull(s.decoder, s.buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		return Chunk{}, fmt.Errorf("failed to read MP3 data: %w", err)
	}
	n -= n % (mp3Channels * 2)
	if n == 0 {
		return Chunk{}, io.EOF
	}
	return Chunk{
		Data:        s.buf[:n],
		SampleWidth: 2,
		Channels:    mp3Channels,
		FrameRate:   s.decoder.SampleRate(),
	}, nil
}

// Close closes the underlying file.
func (s *MP3Source) Close() error {
	return s.file.Close()
}
