// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVSource reads PCM chunks from a WAV file. 8-bit files keep their width,
// deeper files are requantized to 16-bit.
type WAVSource struct {
	file     *os.File
	decoder  *wav.Decoder
	buf      *goaudio.IntBuffer
	bitDepth int
	width    int
	channels int
	rate     int
	data     []byte
}

// OpenWAV opens path and positions the decoder at the PCM data. frames is
// the number of frames per chunk.
func OpenWAV(path string, frames int) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedFormat, path)
	}
	if err := decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek to PCM data: %w", err)
	}

	s := &WAVSource{
		file:     f,
		decoder:  decoder,
		bitDepth: int(decoder.BitDepth),
		channels: int(decoder.NumChans),
		rate:     int(decoder.SampleRate),
	}
	switch {
	case decoder.WavAudioFormat != wavFormatPCM && decoder.WavAudioFormat != wavFormatExtensible:
		f.Close()
		return nil, fmt.Errorf("%w: WAV audio format %d", ErrUnsupportedFormat, decoder.WavAudioFormat)
	case s.bitDepth == 8:
		s.width = 1
	case s.bitDepth == 16 || s.bitDepth == 24 || s.bitDepth == 32:
		s.width = 2
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %d-bit WAV", ErrUnsupportedFormat, s.bitDepth)
	}
	if s.channels <= 0 || s.rate <= 0 {
		f.Close()
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedFormat, s.channels, s.rate)
	}

	s.buf = &goaudio.IntBuffer{
		Data:   make([]int, frames*s.channels),
		Format: &goaudio.Format{NumChannels: s.channels, SampleRate: s.rate},
	}
	s.data = make([]byte, 0, frames*s.channels*s.width)
	return s, nil
}

// FrameRate returns the file's sample rate in Hz.
func (s *WAVSource) FrameRate() int { return s.rate }

// Next returns the next chunk. The last chunk of a file may be short.
func (s *WAVSource) Next() (Chunk, error) {
	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return Chunk{}, fmt.Errorf("failed to read PCM buffer: %w", err)
	}
	n -= n % s.channels
	if n == 0 {
		return Chunk{}, io.EOF
	}

	s.data = s.data[:0]
	for _, v := range s.buf.Data[:n] {
		switch s.bitDepth {
		case 8:
			// WAV stores 8-bit samples unsigned.
			s.data = append(s.data, byte(int8(v-128)))
		case 16:
			s.data = appendInt16(s.data, v)
		default:
			s.data = appendInt16(s.data, v>>(s.bitDepth-16))
		}
	}
	return Chunk{Data: s.data, SampleWidth: s.width, Channels: s.channels, FrameRate: s.rate}, nil
}

// Close closes the underlying file.
func (s *WAVSource) Close() error {
	return s.file.Close()
}

func appendInt16(dst []byte, v int) []byte {
	u := uint16(int16(v))
	return append(dst, byte(u), byte(u>>8))
}
