// SPDX-License-Identifier: MIT
/*
Package audio produces fixed-size PCM chunks for the band analyzer from
files (WAV, MP3, FLAC) or a synthetic tone. Live capture through PortAudio
lives in the device subpackage so that nothing here needs cgo.

Every source is pull based: Next blocks until a chunk is ready and returns
io.EOF once the stream is exhausted. Chunks are sized so that one chunk
covers one analysis period, see ChunkFrames.
*/
package audio

import (
	"errors"
	"io"

	"bandcast/pkg/bitint"
)

var (
	// ErrEndOfStream is returned by sources once all audio has been read.
	ErrEndOfStream = io.EOF
	// ErrUnsupportedFormat is returned for encodings the sources cannot decode.
	ErrUnsupportedFormat = errors.New("audio: unsupported format")
)

// Chunk is one block of interleaved little-endian PCM. SampleWidth is 1
// (signed 8-bit) or 2 (signed 16-bit). The analyzer only reads it.
type Chunk struct {
	Data        []byte
	SampleWidth int
	Channels    int
	FrameRate   int
}

// Frames returns the number of complete frames in the chunk.
func (c Chunk) Frames() int {
	frameSize := c.SampleWidth * c.Channels
	if frameSize <= 0 {
		return 0
	}
	return len(c.Data) / frameSize
}

// Source is a pull-based chunk stream.
type Source interface {
	// Next returns the next chunk, or io.EOF at the end of the stream.
	Next() (Chunk, error)
	Close() error
}

const chunkAlign = 32

// ChunkFrames returns how many frames go into one chunk so that the
// analyzer emits sampleRate vectors per second from a stream at frameRate.
// The count is rounded up to the next multiple of 32 strictly above
// frameRate/sampleRate, so 44100 Hz at 20 per second gives 2208.
func ChunkFrames(frameRate, sampleRate int) int {
	if frameRate <= 0 || sampleRate <= 0 {
		return chunkAlign
	}
	return bitint.AlignUp(frameRate/sampleRate+1, chunkAlign)
}
