// SPDX-License-Identifier: MIT
/*
Package protocol is the wire format between the broadcast server and its
clients. All multi-byte values are big endian.

	Handshake      S->C  2 bytes   int8 sampleRate, int8 bandCount
	Handshake ACK  C->S  1 byte    value ignored
	Data frame     S->C  4*N bytes N float32 loudness values, band order
	Frame ACK      C->S  1 byte    value ignored

The server sends the handshake once per connection and then streams frames
at up to sampleRate per second. Frames are last-value-wins, a slow client
simply misses some.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

const (
	ConfigSize = 2   // Handshake length in bytes.
	ValueSize  = 4   // Bytes per float32 band value.
	Ack        = '1' // Byte clients send back, never inspected.
)

var (
	ErrShortHandshake = errors.New("protocol: handshake shorter than 2 bytes")
	ErrFrameSize      = errors.New("protocol: frame size does not match band count")
	ErrBandCount      = errors.New("protocol: band count must be between 1 and 127")
	ErrSampleRate     = errors.New("protocol: sample rate must be between 1 and 127")
)

// ServerConfig is sent verbatim to every client on connect. Both values
// travel as signed bytes.
type ServerConfig struct {
	SampleRate int8 // Frames per second.
	BandCount  int8 // Values per frame.
}

// NewServerConfig validates sampleRate and bandCount against the int8
// range of the handshake.
func NewServerConfig(sampleRate, bandCount int) (ServerConfig, error) {
	if sampleRate < 1 || sampleRate > math.MaxInt8 {
		return ServerConfig{}, fmt.Errorf("%w: got %d", ErrSampleRate, sampleRate)
	}
	if bandCount < 1 || bandCount > math.MaxInt8 {
		return ServerConfig{}, fmt.Errorf("%w: got %d", ErrBandCount, bandCount)
	}
	return ServerConfig{SampleRate: int8(sampleRate), BandCount: int8(bandCount)}, nil
}

// MarshalBinary returns the 2-byte handshake.
func (c ServerConfig) MarshalBinary() ([]byte, error) {
	return []byte{byte(c.SampleRate), byte(c.BandCount)}, nil
}

// UnmarshalConfig decodes a handshake. Non-positive values are rejected,
// a client could not derive a frame size or period from them.
func UnmarshalConfig(b []byte) (ServerConfig, error) {
	if len(b) < ConfigSize {
		return ServerConfig{}, ErrShortHandshake
	}
	c := ServerConfig{SampleRate: int8(b[0]), BandCount: int8(b[1])}
	if c.SampleRate < 1 {
		return c, fmt.Errorf("%w: got %d", ErrSampleRate, c.SampleRate)
	}
	if c.BandCount < 1 {
		return c, fmt.Errorf("%w: got %d", ErrBandCount, c.BandCount)
	}
	return c, nil
}

// ReadConfig reads and decodes exactly one handshake from r.
func ReadConfig(r io.Reader) (ServerConfig, error) {
	var b [ConfigSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return ServerConfig{}, err
	}
	return UnmarshalConfig(b[:])
}

// FrameSize returns the frame length in bytes.
func (c ServerConfig) FrameSize() int {
	return FrameSize(int(c.BandCount))
}

// Period is the nominal time between frames, truncated to whole
// milliseconds: 1000/sampleRate.
func (c ServerConfig) Period() time.Duration {
	if c.SampleRate < 1 {
		return 0
	}
	return time.Duration(1000/int(c.SampleRate)) * time.Millisecond
}

// SkipThreshold is a fifth of the period, in whole milliseconds. Frames
// arriving faster than this are backlog.
func (c ServerConfig) SkipThreshold() time.Duration {
	return time.Duration(c.Period().Milliseconds()/5) * time.Millisecond
}

func (c ServerConfig) String() string {
	return fmt.Sprintf("rate=%d/s bands=%d frame=%dB period=%s", c.SampleRate, c.BandCount, c.FrameSize(), c.Period())
}

// FrameSize returns the frame length in bytes for bandCount values.
func FrameSize(bandCount int) int {
	return bandCount * ValueSize
}

// AppendFrame appends values as big-endian float32 to dst.
func AppendFrame(dst []byte, values []float64) []byte {
	for _, v := range values {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v)))
	}
	return dst
}

// DecodeFrame decodes b into dst, which is grown when it is too short.
func DecodeFrame(dst []float64, b []byte) ([]float64, error) {
	if len(b)%ValueSize != 0 {
		return dst[:0], fmt.Errorf("%w: %d bytes", ErrFrameSize, len(b))
	}
	n := len(b) / ValueSize
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(b[i*ValueSize:])))
	}
	return dst, nil
}

// WriteAck sends one acknowledgement byte.
func WriteAck(w io.Writer) error {
	_, err := w.Write([]byte{Ack})
	return err
}
