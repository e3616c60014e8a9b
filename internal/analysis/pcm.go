// SPDX-License-Identifier: MIT
package analysis

import (
	"encoding/binary"

	"bandcast/internal/audio"
)

// decodeMono decodes c into dst as raw integer sample values, averaging all
// channels of a frame. A trailing partial frame is ignored. dst is reused
// when it has enough capacity.
func decodeMono(dst []float64, c audio.Chunk) ([]float64, error) {
	switch {
	case c.SampleWidth != 1 && c.SampleWidth != 2:
		return dst[:0], ErrSampleWidth
	case c.Channels <= 0:
		return dst[:0], ErrChannelCount
	case c.FrameRate <= 0:
		return dst[:0], ErrFrameRate
	}

	frames := c.Frames()
	if frames == 0 {
		return dst[:0], ErrEmptyChunk
	}
	if cap(dst) < frames {
		dst = make([]float64, frames)
	}
	dst = dst[:frames]

	frameSize := c.SampleWidth * c.Channels
	scale := 1 / float64(c.Channels)
	for i := range frames {
		frame := c.Data[i*frameSize : (i+1)*frameSize]
		var sum float64
		for ch := range c.Channels {
			sum += sampleAt(frame, ch, c.SampleWidth)
		}
		dst[i] = sum * scale
	}
	return dst, nil
}

func sampleAt(frame []byte, ch, width int) float64 {
	if width == 1 {
		return float64(int8(frame[ch]))
	}
	return float64(int16(binary.LittleEndian.Uint16(frame[ch*2:])))
}
