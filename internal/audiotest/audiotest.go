// SPDX-License-Identifier: MIT

// Package audiotest builds PCM chunks and WAV fixtures for tests.
package audiotest

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"bandcast/internal/audio"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SineSamples returns size samples of a sine at frequency, scaled to amplitude.
func SineSamples(size int, frameRate, frequency, amplitude float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / frameRate
		buffer[i] = int16(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
	return buffer
}

// ComplexSamples returns a 440 Hz fundamental with two harmonics.
func ComplexSamples(size int, frameRate float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / frameRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = int16(signal * math.MaxInt16 * 0.9)
	}
	return buffer
}

// PCM16 packs interleaved samples into a 16-bit chunk.
func PCM16(samples []int16, channels, frameRate int) audio.Chunk {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return audio.Chunk{Data: data, SampleWidth: 2, Channels: channels, FrameRate: frameRate}
}

// PCM8 packs interleaved samples into a signed 8-bit chunk.
func PCM8(samples []int8, channels, frameRate int) audio.Chunk {
	data := make([]byte, len(samples))
	for i, s := range samples {
		data[i] = byte(s)
	}
	return audio.Chunk{Data: data, SampleWidth: 1, Channels: channels, FrameRate: frameRate}
}

// Sine returns a mono 16-bit chunk holding a sine at frequency.
func Sine(frames, frameRate int, frequency, amplitude float64) audio.Chunk {
	return PCM16(SineSamples(frames, float64(frameRate), frequency, amplitude), 1, frameRate)
}

// Silence returns an all-zero chunk.
func Silence(frames, frameRate, width, channels int) audio.Chunk {
	return audio.Chunk{
		Data:        make([]byte, frames*width*channels),
		SampleWidth: width,
		Channels:    channels,
		FrameRate:   frameRate,
	}
}

// Interleave zips left and right into one stereo sample stream.
func Interleave(left, right []int16) []int16 {
	out := make([]int16, 0, 2*len(left))
	for i := range left {
		out = append(out, left[i], right[i])
	}
	return out
}

// WriteWAV writes samples as a PCM WAV file in t's temp dir and returns its
// path.
func WriteWAV(t testing.TB, frameRate, bitDepth, channels int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer file.Close()

	enc := wav.NewEncoder(file, frameRate, bitDepth, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: frameRate},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	return path
}
