// SPDX-License-Identifier: MIT
package audiotest

import (
	"math"
	"os"
	"testing"
)

func TestComplexSamples(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		frameRate float64
	}{
		{"Standard", 1024, 44100},
		{"Small", 16, 8000},
		{"Large", 8192, 96000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComplexSamples(tt.size, tt.frameRate)
			if len(result) != tt.size {
				t.Errorf("ComplexSamples() buffer size = %d, want %d", len(result), tt.size)
			}

			hasNonZero := false
			for _, v := range result {
				if v != 0 {
					hasNonZero = true
					break
				}
			}
			if !hasNonZero {
				t.Errorf("ComplexSamples() produced all zeros")
			}
		})
	}
}

func TestSineSamples(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		frameRate float64
		frequency float64
	}{
		{"A4 Note", 1024, 44100, 440.0},
		{"Middle C", 1024, 44100, 261.63},
		{"Low Sample Rate", 1024, 8000, 440.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SineSamples(tt.size, tt.frameRate, tt.frequency, 10000)
			if len(result) != tt.size {
				t.Errorf("SineSamples() buffer size = %d, want %d", len(result), tt.size)
			}

			samplesPerCycle := tt.frameRate / tt.frequency
			crossCount := 0
			for i := 1; i < tt.size; i++ {
				if (result[i-1] < 0 && result[i] >= 0) || (result[i-1] >= 0 && result[i] < 0) {
					crossCount++
				}
			}

			// Two crossings per cycle, with a 20% margin for phase alignment.
			expected := float64(tt.size) / (samplesPerCycle / 2)
			if tolerance := 0.2 * expected; math.Abs(float64(crossCount)-expected) > tolerance {
				t.Errorf("zero crossings = %d, expected approximately %.1f±%.1f", crossCount, expected, tolerance)
			}
		})
	}
}

func TestPCMPacking(t *testing.T) {
	c16 := PCM16([]int16{1, -2, 0x1234}, 1, 8000)
	want16 := []byte{0x01, 0x00, 0xFE, 0xFF, 0x34, 0x12}
	if string(c16.Data) != string(want16) {
		t.Errorf("PCM16 data = % x, want % x", c16.Data, want16)
	}
	if c16.SampleWidth != 2 || c16.Frames() != 3 {
		t.Errorf("PCM16 width=%d frames=%d", c16.SampleWidth, c16.Frames())
	}

	c8 := PCM8([]int8{-1, 5, -128, 127}, 2, 8000)
	if c8.Frames() != 2 || c8.Data[0] != 0xFF || c8.Data[2] != 0x80 {
		t.Errorf("PCM8 = %+v", c8)
	}

	stereo := Interleave([]int16{1, 2}, []int16{3, 4})
	if len(stereo) != 4 || stereo[1] != 3 || stereo[2] != 2 {
		t.Errorf("Interleave = %v", stereo)
	}
}

func TestWriteWAV(t *testing.T) {
	path := WriteWAV(t, 8000, 16, 1, []int{0, 100, -100, 0})
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	// 44 byte header plus 4 samples of 2 bytes.
	if info.Size() < 44+8 {
		t.Errorf("wav size = %d, want at least %d", info.Size(), 44+8)
	}
}
