// SPDX-License-Identifier: MIT
package bitint

import (
	"fmt"
	"testing"
)

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		n        int
		expected bool
	}{
		{-8, false}, // Negative number
		{0, false},  // Zero
		{1, true},   // 2^0
		{7, false},  // Not power of two
		{8, true},   // Power of two
		{32, true},  // Chunk alignment
		{1000, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d→%v", tt.n, tt.expected), func(t *testing.T) {
			if result := IsPowerOfTwo(tt.n); result != tt.expected {
				t.Errorf("IsPowerOfTwo(%d) = %v, expected %v", tt.n, result, tt.expected)
			}
		})
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		size, align int
		expected    int
	}{
		{2206, 32, 2208}, // 44100 Hz at 20/s, plus one
		{2208, 32, 2208}, // Already aligned
		{2401, 32, 2432},
		{1, 32, 32},
		{33, 32, 64},
		{10, 6, 12}, // Not a power of two
		{12, 6, 12},
		{0, 32, 0},    // Zero size
		{-5, 32, 0},   // Negative size
		{100, 0, 100}, // No alignment
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d→%d", tt.size, tt.align, tt.expected), func(t *testing.T) {
			if result := AlignUp(tt.size, tt.align); result != tt.expected {
				t.Errorf("AlignUp(%d, %d) = %d, expected %d", tt.size, tt.align, result, tt.expected)
			}
		})
	}
}

func TestAlignUpAllocations(t *testing.T) {
	allocs := testing.AllocsPerRun(100, func() {
		AlignUp(2206, 32)
	})
	if allocs > 0 {
		t.Errorf("AlignUp allocated %.0f times, expected 0", allocs)
	}
}

func BenchmarkAlignUp(b *testing.B) {
	size := 2206
	for b.Loop() {
		AlignUp(size, 32)
	}
}

func BenchmarkIsPowerOfTwo(b *testing.B) {
	n := 1024
	for b.Loop() {
		IsPowerOfTwo(n)
	}
}
