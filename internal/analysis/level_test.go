// SPDX-License-Identifier: MIT
package analysis

import "testing"

func TestLevel(t *testing.T) {
	tests := []struct {
		db   float64
		want int
	}{
		{0, 7},
		{-1.5, 7},
		{-2, 6},
		{-3, 6},
		{-5.9, 5},
		{-9, 4},
		{-11, 3},
		{-15, 2},
		{-17.99, 1},
		{-18.01, 0},
		{-30, 0},
		{-30.01, -1},
		{FloorDB, -1},
	}
	for _, tt := range tests {
		if got := Level(tt.db); got != tt.want {
			t.Errorf("Level(%v) = %d, want %d", tt.db, got, tt.want)
		}
	}
}

func TestWindowFuncParsing(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"Hamming", Hamming, false},
		{"hanning", Hann, false},
		{" blackman ", Blackman, false},
		{"", Hamming, false},
		{"kaiser", Hamming, true},
	}
	for _, tt := range tests {
		got, err := ParseWindowFunc(tt.name)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseWindowFunc(%q) = (%v, %v), want (%v, err=%v)", tt.name, got, err, tt.want, tt.wantErr)
		}
	}
	if Hamming.String() != "Hamming" || WindowFunc(42).String() != "WindowFunc(42)" {
		t.Errorf("unexpected String() output")
	}
}

func TestApplyWindowShortSlices(t *testing.T) {
	one := []float64{0}
	applyWindow(one, Hamming)
	if one[0] != 1 {
		t.Errorf("single coefficient = %v, want 1", one[0])
	}

	coeffs := make([]float64, 5)
	applyWindow(coeffs, Hamming)
	// Symmetric Hamming: 0.08 at the edges, 1 in the middle.
	if d := coeffs[0] - 0.08; d > 1e-12 || d < -1e-12 {
		t.Errorf("edge = %v, want 0.08", coeffs[0])
	}
	if d := coeffs[2] - 1; d > 1e-12 || d < -1e-12 {
		t.Errorf("center = %v, want 1", coeffs[2])
	}
}
