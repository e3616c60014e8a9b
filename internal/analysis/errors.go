// SPDX-License-Identifier: MIT
package analysis

import "errors"

var (
	ErrEmptyChunk   = errors.New("analysis: chunk holds no complete frame")
	ErrSampleWidth  = errors.New("analysis: sample width must be 1 or 2 bytes")
	ErrChannelCount = errors.New("analysis: channel count must be positive")
	ErrFrameRate    = errors.New("analysis: frame rate must be positive")
	ErrBandTable    = errors.New("analysis: invalid band table")
)
