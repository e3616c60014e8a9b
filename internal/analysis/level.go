// SPDX-License-Identifier: MIT
package analysis

// MaxLevel is the highest LED row returned by Level.
const MaxLevel = 7

var levelSteps = [...]float64{-1.5, -3, -6, -9, -12, -15, -18, -30}

// Level maps a loudness value to an LED row from 0 to MaxLevel. Anything
// quieter than -30 dB returns -1, meaning the column stays dark.
func Level(db float64) int {
	for i, step := range levelSteps {
		if db >= step {
			return MaxLevel - i
		}
	}
	return -1
}
