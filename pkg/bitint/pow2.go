// SPDX-License-Identifier: MIT
/*
Package bitint provides the integer helpers used for buffer sizing.

Usage:

	// Round a frame count up to the next multiple of 32
	frames := bitint.AlignUp(2206, 32) // Returns 2208

	// Check an alignment before masking with it
	ok := bitint.IsPowerOfTwo(32)

----------------------------------------------------------------------

What this code does:

	AlignUp adds align-1 and clears the low bits. For a power of two
	align, align-1 is a mask of exactly the bits below it:

	- size 2206, align 32:
	  2206 + 31 = 2237 (binary 100010111101)
	  2237 &^ 31 = 2208 (binary 100010100000)

	Sizes already on a boundary are returned unchanged, since adding
	align-1 never carries into the next multiple.
*/
package bitint

// IsPowerOfTwo checks if n is a power of 2 using bit manipulation.
// The expression (n & (n-1)) == 0 works because:
//   - Powers of 2 have exactly one bit set
//   - Subtracting 1 from a power of 2 sets all lower bits
//   - AND operation will be 0 only for powers of 2
//
// Examples:
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
//	-8     false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// AlignUp returns the smallest multiple of align that is >= size. A
// power of two align is handled with a mask, anything else with a
// division. Non-positive sizes return 0 and a non-positive align returns
// size.
//
// Examples:
//
//	Size  Align  Output
//	2206  32     2208
//	2208  32     2208
//	10    6      12
//	0     32     0
func AlignUp(size, align int) int {
	if size <= 0 {
		return 0
	}
	if align <= 0 {
		return size
	}
	if IsPowerOfTwo(align) {
		return (size + align - 1) &^ (align - 1)
	}
	return (size + align - 1) / align * align
}
