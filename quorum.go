// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dbft

// F returns the maximum number of faulty validators tolerated by a
// validator set of size n: F = (n-1) / 3.
func F(n int) int {
	return (n - 1) / 3
}

// M returns the safety quorum size for a validator set of size n:
// M = N - F.
func M(n int) int {
	return n - F(n)
}

// PriorityPrimary returns the index of the priority primary for the
// given (height, view): (h - v) mod N.
func PriorityPrimary(n int, height uint32, view uint8) uint8 {
	return uint8(mod(int64(height)-int64(view), int64(n)))
}

// FallbackPrimary returns the index of the fallback primary for the
// given (height, view): (h - v - 1) mod N. It may coincide with the
// priority primary, in which case the fallback slot is inert.
func FallbackPrimary(n int, height uint32, view uint8) uint8 {
	return uint8(mod(int64(height)-int64(view)-1, int64(n)))
}

func mod(a, n int64) int64 {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
