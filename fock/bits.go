package fock

import (
	"iter"
	"math/bits"
	"strings"
)

// Bits iterates over the 2^n determinants of n spin-orbitals in index order.
// The yielded slice holds the occupation of each orbital, orbital n-1 first, and is reused between iterations.
func Bits(n int) iter.Seq2[int, []byte] {
	state := make([]byte, n)
	return func(yield func(int, []byte) bool) {
		numStates := 1 << n
		for i := range numStates {
			indexBit(state, i)
			if !yield(i, state) {
				return
			}
		}
	}
}

// Format returns the occupation string of det over n spin-orbitals, orbital n-1 first.
func Format(det uint64, n int) string {
	var b strings.Builder
	for p := n - 1; p >= 0; p-- {
		switch det & (1 << p) {
		case 0:
			b.WriteByte('0')
		default:
			b.WriteByte('1')
		}
	}
	return b.String()
}

// Det returns the determinant with the orbitals occ occupied.
func Det(occ ...int) uint64 {
	var det uint64
	for _, p := range occ {
		det |= 1 << p
	}
	return det
}

// NElec returns the number of occupied orbitals of det.
func NElec(det uint64) int { return bits.OnesCount64(det) }

// BitIndex is the inverse of the occupations yielded by Bits.
func BitIndex(state []byte) int {
	idx := 0
	for i := len(state) - 1; i >= 0; i-- {
		if state[i] == 1 {
			idx += 1 << (len(state) - 1 - i)
		}
	}
	return idx
}

func indexBit(state []byte, i int) {
	n := len(state)
	for j := range n {
		state[n-1-j] = byte(i >> j & 1)
	}
}
