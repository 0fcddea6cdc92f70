package ucc

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ucc/fock"
)

// UCCS returns the operator of the norb one-particle generators p' followed by the
// singles a'i, a > i, in row-major lower-triangular order.
// tp of length norb holds the one-particle amplitudes, and tph[a][i] the singles amplitudes.
// Either may be nil, leaving the amplitudes zero.
func UCCS(norb int, tp []float64, tph mat.Matrix, options ...Options) (*Operator, error) {
	a := make([][]int, 0, norb+norb*(norb-1)/2)
	i := make([][]int, 0, cap(a))
	for p := range norb {
		a = append(a, []int{p})
		i = append(i, []int{})
	}
	pairs := trilPairs(norb)
	for _, pq := range pairs {
		a = append(a, []int{pq[0]})
		i = append(i, []int{pq[1]})
	}
	op, err := New(norb, a, i, options...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if tp != nil {
		if len(tp) != norb {
			return nil, errors.Wrap(fock.ErrShape, fmt.Sprintf("len(tp) %d, expected %d", len(tp), norb))
		}
		copy(op.amps[:norb], tp)
	}
	if tph != nil {
		if err := checkSquare(tph, norb); err != nil {
			return nil, errors.Wrap(err, "tph")
		}
		for k, pq := range pairs {
			op.amps[norb+k] = tph.At(pq[0], pq[1])
		}
	}
	return op, nil
}

// UCCSD returns UCCS followed by the doubles a'b'ji for every pair of distinct orbital pairs
// (a, b) < (i, j), a > b and i > j, taken as combinations in lower-triangular order.
// t2 holds the doubles amplitudes t2[a][i][b][j] flattened row-major, and may be nil.
func UCCSD(norb int, tp []float64, tph mat.Matrix, t2 []float64, options ...Options) (*Operator, error) {
	s, err := UCCS(norb, tp, tph, options...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	op, err := appendDoubles(s, t2, options...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return op, nil
}

// UCCSNumSym returns the particle-number conserving singles a'i, a > i, with amplitudes t1[a][i].
// t1 may be nil.
func UCCSNumSym(norb int, t1 mat.Matrix, options ...Options) (*Operator, error) {
	pairs := trilPairs(norb)
	a := make([][]int, 0, len(pairs))
	i := make([][]int, 0, len(pairs))
	for _, pq := range pairs {
		a = append(a, []int{pq[0]})
		i = append(i, []int{pq[1]})
	}
	op, err := New(norb, a, i, options...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	if t1 != nil {
		if err := checkSquare(t1, norb); err != nil {
			return nil, errors.Wrap(err, "t1")
		}
		for k, pq := range pairs {
			op.amps[k] = t1.At(pq[0], pq[1])
		}
	}
	return op, nil
}

// UCCSDNumSym returns UCCSNumSym followed by the doubles of UCCSD.
func UCCSDNumSym(norb int, t1 mat.Matrix, t2 []float64, options ...Options) (*Operator, error) {
	s, err := UCCSNumSym(norb, t1, options...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	op, err := appendDoubles(s, t2, options...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return op, nil
}

func appendDoubles(s *Operator, t2 []float64, options ...Options) (*Operator, error) {
	norb := s.norb
	if t2 != nil && len(t2) != norb*norb*norb*norb {
		return nil, errors.Wrap(fock.ErrShape, fmt.Sprintf("len(t2) %d, expected %d", len(t2), norb*norb*norb*norb))
	}

	a := append([][]int{}, s.a...)
	i := append([][]int{}, s.i...)
	pairs := trilPairs(norb)
	type aibj struct{ a, i, b, j int }
	doubles := make([]aibj, 0)
	for x, ab := range pairs {
		for _, ij := range pairs[x+1:] {
			a = append(a, []int{ab[0], ab[1]})
			i = append(i, []int{ij[0], ij[1]})
			doubles = append(doubles, aibj{a: ab[0], i: ij[0], b: ab[1], j: ij[1]})
		}
	}
	op, err := New(norb, a, i, options...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	offset := s.NGen()
	copy(op.amps[:offset], s.amps)
	if t2 != nil {
		for k, d := range doubles {
			op.amps[offset+k] = t2[((d.a*norb+d.i)*norb+d.b)*norb+d.j]
		}
	}
	return op, nil
}

// trilPairs returns the orbital pairs p > q in row-major order.
func trilPairs(norb int) [][2]int {
	pairs := make([][2]int, 0, norb*(norb-1)/2)
	for p := range norb {
		for q := range p {
			pairs = append(pairs, [2]int{p, q})
		}
	}
	return pairs
}

func checkSquare(m mat.Matrix, n int) error {
	if r, c := m.Dims(); r != n || c != n {
		return errors.Wrap(fock.ErrShape, fmt.Sprintf("%dx%d, expected %dx%d", r, c, n, n))
	}
	return nil
}
