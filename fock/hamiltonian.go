package fock

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Hamiltonian is a spin-symmetric Hermitian operator over norb spatial orbitals,
// acting on the Fock space of 2*norb spin-orbitals.
// Spin-orbital p+s*norb is spatial orbital p with spin s.
//
// Terms[n] holds the n-body coefficients in packed lower-triangular pair layout,
// flattened row-major with shape [norb*(norb+1)/2]*n.
// Terms[0] is the constant and has length 1.
// The n-body term is h[p1q1,...,pnqn] a'_p1...a'_pn a_qn...a_q1 / n!,
// summed over spin and over both orientations of every orbital pair.
type Hamiltonian struct {
	Norb  int
	Terms [][]float64
}

// NewHamiltonian returns the Hamiltonian with constant h0, one-body integrals h1 of shape (norb, norb),
// and two-body integrals h2 in chemist's notation packed to shape (npair, npair).
// h2 may be nil.
func NewHamiltonian(h0 float64, h1, h2 mat.Symmetric) (Hamiltonian, error) {
	norb := h1.SymmetricDim()
	h := Hamiltonian{Norb: norb, Terms: [][]float64{{h0}, PackTril(h1)}}
	if h2 != nil {
		npair := NPair(norb)
		if h2.SymmetricDim() != npair {
			return Hamiltonian{}, errors.Wrap(ErrShape, fmt.Sprintf("h2 %d, expected %d", h2.SymmetricDim(), npair))
		}
		flat := make([]float64, 0, npair*npair)
		for pq := range npair {
			for rs := range npair {
				flat = append(flat, h2.At(pq, rs))
			}
		}
		h.Terms = append(h.Terms, flat)
	}
	if err := h.Validate(); err != nil {
		return Hamiltonian{}, errors.Wrap(err, "")
	}
	return h, nil
}

// Hubbard returns the Hubbard chain with hopping t and on-site repulsion u over norb sites.
func Hubbard(norb int, t, u float64) Hamiltonian {
	h1 := mat.NewSymDense(norb, nil)
	for p := 1; p < norb; p++ {
		h1.SetSym(p, p-1, -t)
	}
	npair := NPair(norb)
	h2 := mat.NewSymDense(npair, nil)
	for p := range norb {
		pp := Pack(p, p)
		h2.SetSym(pp, pp, u)
	}
	h, err := NewHamiltonian(0, h1, h2)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return h
}

// NElec returns the highest interaction order of h.
func (h Hamiltonian) NElec() int { return len(h.Terms) - 1 }

// Validate checks the shapes of the coefficient tensors.
// Hermiticity and spin symmetry are not checked.
func (h Hamiltonian) Validate() error {
	if h.Norb < 0 || 2*h.Norb > MaxOrb {
		return errors.Errorf("norb %d out of range", h.Norb)
	}
	if len(h.Terms) == 0 {
		return errors.Wrap(ErrShape, "no constant term")
	}
	npair := NPair(h.Norb)
	for n, term := range h.Terms {
		if want := ipow(npair, n); len(term) != want {
			return errors.Wrap(ErrShape, fmt.Sprintf("%d-body term has %d elements, expected %d", n, len(term), want))
		}
	}
	return nil
}

// Apply returns H|psi>, where psi spans 2*h.Norb spin-orbitals.
func (h Hamiltonian) Apply(k *Kernel, psi []float64) ([]float64, error) {
	if err := h.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := checkState(2*h.Norb, psi); err != nil {
		return nil, errors.Wrap(err, "")
	}

	hpsi := make([]float64, len(psi))
	floats.ScaleTo(hpsi, h.Terms[0][0], psi)
	fac := 1.0
	var scaled []float64
	for nelec := 1; nelec < len(h.Terms); nelec++ {
		fac /= float64(nelec)
		scaled = append(scaled[:0], h.Terms[nelec]...)
		floats.Scale(fac, scaled)
		if err := k.FullHop(scaled, psi, hpsi, h.Norb, nelec); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%d", nelec))
		}
	}
	return hpsi, nil
}

// Expectation returns <psi|H|psi> and H|psi>.
func (h Hamiltonian) Expectation(k *Kernel, psi []float64) (float64, []float64, error) {
	hpsi, err := h.Apply(k, psi)
	if err != nil {
		return 0, nil, errors.Wrap(err, "")
	}
	return floats.Dot(psi, hpsi), hpsi, nil
}

// FullHop accumulates H|psi> into hpsi, where H is the nelec-body spin-symmetric Hermitian operator
// with coefficients hop of shape [norb*(norb+1)/2]*nelec.
// norb counts spatial orbitals, psi and hpsi span 2*norb spin-orbitals.
func (k *Kernel) FullHop(hop, psi, hpsi []float64, norb, nelec int) error {
	if nelec < 1 {
		return errors.Errorf("nelec %d", nelec)
	}
	if want := ipow(NPair(norb), nelec); len(hop) != want {
		return errors.Wrap(ErrShape, fmt.Sprintf("len(hop) %d, expected %d", len(hop), want))
	}
	if err := checkState(2*norb, psi); err != nil {
		return errors.Wrap(err, "")
	}
	if err := checkState(2*norb, hpsi); err != nil {
		return errors.Wrap(err, "")
	}
	if err := checkAlias(psi, hpsi); err != nil {
		return errors.Wrap(err, "")
	}

	pidx := make([]int, nelec)
	qidx := make([]int, nelec)
	if err := k.fullHop(hop, psi, hpsi, pidx, qidx, norb, nelec, 0); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func (k *Kernel) fullHop(hop, psi, hpsi []float64, pidx, qidx []int, norb, nelec, ielec int) error {
	npair := NPair(norb)
	opstep := ipow(npair, nelec-(ielec+1))
	for pq := range npair {
		sub := hop[pq*opstep : (pq+1)*opstep]
		p, q := Unpack(pq)
		orients := [2][2]int{{p, q}, {q, p}}
		norient := 2
		if p == q {
			norient = 1
		}
		for _, o := range orients[:norient] {
			for spin := range 2 {
				pidx[ielec] = o[0] + spin*norb
				qidx[ielec] = o[1] + spin*norb
				if ielec+1 < nelec {
					// Recurse to the next-minor dimension.
					if err := k.fullHop(sub, psi, hpsi, pidx, qidx, norb, nelec, ielec+1); err != nil {
						return errors.Wrap(err, "")
					}
					continue
				}
				if sub[0] == 0 {
					continue
				}
				if err := k.contract(2*norb, pidx, qidx, sub[0], psi, hpsi, mixT); err != nil {
					return errors.Wrap(err, fmt.Sprintf("%v %v", pidx, qidx))
				}
			}
		}
	}
	return nil
}

// NPair returns the number of orbital pairs p >= q.
func NPair(norb int) int { return norb * (norb + 1) / 2 }

// Pack returns the lower-triangular index of the orbital pair (p, q).
func Pack(p, q int) int {
	if p < q {
		p, q = q, p
	}
	return p*(p+1)/2 + q
}

// Unpack is the inverse of Pack, returning p >= q.
func Unpack(pq int) (int, int) {
	p, q := 0, pq
	for p < q {
		p++
		q -= p
	}
	return p, q
}

// PackTril returns the lower triangle of m in row-major order.
func PackTril(m mat.Symmetric) []float64 {
	n := m.SymmetricDim()
	packed := make([]float64, 0, NPair(n))
	for p := range n {
		for q := 0; q <= p; q++ {
			packed = append(packed, m.At(p, q))
		}
	}
	return packed
}

// UnpackTril is the inverse of PackTril.
func UnpackTril(packed []float64) (*mat.SymDense, error) {
	n := 0
	for NPair(n) < len(packed) {
		n++
	}
	if NPair(n) != len(packed) {
		return nil, errors.Wrap(ErrShape, fmt.Sprintf("%d is not triangular", len(packed)))
	}
	m := mat.NewSymDense(n, nil)
	for pq, v := range packed {
		p, q := Unpack(pq)
		m.SetSym(p, q, v)
	}
	return m, nil
}

func ipow(b, e int) int {
	r := 1
	for range e {
		r *= b
	}
	return r
}
