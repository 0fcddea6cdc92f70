// Package exactdiag computes reference spectra of Fock-space Hamiltonians by dense diagonalization.
package exactdiag

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ucc/fock"
)

type ValVec struct {
	Val float64
	Vec []float64
}

// Matrix returns the matrix of h in the determinant basis of 2*h.Norb spin-orbitals.
// Columns are evaluated concurrently, up to the kernel's number of workers.
func Matrix(k *fock.Kernel, h fock.Hamiltonian) (*COO, error) {
	if err := h.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	n := 1 << (2 * h.Norb)
	cols := make([][]Entry, n)

	var g errgroup.Group
	g.SetLimit(max(k.Workers(), 1))
	for j := range n {
		g.Go(func() error {
			psi := make([]float64, n)
			psi[j] = 1
			hpsi, err := h.Apply(k, psi)
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d", j))
			}
			for i, v := range hpsi {
				if v == 0 {
					continue
				}
				cols[j] = append(cols[j], Entry{V: v, Row: i, Col: j})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	m := COOZeros(n, n)
	for _, c := range cols {
		m.Data = append(m.Data, c...)
	}
	slices.SortFunc(m.Data, rowMajor)
	return m, nil
}

// Sector returns the determinants of 2*norb spin-orbitals with nalpha electrons in the high norb orbitals
// and nbeta in the low, in ascending order.
func Sector(norb, nalpha, nbeta int) []int {
	low := uint64(1)<<norb - 1
	dets := make([]int, 0)
	for det := range 1 << (2 * norb) {
		d := uint64(det)
		if fock.NElec(d>>norb) == nalpha && fock.NElec(d&low) == nbeta {
			dets = append(dets, det)
		}
	}
	return dets
}

// Eigen returns the eigenpairs of the symmetric matrix m in ascending order of eigenvalue.
func Eigen(m *COO) ([]ValVec, error) {
	sym, err := m.Symmetric()
	if err != nil {
		return nil, errors.Wrap(err, "")
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, errors.Errorf("eig.Factorize failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	vvs := make([]ValVec, 0, len(vals))
	for i, v := range vals {
		vvs = append(vvs, ValVec{Val: v, Vec: mat.Col(nil, i, &vecs)})
	}
	slices.SortStableFunc(vvs, func(a, b ValVec) int { return cmp.Compare(a.Val, b.Val) })
	return vvs, nil
}

// GroundState returns the lowest eigenpair of h within the sector of nalpha and nbeta electrons,
// with the eigenvector expanded to the full Fock space.
// Negative nalpha or nbeta searches the full Fock space.
func GroundState(k *fock.Kernel, h fock.Hamiltonian, nalpha, nbeta int) (ValVec, error) {
	m, err := Matrix(k, h)
	if err != nil {
		return ValVec{}, errors.Wrap(err, "")
	}
	var dets []int
	if nalpha >= 0 && nbeta >= 0 {
		dets = Sector(h.Norb, nalpha, nbeta)
		if len(dets) == 0 {
			return ValVec{}, errors.Errorf("empty sector %d %d norb %d", nalpha, nbeta, h.Norb)
		}
		m = m.Sub(dets)
	}

	vvs, err := Eigen(m)
	if err != nil {
		return ValVec{}, errors.Wrap(err, "")
	}
	ground := vvs[0]
	if dets != nil {
		vec := make([]float64, 1<<(2*h.Norb))
		for j, det := range dets {
			vec[det] = ground.Vec[j]
		}
		ground.Vec = vec
	}
	return ground, nil
}

// Gerschgorin returns a lower bound of the eigenvalues of the symmetric matrix m.
// Theorem A3, Bounds for the eigenvalues of a matrix, Kenneth R. Garren.
func Gerschgorin(m *COO) float64 {
	centers := make([]float64, m.rows)
	radii := make([]float64, m.rows)
	for _, v := range m.Data {
		if v.Row == v.Col {
			centers[v.Row] = v.V
		} else {
			radii[v.Row] += math.Abs(v.V)
		}
	}

	floor := math.Inf(1)
	for i := range centers {
		floor = min(floor, centers[i]-radii[i])
	}
	return floor
}

// Statistics summarizes a spectrum and the state of its lowest eigenpair.
type Statistics struct {
	EigenValue []float64
	NElec      float64
	NAlpha     float64
	NBeta      float64
	Leading    string
	Weight     float64
}

// GetStatistics computes the particle numbers of the ground state, and its leading determinant.
// Eigenvectors are over the full Fock space of 2*norb spin-orbitals.
func GetStatistics(norb int, vvs []ValVec) (Statistics, error) {
	var stats Statistics
	for _, vv := range vvs {
		stats.EigenValue = append(stats.EigenValue, vv.Val)
	}
	if len(vvs) == 0 {
		return Statistics{}, errors.Errorf("empty spectrum")
	}
	ground := vvs[0]
	if len(ground.Vec) != 1<<(2*norb) {
		return Statistics{}, errors.Errorf("%d %d", len(ground.Vec), 1<<(2*norb))
	}

	var totalProb float64
	leading := -1
	for i, state := range fock.Bits(2 * norb) {
		probability := ground.Vec[i] * ground.Vec[i]
		totalProb += probability
		if probability > stats.Weight {
			stats.Weight, leading = probability, i
		}
		for j, b := range state {
			if b == 0 {
				continue
			}
			stats.NElec += probability
			switch p := len(state) - 1 - j; {
			case p >= norb:
				stats.NAlpha += probability
			default:
				stats.NBeta += probability
			}
		}
	}
	if math.Abs(totalProb-1) > 1e-3 {
		return Statistics{}, errors.Errorf("%f", totalProb)
	}
	stats.Leading = fock.Format(uint64(leading), 2*norb)
	return stats, nil
}
