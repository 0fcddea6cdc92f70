// Package uccs minimizes the energy of a unitary coupled-cluster state U|psi0> over the amplitudes of U.
//
// It is a small host for the operator of package ucc: a Hamiltonian, an aufbau reference determinant,
// and a BFGS minimizer with the analytic gradient 2<dU psi0|H|U psi0>.
package uccs

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/fumin/ucc"
	"github.com/fumin/ucc/fock"
)

// Solver minimizes the energy of Ham over the amplitudes of Op.
// Spin-orbitals follow fock.Hamiltonian: alpha orbitals are the high Ham.Norb bits.
type Solver struct {
	Ham    fock.Hamiltonian
	NelecA int
	NelecB int
	Op     *ucc.Operator
}

// NewSolver returns the solver over the particle-number conserving singles of the 2*ham.Norb spin-orbitals.
func NewSolver(ham fock.Hamiltonian, nelecA, nelecB int, options ...ucc.Options) (*Solver, error) {
	if err := ham.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	op, err := ucc.UCCSNumSym(2*ham.Norb, nil, options...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return &Solver{Ham: ham, NelecA: nelecA, NelecB: nelecB, Op: op}, nil
}

// Psi0 returns the aufbau determinant with the lowest nelecA alpha and nelecB beta orbitals occupied.
func Psi0(norb, nelecA, nelecB int) ([]float64, error) {
	if nelecA < 0 || nelecA > norb || nelecB < 0 || nelecB > norb {
		return nil, errors.Errorf("nelec %d %d out of range for norb %d", nelecA, nelecB, norb)
	}
	if 2*norb > fock.MaxOrb {
		return nil, errors.Errorf("norb %d too large", norb)
	}
	n0a := uint64(1)<<nelecA - 1
	n0b := uint64(1)<<nelecB - 1
	psi := make([]float64, 1<<(2*norb))
	psi[n0a<<norb|n0b] = 1
	return psi, nil
}

// Psi0 returns the aufbau determinant of the solver.
func (s *Solver) Psi0() ([]float64, error) {
	return Psi0(s.Ham.Norb, s.NelecA, s.NelecB)
}

// ObjFun returns the energy <psi0|U'HU|psi0> and its gradient with respect to the unique amplitudes.
// Evaluating the objective sets the amplitudes of s.Op.
func (s *Solver) ObjFun(psi0 []float64) ObjFun {
	return func(x []float64) (float64, []float64, error) {
		if err := s.Op.SetUniqAmps(x); err != nil {
			return 0, nil, errors.Wrap(err, "")
		}
		upsi, err := s.Op.ApplyCopy(psi0, false)
		if err != nil {
			return 0, nil, errors.Wrap(err, "")
		}
		e, hupsi, err := s.Ham.Expectation(s.Op.Kernel(), upsi)
		if err != nil {
			return 0, nil, errors.Wrap(err, "")
		}

		derivs, err := s.Op.Deriv1(psi0, false)
		if err != nil {
			return 0, nil, errors.Wrap(err, "")
		}
		grad := make([]float64, s.Op.NGen())
		for k, dupsi := range derivs {
			grad[k] = 2 * floats.Dot(dupsi, hupsi)
		}
		uniq, err := s.Op.UniqGrad(grad)
		if err != nil {
			return 0, nil, errors.Wrap(err, "")
		}
		return e, uniq, nil
	}
}

// Kernel minimizes the energy starting from the amplitudes x0, or from the current amplitudes of s.Op if x0 is nil.
// On return, s.Op holds the optimized amplitudes.
func (s *Solver) Kernel(psi0, x0 []float64, options ...Options) (Result, error) {
	if x0 == nil {
		x0 = s.Op.UniqAmps()
	}
	if len(x0) != s.Op.NUniq() {
		return Result{}, errors.Wrap(fock.ErrShape, fmt.Sprintf("len(x0) %d, expected %d", len(x0), s.Op.NUniq()))
	}
	res, err := Minimize(s.ObjFun(psi0), x0, options...)
	if res.X != nil {
		if err1 := s.Op.SetUniqAmps(res.X); err1 != nil && err == nil {
			err = err1
		}
	}
	if err != nil {
		return res, errors.Wrap(err, "")
	}
	return res, nil
}
