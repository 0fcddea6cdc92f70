// Package ucc implements the Fock-space unitary coupled-cluster operator without symmetry.
//
// An Operator is the ordered product U = ... exp(t_1 G_1) exp(t_0 G_0), where each generator
// G_k = a0'a1'...i1i0 - h.c. is an excitation with its Hermitian conjugate subtracted.
// The operator acts directly on Fock-space CI vectors, see package fock.
// Spin and particle-number symmetry are not enforced; a Parameterization may tie amplitudes together.
//
// References:
//   - Fock-space unitary coupled cluster, J. Chem. Theory Comput. 17, 841 (2021)
package ucc

import (
	"fmt"
	"iter"
	"slices"

	"github.com/pkg/errors"

	"github.com/fumin/ucc/fock"
)

// Factor is one unitary factor exp(Amp * [A0'A1'...I1I0 - h.c.]) of an Operator.
type Factor struct {
	A   []int
	I   []int
	Amp float64
}

// Options are options for constructing an Operator.
type Options struct {
	kernel  *fock.Kernel
	nodupes bool
	param   Parameterization
}

// NewOptions returns the default options.
func NewOptions() Options {
	opt := Options{}
	opt.kernel = fock.NewKernel(1)
	opt.nodupes = true
	opt.param = Identity{}
	return opt
}

// Kernel sets the kernel that evaluates the factors.
func (opt Options) Kernel(k *fock.Kernel) Options {
	opt.kernel = k
	return opt
}

// NoDupes sets whether to check for generators that are duplicates under permutation, which is expensive.
func (opt Options) NoDupes(b bool) Options {
	opt.nodupes = b
	return opt
}

// Parameterization sets the mapping between unique amplitudes and generator amplitudes.
func (opt Options) Parameterization(p Parameterization) Options {
	opt.param = p
	return opt
}

// Operator is a Fock-space unitary coupled-cluster operator over norb spin-orbitals.
type Operator struct {
	norb int
	a    [][]int
	i    [][]int
	amps []float64

	k     *fock.Kernel
	param Parameterization
}

// New returns the operator with generators a[k]'...i[k], amplitudes initialized to zero.
func New(norb int, a, i [][]int, options ...Options) (*Operator, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if len(a) != len(i) {
		return nil, errors.Wrap(ErrInvalidGenerator, fmt.Sprintf("%d creation and %d annihilation lists", len(a), len(i)))
	}
	if norb < 0 || norb > fock.MaxOrb {
		return nil, errors.Errorf("norb %d out of range [0, %d]", norb, fock.MaxOrb)
	}

	op := &Operator{norb: norb, k: opt.kernel, param: opt.param}
	op.a = make([][]int, 0, len(a))
	op.i = make([][]int, 0, len(i))
	for k := range a {
		op.a = append(op.a, slices.Clone(a[k]))
		op.i = append(op.i, slices.Clone(i[k]))
	}
	op.amps = make([]float64, len(a))
	if op.k == nil {
		op.k = fock.NewKernel(1)
	}
	if op.param == nil {
		op.param = Identity{}
	}

	if err := op.Validate(opt.nodupes); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := op.param.Validate(op.NGen()); err != nil {
		return nil, errors.Wrap(err, "parameterization")
	}
	return op, nil
}

// MustNew is like New but panics on error.
func MustNew(norb int, a, i [][]int, options ...Options) *Operator {
	op, err := New(norb, a, i, options...)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return op
}

// Norb returns the number of spin-orbitals.
func (op *Operator) Norb() int { return op.norb }

// NGen returns the number of generators.
func (op *Operator) NGen() int { return len(op.amps) }

// Kernel returns the kernel evaluating the factors.
func (op *Operator) Kernel() *fock.Kernel { return op.k }

// Generator returns the creation and annihilation lists of generator k.
func (op *Operator) Generator(k int) ([]int, []int) {
	return slices.Clone(op.a[k]), slices.Clone(op.i[k])
}

// Amps returns a copy of the generator amplitudes.
func (op *Operator) Amps() []float64 { return slices.Clone(op.amps) }

// SetAmps sets the generator amplitudes.
func (op *Operator) SetAmps(x []float64) error {
	if len(x) != len(op.amps) {
		return errors.Wrap(fock.ErrShape, fmt.Sprintf("%d amplitudes, expected %d", len(x), len(op.amps)))
	}
	copy(op.amps, x)
	return nil
}

// Amp returns the amplitude of generator k.
func (op *Operator) Amp(k int) float64 { return op.amps[k] }

// SetAmp sets the amplitude of generator k.
func (op *Operator) SetAmp(k int, v float64) { op.amps[k] = v }

// NUniq returns the number of unique amplitudes.
func (op *Operator) NUniq() int { return op.param.NUniq(op) }

// UniqAmps returns the unique amplitudes.
func (op *Operator) UniqAmps() []float64 { return op.param.UniqAmps(op) }

// SetUniqAmps sets the generator amplitudes from the unique amplitudes x.
func (op *Operator) SetUniqAmps(x []float64) error {
	if len(x) != op.NUniq() {
		return errors.Wrap(fock.ErrShape, fmt.Sprintf("%d unique amplitudes, expected %d", len(x), op.NUniq()))
	}
	if err := op.param.SetUniqAmps(op, x); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// UniqGrad maps the gradient over generator amplitudes onto the unique amplitudes.
func (op *Operator) UniqGrad(grad []float64) ([]float64, error) {
	if len(grad) != len(op.amps) {
		return nil, errors.Wrap(fock.ErrShape, fmt.Sprintf("%d gradients, expected %d", len(grad), len(op.amps)))
	}
	uniq, err := op.param.UniqGrad(op, grad)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return uniq, nil
}

// Factors iterates over the unitary factors in construction order, or in reverse order if reverse.
// The yielded slices must not be modified.
func (op *Operator) Factors(reverse bool) iter.Seq2[int, Factor] {
	return func(yield func(int, Factor) bool) {
		n := len(op.amps)
		for j := range n {
			k := j
			if reverse {
				k = n - 1 - j
			}
			if !yield(k, Factor{A: op.a[k], I: op.i[k], Amp: op.amps[k]}) {
				return
			}
		}
	}
}

// ApplyInPlace overwrites psi with U|psi>, or with U'|psi> if transpose.
func (op *Operator) ApplyInPlace(psi []float64, transpose bool) error {
	for k, f := range op.Factors(transpose) {
		if err := op.k.Op1U(op.norb, f.A, f.I, f.Amp, psi, transpose, 0); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", k))
		}
	}
	return nil
}

// ApplyCopy returns U|psi>, or U'|psi> if transpose, leaving psi untouched.
func (op *Operator) ApplyCopy(psi []float64, transpose bool) ([]float64, error) {
	upsi := slices.Clone(psi)
	if err := op.ApplyInPlace(upsi, transpose); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return upsi, nil
}

// Deriv1 iterates over the first derivatives of U|psi>, or U'|psi> if transpose,
// with respect to each generator amplitude in construction order.
// Each range over the returned sequence starts again from the first generator.
// psi is copied, so the caller may modify it afterwards.
//
// The derivative with respect to t_k replaces the factor exp(t_k G_k) by G_k exp(t_k G_k),
// which is the factor with angle t_k+pi/2 restricted to the determinants G_k connects.
func (op *Operator) Deriv1(psi []float64, transpose bool) (iter.Seq2[int, []float64], error) {
	if len(psi) != 1<<op.norb {
		return nil, errors.Wrap(fock.ErrShape, fmt.Sprintf("len(psi) %d, expected 2^%d", len(psi), op.norb))
	}
	psi = slices.Clone(psi)
	seq := func(yield func(int, []float64) bool) {
		for kd := range len(op.amps) {
			dupsi := slices.Clone(psi)
			// The length of psi and the generators were checked before iterating, so deriv1 cannot fail.
			if err := op.deriv1(dupsi, kd, transpose); err != nil {
				panic(fmt.Sprintf("%+v", err))
			}
			if !yield(kd, dupsi) {
				return
			}
		}
	}
	return seq, nil
}

// Derivs returns all first derivatives of U|psi>, see Deriv1.
func (op *Operator) Derivs(psi []float64, transpose bool) ([][]float64, error) {
	seq, err := op.Deriv1(psi, transpose)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	derivs := make([][]float64, 0, len(op.amps))
	for _, d := range seq {
		derivs = append(derivs, d)
	}
	return derivs, nil
}

func (op *Operator) deriv1(dupsi []float64, kd int, transpose bool) error {
	for k, f := range op.Factors(transpose) {
		deriv := 0
		if k == kd {
			if err := op.k.ProjAI(op.norb, f.A, f.I, dupsi); err != nil {
				return errors.Wrap(err, fmt.Sprintf("%d", k))
			}
			deriv = 1
		}
		if err := op.k.Op1U(op.norb, f.A, f.I, f.Amp, dupsi, transpose, deriv); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d", k))
		}
	}
	return nil
}

func (op *Operator) String() string {
	return fmt.Sprintf("ucc.Operator{norb: %d, ngen: %d, nuniq: %d}", op.norb, op.NGen(), op.NUniq())
}
