package ucc

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/fumin/ucc/fock"
)

// Parameterization maps the unique amplitudes seen by an optimizer onto generator amplitudes.
// Implementations apply spin or point-group symmetry by tying generators together.
type Parameterization interface {
	NUniq(op *Operator) int
	UniqAmps(op *Operator) []float64
	SetUniqAmps(op *Operator, x []float64) error
	// UniqGrad maps a gradient over generator amplitudes onto the unique amplitudes.
	UniqGrad(op *Operator, grad []float64) ([]float64, error)
	// Validate checks the parameterization against an operator of ngen generators.
	Validate(ngen int) error
}

// Identity gives every generator its own amplitude.
type Identity struct{}

func (Identity) NUniq(op *Operator) int { return op.NGen() }

func (Identity) UniqAmps(op *Operator) []float64 { return op.Amps() }

func (Identity) SetUniqAmps(op *Operator, x []float64) error {
	return op.SetAmps(x)
}

func (Identity) UniqGrad(op *Operator, grad []float64) ([]float64, error) {
	return slices.Clone(grad), nil
}

func (Identity) Validate(ngen int) error { return nil }

// Tied shares one amplitude among each group of generators.
// Generators outside every group keep their amplitude.
type Tied struct {
	Groups [][]int
}

func (t Tied) NUniq(op *Operator) int { return len(t.Groups) }

// UniqAmps returns the amplitude of the first generator of each group.
func (t Tied) UniqAmps(op *Operator) []float64 {
	x := make([]float64, 0, len(t.Groups))
	for _, g := range t.Groups {
		var v float64
		if len(g) > 0 {
			v = op.Amp(g[0])
		}
		x = append(x, v)
	}
	return x
}

func (t Tied) SetUniqAmps(op *Operator, x []float64) error {
	for j, g := range t.Groups {
		for _, k := range g {
			if k < 0 || k >= op.NGen() {
				return errors.Errorf("group %d: generator %d out of range %d", j, k, op.NGen())
			}
			op.SetAmp(k, x[j])
		}
	}
	return nil
}

// UniqGrad sums the gradient over the members of each group.
func (t Tied) UniqGrad(op *Operator, grad []float64) ([]float64, error) {
	x := make([]float64, len(t.Groups))
	for j, g := range t.Groups {
		for _, k := range g {
			if k < 0 || k >= len(grad) {
				return nil, errors.Errorf("group %d: generator %d out of range %d", j, k, len(grad))
			}
			x[j] += grad[k]
		}
	}
	return x, nil
}

// Validate checks that every generator belongs to at most one group.
func (t Tied) Validate(ngen int) error {
	owner := make(map[int]int)
	for j, g := range t.Groups {
		for _, k := range g {
			if k < 0 || k >= ngen {
				return errors.Wrap(fock.ErrShape, fmt.Sprintf("group %d: generator %d out of range %d", j, k, ngen))
			}
			if prev, ok := owner[k]; ok {
				return errors.Wrap(ErrDuplicateGenerator, fmt.Sprintf("generator %d in groups %d and %d", k, prev, j))
			}
			owner[k] = j
		}
	}
	return nil
}
