// Package sparsedf holds three-index density-fitting arrays B[P,p,q] together with their sparsity tables,
// and contracts them with orbital coefficients to build exchange matrices.
package sparsedf

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ucc/fock"
)

// DefaultThresh is the norm below which an orbital pair is considered negligible.
const DefaultThresh = 1e-8

// Meta describes the layout and sparsity of an Array.
type Meta struct {
	Naux int
	Nmo  [2]int
	// Packed arrays have shape (naux, nmo*(nmo+1)/2), with the lower triangle of each symmetric slice stored row-major.
	// Unpacked arrays have shape (naux, nmo[0], nmo[1]).
	Packed bool

	// Nent[p] is the number of orbitals q for which the pair pq is significant, and EntList[p] lists them.
	Nent    []int
	EntList [][]int
	// Sort orders the rows by ascending Nent.
	Sort    []int
	NentMax int
	// EntPair lists the significant pairs as packed lower-triangular indices.
	EntPair []int
}

// Array is a density-fitting array stored as a flat buffer, with its layout carried explicitly in Meta.
type Array struct {
	Data []float64
	Meta Meta
}

// New returns the unpacked array of shape (naux, nmo[0], nmo[1]).
func New(data []float64, naux int, nmo [2]int) (Array, error) {
	if naux < 0 || nmo[0] < 0 || nmo[1] < 0 || len(data) != naux*nmo[0]*nmo[1] {
		return Array{}, errors.Wrap(fock.ErrShape, fmt.Sprintf("len %d, naux %d nmo %v", len(data), naux, nmo))
	}
	return Array{Data: data, Meta: Meta{Naux: naux, Nmo: nmo}}, nil
}

// NewPacked returns the packed array of shape (naux, npair), inferring nmo from npair.
func NewPacked(data []float64, naux int) (Array, error) {
	if naux <= 0 || len(data)%naux != 0 {
		return Array{}, errors.Wrap(fock.ErrShape, fmt.Sprintf("len %d, naux %d", len(data), naux))
	}
	npair := len(data) / naux
	nmo := int(math.Round((math.Sqrt(float64(8*npair+1)) - 1) / 2))
	if fock.NPair(nmo) != npair {
		return Array{}, errors.Wrap(fock.ErrShape, fmt.Sprintf("%d is not a triangular number", npair))
	}
	return Array{Data: data, Meta: Meta{Naux: naux, Nmo: [2]int{nmo, nmo}, Packed: true}}, nil
}

// Shape returns the dimensions of the underlying buffer.
func (a Array) Shape() []int {
	if a.Meta.Packed {
		return []int{a.Meta.Naux, fock.NPair(a.Meta.Nmo[0])}
	}
	return []int{a.Meta.Naux, a.Meta.Nmo[0], a.Meta.Nmo[1]}
}

// At returns B[P,p,q].
func (a Array) At(P, p, q int) float64 {
	if a.Meta.Packed {
		return a.Data[P*fock.NPair(a.Meta.Nmo[0])+fock.Pack(p, q)]
	}
	return a.Data[(P*a.Meta.Nmo[0]+p)*a.Meta.Nmo[1]+q]
}

// PackMO returns the packed lower triangle of a square array.
// A packed array is returned as is.
func (a Array) PackMO() (Array, error) {
	if a.Meta.Packed {
		return a, nil
	}
	nmo := a.Meta.Nmo[0]
	if a.Meta.Nmo[1] != nmo {
		return Array{}, errors.Wrap(fock.ErrShape, fmt.Sprintf("not square %v", a.Meta.Nmo))
	}
	npair := fock.NPair(nmo)
	b := Array{Data: make([]float64, a.Meta.Naux*npair), Meta: a.Meta}
	b.Meta.Packed = true
	for P := range a.Meta.Naux {
		for p := range nmo {
			for q := 0; q <= p; q++ {
				b.Data[P*npair+fock.Pack(p, q)] = a.Data[(P*nmo+p)*nmo+q]
			}
		}
	}
	return b, nil
}

// UnpackMO returns the symmetric unpacked array of a packed one.
// An unpacked array is returned as is.
func (a Array) UnpackMO() (Array, error) {
	if !a.Meta.Packed {
		return a, nil
	}
	nmo := a.Meta.Nmo[0]
	b := Array{Data: make([]float64, a.Meta.Naux*nmo*nmo), Meta: a.Meta}
	b.Meta.Packed = false
	for P := range a.Meta.Naux {
		for p := range nmo {
			for q := range nmo {
				b.Data[(P*nmo+p)*nmo+q] = a.At(P, p, q)
			}
		}
	}
	return b, nil
}

// TransposeMO returns the array B[P,q,p].
// Packed arrays are symmetric and cannot be transposed.
func (a Array) TransposeMO() (Array, error) {
	if a.Meta.Packed {
		return Array{}, errors.Errorf("transposing a packed array")
	}
	n0, n1 := a.Meta.Nmo[0], a.Meta.Nmo[1]
	b := Array{Data: make([]float64, len(a.Data)), Meta: Meta{Naux: a.Meta.Naux, Nmo: [2]int{n1, n0}}}
	for P := range a.Meta.Naux {
		for p := range n0 {
			for q := range n1 {
				b.Data[(P*n1+q)*n0+p] = a.Data[(P*n0+p)*n1+q]
			}
		}
	}
	return b, nil
}

// Sparsity fills the sparsity tables of a, marking as significant the pairs pq for which the norm of
// B[:,p,q] exceeds thresh.
func (a *Array) Sparsity(thresh float64) error {
	nmo := a.Meta.Nmo[0]
	if a.Meta.Nmo[1] != nmo {
		return errors.Wrap(fock.ErrShape, fmt.Sprintf("not square %v", a.Meta.Nmo))
	}

	metric := make([]float64, nmo*nmo)
	for P := range a.Meta.Naux {
		for p := range nmo {
			for q := range nmo {
				v := a.At(P, p, q)
				metric[p*nmo+q] += v * v
			}
		}
	}

	m := &a.Meta
	m.Nent = make([]int, nmo)
	m.EntList = make([][]int, nmo)
	m.NentMax = 0
	m.EntPair = make([]int, 0)
	for p := range nmo {
		m.EntList[p] = make([]int, 0)
		for q := range nmo {
			if math.Sqrt(metric[p*nmo+q]) <= thresh {
				continue
			}
			m.EntList[p] = append(m.EntList[p], q)
			if q <= p {
				m.EntPair = append(m.EntPair, fock.Pack(p, q))
			}
		}
		m.Nent[p] = len(m.EntList[p])
		m.NentMax = max(m.NentMax, m.Nent[p])
	}
	m.Sort = make([]int, nmo)
	for p := range m.Sort {
		m.Sort[p] = p
	}
	slices.SortStableFunc(m.Sort, func(p, q int) int { return cmp.Compare(m.Nent[p], m.Nent[q]) })
	return nil
}

// Product is a half-transformed array w[p,i,P] of shape (nao, nmo, naux).
type Product struct {
	Nao  int
	Nmo  int
	Naux int
	Data []float64
}

func (w Product) At(p, i, P int) float64 {
	return w.Data[(p*w.Nmo+i)*w.Naux+P]
}

// row returns w[p,:,:].
func (w Product) row(p int) []float64 {
	n := w.Nmo * w.Naux
	return w.Data[p*n : (p+1)*n]
}

// Contract1 returns w[p,i,P] = sum_q B[P,p,q] c[q,i], summing only over the significant pairs.
// The sparsity tables are computed with DefaultThresh if absent.
// Rows are contracted concurrently by up to workers goroutines.
func (a *Array) Contract1(c mat.Matrix, workers int) (Product, error) {
	nao := a.Meta.Nmo[0]
	if a.Meta.Nmo[1] != nao {
		return Product{}, errors.Wrap(fock.ErrShape, fmt.Sprintf("not square %v", a.Meta.Nmo))
	}
	cr, nmo := c.Dims()
	if cr != nao {
		return Product{}, errors.Wrap(fock.ErrShape, fmt.Sprintf("c %dx%d, nao %d", cr, nmo, nao))
	}
	if a.Meta.Nent == nil {
		if err := a.Sparsity(DefaultThresh); err != nil {
			return Product{}, errors.Wrap(err, "")
		}
	}

	w := Product{Nao: nao, Nmo: nmo, Naux: a.Meta.Naux, Data: make([]float64, nao*nmo*a.Meta.Naux)}
	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	// Heaviest rows first.
	for _, p := range slices.Backward(a.Meta.Sort) {
		g.Go(func() error {
			wp := w.row(p)
			for _, q := range a.Meta.EntList[p] {
				for i := range nmo {
					cqi := c.At(q, i)
					if cqi == 0 {
						continue
					}
					for P := range w.Naux {
						wp[i*w.Naux+P] += a.At(P, p, q) * cqi
					}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Product{}, errors.Wrap(err, "")
	}
	return w, nil
}

// Contract2 returns the exchange matrix vk[p,q] = sum_{i,P} w[p,i,P] w[q,i,P],
// where w is the result of Contract1 on a.
func (a *Array) Contract2(w Product, workers int) (*mat.SymDense, error) {
	if w.Nao != a.Meta.Nmo[0] || w.Naux != a.Meta.Naux || len(w.Data) != w.Nao*w.Nmo*w.Naux {
		return nil, errors.Wrap(fock.ErrShape, fmt.Sprintf("w %d %d %d, array %#v", w.Nao, w.Nmo, w.Naux, a.Meta))
	}
	vk := mat.NewSymDense(max(w.Nao, 1), nil)
	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for p := range w.Nao {
		g.Go(func() error {
			wp := w.row(p)
			for q := 0; q <= p; q++ {
				// Each goroutine owns the elements (p, q) with q <= p.
				vk.SetSym(p, q, floats.Dot(wp, w.row(q)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return vk, nil
}

// DenseContract1 computes Contract1 with a dense tensor contraction, ignoring sparsity.
// The contraction runs in single precision.
func (a Array) DenseContract1(c mat.Matrix) (Product, error) {
	u, err := a.UnpackMO()
	if err != nil {
		return Product{}, errors.Wrap(err, "")
	}
	nao := u.Meta.Nmo[0]
	cr, nmo := c.Dims()
	if cr != u.Meta.Nmo[1] {
		return Product{}, errors.Wrap(fock.ErrShape, fmt.Sprintf("c %dx%d, nmo %v", cr, nmo, u.Meta.Nmo))
	}

	b := tensor.Zeros(u.Shape()...)
	for ijk := range b.All() {
		b.SetAt(ijk, complex(float32(u.At(ijk[0], ijk[1], ijk[2])), 0))
	}
	ct := tensor.Zeros(cr, nmo)
	for ij := range ct.All() {
		ct.SetAt(ij, complex(float32(c.At(ij[0], ij[1])), 0))
	}
	// Shape (naux, nao, nmo).
	bc := tensor.Contract(tensor.Zeros(1), b, ct, [][2]int{{2, 0}})

	w := Product{Nao: nao, Nmo: nmo, Naux: u.Meta.Naux, Data: make([]float64, nao*nmo*u.Meta.Naux)}
	for p := range nao {
		for i := range nmo {
			for P := range w.Naux {
				w.Data[(p*nmo+i)*w.Naux+P] = float64(real(bc.At(P, p, i)))
			}
		}
	}
	return w, nil
}
