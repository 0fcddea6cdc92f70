package sparsedf

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func TestPackMO(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))
	const naux, nmo = 3, 4
	a, err := New(randSymmetric(rng, naux, nmo, nil), naux, [2]int{nmo, nmo})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	packed, err := a.PackMO()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !slices.Equal(packed.Shape(), []int{naux, 10}) {
		t.Fatalf("%v", packed.Shape())
	}
	unpacked, err := packed.UnpackMO()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !floats.Equal(unpacked.Data, a.Data) {
		t.Fatalf("%v, expected %v", unpacked.Data, a.Data)
	}

	inferred, err := NewPacked(packed.Data, naux)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if inferred.Meta.Nmo != [2]int{nmo, nmo} || !inferred.Meta.Packed {
		t.Fatalf("%#v", inferred.Meta)
	}
	if _, err := NewPacked(make([]float64, naux*8), naux); err == nil {
		t.Fatalf("expected error for non-triangular pairs")
	}
	if _, err := New(make([]float64, 5), 1, [2]int{2, 2}); err == nil {
		t.Fatalf("expected shape error")
	}
}

func TestTransposeMO(t *testing.T) {
	t.Parallel()
	const naux = 2
	nmo := [2]int{3, 4}
	data := make([]float64, naux*nmo[0]*nmo[1])
	for j := range data {
		data[j] = float64(j)
	}
	a, err := New(data, naux, nmo)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	b, err := a.TransposeMO()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if b.Meta.Nmo != [2]int{4, 3} {
		t.Fatalf("%v", b.Meta.Nmo)
	}
	for P := range naux {
		for p := range nmo[0] {
			for q := range nmo[1] {
				if b.At(P, q, p) != a.At(P, p, q) {
					t.Fatalf("%d %d %d: %f %f", P, p, q, b.At(P, q, p), a.At(P, p, q))
				}
			}
		}
	}

	if _, err := a.PackMO(); err == nil {
		t.Fatalf("expected error packing a non-square array")
	}
	sq, err := New(make([]float64, 4), 1, [2]int{2, 2})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	packed, err := sq.PackMO()
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := packed.TransposeMO(); err == nil {
		t.Fatalf("expected error transposing a packed array")
	}
}

func TestSparsity(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(3, 4))
	const naux, nmo = 5, 4
	zero := [][2]int{{0, 3}, {1, 3}}
	a, err := New(randSymmetric(rng, naux, nmo, zero), naux, [2]int{nmo, nmo})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	for _, packed := range []bool{false, true} {
		t.Run(fmt.Sprintf("%t", packed), func(t *testing.T) {
			b := a
			if packed {
				b, err = a.PackMO()
				if err != nil {
					t.Fatalf("%+v", err)
				}
			}
			if err := b.Sparsity(DefaultThresh); err != nil {
				t.Fatalf("%+v", err)
			}
			m := b.Meta
			if !slices.Equal(m.Nent, []int{3, 3, 4, 2}) {
				t.Fatalf("%v", m.Nent)
			}
			expected := [][]int{{0, 1, 2}, {0, 1, 2}, {0, 1, 2, 3}, {2, 3}}
			for p := range nmo {
				if !slices.Equal(m.EntList[p], expected[p]) {
					t.Fatalf("%d %v, expected %v", p, m.EntList[p], expected[p])
				}
			}
			if !slices.Equal(m.Sort, []int{3, 0, 1, 2}) {
				t.Fatalf("%v", m.Sort)
			}
			if m.NentMax != 4 {
				t.Fatalf("%d", m.NentMax)
			}
			if !slices.Equal(m.EntPair, []int{0, 1, 2, 3, 4, 5, 8, 9}) {
				t.Fatalf("%v", m.EntPair)
			}
		})
	}
}

func TestContract(t *testing.T) {
	t.Parallel()
	tests := []struct {
		naux    int
		nao     int
		nmo     int
		zero    [][2]int
		packed  bool
		workers int
	}{
		{naux: 3, nao: 4, nmo: 2, workers: 1},
		{naux: 6, nao: 5, nmo: 3, zero: [][2]int{{0, 4}, {1, 3}, {2, 4}}, workers: 1},
		{naux: 6, nao: 5, nmo: 5, zero: [][2]int{{0, 4}}, packed: true, workers: 3},
	}
	for ti, test := range tests {
		t.Run(fmt.Sprintf("%d", ti), func(t *testing.T) {
			t.Parallel()
			rng := rand.New(rand.NewPCG(uint64(ti), 5))
			a, err := New(randSymmetric(rng, test.naux, test.nao, test.zero), test.naux, [2]int{test.nao, test.nao})
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if test.packed {
				if a, err = a.PackMO(); err != nil {
					t.Fatalf("%+v", err)
				}
			}
			c := mat.NewDense(test.nao, test.nmo, nil)
			for p := range test.nao {
				for i := range test.nmo {
					c.Set(p, i, rng.Float64()*2-1)
				}
			}

			w, err := a.Contract1(c, test.workers)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			expected := make([]float64, test.nao*test.nmo*test.naux)
			for p := range test.nao {
				for i := range test.nmo {
					for P := range test.naux {
						var v float64
						for q := range test.nao {
							v += a.At(P, p, q) * c.At(q, i)
						}
						expected[(p*test.nmo+i)*test.naux+P] = v
					}
				}
			}
			if !floats.EqualApprox(w.Data, expected, 1e-12) {
				t.Fatalf("%v, expected %v", w.Data, expected)
			}

			dense, err := a.DenseContract1(c)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !floats.EqualApprox(dense.Data, expected, 1e-4) {
				t.Fatalf("%v, expected %v", dense.Data, expected)
			}

			vk, err := a.Contract2(w, test.workers)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			for p := range test.nao {
				for q := range test.nao {
					var v float64
					for i := range test.nmo {
						for P := range test.naux {
							v += w.At(p, i, P) * w.At(q, i, P)
						}
					}
					if math.Abs(vk.At(p, q)-v) > 1e-12 {
						t.Fatalf("%d %d: %f, expected %f", p, q, vk.At(p, q), v)
					}
				}
			}
		})
	}
}

func TestContractShape(t *testing.T) {
	t.Parallel()
	a, err := New(make([]float64, 2*3*3), 2, [2]int{3, 3})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if _, err := a.Contract1(mat.NewDense(2, 2, nil), 1); err == nil {
		t.Fatalf("expected shape error")
	}
	if _, err := a.Contract2(Product{Nao: 2, Nmo: 1, Naux: 2, Data: make([]float64, 4)}, 1); err == nil {
		t.Fatalf("expected shape error")
	}
}

// randSymmetric returns a random array B[P,p,q] symmetric in p and q, zero on the pairs zero.
func randSymmetric(rng *rand.Rand, naux, nmo int, zero [][2]int) []float64 {
	data := make([]float64, naux*nmo*nmo)
	for P := range naux {
		for p := range nmo {
			for q := 0; q <= p; q++ {
				v := rng.Float64()*2 - 1
				if slices.Contains(zero, [2]int{p, q}) || slices.Contains(zero, [2]int{q, p}) {
					v = 0
				}
				data[(P*nmo+p)*nmo+q] = v
				data[(P*nmo+q)*nmo+p] = v
			}
		}
	}
	return data
}

func TestMain(m *testing.M) {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
