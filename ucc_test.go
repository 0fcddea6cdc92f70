package ucc

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"slices"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ucc/fock"
)

func TestUnitary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		norb    int
		workers int
	}{
		{norb: 3, workers: 1},
		{norb: 4, workers: 1},
		{norb: 4, workers: 3},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d %d", test.norb, test.workers), func(t *testing.T) {
			t.Parallel()
			rng := rand.New(rand.NewPCG(uint64(test.norb), uint64(test.workers)))
			op := randUCCSD(rng, test.norb, NewOptions().Kernel(fock.NewKernel(test.workers)))
			psi := randState(rng, test.norb)

			for _, transpose := range []bool{false, true} {
				upsi, err := op.ApplyCopy(psi, transpose)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				if n := floats.Dot(upsi, upsi); math.Abs(n-1) > 1e-12 {
					t.Fatalf("transpose %t: norm %f", transpose, n)
				}

				// U'U|psi> = |psi>.
				back := slices.Clone(upsi)
				if err := op.ApplyInPlace(back, !transpose); err != nil {
					t.Fatalf("%+v", err)
				}
				if !floats.EqualApprox(back, psi, 1e-12) {
					t.Fatalf("transpose %t: %v, expected %v", transpose, back, psi)
				}
			}
		})
	}
}

// TestAdjoint checks that U' equals the operator with reversed generators and negated amplitudes.
func TestAdjoint(t *testing.T) {
	t.Parallel()
	const norb = 4
	rng := rand.New(rand.NewPCG(1, 2))
	op := randUCCSD(rng, norb)
	psi := randState(rng, norb)

	var a, i [][]int
	var amps []float64
	for _, f := range op.Factors(true) {
		a = append(a, f.A)
		i = append(i, f.I)
		amps = append(amps, -f.Amp)
	}
	rev := MustNew(norb, a, i)
	if err := rev.SetAmps(amps); err != nil {
		t.Fatalf("%+v", err)
	}

	upsi, err := op.ApplyCopy(psi, true)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	revpsi, err := rev.ApplyCopy(psi, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !floats.EqualApprox(upsi, revpsi, 1e-14) {
		t.Fatalf("%v, expected %v", upsi, revpsi)
	}
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	const norb = 4
	rng := rand.New(rand.NewPCG(3, 4))
	op, err := UCCSD(norb, nil, nil, nil)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	psi := randState(rng, norb)
	upsi, err := op.ApplyCopy(psi, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !floats.Equal(upsi, psi) {
		t.Fatalf("%v, expected %v", upsi, psi)
	}
}

func TestApplyShape(t *testing.T) {
	t.Parallel()
	op := MustNew(3, [][]int{{1}}, [][]int{{0}})
	if err := op.ApplyInPlace(make([]float64, 4), false); !errors.Is(err, fock.ErrShape) {
		t.Fatalf("%+v", err)
	}
	if _, err := op.Deriv1(make([]float64, 16), false); !errors.Is(err, fock.ErrShape) {
		t.Fatalf("%+v", err)
	}
	if err := op.SetAmps([]float64{1, 2}); !errors.Is(err, fock.ErrShape) {
		t.Fatalf("%+v", err)
	}
}

func TestDeriv1(t *testing.T) {
	t.Parallel()
	const norb = 4
	const h = 1e-5
	rng := rand.New(rand.NewPCG(5, 6))
	op := randUCCSD(rng, norb)
	psi := randState(rng, norb)
	amps := op.Amps()

	for _, transpose := range []bool{false, true} {
		t.Run(fmt.Sprintf("%t", transpose), func(t *testing.T) {
			t.Parallel()
			op := MustNew(norb, op.a, op.i)
			if err := op.SetAmps(amps); err != nil {
				t.Fatalf("%+v", err)
			}
			derivs, err := op.Derivs(psi, transpose)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if len(derivs) != op.NGen() {
				t.Fatalf("%d %d", len(derivs), op.NGen())
			}
			for k, d := range derivs {
				op.SetAmp(k, amps[k]+h)
				plus, err := op.ApplyCopy(psi, transpose)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				op.SetAmp(k, amps[k]-h)
				minus, err := op.ApplyCopy(psi, transpose)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				op.SetAmp(k, amps[k])

				fd := make([]float64, len(psi))
				floats.SubTo(fd, plus, minus)
				floats.Scale(1/(2*h), fd)
				if !floats.EqualApprox(d, fd, 1e-8) {
					a, i := op.Generator(k)
					t.Fatalf("%d %v %v: %v, expected %v", k, a, i, d, fd)
				}
			}
		})
	}
}

// TestDeriv1Restart checks that the derivative sequence restarts on every range,
// and that it is unaffected by changes to the caller's psi.
func TestDeriv1Restart(t *testing.T) {
	t.Parallel()
	const norb = 3
	rng := rand.New(rand.NewPCG(7, 8))
	op := randUCCSD(rng, norb)
	psi := randState(rng, norb)
	seq, err := op.Deriv1(psi, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	expected, err := op.Derivs(psi, false)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	psi[0] += 1

	for range 2 {
		var ks []int
		for k, d := range seq {
			ks = append(ks, k)
			if !floats.Equal(d, expected[k]) {
				t.Fatalf("%d: %v, expected %v", k, d, expected[k])
			}
			if k == 2 {
				break
			}
		}
		if !slices.Equal(ks, []int{0, 1, 2}) {
			t.Fatalf("%v", ks)
		}
	}
}

func TestTied(t *testing.T) {
	t.Parallel()
	const norb = 4
	tied := Tied{Groups: [][]int{{0, 3}, {1}, {2, 4, 5}}}
	if err := tied.Validate(6); err != nil {
		t.Fatalf("%+v", err)
	}
	op, err := UCCSNumSym(norb, nil, NewOptions().Parameterization(tied))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if op.NUniq() != 3 {
		t.Fatalf("%d", op.NUniq())
	}
	if err := op.SetUniqAmps([]float64{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("%+v", err)
	}
	if amps := op.Amps(); !floats.Equal(amps, []float64{0.1, 0.2, 0.3, 0.1, 0.3, 0.3}) {
		t.Fatalf("%v", amps)
	}
	if x := op.UniqAmps(); !floats.Equal(x, []float64{0.1, 0.2, 0.3}) {
		t.Fatalf("%v", x)
	}
	g, err := op.UniqGrad([]float64{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if !floats.Equal(g, []float64{5, 2, 14}) {
		t.Fatalf("%v", g)
	}
	if err := op.SetUniqAmps([]float64{1}); !errors.Is(err, fock.ErrShape) {
		t.Fatalf("%+v", err)
	}

	if err := (Tied{Groups: [][]int{{0, 1}, {1}}}).Validate(6); !errors.Is(err, ErrDuplicateGenerator) {
		t.Fatalf("%+v", err)
	}
	if err := (Tied{Groups: [][]int{{6}}}).Validate(6); !errors.Is(err, fock.ErrShape) {
		t.Fatalf("%+v", err)
	}

	bad := Tied{Groups: [][]int{{0, 7}}}
	if _, err := UCCSNumSym(3, nil, NewOptions().Parameterization(bad)); !errors.Is(err, fock.ErrShape) {
		t.Fatalf("%+v", err)
	}
	if _, err := bad.UniqGrad(op, []float64{1, 2, 3}); err == nil {
		t.Fatalf("expected out of range")
	}
}

func randUCCSD(rng *rand.Rand, norb int, options ...Options) *Operator {
	tp := make([]float64, norb)
	for p := range tp {
		tp[p] = rng.Float64()*2 - 1
	}
	tph := mat.NewDense(norb, norb, nil)
	for a := range norb {
		for i := range norb {
			tph.Set(a, i, rng.Float64()*2-1)
		}
	}
	t2 := make([]float64, norb*norb*norb*norb)
	for j := range t2 {
		t2[j] = rng.Float64()*2 - 1
	}
	op, err := UCCSD(norb, tp, tph, t2, options...)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return op
}

func randState(rng *rand.Rand, norb int) []float64 {
	psi := make([]float64, 1<<norb)
	for j := range psi {
		psi[j] = rng.Float64()*2 - 1
	}
	floats.Scale(1/floats.Norm(psi, 2), psi)
	return psi
}

func TestMain(m *testing.M) {
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)
	os.Exit(m.Run())
}
