package ucc_test

import (
	"fmt"
	"log"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/ucc"
	"github.com/fumin/ucc/fock"
)

func Example() {
	// The determinant |0101> over 4 spin-orbitals.
	const norb = 4
	psi := make([]float64, 1<<norb)
	psi[5] = 1
	fmt.Printf("%s\n", fock.Format(5, norb))

	// Singles with random amplitudes.
	rng := rand.New(rand.NewPCG(0, 0))
	tp := make([]float64, norb)
	for p := range tp {
		tp[p] = rng.Float64()
	}
	tph := mat.NewDense(norb, norb, nil)
	for a := range norb {
		for i := range norb {
			tph.Set(a, i, rng.Float64())
		}
	}
	op, err := ucc.UCCS(norb, tp, tph)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	upsi, err := op.ApplyCopy(psi, false)
	if err != nil {
		log.Fatalf("%+v", err)
	}
	fmt.Printf("<psi|psi> = %.6f\n", floats.Dot(psi, psi))
	fmt.Printf("<psi|U'U|psi> = %.6f\n", floats.Dot(upsi, upsi))

	if err := op.ApplyInPlace(upsi, true); err != nil {
		log.Fatalf("%+v", err)
	}
	fmt.Printf("norm after transpose = %.6f\n", floats.Dot(upsi, upsi))
	fmt.Printf("U'U|psi> == |psi>: %t\n", floats.EqualApprox(upsi, psi, 1e-12))

	// Output:
	// 0101
	// <psi|psi> = 1.000000
	// <psi|U'U|psi> = 1.000000
	// norm after transpose = 1.000000
	// U'U|psi> == |psi>: true
}
