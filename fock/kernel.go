// Package fock implements bit-level kernels acting on Fock-space CI vectors.
//
// A CI vector over norb spin-orbitals is a dense slice of length 2^norb.
// Its index, read as an unsigned integer, is the occupation string of a Slater determinant:
// bit p set means spin-orbital p is occupied.
// A determinant is the creation string c'_{n-1}...c'_1 c'_0|0>, highest orbital leftmost.
//
// References:
//   - Fock-space unitary coupled cluster, Eqs (1)-(12) of J. Chem. Theory Comput. 17, 841 (2021)
package fock

import (
	"fmt"
	"math"
	"math/bits"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxOrb is the largest number of spin-orbitals a CI vector may span.
	MaxOrb = 40

	// minChunk is the smallest number of spectator determinants handed to one worker.
	minChunk = 1 << 12
)

var (
	ErrShape = errors.New("shape mismatch")
)

// A Kernel runs the determinant loops of the Fock-space operators.
// Connected determinant pairs of a single generator are disjoint,
// so a Kernel with more than one worker splits them across goroutines.
// Results do not depend on the number of workers.
type Kernel struct {
	workers int
}

// NewKernel returns a kernel running on at most workers goroutines.
func NewKernel(workers int) *Kernel {
	return &Kernel{workers: max(workers, 1)}
}

// Workers returns the number of goroutines of the kernel.
func (k *Kernel) Workers() int { return k.workers }

// mixer updates the amplitudes of the determinant pair (detIA, detAI) connected by one generator.
// sgn is the fermionic sign of the pair.
type mixer func(sgn, amp float64, psi, opsi []float64, detIA, detAI uint64)

// mixU applies the rotation exp(amp * (T - T')) where T|detIA> = sgn|detAI>.
func mixU(sgn, amp float64, psi, upsi []float64, detIA, detAI uint64) {
	c, s := math.Cos(amp), sgn*math.Sin(amp)
	ia, ai := psi[detIA], psi[detAI]
	upsi[detIA] = c*ia - s*ai
	upsi[detAI] = s*ia + c*ai
}

// mixH accumulates amp * (T + T').
func mixH(sgn, amp float64, psi, hpsi []float64, detIA, detAI uint64) {
	hpsi[detIA] += sgn * amp * psi[detAI]
	if detIA != detAI {
		hpsi[detAI] += sgn * amp * psi[detIA]
	}
}

// mixT accumulates amp * T.
func mixT(sgn, amp float64, psi, hpsi []float64, detIA, detAI uint64) {
	hpsi[detAI] += sgn * amp * psi[detIA]
}

// Op1U evaluates U|psi> = exp(s * (amp + deriv*pi/2) * [a0'a1'...i1i0 - i0'i1'...a1a0])|psi> in place,
// where s is -1 if transpose and +1 otherwise.
// a lists the creation operators of the excitation, i the annihilation operators.
// Creation operators are applied left to right, annihilation operators right to left.
//
// Shifting the angle by deriv*pi/2 yields the deriv-th derivative of U with respect to amp,
// restricted to the determinants the generator connects, see ProjAI.
func (k *Kernel) Op1U(norb int, a, i []int, amp float64, psi []float64, transpose bool, deriv int) error {
	if deriv < 0 {
		return errors.Errorf("negative derivative order %d", deriv)
	}
	sgn := 1.0
	if transpose {
		sgn = -1
	}
	theta := sgn * (amp + float64(deriv)*math.Pi/2)
	if err := k.contract(norb, a, i, theta, psi, psi, mixU); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Op1H accumulates h * [a0'a1'...i1i0 + i0'i1'...a1a0]|psi> into hpsi.
// psi and hpsi must not share memory.
func (k *Kernel) Op1H(norb int, a, i []int, h float64, psi, hpsi []float64) error {
	if err := checkAlias(psi, hpsi); err != nil {
		return errors.Wrap(err, "")
	}
	if err := k.contract(norb, a, i, h, psi, hpsi, mixH); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// ProjAI projects psi in place onto the determinants connected by a0'a1'...i1i0 or i0'i1'...a1a0,
// that is all of i occupied and the rest of a empty, or the mirror condition.
// A nilpotent generator connects nothing, so psi is zeroed.
func (k *Kernel) ProjAI(norb int, a, i []int, psi []float64) error {
	if err := checkState(norb, psi); err != nil {
		return errors.Wrap(err, "")
	}
	if err := checkIndices(norb, a, i); err != nil {
		return errors.Wrap(err, "")
	}
	detI, okI := occupation(i)
	detA, okA := occupation(a)
	if !okI || !okA {
		clear(psi)
		return nil
	}
	active := detI | detA

	k.run(uint64(len(psi)), func(lo, hi uint64) {
		for det := lo; det < hi; det++ {
			proj := det & active
			if proj == detI || proj == detA {
				continue
			}
			psi[det] = 0
		}
	})
	return nil
}

// contract loops over the determinant pairs connected by the generator (a, i), calling mix on each.
func (k *Kernel) contract(norb int, a, i []int, amp float64, psi, opsi []float64, mix mixer) error {
	if err := checkState(norb, psi); err != nil {
		return errors.Wrap(err, "psi")
	}
	if err := checkState(norb, opsi); err != nil {
		return errors.Wrap(err, "opsi")
	}
	if err := checkIndices(norb, a, i); err != nil {
		return errors.Wrap(err, "")
	}
	detI, okI := occupation(i)
	detA, okA := occupation(a)
	if !okI || !okA {
		// Nilpotent.
		return nil
	}

	// We only sum over the spectator-spinorbital determinants.
	active := detI | detA
	actPos := make([]int, 0, bits.OnesCount64(active))
	for p := range norb {
		if active&(1<<p) != 0 {
			actPos = append(actPos, p)
		}
	}
	nspec := uint64(1) << (norb - len(actPos))

	k.run(nspec, func(lo, hi uint64) {
		for det := lo; det < hi; det++ {
			det00 := insertZeros(det, actPos)
			detIA := det00 | detI
			detAI := det00 | detA
			// The sign of the excitation is the product of the signs of moving
			// i0'i1'... to the front of detIA and a0'a1'... to the front of detAI.
			sgnbit := popParity(detIA, i) ^ popParity(detAI, a)
			mix(float64(1-2*int(sgnbit)), amp, psi, opsi, detIA, detAI)
		}
	})
	return nil
}

// run calls body over [0, n) in chunks, concurrently if the kernel has more than one worker.
func (k *Kernel) run(n uint64, body func(lo, hi uint64)) {
	if k == nil || k.workers <= 1 || n < 2*minChunk {
		body(0, n)
		return
	}

	chunk := max((n+uint64(k.workers)-1)/uint64(k.workers), minChunk)
	var g errgroup.Group
	g.SetLimit(k.workers)
	for lo := uint64(0); lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			body(lo, hi)
			return nil
		})
	}
	g.Wait()
}

// occupation returns the determinant with exactly the orbitals in idx occupied.
// ok is false if idx repeats an orbital.
func occupation(idx []int) (det uint64, ok bool) {
	for _, p := range idx {
		b := uint64(1) << p
		if det&b != 0 {
			return 0, false
		}
		det |= b
	}
	return det, true
}

// insertZeros spreads the bits of det, leaving zeros at the ascending positions pos.
func insertZeros(det uint64, pos []int) uint64 {
	for _, p := range pos {
		low := det & (1<<p - 1)
		det = (det>>p)<<(p+1) | low
	}
	return det
}

// popParity returns the parity of moving the creation operators idx, in order, to the front of det.
// Moving c'_p to the front passes every occupied orbital above p.
func popParity(det uint64, idx []int) uint {
	var n int
	for _, p := range idx {
		n += bits.OnesCount64(det >> (p + 1))
		det &^= 1 << p
	}
	return uint(n & 1)
}

func checkState(norb int, psi []float64) error {
	if norb < 0 || norb > MaxOrb {
		return errors.Errorf("norb %d out of range [0, %d]", norb, MaxOrb)
	}
	if len(psi) != 1<<norb {
		return errors.Wrap(ErrShape, fmt.Sprintf("len(psi) %d, expected 2^%d", len(psi), norb))
	}
	return nil
}

func checkIndices(norb int, a, i []int) error {
	for _, idx := range [2][]int{a, i} {
		for _, p := range idx {
			if p < 0 || p >= norb {
				return errors.Errorf("a,i=%v,%v invalid for norb=%d", a, i, norb)
			}
		}
	}
	return nil
}

// checkAlias rejects psi and hpsi whose backing ranges overlap, including partially.
func checkAlias(psi, hpsi []float64) error {
	if len(psi) == 0 || len(hpsi) == 0 {
		return nil
	}
	size := unsafe.Sizeof(psi[0])
	p0 := uintptr(unsafe.Pointer(&psi[0]))
	h0 := uintptr(unsafe.Pointer(&hpsi[0]))
	p1 := p0 + uintptr(len(psi))*size
	h1 := h0 + uintptr(len(hpsi))*size
	if p0 < h1 && h0 < p1 {
		return errors.Errorf("input and output share memory")
	}
	return nil
}
