package ucc

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

var (
	ErrInvalidGenerator   = errors.New("invalid generator")
	ErrDuplicateGenerator = errors.New("duplicate generators")
)

// Validate checks for orbital indices out of range, nilpotent generators, and generators whose
// creation and annihilation sides are the same set, for which the amplitude is undefined.
// If nodupes, it also checks for generators that are duplicates under permutation, which is expensive.
func (op *Operator) Validate(nodupes bool) error {
	seen := make(map[string]int)
	for k := range op.a {
		a, i := op.a[k], op.i[k]
		for _, p := range slices.Concat(a, i) {
			if p < 0 || p >= op.norb {
				return errors.Wrap(ErrInvalidGenerator, fmt.Sprintf("%d: a,i=%v,%v invalid for norb=%d", k, a, i, op.norb))
			}
		}

		aSorted, iSorted := slices.Sorted(slices.Values(a)), slices.Sorted(slices.Values(i))
		if hasRepeat(aSorted) {
			return errors.Wrap(ErrInvalidGenerator, fmt.Sprintf("%d: a=%v is nilpotent", k, a))
		}
		if hasRepeat(iSorted) {
			return errors.Wrap(ErrInvalidGenerator, fmt.Sprintf("%d: i=%v is nilpotent", k, i))
		}
		// Passing these implies that there aren't too many operators.
		if slices.Equal(aSorted, iSorted) {
			return errors.Wrap(ErrInvalidGenerator, fmt.Sprintf("%d: undefined amplitude (i==a) %v,%v", k, i, a))
		}

		if !nodupes {
			continue
		}
		key := dupeKey(aSorted, iSorted)
		if prev, ok := seen[key]; ok {
			return errors.Wrap(ErrDuplicateGenerator, fmt.Sprintf("%d and %d: %s", prev, k, key))
		}
		seen[key] = k
	}
	return nil
}

// dupeKey identifies a generator up to permutations within each side and exchange of the sides.
func dupeKey(aSorted, iSorted []int) string {
	if slices.Compare(aSorted, iSorted) > 0 {
		aSorted, iSorted = iSorted, aSorted
	}
	return fmt.Sprintf("%v|%v", aSorted, iSorted)
}

func hasRepeat(sorted []int) bool {
	for j := 1; j < len(sorted); j++ {
		if sorted[j] == sorted[j-1] {
			return true
		}
	}
	return false
}
