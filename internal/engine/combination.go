package engine

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

// MaxCombinationOptions bounds the option count expanded into combinations.
// Twelve options already produce 4095 selectable rows.
const MaxCombinationOptions = 12

var ErrTooManyOptions = errors.New("too many options to combine")

// EachCombination yields every non-empty subset of options in backtracking
// order: fix the first element, recurse over the suffix, emit on every entry
// with a non-empty accumulator. For [A B C] that is A, AB, ABC, AC, B, BC, C.
// Each yielded slice is a fresh copy.
func EachCombination(options []string) iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		acc := make([]string, 0, len(options))
		var walk func(start int) bool
		walk = func(start int) bool {
			if len(acc) > 0 && !yield(slices.Clone(acc)) {
				return false
			}
			for i := start; i < len(options); i++ {
				acc = append(acc, options[i])
				if !walk(i + 1) {
					return false
				}
				acc = acc[:len(acc)-1]
			}
			return true
		}
		walk(0)
	}
}

// Combinations returns all 2^N-1 subsets ordered by size, keeping backtracking
// order within a size. This is the order the output step renders them in:
// [Red], [Blue], [Red Blue].
func Combinations(options []string) [][]string {
	out := make([][]string, 0, (1<<len(options))-1)
	for c := range EachCombination(options) {
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b []string) int {
		return len(a) - len(b)
	})
	return out
}

// CombinationsChecked is Combinations with an upper bound on the option count.
// A non-positive limit means MaxCombinationOptions.
func CombinationsChecked(options []string, limit int) ([][]string, error) {
	if limit <= 0 {
		limit = MaxCombinationOptions
	}
	if len(options) > limit {
		return nil, fmt.Errorf("%w: %d options, limit %d", ErrTooManyOptions, len(options), limit)
	}
	return Combinations(options), nil
}
