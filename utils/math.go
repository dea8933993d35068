package utils

import (
	"golang.org/x/exp/constraints"
)

// SubFloor subtracts b from a, flooring the result at zero instead of
// wrapping around on unsigned underflow.
func SubFloor[T constraints.Integer](a, b T) (v T) {
	if b >= a {
		return 0
	}
	return a - b
}
