package mathhelp

import "golang.org/x/exp/constraints"

func Pow2(n uint) uint {
	return 1 << n
}

// Clamp returns v limited to the inclusive interval [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
