// Package deci implements fixed-grid current arithmetic: every amperage
// value is represented as an integer count of 0.1 A units so allocation
// results are byte-identical across nodes regardless of CPU/FPU
// rounding behavior.
package deci

import "math"

// Amps is a current expressed on the 0.1 A grid (1 Amps == 0.1 A).
type Amps int64

// Zero is the zero current.
const Zero Amps = 0

// FromFloat converts amps (float64) to the grid, truncating toward zero
// exactly as spec.md §4.4 requires ("rounded toward zero after each
// operation").
func FromFloat(a float64) Amps {
	return Amps(math.Trunc(a * 10))
}

// Float converts back to float64 amps for JSON/API boundaries.
func (a Amps) Float() float64 {
	return float64(a) / 10
}

// Mul multiplies by an integer scalar, used for k*assumed_offline.
func (a Amps) Mul(k int) Amps {
	return a * Amps(k)
}

// Max returns the larger of a and b.
func Max(a, b Amps) Amps {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b Amps) Amps {
	if a < b {
		return a
	}
	return b
}

// MaxZero clamps negative currents to zero (spec.md's "max(0, ...)").
func MaxZero(a Amps) Amps {
	return Max(a, Zero)
}

// Sum adds a slice of currents.
func Sum(vs []Amps) Amps {
	var total Amps
	for _, v := range vs {
		total += v
	}
	return total
}
