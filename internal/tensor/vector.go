package tensor

import "math"

// Vector is an activation buffer: the float view X plus a lazily
// materialized int8 view for quantized matmuls. The pipeline quantizes a
// normalized activation once and reuses it across the Q/K/V (or gate/up)
// projections; MarkDirty invalidates the int8 view after X is overwritten.
type Vector struct {
	X []float32

	q     []int8
	s     []float32
	gs    int
	valid bool
}

// NewVector allocates an activation buffer of length n.
func NewVector(n int) *Vector {
	return &Vector{X: make([]float32, n)}
}

// MarkDirty invalidates the quantized view. Call after every write to X.
func (v *Vector) MarkDirty() {
	v.valid = false
}

// Quantized returns the int8 view of X for the given group size,
// quantizing on first use after a write. Repeated calls with the same
// group size between writes reuse the cached encoding, so the three
// projections of one layer see identical rounding.
func (v *Vector) Quantized(groupSize int) ([]int8, []float32) {
	if v.valid && v.gs == groupSize {
		return v.q, v.s
	}
	n := len(v.X)
	if n%groupSize != 0 {
		panic("tensor: group size does not divide activation length")
	}
	if len(v.q) != n {
		v.q = make([]int8, n)
	}
	groups := n / groupSize
	if len(v.s) != groups {
		v.s = make([]float32, groups)
	}
	for g := 0; g < groups; g++ {
		base := g * groupSize
		var vmax float32
		for i := 0; i < groupSize; i++ {
			if a := float32(math.Abs(float64(v.X[base+i]))); a > vmax {
				vmax = a
			}
		}
		scale := vmax / 127.0
		v.s[g] = scale
		if scale == 0 {
			for i := 0; i < groupSize; i++ {
				v.q[base+i] = 0
			}
			continue
		}
		for i := 0; i < groupSize; i++ {
			v.q[base+i] = int8(math.Round(float64(v.X[base+i] / scale)))
		}
	}
	v.gs = groupSize
	v.valid = true
	return v.q, v.s
}
