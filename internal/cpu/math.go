// Package cpu contains the scalar math kernels shared by the forward
// pipeline: RMS normalization, numerically stable softmax, the SiLU gate,
// and rotary position embedding.
package cpu

import "math"

// RMSNorm writes norm(x) * weight into out: x scaled by the reciprocal
// root-mean-square of its elements, then modulated per-element.
func RMSNorm(out, x, weight []float32, eps float32) {
	var ss float32
	for _, v := range x {
		ss += v * v
	}
	ss = ss/float32(len(x)) + eps
	inv := float32(1.0 / math.Sqrt(float64(ss)))
	for i, v := range x {
		out[i] = v * inv * weight[i]
	}
}

// Softmax normalizes x in place. The running maximum is subtracted before
// exponentiation so the denominator cannot overflow; a single-element
// input yields exactly 1.0.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	if len(x) == 1 {
		x[0] = 1.0
		return
	}
	max := x[0]
	for _, v := range x[1:] {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i := range x {
		x[i] = float32(math.Exp(float64(x[i] - max)))
		sum += x[i]
	}
	inv := 1.0 / sum
	for i := range x {
		x[i] *= inv
	}
}

// SiLU is the sigmoid-weighted linear unit: z * sigmoid(z).
func SiLU(z float32) float32 {
	return z / (1.0 + float32(math.Exp(float64(-z))))
}

// SwiGLU writes SiLU(gate[i]) * up[i] into gate for i in [start, end).
// The range form lets the caller partition the hidden dimension across
// workers.
func SwiGLU(gate, up []float32, start, end int) {
	for i := start; i < end; i++ {
		gate[i] = SiLU(gate[i]) * up[i]
	}
}

// Add accumulates b into a (the residual connection).
func Add(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}

// ArgMax returns the index of the largest element.
func ArgMax(x []float32) int {
	maxIdx := 0
	maxVal := x[0]
	for i, v := range x[1:] {
		if v > maxVal {
			maxVal = v
			maxIdx = i + 1
		}
	}
	return maxIdx
}
