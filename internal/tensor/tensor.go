// Package tensor holds the weight representations and the matrix-vector
// kernel, the hot primitive of the forward pipeline. Dense and Quantized
// matrices sit behind one interface so the pipeline is written once and the
// numeric backend is chosen per checkpoint.
package tensor

import (
	"fmt"
	"math"

	"github.com/paveldotsmirnov/arbalest/internal/parallel"
)

// Matrix is a read-only weight matrix consumed by the forward pipeline.
// MatVec computes out[r] = sum_c W[r,c] * x[c]; rows are the unit of
// parallel partitioning and carry no inter-row dependency.
type Matrix interface {
	Rows() int
	Cols() int
	MatVec(p *parallel.Pool, out []float32, x *Vector)
}

// Dense is a plain float32 row-major matrix.
type Dense struct {
	W    []float32
	rows int
	cols int
}

// NewDense wraps w as a rows x cols matrix. The element count must match;
// a mismatch is a programming error, not a runtime condition.
func NewDense(w []float32, rows, cols int) *Dense {
	if len(w) != rows*cols {
		panic(fmt.Sprintf("tensor: dense %dx%d needs %d elements, have %d", rows, cols, rows*cols, len(w)))
	}
	return &Dense{W: w, rows: rows, cols: cols}
}

func (d *Dense) Rows() int { return d.rows }
func (d *Dense) Cols() int { return d.cols }

// MatVec computes the float path: one sequential dot product per row, rows
// partitioned across workers. Each output element is accumulated by exactly
// one worker in index order, so results do not depend on the worker count.
func (d *Dense) MatVec(p *parallel.Pool, out []float32, x *Vector) {
	if len(out) != d.rows || len(x.X) != d.cols {
		panic(fmt.Sprintf("tensor: matvec %dx%d against x[%d] -> out[%d]", d.rows, d.cols, len(x.X), len(out)))
	}
	w := d.W
	xs := x.X
	cols := d.cols
	p.For(d.rows, func(start, end int) {
		for r := start; r < end; r++ {
			off := r * cols
			var sum float32
			for c := 0; c < cols; c++ {
				sum += w[off+c] * xs[c]
			}
			out[r] = sum
		}
	})
}

// Quantized is a grouped symmetric int8 matrix: Q holds one int8 per
// element and S one float32 scale per contiguous group of GroupSize
// elements. dequant[i] = Q[i] * S[i/GroupSize]; there is no zero point.
type Quantized struct {
	Q         []int8
	S         []float32
	rows      int
	cols      int
	groupSize int
}

// NewQuantized wraps pre-quantized data as a rows x cols matrix.
func NewQuantized(q []int8, s []float32, rows, cols, groupSize int) *Quantized {
	if cols%groupSize != 0 {
		panic(fmt.Sprintf("tensor: group size %d does not divide cols %d", groupSize, cols))
	}
	if len(q) != rows*cols || len(s) != rows*cols/groupSize {
		panic(fmt.Sprintf("tensor: quantized %dx%d/%d: bad buffer lengths q=%d s=%d", rows, cols, groupSize, len(q), len(s)))
	}
	return &Quantized{Q: q, S: s, rows: rows, cols: cols, groupSize: groupSize}
}

// Quantize converts a float matrix to grouped int8. Each group is scaled by
// maxabs/127 so the encoding is symmetric around zero. Returns the matrix
// and the largest absolute round-trip error observed.
func Quantize(w []float32, rows, cols, groupSize int) (*Quantized, float32) {
	q := make([]int8, rows*cols)
	s := make([]float32, rows*cols/groupSize)
	var maxErr float32

	for g := 0; g < len(s); g++ {
		base := g * groupSize
		var wmax float32
		for i := 0; i < groupSize; i++ {
			if v := float32(math.Abs(float64(w[base+i]))); v > wmax {
				wmax = v
			}
		}
		scale := wmax / 127.0
		s[g] = scale
		if scale == 0 {
			continue // all-zero group encodes as zeros
		}
		for i := 0; i < groupSize; i++ {
			quant := int8(math.Round(float64(w[base+i] / scale)))
			q[base+i] = quant
			err := float32(math.Abs(float64(float32(quant)*scale - w[base+i])))
			if err > maxErr {
				maxErr = err
			}
		}
	}
	return NewQuantized(q, s, rows, cols, groupSize), maxErr
}

func (m *Quantized) Rows() int      { return m.rows }
func (m *Quantized) Cols() int      { return m.cols }
func (m *Quantized) GroupSize() int { return m.groupSize }

// Dequantize expands the matrix back to float32, mainly for embedding
// lookups and tests.
func (m *Quantized) Dequantize() []float32 {
	out := make([]float32, len(m.Q))
	for i, v := range m.Q {
		out[i] = float32(v) * m.S[i/m.groupSize]
	}
	return out
}

// MatVec computes the quantized path. The activation is quantized once per
// vector (memoized in x) with the same group size as the weights; each
// group's int8 products accumulate in an int32 before a single scale by
// weightScale*activationScale, which bounds the quantization error to the
// group width.
func (m *Quantized) MatVec(p *parallel.Pool, out []float32, x *Vector) {
	if len(out) != m.rows || len(x.X) != m.cols {
		panic(fmt.Sprintf("tensor: matvec %dx%d against x[%d] -> out[%d]", m.rows, m.cols, len(x.X), len(out)))
	}
	xq, xscales := x.Quantized(m.groupSize)
	gs := m.groupSize
	groupsPerRow := m.cols / gs
	p.For(m.rows, func(start, end int) {
		for r := start; r < end; r++ {
			rowBase := r * m.cols
			rowGroup := r * groupsPerRow
			var val float32
			for g := 0; g < groupsPerRow; g++ {
				base := rowBase + g*gs
				xbase := g * gs
				var ival int32
				for i := 0; i < gs; i++ {
					ival += int32(m.Q[base+i]) * int32(xq[xbase+i])
				}
				val += float32(ival) * m.S[rowGroup+g] * xscales[g]
			}
			out[r] = val
		}
	})
}
