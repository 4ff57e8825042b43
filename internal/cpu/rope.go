package cpu

import "math"

// RoPE holds the precomputed rotation table for rotary position embedding:
// cos/sin of angle(p, i) = p / theta^(2i/headSize) for every position and
// pair index. The table depends only on the head size and frequency base,
// never on the layer.
type RoPE struct {
	cos      []float32 // seqLen * headSize/2
	sin      []float32
	half     int
	headSize int
}

// NewRoPE precomputes rotations for positions [0, seqLen).
func NewRoPE(headSize, seqLen int, theta float32) *RoPE {
	half := headSize / 2
	r := &RoPE{
		cos:      make([]float32, seqLen*half),
		sin:      make([]float32, seqLen*half),
		half:     half,
		headSize: headSize,
	}
	for pos := 0; pos < seqLen; pos++ {
		for i := 0; i < half; i++ {
			freq := 1.0 / math.Pow(float64(theta), float64(2*i)/float64(headSize))
			angle := float64(pos) * freq
			r.cos[pos*half+i] = float32(math.Cos(angle))
			r.sin[pos*half+i] = float32(math.Sin(angle))
		}
	}
	return r
}

// Rotate applies the position-p rotation in place to v, which holds one or
// more contiguous heads of headSize elements each. Adjacent pairs
// (v[2i], v[2i+1]) rotate by angle(p, i). Queries pass all heads at once;
// keys pass only the distinct key heads, so under grouped-query attention
// each key head is rotated exactly once.
func (r *RoPE) Rotate(v []float32, pos int) {
	r.apply(v, pos, 1)
}

// InvRotate applies the inverse (negated-angle) rotation.
func (r *RoPE) InvRotate(v []float32, pos int) {
	r.apply(v, pos, -1)
}

func (r *RoPE) apply(v []float32, pos int, sign float32) {
	base := pos * r.half
	for off := 0; off < len(v); off += r.headSize {
		for i := 0; i < r.half; i++ {
			c := r.cos[base+i]
			s := r.sin[base+i] * sign
			x0 := v[off+2*i]
			x1 := v[off+2*i+1]
			v[off+2*i] = x0*c - x1*s
			v[off+2*i+1] = x0*s + x1*c
		}
	}
}
