package tensor

import (
	"math"
	"testing"

	"github.com/paveldotsmirnov/arbalest/internal/parallel"
)

func vecFrom(x []float32) *Vector {
	v := NewVector(len(x))
	copy(v.X, x)
	return v
}

func TestDenseMatVecAnalytic(t *testing.T) {
	// W = [[1 2 3 4], [0 -1 0 1]], x = [1 1 2 2]
	// y = [1+2+6+8, 0-1+0+2] = [17, 1]
	w := NewDense([]float32{1, 2, 3, 4, 0, -1, 0, 1}, 2, 4)
	out := make([]float32, 2)
	w.MatVec(parallel.New(1), out, vecFrom([]float32{1, 1, 2, 2}))

	if out[0] != 17 || out[1] != 1 {
		t.Errorf("expected [17 1], got %v", out)
	}
}

func TestDenseMatVecWorkerInvariance(t *testing.T) {
	const rows, cols = 37, 64
	w := make([]float32, rows*cols)
	x := make([]float32, cols)
	seed := uint64(99)
	next := func() float32 {
		seed = seed*6364136223846793005 + 1442695040888963407
		return float32(int64(seed>>33))/float32(1<<30) - 1
	}
	for i := range w {
		w[i] = next()
	}
	for i := range x {
		x[i] = next()
	}
	m := NewDense(w, rows, cols)

	ref := make([]float32, rows)
	m.MatVec(parallel.New(1), ref, vecFrom(x))

	for _, workers := range []int{2, 4, 8} {
		out := make([]float32, rows)
		m.MatVec(parallel.New(workers), out, vecFrom(x))
		for i := range out {
			if out[i] != ref[i] {
				t.Fatalf("workers=%d: row %d differs: %v != %v", workers, i, out[i], ref[i])
			}
		}
	}
}

func TestQuantizeRoundTrip(t *testing.T) {
	const rows, cols, gs = 8, 64, 32
	w := make([]float32, rows*cols)
	for i := range w {
		w[i] = float32(math.Sin(float64(i) * 0.7))
	}

	q, maxErr := Quantize(w, rows, cols, gs)
	back := q.Dequantize()

	// Symmetric int8 with per-group scale: error bounded by scale/2,
	// and scale <= maxabs/127.
	for i := range w {
		limit := q.S[i/gs]/2 + 1e-7
		if diff := float32(math.Abs(float64(back[i] - w[i]))); diff > limit {
			t.Fatalf("element %d: round-trip error %v exceeds %v", i, diff, limit)
		}
	}
	if maxErr > 1.0/127.0 {
		t.Errorf("reported max error %v too large for unit-range input", maxErr)
	}
}

func TestQuantizeAllZeroGroup(t *testing.T) {
	w := make([]float32, 64)
	q, maxErr := Quantize(w, 1, 64, 32)
	if maxErr != 0 {
		t.Errorf("zero tensor should quantize exactly, got err %v", maxErr)
	}
	for _, v := range q.Dequantize() {
		if v != 0 {
			t.Fatal("zero tensor did not dequantize to zero")
		}
	}
}

func TestQuantizedMatVecMatchesDense(t *testing.T) {
	const rows, cols, gs = 48, 128, 32
	w := make([]float32, rows*cols)
	x := make([]float32, cols)
	for i := range w {
		w[i] = float32(math.Cos(float64(i)*0.31)) * 0.5
	}
	for i := range x {
		x[i] = float32(math.Sin(float64(i) * 0.13))
	}

	dense := NewDense(w, rows, cols)
	quant, _ := Quantize(w, rows, cols, gs)

	p := parallel.New(4)
	want := make([]float32, rows)
	got := make([]float32, rows)
	dense.MatVec(p, want, vecFrom(x))
	quant.MatVec(p, got, vecFrom(x))

	for i := range want {
		diff := math.Abs(float64(got[i] - want[i]))
		tol := math.Abs(float64(want[i]))*0.01 + 0.05
		if diff > tol {
			t.Errorf("row %d: quantized %v vs dense %v (diff %v, tol %v)", i, got[i], want[i], diff, tol)
		}
	}
}

func TestVectorQuantizationMemoized(t *testing.T) {
	v := NewVector(64)
	for i := range v.X {
		v.X[i] = float32(i) - 32
	}
	q1, s1 := v.Quantized(32)
	q2, s2 := v.Quantized(32)
	if &q1[0] != &q2[0] || &s1[0] != &s2[0] {
		t.Error("repeated quantization without a write should reuse buffers")
	}

	v.X[0] = 1000
	v.MarkDirty()
	q3, _ := v.Quantized(32)
	if q3[0] != 127 {
		t.Errorf("expected re-quantization after MarkDirty, got q[0]=%d", q3[0])
	}
}

func TestMatVecShapePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on shape mismatch")
		}
	}()
	m := NewDense(make([]float32, 8), 2, 4)
	m.MatVec(parallel.New(1), make([]float32, 3), vecFrom(make([]float32, 4)))
}

func BenchmarkDenseMatVec(b *testing.B) {
	const rows, cols = 768, 768
	w := make([]float32, rows*cols)
	for i := range w {
		w[i] = float32(i%13) * 0.01
	}
	m := NewDense(w, rows, cols)
	x := vecFrom(make([]float32, cols))
	out := make([]float32, rows)
	p := parallel.New(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.MatVec(p, out, x)
	}
}

func BenchmarkQuantizedMatVec(b *testing.B) {
	const rows, cols, gs = 768, 768, 32
	w := make([]float32, rows*cols)
	for i := range w {
		w[i] = float32(i%13) * 0.01
	}
	m, _ := Quantize(w, rows, cols, gs)
	x := vecFrom(make([]float32, cols))
	out := make([]float32, rows)
	p := parallel.New(0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.MatVec(p, out, x)
	}
}
