package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paveldotsmirnov/arbalest/internal/checkpoint"
	"github.com/paveldotsmirnov/arbalest/internal/config"
	"github.com/paveldotsmirnov/arbalest/internal/cpu"
	"github.com/paveldotsmirnov/arbalest/internal/logger"
	"github.com/paveldotsmirnov/arbalest/internal/metrics"
	"github.com/paveldotsmirnov/arbalest/internal/parallel"
	"github.com/paveldotsmirnov/arbalest/internal/tensor"
)

func init() {
	Register("cpu", func(cfg config.ModelConfig, w *checkpoint.Weights, opts Options) (Engine, error) {
		return NewCPU(cfg, w, opts)
	})
}

// CPUEngine runs the forward pipeline on the host with the parallel kernels
// in internal/cpu and internal/tensor. The weight representation (dense or
// quantized) is whatever the checkpoint loader produced.
type CPUEngine struct {
	cfg   config.ModelConfig
	w     *checkpoint.Weights
	pool  *parallel.Pool
	rope  *cpu.RoPE
	cache *KVCache
	stop  []int
	next  int // position the next Step must carry

	// Scratch buffers, reused across steps. Vectors feed matmuls so the
	// quantized path can memoize the int8 encoding per stage.
	x      []float32      // residual stream, dim
	xn     *tensor.Vector // normed residual, dim
	q      []float32      // query, dim
	k, v   []float32      // key/value rows, kvDim
	attOut *tensor.Vector // concatenated head outputs, dim
	proj   []float32      // Wo / W2 output, dim
	hGate  *tensor.Vector // SwiGLU gate, hiddenDim
	hUp    []float32      // SwiGLU up projection, hiddenDim
	att    []float32      // attention scores, heads * seqLen
	logits []float32      // vocab
	hidden []float32      // final hidden state of the last step, dim
}

// NewCPU validates the config/weight pair and allocates the inference
// state.
func NewCPU(cfg config.ModelConfig, w *checkpoint.Weights, opts Options) (*CPUEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if w == nil {
		return nil, errors.New("engine: nil weights")
	}
	if err := checkWeights(cfg, w); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &CPUEngine{
		cfg:   cfg,
		w:     w,
		pool:  parallel.New(opts.threads()),
		rope:  cpu.NewRoPE(cfg.HeadDim, cfg.SeqLen, cfg.RopeTheta),
		cache: NewKVCache(cfg),
		stop:  opts.stopTokens(),

		x:      make([]float32, cfg.Dim),
		xn:     tensor.NewVector(cfg.Dim),
		q:      make([]float32, cfg.Dim),
		k:      make([]float32, cfg.KVDim()),
		v:      make([]float32, cfg.KVDim()),
		attOut: tensor.NewVector(cfg.Dim),
		proj:   make([]float32, cfg.Dim),
		hGate:  tensor.NewVector(cfg.HiddenDim),
		hUp:    make([]float32, cfg.HiddenDim),
		att:    make([]float32, cfg.Heads*cfg.SeqLen),
		logits: make([]float32, cfg.VocabSize),
		hidden: make([]float32, cfg.Dim),
	}
	logger.Log.Debug("cpu engine ready", "threads", e.pool.Workers(),
		"dim", cfg.Dim, "layers", cfg.Layers, "seq_len", cfg.SeqLen)
	return e, nil
}

func checkWeights(cfg config.ModelConfig, w *checkpoint.Weights) error {
	if len(w.TokenEmb) != cfg.VocabSize*cfg.Dim {
		return fmt.Errorf("token embeddings: %d elements, want %d", len(w.TokenEmb), cfg.VocabSize*cfg.Dim)
	}
	kvDim := cfg.KVDim()
	for _, g := range []struct {
		name       string
		ms         []tensor.Matrix
		rows, cols int
	}{
		{"wq", w.Wq, cfg.Dim, cfg.Dim},
		{"wk", w.Wk, kvDim, cfg.Dim},
		{"wv", w.Wv, kvDim, cfg.Dim},
		{"wo", w.Wo, cfg.Dim, cfg.Dim},
		{"w1", w.W1, cfg.HiddenDim, cfg.Dim},
		{"w2", w.W2, cfg.Dim, cfg.HiddenDim},
		{"w3", w.W3, cfg.HiddenDim, cfg.Dim},
	} {
		if len(g.ms) != cfg.Layers {
			return fmt.Errorf("%s: %d layers, want %d", g.name, len(g.ms), cfg.Layers)
		}
		for l, m := range g.ms {
			if m == nil {
				return fmt.Errorf("%s layer %d: missing", g.name, l)
			}
			if m.Rows() != g.rows || m.Cols() != g.cols {
				return fmt.Errorf("%s layer %d: %dx%d, want %dx%d",
					g.name, l, m.Rows(), m.Cols(), g.rows, g.cols)
			}
		}
	}
	if len(w.AttNorm) != cfg.Layers || len(w.FFNNorm) != cfg.Layers {
		return fmt.Errorf("norms: %d/%d layers, want %d", len(w.AttNorm), len(w.FFNNorm), cfg.Layers)
	}
	for l := 0; l < cfg.Layers; l++ {
		if len(w.AttNorm[l]) != cfg.Dim || len(w.FFNNorm[l]) != cfg.Dim {
			return fmt.Errorf("norms layer %d: %d/%d elements, want %d",
				l, len(w.AttNorm[l]), len(w.FFNNorm[l]), cfg.Dim)
		}
	}
	if len(w.FinalNorm) != cfg.Dim {
		return fmt.Errorf("final norm: %d elements, want %d", len(w.FinalNorm), cfg.Dim)
	}
	if w.Classifier == nil || w.Classifier.Rows() != cfg.VocabSize || w.Classifier.Cols() != cfg.Dim {
		return errors.New("classifier: missing or wrong shape")
	}
	return nil
}

func (e *CPUEngine) Config() config.ModelConfig { return e.cfg }

// LastHidden returns the final RMS-normed hidden state computed by the most
// recent Step. The slice is reused by the next call.
func (e *CPUEngine) LastHidden() []float32 { return e.hidden }

// Reset clears the KV cache and rewinds the position counter; the next Step
// must be at position 0.
func (e *CPUEngine) Reset() {
	e.cache.Reset()
	e.next = 0
}

func (e *CPUEngine) Close() error { return nil }

// Step runs one token through every layer and returns the next-token
// logits. The engine owns the position counter: pos must equal the number of
// tokens stepped since the last Reset, so skipped or repeated positions are
// rejected before any cache cell is touched. A position at or past the
// context window returns ErrContextFull with no state modified.
func (e *CPUEngine) Step(token, pos int) ([]float32, error) {
	if token < 0 || token >= e.cfg.VocabSize {
		return nil, fmt.Errorf("engine: token %d out of vocab range [0, %d)", token, e.cfg.VocabSize)
	}
	if pos != e.next {
		return nil, fmt.Errorf("engine: position %d out of order, expected %d", pos, e.next)
	}
	if pos >= e.cfg.SeqLen {
		return nil, fmt.Errorf("engine: position %d, context %d: %w", pos, e.cfg.SeqLen, ErrContextFull)
	}

	start := time.Now()
	cfg := &e.cfg
	copy(e.x, e.w.TokenEmb[token*cfg.Dim:(token+1)*cfg.Dim])

	var attTime, ffnTime time.Duration
	for l := 0; l < cfg.Layers; l++ {
		tLayer := time.Now()

		cpu.RMSNorm(e.xn.X, e.x, e.w.AttNorm[l], cfg.Eps)
		e.xn.MarkDirty()
		e.w.Wq[l].MatVec(e.pool, e.q, e.xn)
		e.w.Wk[l].MatVec(e.pool, e.k, e.xn)
		e.w.Wv[l].MatVec(e.pool, e.v, e.xn)

		e.rope.Rotate(e.q, pos)
		e.rope.Rotate(e.k, pos)
		if err := e.cache.Write(l, pos, e.k, e.v); err != nil {
			return nil, err
		}

		e.attend(l, pos)
		e.attOut.MarkDirty()
		e.w.Wo[l].MatVec(e.pool, e.proj, e.attOut)
		cpu.Add(e.x, e.proj)
		attTime += time.Since(tLayer)

		tFFN := time.Now()
		cpu.RMSNorm(e.xn.X, e.x, e.w.FFNNorm[l], cfg.Eps)
		e.xn.MarkDirty()
		e.w.W1[l].MatVec(e.pool, e.hGate.X, e.xn)
		e.w.W3[l].MatVec(e.pool, e.hUp, e.xn)
		e.pool.For(cfg.HiddenDim, func(lo, hi int) {
			cpu.SwiGLU(e.hGate.X, e.hUp, lo, hi)
		})
		e.hGate.MarkDirty()
		e.w.W2[l].MatVec(e.pool, e.proj, e.hGate)
		cpu.Add(e.x, e.proj)
		ffnTime += time.Since(tFFN)
	}

	cpu.RMSNorm(e.xn.X, e.x, e.w.FinalNorm, cfg.Eps)
	e.xn.MarkDirty()
	copy(e.hidden, e.xn.X)
	e.w.Classifier.MatVec(e.pool, e.logits, e.xn)

	metrics.RecordKernelDuration("attention", attTime)
	metrics.RecordKernelDuration("ffn", ffnTime)
	metrics.RecordInference(1, time.Since(start))
	metrics.RecordContextLength(pos + 1)
	e.next = pos + 1
	return e.logits, nil
}

// attend computes causal attention for one layer at one position. Heads are
// independent, so the pool partitions them; each head's scores and weighted
// sum are accumulated sequentially by a single worker, which keeps the
// float path bit-identical across thread counts.
func (e *CPUEngine) attend(layer, pos int) {
	cfg := &e.cfg
	hs := cfg.HeadDim
	gqa := cfg.GQARatio()
	scale := float32(1.0 / math.Sqrt(float64(hs)))
	out := e.attOut.X

	e.pool.For(cfg.Heads, func(start, end int) {
		for h := start; h < end; h++ {
			qh := e.q[h*hs : (h+1)*hs]
			scores := e.att[h*cfg.SeqLen : h*cfg.SeqLen+pos+1]
			kvOff := (h / gqa) * hs

			for t := 0; t <= pos; t++ {
				kRow := e.cache.RowK(layer, t)
				var dot float32
				for i := 0; i < hs; i++ {
					dot += qh[i] * kRow[kvOff+i]
				}
				scores[t] = dot * scale
			}
			cpu.Softmax(scores)

			oh := out[h*hs : (h+1)*hs]
			for i := range oh {
				oh[i] = 0
			}
			for t := 0; t <= pos; t++ {
				a := scores[t]
				vRow := e.cache.RowV(layer, t)
				for i := 0; i < hs; i++ {
					oh[i] += a * vRow[kvOff+i]
				}
			}
		}
	})
}

// Infer feeds the prompt and samples up to maxNew continuation tokens.
func (e *CPUEngine) Infer(prompt []int, maxNew int, sc SamplerConfig) ([]int, error) {
	return e.InferWithCallback(prompt, maxNew, sc, nil)
}

// InferWithCallback is Infer with per-token streaming. Generation ends at
// maxNew tokens, a stop token, or a full context window, whichever comes
// first.
func (e *CPUEngine) InferWithCallback(prompt []int, maxNew int, sc SamplerConfig, cb func(token int)) ([]int, error) {
	if len(prompt) == 0 {
		return nil, errors.New("engine: empty prompt")
	}

	sampler := NewSampler(sc)
	var logits []float32
	pos := 0
	for _, tok := range prompt {
		l, err := e.Step(tok, pos)
		if err != nil {
			return nil, fmt.Errorf("prompt position %d: %w", pos, err)
		}
		logits = l
		pos++
	}

	out := make([]int, 0, maxNew)
	for len(out) < maxNew {
		next := sampler.Sample(logits)
		if e.isStop(next) {
			break
		}
		out = append(out, next)
		if cb != nil {
			cb(next)
		}
		if len(out) == maxNew {
			break
		}
		l, err := e.Step(next, pos)
		if err != nil {
			if errors.Is(err, ErrContextFull) {
				logger.Log.Debug("generation stopped at context limit", "pos", pos)
				break
			}
			return nil, err
		}
		logits = l
		pos++
	}
	return out, nil
}

func (e *CPUEngine) isStop(token int) bool {
	for _, s := range e.stop {
		if token == s {
			return true
		}
	}
	return false
}
