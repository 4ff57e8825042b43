package engine

import (
	"math/rand"
	"sort"
	"time"

	"github.com/paveldotsmirnov/arbalest/internal/cpu"
	"github.com/paveldotsmirnov/arbalest/internal/metrics"
)

// Sampler turns logits into a token id. One Sampler per generation run; the
// RNG stream is owned by the sampler so a fixed seed reproduces the exact
// token sequence.
type Sampler struct {
	cfg SamplerConfig
	rng *rand.Rand
}

func NewSampler(cfg SamplerConfig) *Sampler {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

type tokenProb struct {
	id   int
	prob float32
}

// Sample picks the next token. Temperature 0 is deterministic argmax and
// consumes no randomness. The logits slice is scratch space; callers must
// not rely on its contents afterwards.
func (s *Sampler) Sample(logits []float32) int {
	metrics.RecordSampling(float64(s.cfg.Temperature), float64(s.cfg.TopP))
	if s.cfg.Temperature == 0 {
		return cpu.ArgMax(logits)
	}

	for i := range logits {
		logits[i] /= s.cfg.Temperature
	}
	cpu.Softmax(logits)

	if s.cfg.TopP <= 0 || s.cfg.TopP >= 1 {
		return s.sampleCategorical(logits)
	}
	return s.sampleNucleus(logits)
}

// sampleCategorical draws from the full distribution with one uniform
// variate.
func (s *Sampler) sampleCategorical(probs []float32) int {
	r := s.rng.Float32()
	var cdf float32
	for i, p := range probs {
		cdf += p
		if r < cdf {
			return i
		}
	}
	return len(probs) - 1 // rounding residue
}

// sampleNucleus truncates to the smallest prefix of the probability-sorted
// vocabulary whose mass reaches TopP, renormalizes, and draws once. The
// candidate that crosses the threshold is kept.
func (s *Sampler) sampleNucleus(probs []float32) int {
	candidates := make([]tokenProb, len(probs))
	for i, p := range probs {
		candidates[i] = tokenProb{id: i, prob: p}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].prob > candidates[j].prob
	})

	var mass float32
	cut := len(candidates)
	for i, c := range candidates {
		mass += c.prob
		if mass >= s.cfg.TopP {
			cut = i + 1
			break
		}
	}
	candidates = candidates[:cut]
	metrics.NucleusSize.Observe(float64(cut))

	r := s.rng.Float32() * mass
	var cdf float32
	for _, c := range candidates {
		cdf += c.prob
		if r < cdf {
			return c.id
		}
	}
	return candidates[cut-1].id
}
