package engine

import (
	"runtime"

	"github.com/paveldotsmirnov/arbalest/internal/tokenizer"
)

// SamplerConfig selects the next-token strategy. Temperature 0 is greedy
// argmax; TopP below 1 enables nucleus truncation.
type SamplerConfig struct {
	Temperature float32
	TopP        float32
	Seed        int64
}

// Options configures engine construction.
type Options struct {
	// Threads is the worker count for the parallel kernels; <=0 selects
	// one worker per CPU.
	Threads int

	// StopTokens end generation when sampled. Empty means the default
	// BOS/EOS pair.
	StopTokens []int
}

func (o Options) threads() int {
	if o.Threads > 0 {
		return o.Threads
	}
	return runtime.NumCPU()
}

func (o Options) stopTokens() []int {
	if len(o.StopTokens) > 0 {
		return o.StopTokens
	}
	return []int{tokenizer.BOS, tokenizer.EOS}
}
