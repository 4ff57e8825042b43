// Package engine runs the autoregressive forward pipeline: token in,
// next-token logits out, one position at a time, with an explicit KV cache
// carrying the attention state between steps.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/paveldotsmirnov/arbalest/internal/checkpoint"
	"github.com/paveldotsmirnov/arbalest/internal/config"
)

// ErrContextFull is returned by Step when the position would exceed the
// model's context window. The engine state is unchanged.
var ErrContextFull = errors.New("engine: context window full")

// Engine is one inference session. Implementations are not safe for
// concurrent use; run one goroutine per engine.
type Engine interface {
	// Step runs the forward pass for one token at one position and
	// returns the logits over the vocabulary. The returned slice is
	// reused by the next call.
	Step(token, pos int) ([]float32, error)

	// Infer feeds the prompt, then samples up to maxNew tokens. The
	// result excludes the prompt and any stop token.
	Infer(prompt []int, maxNew int, sc SamplerConfig) ([]int, error)

	// InferWithCallback is Infer with cb invoked for every generated
	// token as it is sampled.
	InferWithCallback(prompt []int, maxNew int, sc SamplerConfig, cb func(token int)) ([]int, error)

	// Reset clears the KV cache so the engine can start a new sequence.
	Reset()

	// LastHidden returns the final pre-classifier hidden state of the
	// most recent Step.
	LastHidden() []float32

	Config() config.ModelConfig
	Close() error
}

// Factory builds an engine for one backend.
type Factory func(cfg config.ModelConfig, w *checkpoint.Weights, opts Options) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Called from package init
// functions; a duplicate name panics.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("engine: backend %q registered twice", name))
	}
	registry[name] = f
}

// Backends lists the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs an engine for the named backend.
func New(backend string, cfg config.ModelConfig, w *checkpoint.Weights, opts Options) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: unknown backend %q (have: %s)", backend, strings.Join(Backends(), ", "))
	}
	return f(cfg, w, opts)
}
