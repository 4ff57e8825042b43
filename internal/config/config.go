package config

import "fmt"

// ModelConfig holds the architecture scalars read from a checkpoint header.
// Set once at load time and never mutated afterwards.
type ModelConfig struct {
	Dim       int // embedding dimension
	HiddenDim int // FFN hidden dimension
	Layers    int
	Heads     int // query heads
	KVHeads   int // key/value heads, <= Heads (grouped-query attention)
	HeadDim   int // Dim / Heads
	VocabSize int
	SeqLen    int // maximum sequence length

	Eps       float32 // RMSNorm epsilon
	RopeTheta float32 // rotary frequency base

	// GroupSize is the quantization group width for int8 checkpoints,
	// 0 for dense float checkpoints.
	GroupSize int

	// SharedClassifier indicates the output head reuses the token
	// embedding table.
	SharedClassifier bool
}

// KVDim is the width of one cached key or value row.
func (c *ModelConfig) KVDim() int {
	return c.KVHeads * c.HeadDim
}

// GQARatio is the number of query heads sharing one key/value head.
func (c *ModelConfig) GQARatio() int {
	return c.Heads / c.KVHeads
}

// Validate rejects configurations that would produce silently wrong numerics.
// A failure here is fatal at load time; the engine refuses to construct.
func (c *ModelConfig) Validate() error {
	if c.Dim <= 0 {
		return fmt.Errorf("invalid dim: %d (must be positive)", c.Dim)
	}
	if c.HiddenDim <= 0 {
		return fmt.Errorf("invalid hidden_dim: %d (must be positive)", c.HiddenDim)
	}
	if c.Layers <= 0 {
		return fmt.Errorf("invalid layers: %d (must be positive)", c.Layers)
	}
	if c.Heads <= 0 {
		return fmt.Errorf("invalid heads: %d (must be positive)", c.Heads)
	}
	if c.KVHeads <= 0 {
		return fmt.Errorf("invalid kv_heads: %d (must be positive)", c.KVHeads)
	}
	if c.KVHeads > c.Heads {
		return fmt.Errorf("invalid kv_heads: %d (must be <= heads: %d)", c.KVHeads, c.Heads)
	}
	if c.Heads%c.KVHeads != 0 {
		return fmt.Errorf("kv_heads (%d) must divide heads (%d)", c.KVHeads, c.Heads)
	}
	if c.HeadDim <= 0 {
		return fmt.Errorf("invalid head_dim: %d (must be positive)", c.HeadDim)
	}
	if c.HeadDim%2 != 0 {
		return fmt.Errorf("invalid head_dim: %d (must be even for rotary embedding)", c.HeadDim)
	}
	if c.Dim != c.Heads*c.HeadDim {
		return fmt.Errorf("dim mismatch: %d != heads(%d) * head_dim(%d)", c.Dim, c.Heads, c.HeadDim)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("invalid vocab_size: %d (must be positive)", c.VocabSize)
	}
	if c.SeqLen <= 0 {
		return fmt.Errorf("invalid seq_len: %d (must be positive)", c.SeqLen)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("invalid eps: %v (must be positive)", c.Eps)
	}
	if c.RopeTheta <= 0 {
		return fmt.Errorf("invalid rope_theta: %v (must be positive)", c.RopeTheta)
	}
	if c.GroupSize < 0 {
		return fmt.Errorf("invalid group_size: %d (must be non-negative)", c.GroupSize)
	}
	if c.GroupSize > 0 {
		if c.Dim%c.GroupSize != 0 {
			return fmt.Errorf("group_size (%d) must divide dim (%d)", c.GroupSize, c.Dim)
		}
		if c.HiddenDim%c.GroupSize != 0 {
			return fmt.Errorf("group_size (%d) must divide hidden_dim (%d)", c.GroupSize, c.HiddenDim)
		}
	}
	return nil
}

// Default returns a ModelConfig with the architecture-independent scalars
// filled in. Checkpoint loaders overwrite the dimensional fields.
func Default() ModelConfig {
	return ModelConfig{
		Eps:       1e-5,
		RopeTheta: 10000.0,
	}
}
