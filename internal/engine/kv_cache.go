package engine

import (
	"fmt"

	"github.com/paveldotsmirnov/arbalest/internal/config"
	"github.com/paveldotsmirnov/arbalest/internal/metrics"
)

// KVCache holds the per-layer attention keys and values for every position
// processed so far. Each (layer, position) cell is written exactly once;
// reusing a position without Reset is rejected so stale state cannot leak
// into a new sequence.
type KVCache struct {
	k       []float32 // layers * seqLen * kvDim
	v       []float32
	written []bool // layers * seqLen

	layers int
	seqLen int
	kvDim  int
}

func NewKVCache(cfg config.ModelConfig) *KVCache {
	kvDim := cfg.KVDim()
	c := &KVCache{
		k:       make([]float32, cfg.Layers*cfg.SeqLen*kvDim),
		v:       make([]float32, cfg.Layers*cfg.SeqLen*kvDim),
		written: make([]bool, cfg.Layers*cfg.SeqLen),
		layers:  cfg.Layers,
		seqLen:  cfg.SeqLen,
		kvDim:   kvDim,
	}
	metrics.RecordKVCacheStats(int64(8*len(c.k)), 0)
	return c
}

// SeqLen is the context capacity in positions.
func (c *KVCache) SeqLen() int { return c.seqLen }

// Write stores one key/value row. The cell must be empty.
func (c *KVCache) Write(layer, pos int, k, v []float32) error {
	if layer < 0 || layer >= c.layers {
		return fmt.Errorf("kv cache: invalid layer %d (have %d)", layer, c.layers)
	}
	if pos < 0 || pos >= c.seqLen {
		metrics.KVCacheOutOfBounds.Inc()
		return fmt.Errorf("kv cache: position %d out of bounds (context %d): %w", pos, c.seqLen, ErrContextFull)
	}
	if len(k) != c.kvDim || len(v) != c.kvDim {
		return fmt.Errorf("kv cache: row width %d/%d, want %d", len(k), len(v), c.kvDim)
	}
	cell := layer*c.seqLen + pos
	if c.written[cell] {
		metrics.KVCacheOverwrites.Inc()
		return fmt.Errorf("kv cache: cell (layer %d, pos %d) already written", layer, pos)
	}
	copy(c.k[cell*c.kvDim:], k)
	copy(c.v[cell*c.kvDim:], v)
	c.written[cell] = true

	if layer == c.layers-1 {
		metrics.KVCacheUsedBytes.Set(float64(8 * (pos + 1) * c.layers * c.kvDim))
	}
	return nil
}

// RowK returns the stored key row for a position. The slice aliases the
// cache; callers must not modify it.
func (c *KVCache) RowK(layer, pos int) []float32 {
	base := (layer*c.seqLen + pos) * c.kvDim
	return c.k[base : base+c.kvDim]
}

// RowV returns the stored value row for a position.
func (c *KVCache) RowV(layer, pos int) []float32 {
	base := (layer*c.seqLen + pos) * c.kvDim
	return c.v[base : base+c.kvDim]
}

// Written reports whether a cell holds data.
func (c *KVCache) Written(layer, pos int) bool {
	return c.written[layer*c.seqLen+pos]
}

// Reset clears the occupancy flags so every position can be written again.
// The float buffers are left in place; a cell is only readable after its
// next Write.
func (c *KVCache) Reset() {
	for i := range c.written {
		c.written[i] = false
	}
	metrics.KVCacheUsedBytes.Set(0)
}
