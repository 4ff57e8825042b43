package config

import (
	"strings"
	"testing"
)

func validConfig() ModelConfig {
	return ModelConfig{
		Dim:       64,
		HiddenDim: 128,
		Layers:    4,
		Heads:     8,
		KVHeads:   4,
		HeadDim:   8,
		VocabSize: 512,
		SeqLen:    256,
		Eps:       1e-5,
		RopeTheta: 10000.0,
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Eps != 1e-5 {
		t.Errorf("expected Eps 1e-5, got %v", cfg.Eps)
	}
	if cfg.RopeTheta != 10000.0 {
		t.Errorf("expected RopeTheta 10000.0, got %v", cfg.RopeTheta)
	}
	if cfg.GroupSize != 0 {
		t.Errorf("expected GroupSize 0 (dense), got %d", cfg.GroupSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ModelConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *ModelConfig) {},
		},
		{
			name:   "valid quantized",
			mutate: func(c *ModelConfig) { c.GroupSize = 32 },
		},
		{
			name:    "zero dim",
			mutate:  func(c *ModelConfig) { c.Dim = 0 },
			wantErr: "invalid dim",
		},
		{
			name:    "zero layers",
			mutate:  func(c *ModelConfig) { c.Layers = 0 },
			wantErr: "invalid layers",
		},
		{
			name:    "kv heads exceed heads",
			mutate:  func(c *ModelConfig) { c.KVHeads = 16 },
			wantErr: "must be <= heads",
		},
		{
			name:    "kv heads do not divide heads",
			mutate:  func(c *ModelConfig) { c.KVHeads = 3 },
			wantErr: "must divide heads",
		},
		{
			name:    "odd head dim",
			mutate:  func(c *ModelConfig) { c.Heads = 2; c.KVHeads = 2; c.HeadDim = 31; c.Dim = 62; c.HiddenDim = 124 },
			wantErr: "must be even",
		},
		{
			name:    "dim head mismatch",
			mutate:  func(c *ModelConfig) { c.HeadDim = 16 },
			wantErr: "dim mismatch",
		},
		{
			name:    "zero vocab",
			mutate:  func(c *ModelConfig) { c.VocabSize = 0 },
			wantErr: "invalid vocab_size",
		},
		{
			name:    "zero seq len",
			mutate:  func(c *ModelConfig) { c.SeqLen = 0 },
			wantErr: "invalid seq_len",
		},
		{
			name:    "zero eps",
			mutate:  func(c *ModelConfig) { c.Eps = 0 },
			wantErr: "invalid eps",
		},
		{
			name:    "group size does not divide dim",
			mutate:  func(c *ModelConfig) { c.GroupSize = 48 },
			wantErr: "must divide dim",
		},
		{
			name:    "group size does not divide hidden dim",
			mutate:  func(c *ModelConfig) { c.GroupSize = 64 },
			wantErr: "must divide hidden_dim",
		},
		{
			name:    "negative group size",
			mutate:  func(c *ModelConfig) { c.GroupSize = -1 },
			wantErr: "invalid group_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestDerived(t *testing.T) {
	cfg := validConfig()
	if got := cfg.KVDim(); got != 32 {
		t.Errorf("KVDim: expected 32, got %d", got)
	}
	if got := cfg.GQARatio(); got != 2 {
		t.Errorf("GQARatio: expected 2, got %d", got)
	}
}
