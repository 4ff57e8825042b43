//go:build !cuda

package engine

import (
	"errors"

	"github.com/paveldotsmirnov/arbalest/internal/checkpoint"
	"github.com/paveldotsmirnov/arbalest/internal/config"
)

// The cuda backend only exists in builds with the cuda tag; this stub keeps
// the backend name resolvable so callers get a clear error instead of an
// unknown-backend one.
func init() {
	Register("cuda", func(config.ModelConfig, *checkpoint.Weights, Options) (Engine, error) {
		return nil, errors.New("engine: cuda backend not compiled in (build with -tags cuda)")
	})
}
