// Package embedding defines the pluggable contract for the semantic
// matching stage. The pipeline only requires a stable-dimension vector
// and cosine comparison; which model produces the vector is a deployment
// choice.
package embedding

import (
	"context"
	"errors"

	"go.uber.org/fx"
)

// Provider turns text into a fixed-dimension embedding vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Dimension() int
}

var ErrEmptyText = errors.New("empty_text")

var Module = fx.Module("embedding",
	fx.Provide(NewLocalProvider),
)
