package embedder

import (
	"context"
	"fmt"
	"strings"

	"github.com/knoguchi/peermatch/internal/breaker"
)

// Guarded wraps an Embedder with blank-text handling and a circuit breaker.
//
// Blank text yields an empty vector without touching the model; callers treat an empty
// vector as "no signal".
type Guarded struct {
	inner   Embedder
	breaker *breaker.Breaker
}

// NewGuarded wraps inner. A nil breaker disables circuit breaking.
func NewGuarded(inner Embedder, b *breaker.Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: b}
}

// Embed returns an empty vector for blank text, otherwise the model's vector.
func (g *Guarded) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return []float32{}, nil
	}
	if g.breaker == nil {
		return g.inner.Embed(ctx, text)
	}

	v, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		return g.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedBatch embeds the non-blank texts in one call and leaves blank positions empty.
func (g *Guarded) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var idx []int
	var batch []string
	for i, t := range texts {
		out[i] = []float32{}
		if strings.TrimSpace(t) != "" {
			idx = append(idx, i)
			batch = append(batch, t)
		}
	}
	if len(batch) == 0 {
		return out, nil
	}

	call := func() (interface{}, error) { return g.inner.EmbedBatch(ctx, batch) }
	var (
		v   interface{}
		err error
	)
	if g.breaker == nil {
		v, err = call()
	} else {
		v, err = g.breaker.Execute(ctx, call)
	}
	if err != nil {
		return nil, err
	}

	vectors := v.([][]float32)
	for j, i := range idx {
		out[i] = vectors[j]
	}
	return out, nil
}

// Dimension returns the wrapped model's dimension.
func (g *Guarded) Dimension() int {
	return g.inner.Dimension()
}

// ModelName returns the wrapped model's name.
func (g *Guarded) ModelName() string {
	return g.inner.ModelName()
}

// Warmup embeds a probe sentence and checks the dimension. The daemon refuses to start
// when it fails.
func Warmup(ctx context.Context, e Embedder) error {
	v, err := e.Embed(ctx, "Interests: warmup")
	if err != nil {
		return fmt.Errorf("failed to warm up embedding model %s: %w", e.ModelName(), err)
	}
	if len(v) == 0 {
		return fmt.Errorf("embedding model %s returned an empty vector", e.ModelName())
	}
	if d := e.Dimension(); d > 0 && len(v) != d {
		return fmt.Errorf("embedding model %s returned %d dimensions, expected %d", e.ModelName(), len(v), d)
	}
	return nil
}

var _ Embedder = (*Guarded)(nil)
