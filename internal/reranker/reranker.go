// Package reranker scores (query, passage) pairs for second-stage ranking of match candidates.
//
// Scoring sees the query and the candidate description together, so it is more precise than
// comparing independent embeddings but too slow to run over the whole directory. The
// matcher only reranks the few candidates that survive cosine filtering.
package reranker

import (
	"context"
	"fmt"

	"github.com/knoguchi/peermatch/internal/breaker"
)

// Reranker defines the interface for relevance scoring.
type Reranker interface {
	// Score returns one relevance score per passage, in passage order. Higher is more
	// relevant; scores are not bounded and may be negative.
	Score(ctx context.Context, query string, passages []string) ([]float32, error)

	// ModelName identifies the scoring model.
	ModelName() string
}

// Guarded runs a Reranker through a circuit breaker and checks the result length.
type Guarded struct {
	inner   Reranker
	breaker *breaker.Breaker
}

// NewGuarded wraps inner with b.
func NewGuarded(inner Reranker, b *breaker.Breaker) *Guarded {
	return &Guarded{inner: inner, breaker: b}
}

// Score implements Reranker.
func (g *Guarded) Score(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return []float32{}, nil
	}

	v, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		return g.inner.Score(ctx, query, passages)
	})
	if err != nil {
		return nil, err
	}

	scores := v.([]float32)
	if len(scores) != len(passages) {
		return nil, fmt.Errorf("reranker returned %d scores for %d passages", len(scores), len(passages))
	}
	return scores, nil
}

// ModelName implements Reranker.
func (g *Guarded) ModelName() string {
	return g.inner.ModelName()
}

var _ Reranker = (*Guarded)(nil)
