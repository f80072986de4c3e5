// Package embedder provides interfaces and implementations for text embedding.
package embedder

import (
	"context"
	"strings"
)

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

// KnownDimensions maps sentence-embedding models to their output size.
var KnownDimensions = map[string]int{
	"all-minilm":             384,
	"all-MiniLM-L6-v2":       384,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"text-embedding-3-small": 1536,
}

// DimensionFor returns the known dimension of model, or fallback.
func DimensionFor(model string, fallback int) int {
	if d, ok := KnownDimensions[model]; ok {
		return d
	}
	return fallback
}

// ProfileText builds the text embedded for a profile and shown to the reranker.
//
// Sections are emitted as "Interests: a, b. Skills: c, d. Bio: text" in that order.
// Empty sections are omitted, so the result is "" for a profile with no signal.
// Stored vectors are only comparable while this format stays fixed.
func ProfileText(interests, skills []string, bio string) string {
	var sections []string
	if s := joinNonBlank(interests); s != "" {
		sections = append(sections, "Interests: "+s)
	}
	if s := joinNonBlank(skills); s != "" {
		sections = append(sections, "Skills: "+s)
	}
	if b := strings.TrimSpace(bio); b != "" {
		sections = append(sections, "Bio: "+b)
	}
	return strings.Join(sections, ". ")
}

func joinNonBlank(items []string) string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if t := strings.TrimSpace(item); t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, ", ")
}
