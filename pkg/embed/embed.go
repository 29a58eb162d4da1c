// Package embed defines the embedder abstraction the RAG pipeline
// depends on, plus a cached wrapper and a deterministic static
// embedder for hostless operation and tests.
package embed

import (
	"context"
	"errors"
)

// ErrModelNotLoaded is returned by any embedding call when no backing
// model is attached.
var ErrModelNotLoaded = errors.New("embed: model not loaded")

// Embedder turns text into fixed-dimension float32 vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding width this embedder produces.
	Dimensions() int
	// Model identifies the underlying model, for logging and cache
	// keying.
	Model() string
}
