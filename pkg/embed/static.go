package embed

import (
	"context"
	"hash/fnv"

	"github.com/KittClouds/kittcore-retrieval/pkg/vector"
)

// StaticEmbedder deterministically derives a unit vector from a hash
// of the input text. It produces no semantic signal — it exists for
// tests and for running the pipeline end-to-end without a model
// attached.
type StaticEmbedder struct {
	dimensions int
}

// NewStaticEmbedder creates a StaticEmbedder producing vectors of the
// given dimensionality.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	return &StaticEmbedder{dimensions: dimensions}
}

func (s *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return hashVector(text, s.dimensions), nil
}

func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, s.dimensions)
	}
	return out, nil
}

func (s *StaticEmbedder) Dimensions() int { return s.dimensions }
func (s *StaticEmbedder) Model() string   { return "static-hash" }

// hashVector deterministically expands text into a dim-length unit
// vector by seeding an FNV hash per dimension index.
func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		h := fnv.New64a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i), byte(i >> 8)})
		sum := h.Sum64()
		// Map to [-1, 1].
		v[i] = float32(sum%2000001)/1000000.0 - 1.0
	}
	return vector.Normalize(v)
}
