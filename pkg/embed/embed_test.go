package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedderDeterministic(t *testing.T) {
	s := NewStaticEmbedder(16)
	ctx := context.Background()
	v1, err := s.Embed(ctx, "hello world")
	require.NoError(t, err)
	v2, err := s.Embed(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 16)
}

func TestStaticEmbedderDiffersByText(t *testing.T) {
	s := NewStaticEmbedder(16)
	ctx := context.Background()
	v1, _ := s.Embed(ctx, "alpha")
	v2, _ := s.Embed(ctx, "beta")
	assert.NotEqual(t, v1, v2)
}

func TestStaticEmbedderBatchMatchesSingle(t *testing.T) {
	s := NewStaticEmbedder(8)
	ctx := context.Background()
	texts := []string{"one", "two", "three"}
	batch, err := s.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, text := range texts {
		single, _ := s.Embed(ctx, text)
		assert.Equal(t, single, batch[i])
	}
}

type countingEmbedder struct {
	*StaticEmbedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls += len(texts)
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedderAvoidsRepeatCalls(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8)}
	cached, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderBatchOnlyFetchesMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(8)}
	cached, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.Embed(ctx, "alpha")
	require.NoError(t, err)
	inner.calls = 0

	results, err := cached.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, 2, inner.calls, "alpha should be served from cache")
}
