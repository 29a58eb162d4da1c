package mmr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(id uint32, score float32, v []float32) Candidate {
	return Candidate{ID: id, Score: score, Vector: v}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.InDelta(t, 0.5, c.Lambda, 1e-6)
	assert.InDelta(t, 2.0, c.FetchMultiplier, 1e-6)
}

func TestWithLambdaClamps(t *testing.T) {
	assert.InDelta(t, 1.0, WithLambda(1.5).Lambda, 1e-6)
	assert.InDelta(t, 0.0, WithLambda(-0.5).Lambda, 1e-6)
}

func TestRerankEmptyCandidates(t *testing.T) {
	results := Rerank([]float32{1, 0, 0}, nil, 5, 0.5)
	assert.Empty(t, results)
}

func TestRerankReturnsKResults(t *testing.T) {
	query := []float32{1, 0, 0}
	candidates := []Candidate{
		candidate(1, 0.9, []float32{0.9, 0.1, 0}),
		candidate(2, 0.8, []float32{0.8, 0.2, 0}),
		candidate(3, 0.7, []float32{0.7, 0.3, 0}),
		candidate(4, 0.6, []float32{0.6, 0.4, 0}),
	}
	results := Rerank(query, candidates, 3, 0.5)
	assert.Len(t, results, 3)
}

func TestRerankPureRelevancePreservesOrder(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		candidate(1, 0.9, []float32{0.9, 0.1}),
		candidate(2, 0.85, []float32{0.88, 0.12}),
		candidate(3, 0.5, []float32{0.5, 0.5}),
	}
	results := Rerank(query, candidates, 3, 1.0)
	require.Len(t, results, 3)
	assert.Equal(t, uint32(1), results[0].ID)
	assert.Equal(t, uint32(2), results[1].ID)
}

func TestRerankPromotesDiversity(t *testing.T) {
	query := []float32{1, 0, 0}
	candidates := []Candidate{
		candidate(1, 0.95, []float32{0.99, 0.01, 0}),
		candidate(2, 0.94, []float32{0.98, 0.02, 0}),
		candidate(3, 0.7, []float32{0, 0, 1}),
	}
	results := Rerank(query, candidates, 2, 0.5)
	require.Len(t, results, 2)
	assert.Equal(t, uint32(1), results[0].ID)
	assert.Equal(t, uint32(3), results[1].ID, "MMR should prefer diverse result over near-duplicate")
}

func TestRerankPureDiversityAvoidsDuplicates(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		candidate(1, 0.9, []float32{1, 0}),
		candidate(2, 0.85, []float32{0.99, 0.01}),
		candidate(3, 0.3, []float32{0, 1}),
	}
	results := Rerank(query, candidates, 2, 0.0)
	hasBoth := false
	ids := map[uint32]bool{}
	for _, r := range results {
		ids[r.ID] = true
	}
	hasBoth = ids[1] && ids[2]
	assert.False(t, hasBoth, "pure diversity should avoid selecting similar vectors")
}

func TestRerankWithLookup(t *testing.T) {
	query := []float32{1, 0, 0}
	results := []IDScore{{1, 0.9}, {2, 0.8}, {3, 0.7}}
	lookup := map[uint32][]float32{
		1: {0.9, 0.1, 0},
		2: {0.8, 0.2, 0},
		3: {0, 1, 0},
	}
	reranked := RerankWithLookup(query, results, 2, 0.5, func(id uint32) ([]float32, bool) {
		v, ok := lookup[id]
		return v, ok
	})
	assert.Len(t, reranked, 2)
}

func TestRerankWithLookupHandlesMissingVectors(t *testing.T) {
	query := []float32{1, 0}
	results := []IDScore{{1, 0.9}, {2, 0.8}, {3, 0.7}}
	lookup := map[uint32][]float32{
		1: {0.9, 0.1},
		3: {0.7, 0.3},
	}
	reranked := RerankWithLookup(query, results, 3, 0.5, func(id uint32) ([]float32, bool) {
		v, ok := lookup[id]
		return v, ok
	})
	require.Len(t, reranked, 2)
	for _, r := range reranked {
		assert.NotEqual(t, uint32(2), r.ID)
	}
}

func TestRerankKLargerThanCandidates(t *testing.T) {
	results := Rerank([]float32{1, 0}, []Candidate{candidate(1, 0.9, []float32{0.9, 0.1})}, 10, 0.5)
	assert.Len(t, results, 1)
}

func TestRerankKZero(t *testing.T) {
	results := Rerank([]float32{1, 0}, []Candidate{candidate(1, 0.9, []float32{0.9, 0.1})}, 0, 0.5)
	assert.Empty(t, results)
}

func TestRerankIdenticalVectors(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		candidate(1, 0.9, []float32{1, 0}),
		candidate(2, 0.8, []float32{1, 0}),
		candidate(3, 0.7, []float32{1, 0}),
	}
	results := Rerank(query, candidates, 3, 0.5)
	assert.Len(t, results, 3)
}
