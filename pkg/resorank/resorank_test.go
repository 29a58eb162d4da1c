package resorank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func field(text string) []FieldTokens {
	return []FieldTokens{{FieldID: 1, Tokens: Tokenize(text)}}
}

func TestTokenizeDropsStopWordsAndShortTokens(t *testing.T) {
	tokens := Tokenize("The quick brown fox is at a door")
	assert.NotContains(t, tokens, "the")
	assert.NotContains(t, tokens, "is")
	assert.NotContains(t, tokens, "at")
	assert.NotContains(t, tokens, "a")
	assert.Contains(t, tokens, "quick")
	assert.Contains(t, tokens, "brown")
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(DefaultConfig())
	results := idx.Search([]string{"query"}, 5)
	assert.Empty(t, results)
}

func TestIndexAndSearchFindsDocument(t *testing.T) {
	idx := New(DefaultConfig())
	idx.IndexDocument("doc1", field("golang concurrency patterns with channels"))
	idx.IndexDocument("doc2", field("cooking pasta with garlic and olive oil"))

	results := idx.Search(Tokenize("golang channels"), 5)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc1", results[0].ID)
}

func TestScoresAreNonNegative(t *testing.T) {
	idx := New(DefaultConfig())
	idx.IndexDocument("doc1", field("vector search engine with hnsw graph index"))
	idx.IndexDocument("doc2", field("another document about vector databases"))

	results := idx.Search(Tokenize("vector search"), 10)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
	}
}

func TestRemoveThenReAddYieldsIdenticalScores(t *testing.T) {
	idx := New(DefaultConfig())
	text := field("retrieval augmented generation pipeline")
	idx.IndexDocument("doc1", text)
	idx.IndexDocument("other", field("unrelated filler content about gardening"))

	before := idx.Search(Tokenize("retrieval generation"), 5)

	idx.RemoveDocument("doc1")
	idx.IndexDocument("doc1", text)

	after := idx.Search(Tokenize("retrieval generation"), 5)

	require.Equal(t, len(before), len(after))
	for i := range before {
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-9)
	}
}

func TestRemoveDocumentDecrementsDocFreq(t *testing.T) {
	idx := New(DefaultConfig())
	idx.IndexDocument("doc1", field("unique special keyword"))
	require.Equal(t, 1, idx.docFreq["unique"])

	idx.RemoveDocument("doc1")
	assert.Equal(t, 0, idx.docFreq["unique"])
	assert.Equal(t, 0, idx.docCount)
}

func TestIndexDocumentReplacesExisting(t *testing.T) {
	idx := New(DefaultConfig())
	idx.IndexDocument("doc1", field("first version of the text"))
	idx.IndexDocument("doc1", field("second edition entirely different"))

	assert.Equal(t, 1, idx.docCount)
	results := idx.Search(Tokenize("first version"), 5)
	assert.Empty(t, results)
}

func TestProximityStrategiesAllReturnNonNegativeScores(t *testing.T) {
	buildIndex := func(strategy ProximityStrategy) *Index {
		cfg := DefaultConfig()
		cfg.Proximity = strategy
		idx := New(cfg)
		idx.IndexDocument("close", field("machine learning machine learning algorithm"))
		idx.IndexDocument("far", field("machine systems biology chemistry physics astronomy learning"))
		return idx
	}

	for _, strategy := range []ProximityStrategy{ProximityNone, ProximityGlobal, ProximityPerTerm, ProximityPairwise, ProximityIdfWeighted} {
		idx := buildIndex(strategy)
		results := idx.Search(Tokenize("machine learning"), 5)
		require.NotEmpty(t, results, "strategy %v", strategy)
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Score, 0.0)
		}
	}
}

func TestSearchRespectsK(t *testing.T) {
	idx := New(DefaultConfig())
	for i := 0; i < 10; i++ {
		idx.IndexDocument(string(rune('a'+i)), field("shared term across every document"))
	}
	results := idx.Search(Tokenize("shared term"), 3)
	assert.Len(t, results, 3)
}
