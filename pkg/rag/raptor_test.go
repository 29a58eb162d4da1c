package rag

import (
	"context"
	"testing"

	"github.com/KittClouds/kittcore-retrieval/pkg/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPopulatedPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p := New(embed.NewStaticEmbedder(16))
	ctx := context.Background()
	notes := []Note{
		{ID: "n1", Title: "Fruit", Content: "Apples are sweet. Oranges are tangy. Bananas are soft. Grapes are small."},
		{ID: "n2", Title: "Weather", Content: "It rained today. The sky was grey. Wind picked up at noon. Storms are rare here."},
		{ID: "n3", Title: "Sports", Content: "The team won the match. Fans cheered loudly. The coach praised the defense."},
	}
	require.NoError(t, p.IndexNotes(ctx, notes))
	return p
}

func TestBuildRaptorTreeProducesLeavesCoveringAllChunks(t *testing.T) {
	p := buildPopulatedPipeline(t)
	tree := BuildRaptorTree(p, 2)
	require.NotNil(t, tree.Root)

	leaves := allLeaves(tree.Root)
	total := 0
	seen := map[string]bool{}
	for _, leaf := range leaves {
		total += len(leaf.ChunkIDs)
		for _, id := range leaf.ChunkIDs {
			assert.False(t, seen[id], "chunk should appear in exactly one leaf")
			seen[id] = true
		}
	}
	assert.Equal(t, len(p.texts), total)
}

func TestBuildRaptorTreeSmallCorpusIsSingleLeaf(t *testing.T) {
	p := New(embed.NewStaticEmbedder(16))
	ctx := context.Background()
	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "Tiny", Content: "Just one short sentence here."}))

	tree := BuildRaptorTree(p, 100)
	require.NotNil(t, tree.Root)
	assert.True(t, tree.Root.isLeaf())
}

func TestSearchRaptorCollapsedFindsRelevantChunk(t *testing.T) {
	p := buildPopulatedPipeline(t)
	tree := BuildRaptorTree(p, 2)
	ctx := context.Background()

	results, err := p.SearchRaptor(ctx, "sports team match", 2, tree, RaptorCollapsed, DefaultBeamWidth)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestSearchRaptorHybridReturnsResults(t *testing.T) {
	p := buildPopulatedPipeline(t)
	tree := BuildRaptorTree(p, 2)
	ctx := context.Background()

	results, err := p.SearchRaptor(ctx, "weather storm wind", 2, tree, RaptorHybrid, DefaultBeamWidth)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestSearchRaptorTraversalAndCollapsedLeavesRun(t *testing.T) {
	p := buildPopulatedPipeline(t)
	tree := BuildRaptorTree(p, 2)
	ctx := context.Background()

	for _, mode := range []RaptorMode{RaptorTraversal, RaptorCollapsedLeaves} {
		results, err := p.SearchRaptor(ctx, "fruit apples oranges", 2, tree, mode, DefaultBeamWidth)
		require.NoError(t, err)
		assert.NotEmpty(t, results)
	}
}

func TestCandidateChunkIDsOnNilTree(t *testing.T) {
	var tree *Tree
	assert.Nil(t, tree.CandidateChunkIDs([]float32{1, 0}, RaptorHybrid, 5))
}
