package rag

import (
	"context"
	"testing"

	"github.com/KittClouds/kittcore-retrieval/pkg/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPipeline() *Pipeline {
	return New(embed.NewStaticEmbedder(16))
}

func TestIndexNoteAndSearch(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	note := Note{ID: "n1", Title: "Rivers", Content: "The Nile is a river in Africa. It is very long. Many people depend on it."}
	require.NoError(t, p.IndexNote(ctx, note))

	results, err := p.Search(ctx, "Nile river Africa", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "n1", r.Meta.NoteID)
	}
}

func TestIndexNoteEmptyContentIndexesNothing(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "Empty", Content: ""}))
	assert.Empty(t, p.texts)
}

func TestIndexNoteWhitespaceOnlyContentIndexesNothing(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "Blank", Content: "   \n\t  "}))
	assert.Empty(t, p.texts)
}

func TestSearchWithoutEmbedderReturnsErrModelNotLoaded(t *testing.T) {
	p := NewWithoutEmbedder(16)
	ctx := context.Background()

	_, err := p.Search(ctx, "anything", 3)
	assert.ErrorIs(t, err, embed.ErrModelNotLoaded)

	_, err = p.SearchWithDiversity(ctx, "anything", 3, 0.5)
	assert.ErrorIs(t, err, embed.ErrModelNotLoaded)

	_, err = p.SearchHybrid(ctx, "anything", 3, 0.5)
	assert.ErrorIs(t, err, embed.ErrModelNotLoaded)

	_, err = p.Embed(ctx, "anything")
	assert.ErrorIs(t, err, embed.ErrModelNotLoaded)

	err = p.IndexNote(ctx, Note{ID: "n1", Title: "T", Content: "some real content to index here"})
	assert.ErrorIs(t, err, embed.ErrModelNotLoaded)

	err = p.IndexNotes(ctx, []Note{{ID: "n1", Title: "T", Content: "some real content to index here"}})
	assert.ErrorIs(t, err, embed.ErrModelNotLoaded)

	_, err = p.SearchRaptor(ctx, "anything", 3, &Tree{}, RaptorHybrid, DefaultBeamWidth)
	assert.ErrorIs(t, err, embed.ErrModelNotLoaded)
}

func TestIndexNoteWithEmptyContentSkipsEmbedderRequirement(t *testing.T) {
	p := NewWithoutEmbedder(16)
	ctx := context.Background()
	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "Empty", Content: ""}))
}

func TestReindexingNoteReplacesChunks(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "V1", Content: "First version of the note content here."}))
	firstCount := len(p.texts)
	require.Positive(t, firstCount)

	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "V2", Content: "Second version of the note content here, much longer now with more words to chunk differently."}))

	for id, meta := range p.metas {
		assert.Equal(t, "n1", meta.NoteID)
		assert.Equal(t, "V2", meta.NoteTitle)
		_ = id
	}
}

func TestRemoveNoteDeletesAllChunks(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "A", Content: "Some content about apples and oranges."}))
	require.NotEmpty(t, p.texts)

	p.RemoveNote("n1")
	assert.Empty(t, p.texts)
	assert.Empty(t, p.metas)
	assert.Empty(t, p.noteChunks["n1"])
}

func TestIndexNotesBatchesAcrossNotes(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()

	notes := []Note{
		{ID: "n1", Title: "One", Content: "Content about cats and dogs living together."},
		{ID: "n2", Title: "Two", Content: "Content about birds flying south for winter."},
	}
	require.NoError(t, p.IndexNotes(ctx, notes))

	assert.NotEmpty(t, p.noteChunks["n1"])
	assert.NotEmpty(t, p.noteChunks["n2"])
}

func TestSearchHybridClampsWeight(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "Weather", Content: "It rained heavily today across the whole region."}))

	results, err := p.SearchHybrid(ctx, "rain weather", 2, 5.0)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	results2, err := p.SearchHybrid(ctx, "rain weather", 2, -1.0)
	require.NoError(t, err)
	assert.NotEmpty(t, results2)
}

func TestSearchWithDiversityReturnsDistinctChunks(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	require.NoError(t, p.IndexNote(ctx, Note{
		ID: "n1", Title: "Topic",
		Content: "Apples are red. Oranges are orange. Bananas are yellow. Grapes are purple. Apples can also be green.",
	}))

	results, err := p.SearchWithDiversity(ctx, "fruit colors", 3, 0.3)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.ChunkID])
		seen[r.ChunkID] = true
	}
}

func TestExportAndInsertChunkRoundTrip(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "Topic", Content: "Some example content to chunk and embed for export."}))

	exported := p.ExportChunks()
	require.NotEmpty(t, exported)

	p2 := newTestPipeline()
	for _, c := range exported {
		require.NoError(t, p2.InsertChunk(c))
	}
	assert.Equal(t, len(p.texts), len(p2.texts))
}

func TestSerializeRoundTrip(t *testing.T) {
	p := newTestPipeline()
	ctx := context.Background()
	require.NoError(t, p.IndexNote(ctx, Note{ID: "n1", Title: "Topic", Content: "Persisted content for round trip testing of the pipeline."}))

	data, err := p.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(data, embed.NewStaticEmbedder(16))
	require.NoError(t, err)

	assert.Equal(t, len(p.texts), len(restored.texts))

	results, err := restored.Search(ctx, "persisted content", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}
