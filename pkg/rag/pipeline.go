// Package rag orchestrates chunking, embedding, hybrid vector/lexical
// retrieval, and optional hierarchical (RAPTOR) summarized retrieval
// over a corpus of notes.
package rag

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"strings"

	"github.com/KittClouds/kittcore-retrieval/pkg/chunk"
	"github.com/KittClouds/kittcore-retrieval/pkg/embed"
	"github.com/KittClouds/kittcore-retrieval/pkg/resorank"
	"github.com/KittClouds/kittcore-retrieval/pkg/vector"
	"github.com/KittClouds/kittcore-retrieval/pkg/vectorindex"
)

func vectorCosine(a, b []float32) float32 {
	return vector.Cosine(a, b, nil, nil)
}

// bodyFieldID is the single ResoRank field chunk text is indexed under.
const bodyFieldID = 1

// batchSize bounds how many chunk texts are embedded in a single
// EmbedBatch call during bulk indexing.
const batchSize = 32

// Note is a unit of source content to be chunked, embedded, and indexed.
type Note struct {
	ID      string
	Title   string
	Content string
}

// ChunkMeta is the metadata stored alongside each chunk's vector entry.
type ChunkMeta struct {
	NoteID     string
	NoteTitle  string
	ChunkIndex int
	Start      int
	End        int
}

// ChunkMeta values are stored as vectorindex metadata (an interface
// field), so gob must know the concrete type to encode and decode them.
func init() {
	gob.Register(ChunkMeta{})
}

// SearchResult is a single hydrated retrieval hit.
type SearchResult struct {
	ChunkID string
	Score   float32
	Text    string
	Meta    ChunkMeta
}

// ExportedChunk is the interchange shape for moving chunks between
// pipeline instances without re-embedding.
type ExportedChunk struct {
	ID         string
	NoteID     string
	NoteTitle  string
	Text       string
	Embedding  []float32
	ChunkIndex int
	Start      int
	End        int
}

// Pipeline is the orchestrator tying chunking, embedding, the vector
// index, and the lexical index together.
type Pipeline struct {
	embedder   embed.Embedder
	vecIndex   *vectorindex.Index
	lexIndex   *resorank.Index
	chunker    *chunk.Chunker
	dimensions int

	texts      map[string]string   // chunkId -> text
	metas      map[string]ChunkMeta // chunkId -> metadata
	noteChunks map[string][]string // noteId -> chunkIds, for removal

	raptor *Tree
}

// New builds a Pipeline backed by embedder, using default chunking and
// lexical scoring configuration.
func New(embedder embed.Embedder) *Pipeline {
	dims := embedder.Dimensions()
	return newPipeline(embedder, dims)
}

// NewWithoutEmbedder builds a Pipeline with no attached model, fixed at
// dimensions. It can still hold previously-exported chunks (via
// InsertChunk) and serve vector/lexical/RAPTOR search over them, but
// any operation that needs to embed text returns
// embed.ErrModelNotLoaded until SetEmbedder attaches a real one.
func NewWithoutEmbedder(dimensions int) *Pipeline {
	return newPipeline(nil, dimensions)
}

func newPipeline(embedder embed.Embedder, dims int) *Pipeline {
	return &Pipeline{
		embedder:   embedder,
		vecIndex:   vectorindex.New(dims),
		lexIndex:   resorank.New(resorank.DefaultConfig()),
		chunker:    chunk.NewWithConfig(chunk.DefaultConfig()),
		dimensions: dims,
		texts:      make(map[string]string),
		metas:      make(map[string]ChunkMeta),
		noteChunks: make(map[string][]string),
	}
}

// SetEmbedder attaches or replaces the pipeline's embedder, for
// example after NewWithoutEmbedder once a model becomes available.
func (p *Pipeline) SetEmbedder(embedder embed.Embedder) {
	p.embedder = embedder
}

// requireEmbedder returns embed.ErrModelNotLoaded if no embedder is
// attached, so every operation that needs to embed text fails with a
// typed error instead of panicking on a nil call.
func (p *Pipeline) requireEmbedder() error {
	if p.embedder == nil {
		return embed.ErrModelNotLoaded
	}
	return nil
}

func chunkID(noteID string, index int) string {
	return noteID + "_" + itoa(index)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

func embedInput(title, chunkText string) string {
	return title + "\n---\n" + chunkText
}

// IndexNote chunks, embeds, and indexes a single note, replacing any
// chunks previously indexed for the same note id.
func (p *Pipeline) IndexNote(ctx context.Context, note Note) error {
	p.RemoveNote(note.ID)

	if strings.TrimSpace(note.Content) == "" {
		return nil
	}
	if err := p.requireEmbedder(); err != nil {
		return err
	}

	chunks := p.chunker.Chunk(note.Content)
	if len(chunks) == 0 {
		return nil
	}

	inputs := make([]string, len(chunks))
	for i, c := range chunks {
		inputs[i] = embedInput(note.Title, c.Text)
	}

	vectors, err := p.embedder.EmbedBatch(ctx, inputs)
	if err != nil {
		return err
	}

	return p.insertChunks(note, chunks, vectors)
}

func (p *Pipeline) insertChunks(note Note, chunks []chunk.Chunk, vectors [][]float32) error {
	ids := make([]string, 0, len(chunks))
	for i, c := range chunks {
		id := chunkID(note.ID, i)
		meta := ChunkMeta{NoteID: note.ID, NoteTitle: note.Title, ChunkIndex: i, Start: c.Start, End: c.End}

		if err := p.vecIndex.Insert(id, vectors[i], meta); err != nil {
			return err
		}

		p.texts[id] = c.Text
		p.metas[id] = meta
		p.lexIndex.IndexDocument(id, []resorank.FieldTokens{
			{FieldID: bodyFieldID, Tokens: resorank.Tokenize(c.Text)},
		})
		ids = append(ids, id)
	}
	p.noteChunks[note.ID] = ids
	return nil
}

// IndexNotes indexes many notes, batching embed calls across notes at
// a fixed batch size rather than one EmbedBatch call per note.
func (p *Pipeline) IndexNotes(ctx context.Context, notes []Note) error {
	if err := p.requireEmbedder(); err != nil {
		return err
	}

	for _, n := range notes {
		p.RemoveNote(n.ID)
	}

	type pending struct {
		note   Note
		chunks []chunk.Chunk
		input  string
	}
	var work []pending
	for _, n := range notes {
		if strings.TrimSpace(n.Content) == "" {
			continue
		}
		chunks := p.chunker.Chunk(n.Content)
		for _, c := range chunks {
			work = append(work, pending{note: n, chunks: chunks, input: embedInput(n.Title, c.Text)})
		}
	}

	vectors := make([][]float32, len(work))
	for start := 0; start < len(work); start += batchSize {
		end := start + batchSize
		if end > len(work) {
			end = len(work)
		}
		inputs := make([]string, end-start)
		for i := start; i < end; i++ {
			inputs[i-start] = work[i].input
		}
		batch, err := p.embedder.EmbedBatch(ctx, inputs)
		if err != nil {
			return err
		}
		copy(vectors[start:end], batch)
	}

	// Regroup flattened (note, chunk, vector) triples back per note.
	byNote := make(map[string][]int)
	order := make([]string, 0, len(notes))
	for i, w := range work {
		if _, ok := byNote[w.note.ID]; !ok {
			order = append(order, w.note.ID)
		}
		byNote[w.note.ID] = append(byNote[w.note.ID], i)
	}

	noteByID := make(map[string]Note, len(notes))
	for _, n := range notes {
		noteByID[n.ID] = n
	}

	for _, noteID := range order {
		idxs := byNote[noteID]
		note := noteByID[noteID]
		chunks := work[idxs[0]].chunks
		vecs := make([][]float32, len(idxs))
		for j, wi := range idxs {
			vecs[j] = vectors[wi]
		}
		if err := p.insertChunks(note, chunks, vecs); err != nil {
			return err
		}
	}
	return nil
}

// RemoveNote deletes every chunk belonging to noteId from the vector
// index, lexical index, and text store.
func (p *Pipeline) RemoveNote(noteID string) {
	ids, ok := p.noteChunks[noteID]
	if !ok {
		return
	}
	for _, id := range ids {
		p.vecIndex.Remove(id)
		p.lexIndex.RemoveDocument(id)
		delete(p.texts, id)
		delete(p.metas, id)
	}
	delete(p.noteChunks, noteID)
}

func (p *Pipeline) hydrateVec(id string, score float32) (SearchResult, bool) {
	meta, ok := p.metas[id]
	if !ok {
		return SearchResult{}, false
	}
	return SearchResult{ChunkID: id, Score: score, Text: p.texts[id], Meta: meta}, true
}

// Embed embeds arbitrary query text using the pipeline's embedder.
func (p *Pipeline) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.requireEmbedder(); err != nil {
		return nil, err
	}
	return p.embedder.Embed(ctx, text)
}

// Search performs pure vector search for queryText.
func (p *Pipeline) Search(ctx context.Context, queryText string, k int) ([]SearchResult, error) {
	if err := p.requireEmbedder(); err != nil {
		return nil, err
	}
	qv, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	hits := p.vecIndex.Search(qv, k)
	return p.toResults(hits), nil
}

// SearchWithDiversity performs vector search reranked by MMR.
func (p *Pipeline) SearchWithDiversity(ctx context.Context, queryText string, k int, lambda float32) ([]SearchResult, error) {
	if err := p.requireEmbedder(); err != nil {
		return nil, err
	}
	qv, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	hits := p.vecIndex.SearchWithDiversity(qv, k, lambda)
	return p.toResults(hits), nil
}

func (p *Pipeline) toResults(hits []vectorindex.Result) []SearchResult {
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if r, ok := p.hydrateVec(h.ID, h.Score); ok {
			results = append(results, r)
		}
	}
	return results
}

// SearchHybrid fuses vector and lexical search: wVec weights the
// vector side (clamped to [0,1]), 1-wVec weights the lexical side. Each
// side's scores are min-max normalized against its own maximum before
// fusion.
func (p *Pipeline) SearchHybrid(ctx context.Context, queryText string, k int, wVec float32) ([]SearchResult, error) {
	if err := p.requireEmbedder(); err != nil {
		return nil, err
	}

	if wVec < 0 {
		wVec = 0
	}
	if wVec > 1 {
		wVec = 1
	}
	wLex := 1 - wVec

	qv, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	fetchK := k * 3
	if fetchK < k {
		fetchK = k
	}

	vecHits := p.vecIndex.Search(qv, fetchK)
	lexHits := p.lexIndex.Search(resorank.Tokenize(queryText), fetchK)

	vecNorm := normalizeVec(vecHits)
	lexNorm := normalizeLex(lexHits)

	fused := make(map[string]float32)
	for id, score := range vecNorm {
		fused[id] += wVec * score
	}
	for id, score := range lexNorm {
		fused[id] += wLex * score
	}

	type scored struct {
		id    string
		score float32
	}
	ordered := make([]scored, 0, len(fused))
	for id, score := range fused {
		ordered = append(ordered, scored{id, score})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].score > ordered[j].score })
	if len(ordered) > k {
		ordered = ordered[:k]
	}

	results := make([]SearchResult, 0, len(ordered))
	for _, s := range ordered {
		if r, ok := p.hydrateVec(s.id, s.score); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

func normalizeVec(hits []vectorindex.Result) map[string]float32 {
	out := make(map[string]float32, len(hits))
	var max float32
	for _, h := range hits {
		if h.Score > max {
			max = h.Score
		}
	}
	if max == 0 {
		for _, h := range hits {
			out[h.ID] = 0
		}
		return out
	}
	for _, h := range hits {
		out[h.ID] = h.Score / max
	}
	return out
}

func normalizeLex(hits []resorank.Result) map[string]float32 {
	out := make(map[string]float32, len(hits))
	var max float64
	for _, h := range hits {
		if h.Score > max {
			max = h.Score
		}
	}
	if max == 0 {
		for _, h := range hits {
			out[h.ID] = 0
		}
		return out
	}
	for _, h := range hits {
		out[h.ID] = float32(h.Score / max)
	}
	return out
}

// SearchRaptor retrieves up to k chunks via tree, narrowing candidates
// per mode and beamWidth (DefaultBeamWidth if beamWidth < 1) before
// scoring each candidate's actual chunk vector against the query.
func (p *Pipeline) SearchRaptor(ctx context.Context, queryText string, k int, tree *Tree, mode RaptorMode, beamWidth int) ([]SearchResult, error) {
	if err := p.requireEmbedder(); err != nil {
		return nil, err
	}

	qv, err := p.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	candidateIDs := tree.CandidateChunkIDs(qv, mode, beamWidth)

	type scored struct {
		id    string
		score float32
	}
	scoredChunks := make([]scored, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		v, ok := p.vecIndex.GetVector(id)
		if !ok {
			continue
		}
		scoredChunks = append(scoredChunks, scored{id: id, score: vectorCosine(qv, v)})
	}
	sort.Slice(scoredChunks, func(i, j int) bool { return scoredChunks[i].score > scoredChunks[j].score })
	if len(scoredChunks) > k {
		scoredChunks = scoredChunks[:k]
	}

	results := make([]SearchResult, 0, len(scoredChunks))
	for _, s := range scoredChunks {
		if r, ok := p.hydrateVec(s.id, s.score); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

// ExportChunks returns every indexed chunk with its embedding, for
// transfer into another pipeline without re-embedding.
func (p *Pipeline) ExportChunks() []ExportedChunk {
	out := make([]ExportedChunk, 0, len(p.texts))
	for id, text := range p.texts {
		meta := p.metas[id]
		v, _ := p.vecIndex.GetVector(id)
		out = append(out, ExportedChunk{
			ID: id, NoteID: meta.NoteID, NoteTitle: meta.NoteTitle, Text: text,
			Embedding: v, ChunkIndex: meta.ChunkIndex, Start: meta.Start, End: meta.End,
		})
	}
	return out
}

// InsertChunk inserts a previously-exported chunk directly, bypassing
// chunking and embedding.
func (p *Pipeline) InsertChunk(c ExportedChunk) error {
	meta := ChunkMeta{NoteID: c.NoteID, NoteTitle: c.NoteTitle, ChunkIndex: c.ChunkIndex, Start: c.Start, End: c.End}
	if err := p.vecIndex.Insert(c.ID, c.Embedding, meta); err != nil {
		return err
	}
	p.texts[c.ID] = c.Text
	p.metas[c.ID] = meta
	p.noteChunks[c.NoteID] = append(p.noteChunks[c.NoteID], c.ID)
	p.lexIndex.IndexDocument(c.ID, []resorank.FieldTokens{
		{FieldID: bodyFieldID, Tokens: resorank.Tokenize(c.Text)},
	})
	return nil
}

type pipelineEnvelope struct {
	Dimensions int
	VecIndex   []byte
	Texts      map[string]string
	Metas      map[string]ChunkMeta
	NoteChunks map[string][]string
}

// Serialize persists the vector index, chunk texts, and metadata. The
// lexical index and any RAPTOR tree are not persisted — both are cheap
// to rebuild from the exported chunks on load.
func (p *Pipeline) Serialize() ([]byte, error) {
	vecBytes, err := p.vecIndex.Serialize()
	if err != nil {
		return nil, err
	}
	env := pipelineEnvelope{
		Dimensions: p.dimensions,
		VecIndex:   vecBytes,
		Texts:      p.texts,
		Metas:      p.metas,
		NoteChunks: p.noteChunks,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize restores a Pipeline from Serialize's output, rebuilding
// the lexical index from the recovered chunk texts.
func Deserialize(data []byte, embedder embed.Embedder) (*Pipeline, error) {
	var env pipelineEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, err
	}

	vecIndex, err := vectorindex.Deserialize(env.VecIndex)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		embedder:   embedder,
		vecIndex:   vecIndex,
		lexIndex:   resorank.New(resorank.DefaultConfig()),
		chunker:    chunk.NewWithConfig(chunk.DefaultConfig()),
		dimensions: env.Dimensions,
		texts:      env.Texts,
		metas:      env.Metas,
		noteChunks: env.NoteChunks,
	}

	for id, text := range p.texts {
		p.lexIndex.IndexDocument(id, []resorank.FieldTokens{
			{FieldID: bodyFieldID, Tokens: resorank.Tokenize(text)},
		})
	}

	return p, nil
}
