// Package vectorindex wraps pkg/hnsw behind string-keyed ids, owning
// the string<->numeric id mapping, per-entry metadata, and MMR-based
// diversity search.
package vectorindex

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/KittClouds/kittcore-retrieval/pkg/hnsw"
	"github.com/KittClouds/kittcore-retrieval/pkg/mmr"
)

// ErrDimensionMismatch is returned by Insert when a vector's length
// doesn't match the index's configured dimensionality. Search and
// SearchWithDiversity do not return it: a query of the wrong length
// yields no results.
type ErrDimensionMismatch struct {
	Expected, Got int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vectorindex: dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Result is a single hydrated search hit.
type Result struct {
	ID       string
	Score    float32
	Metadata any
}

// Index wraps an hnsw.Index behind string ids.
type Index struct {
	dimensions int
	hnsw       *hnsw.Index

	idToNumeric map[string]uint32
	numericToID map[uint32]string
	metadata    map[uint32]any

	nextID uint32
}

// New creates an empty Index for vectors of the given dimensionality.
func New(dimensions int) *Index {
	return &Index{
		dimensions:  dimensions,
		hnsw:        hnsw.New(hnsw.Config{M: 16, EfConstruction: 100, Metric: hnsw.Cosine}),
		idToNumeric: make(map[string]uint32),
		numericToID: make(map[uint32]string),
		metadata:    make(map[uint32]any),
	}
}

// Insert adds a vector under strId with optional metadata. If strId
// already exists, the prior entry is removed first so soft-deletes
// accumulate in the underlying graph rather than silently
// overwriting. Ids are drawn from a monotonic counter that is never
// reused, even after Remove.
func (idx *Index) Insert(strID string, vector []float32, meta any) error {
	if len(vector) != idx.dimensions {
		return &ErrDimensionMismatch{Expected: idx.dimensions, Got: len(vector)}
	}

	if _, exists := idx.idToNumeric[strID]; exists {
		idx.Remove(strID)
	}

	numericID := idx.nextID
	idx.nextID++

	if err := idx.hnsw.Insert(numericID, vector); err != nil {
		return err
	}

	idx.idToNumeric[strID] = numericID
	idx.numericToID[numericID] = strID
	idx.metadata[numericID] = meta
	return nil
}

// Search returns up to k nearest neighbors of queryVector.
func (idx *Index) Search(queryVector []float32, k int) []Result {
	if len(queryVector) != idx.dimensions {
		return nil
	}
	hits := idx.hnsw.Search(queryVector, k)
	return idx.hydrate(hits)
}

// SearchWithDiversity returns up to k results reranked by MMR with the
// given lambda, fetching a wider candidate pool before diversifying.
func (idx *Index) SearchWithDiversity(queryVector []float32, k int, lambda float32) []Result {
	if len(queryVector) != idx.dimensions {
		return nil
	}

	fetchK := k * 3
	if fetchK < k {
		fetchK = k
	}
	candidates := idx.hnsw.Search(queryVector, fetchK)

	mmrCandidates := make([]mmr.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if v, ok := idx.hnsw.GetVector(c.ID); ok {
			mmrCandidates = append(mmrCandidates, mmr.Candidate{ID: c.ID, Score: c.Score, Vector: v})
		}
	}
	reranked := mmr.Rerank(queryVector, mmrCandidates, k, lambda)

	hits := make([]hnsw.Result, len(reranked))
	for i, c := range reranked {
		hits[i] = hnsw.Result{ID: c.ID, Score: c.Score}
	}
	return idx.hydrate(hits)
}

func (idx *Index) hydrate(hits []hnsw.Result) []Result {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		strID, ok := idx.numericToID[h.ID]
		if !ok {
			continue
		}
		results = append(results, Result{ID: strID, Score: h.Score, Metadata: idx.metadata[h.ID]})
	}
	return results
}

// GetVector returns the stored vector for strId, used by RAPTOR tree
// construction and chunk export.
func (idx *Index) GetVector(strID string) ([]float32, bool) {
	numericID, ok := idx.idToNumeric[strID]
	if !ok {
		return nil, false
	}
	return idx.hnsw.GetVector(numericID)
}

// Remove soft-deletes strId: the forward mapping and metadata are
// dropped, but the reverse (numeric -> string) mapping is retained so
// the underlying HNSW node stays referenceable for graph traversal —
// tombstoned nodes are still walked during insertion of later points.
func (idx *Index) Remove(strID string) {
	numericID, ok := idx.idToNumeric[strID]
	if !ok {
		return
	}
	idx.hnsw.Delete(numericID)
	delete(idx.idToNumeric, strID)
	delete(idx.metadata, numericID)
}

// Len returns the number of live (non-removed) entries.
func (idx *Index) Len() int {
	return len(idx.idToNumeric)
}

type envelope struct {
	Dimensions  int
	HnswBytes   []byte
	IDToNumeric map[string]uint32
	Metadata    map[uint32]any
	NextID      uint32
}

// Serialize encodes the index into a self-describing envelope: schema
// dimension, raw HNSW bytes, the id string table, metadata blobs, and
// the next-id counter.
func (idx *Index) Serialize() ([]byte, error) {
	env := envelope{
		Dimensions:  idx.dimensions,
		HnswBytes:   idx.hnsw.Serialize(),
		IDToNumeric: idx.idToNumeric,
		Metadata:    idx.metadata,
		NextID:      idx.nextID,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize restores an Index from Serialize's envelope, rebuilding
// the reverse string mapping from the forward table.
func Deserialize(data []byte) (*Index, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, err
	}

	h, err := hnsw.Deserialize(env.HnswBytes)
	if err != nil {
		return nil, err
	}

	numericToID := make(map[uint32]string, len(env.IDToNumeric))
	for strID, numericID := range env.IDToNumeric {
		numericToID[numericID] = strID
	}

	return &Index{
		dimensions:  env.Dimensions,
		hnsw:        h,
		idToNumeric: env.IDToNumeric,
		numericToID: numericToID,
		metadata:    env.Metadata,
		nextID:      env.NextID,
	}, nil
}
