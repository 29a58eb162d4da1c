package hnsw

import "github.com/KittClouds/kittcore-retrieval/pkg/vector"

// node is a single point in the graph: its vector, a cached magnitude
// (so cosine similarity never recomputes it), a tombstone flag, and
// one neighbor slice per layer it participates in (layer 0 through
// its assigned level).
type node struct {
	ID        uint32
	Level     uint8
	Vector    []float32
	Deleted   bool
	Neighbors [][]uint32
	magnitude float32
}

func newNode(id uint32, level uint8, vec []float32, numLevels int) *node {
	return &node{
		ID:        id,
		Level:     level,
		Vector:    vec,
		Neighbors: make([][]uint32, numLevels),
		magnitude: vector.Magnitude(vec),
	}
}
