package rag

import (
	"sort"

	"github.com/KittClouds/kittcore-retrieval/pkg/vector"
)

// RaptorMode selects how a Tree is traversed during search.
type RaptorMode int

const (
	// RaptorHybrid is the union of RaptorTraversal's beam-narrowed
	// candidates and RaptorCollapsed's full brute-force scan. This is
	// the default: it still exactly scores the beam's surviving leaves
	// first (traversal's path), but folds in every other chunk in the
	// tree as well, so a relevant chunk that traversal's descent would
	// have dropped behind a merely-average centroid is never excluded.
	RaptorHybrid RaptorMode = iota
	// RaptorCollapsed ignores the hierarchy and scores every chunk in
	// the tree directly against the query.
	RaptorCollapsed
	// RaptorTraversal descends the tree by centroid similarity alone,
	// scoring only the chunks under the beam's surviving leaves.
	RaptorTraversal
	// RaptorCollapsedLeaves scores only leaf-level chunks, same as
	// RaptorCollapsed in this implementation since no separate
	// summary-level embeddings are generated above the leaves.
	RaptorCollapsedLeaves
)

// DefaultBeamWidth is the number of clusters retained at each level of
// a traversal/hybrid descent.
const DefaultBeamWidth = 10

// RaptorNode is one node of the clustered tree: an internal node holds
// Children, a leaf holds ChunkIDs directly.
type RaptorNode struct {
	Centroid []float32
	Children []*RaptorNode
	ChunkIDs []string
}

func (n *RaptorNode) isLeaf() bool { return len(n.Children) == 0 }

// Tree is a RAPTOR-style hierarchical clustering of a pipeline's
// chunks, built by repeated top-down k-means over L2-normalized chunk
// vectors.
type Tree struct {
	Root *RaptorNode
}

// BuildRaptorTree clusters every chunk currently indexed in p into a
// hierarchy where each leaf normally holds at most targetClusterSize
// chunks. A group that k-means does not split (for example, chunks
// with identical vectors) becomes a single leaf regardless of its
// size. Clustering stops collapsing into a single root once one
// cluster remains at the top level.
func BuildRaptorTree(p *Pipeline, targetClusterSize int) *Tree {
	if targetClusterSize < 1 {
		targetClusterSize = 1
	}

	ids := make([]string, 0, len(p.texts))
	for id := range p.texts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	vectors := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if v, ok := p.vecIndex.GetVector(id); ok {
			vectors[id] = v
		}
	}

	root := buildRaptorNode(ids, vectors, targetClusterSize)
	return &Tree{Root: root}
}

func buildRaptorNode(ids []string, vectors map[string][]float32, targetClusterSize int) *RaptorNode {
	if len(ids) <= targetClusterSize || len(ids) <= 1 {
		return &RaptorNode{Centroid: centroidOf(ids, vectors), ChunkIDs: append([]string(nil), ids...)}
	}

	k := (len(ids) + targetClusterSize - 1) / targetClusterSize
	if k < 2 {
		k = 2
	}
	if k > len(ids) {
		k = len(ids)
	}

	clusters := kmeans(ids, vectors, k)
	if len(clusters) <= 1 {
		return &RaptorNode{Centroid: centroidOf(ids, vectors), ChunkIDs: append([]string(nil), ids...)}
	}

	children := make([]*RaptorNode, 0, len(clusters))
	for _, cluster := range clusters {
		if len(cluster) == len(ids) {
			// Clustering failed to make progress; stop recursing to
			// avoid looping forever.
			return &RaptorNode{Centroid: centroidOf(ids, vectors), ChunkIDs: append([]string(nil), ids...)}
		}
		children = append(children, buildRaptorNode(cluster, vectors, targetClusterSize))
	}

	childCentroids := make([]string, 0, len(children))
	centroidVecs := make(map[string][]float32, len(children))
	for i, c := range children {
		key := itoa(i)
		childCentroids = append(childCentroids, key)
		centroidVecs[key] = c.Centroid
	}

	return &RaptorNode{Centroid: centroidOf(childCentroids, centroidVecs), Children: children}
}

func centroidOf(ids []string, vectors map[string][]float32) []float32 {
	if len(ids) == 0 {
		return nil
	}
	dim := len(vectors[ids[0]])
	sum := make([]float64, dim)
	count := 0
	for _, id := range ids {
		v, ok := vectors[id]
		if !ok {
			continue
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
		count++
	}
	if count == 0 {
		return make([]float32, dim)
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(count))
	}
	return vector.Normalize(out)
}

// kmeans partitions ids into up to k clusters over their vectors using
// cosine distance, seeding centroids from evenly spaced members and
// iterating a bounded number of Lloyd's-algorithm passes.
func kmeans(ids []string, vectors map[string][]float32, k int) [][]string {
	if k <= 1 || len(ids) < k {
		return [][]string{ids}
	}

	centroids := make([][]float32, k)
	step := len(ids) / k
	for i := 0; i < k; i++ {
		idx := i * step
		if idx >= len(ids) {
			idx = len(ids) - 1
		}
		centroids[i] = append([]float32(nil), vectors[ids[idx]]...)
	}

	assignment := make(map[string]int, len(ids))
	const maxIterations = 10
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for _, id := range ids {
			v := vectors[id]
			best, bestSim := 0, float32(-2)
			for ci, c := range centroids {
				sim := vector.Cosine(v, c, nil, nil)
				if sim > bestSim {
					bestSim, best = sim, ci
				}
			}
			if assignment[id] != best {
				changed = true
			}
			assignment[id] = best
		}

		clusterIDs := make([][]string, k)
		for _, id := range ids {
			c := assignment[id]
			clusterIDs[c] = append(clusterIDs[c], id)
		}
		for ci, members := range clusterIDs {
			if len(members) > 0 {
				centroids[ci] = centroidOf(members, vectors)
			}
		}

		if !changed {
			break
		}
	}

	clusterIDs := make([][]string, k)
	for _, id := range ids {
		c := assignment[id]
		clusterIDs[c] = append(clusterIDs[c], id)
	}

	out := make([][]string, 0, k)
	for _, members := range clusterIDs {
		if len(members) > 0 {
			out = append(out, members)
		}
	}
	return out
}

// CandidateChunkIDs narrows the tree down to the chunk ids mode
// permits scoring against query: RaptorTraversal descends a
// beamWidth-wide path from the root; RaptorHybrid takes that path's
// leaves plus every other leaf (deduplicated); RaptorCollapsed and
// RaptorCollapsedLeaves consider every chunk in the tree.
func (t *Tree) CandidateChunkIDs(query []float32, mode RaptorMode, beamWidth int) []string {
	if t == nil || t.Root == nil {
		return nil
	}
	if beamWidth < 1 {
		beamWidth = DefaultBeamWidth
	}

	var leaves []*RaptorNode
	switch mode {
	case RaptorTraversal:
		leaves = beamDescend(t.Root, query, beamWidth)
	case RaptorHybrid:
		leaves = dedupeNodes(append(beamDescend(t.Root, query, beamWidth), allLeaves(t.Root)...))
	default: // RaptorCollapsed, RaptorCollapsedLeaves
		leaves = allLeaves(t.Root)
	}

	var ids []string
	for _, leaf := range leaves {
		ids = append(ids, leaf.ChunkIDs...)
	}
	return ids
}

// dedupeNodes drops repeated entries from nodes, preserving first-seen
// order.
func dedupeNodes(nodes []*RaptorNode) []*RaptorNode {
	seen := make(map[*RaptorNode]bool, len(nodes))
	out := make([]*RaptorNode, 0, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func allLeaves(n *RaptorNode) []*RaptorNode {
	if n.isLeaf() {
		return []*RaptorNode{n}
	}
	var out []*RaptorNode
	for _, c := range n.Children {
		out = append(out, allLeaves(c)...)
	}
	return out
}

// beamDescend walks the tree level by level, at each level keeping the
// beamWidth nodes whose centroids are most similar to query, until it
// reaches leaves.
func beamDescend(root *RaptorNode, query []float32, beamWidth int) []*RaptorNode {
	frontier := []*RaptorNode{root}
	for {
		allLeaf := true
		for _, n := range frontier {
			if !n.isLeaf() {
				allLeaf = false
				break
			}
		}
		if allLeaf {
			return frontier
		}

		var next []*RaptorNode
		for _, n := range frontier {
			if n.isLeaf() {
				next = append(next, n)
				continue
			}
			next = append(next, n.Children...)
		}

		sort.Slice(next, func(i, j int) bool {
			return vector.Cosine(query, next[i].Centroid, nil, nil) > vector.Cosine(query, next[j].Centroid, nil, nil)
		})
		if len(next) > beamWidth {
			next = next[:beamWidth]
		}
		frontier = next
	}
}
