// Package hnsw implements a Hierarchical Navigable Small World graph
// index for approximate nearest-neighbor search over float32 vectors,
// with deterministic level assignment and a soft-delete (tombstone)
// removal model so the graph structure survives deletes.
package hnsw

import (
	"container/heap"
	"math"
	"sort"

	"github.com/KittClouds/kittcore-retrieval/pkg/vector"
)

// Metric selects the distance function used for graph construction
// and search.
type Metric int

const (
	Cosine Metric = iota
	Euclidean
)

// Config configures a new Index.
type Config struct {
	// M is the max neighbors per node per layer above layer 0
	// (typically 16-64). Layer 0 allows 2*M.
	M int
	// EfConstruction is the beam width used while inserting
	// (typically 100-500); it also bounds the minimum beam width
	// used during Search.
	EfConstruction int
	Metric         Metric
}

// DefaultConfig returns the HNSW defaults used throughout the corpus:
// M=16, efConstruction=200, cosine metric.
func DefaultConfig() Config {
	return Config{M: 16, EfConstruction: 200, Metric: Cosine}
}

// Result is a single (id, score) hit from Search, where score is
// similarity (higher is better) regardless of the configured metric.
type Result struct {
	ID    uint32
	Score float32
}

// Index is a Hierarchical Navigable Small World graph over uint32 ids.
type Index struct {
	m              int
	mMax0          int
	efConstruction int
	levelMult      float32
	metric         Metric

	nodes         map[uint32]*node
	entryPointID  uint32
	hasEntryPoint bool
	levelMax      uint8
	dimension     int
	hasDimension  bool

	rngState uint64
}

// New creates an empty Index. Zero-valued fields in cfg fall back to
// DefaultConfig's M and EfConstruction.
func New(cfg Config) *Index {
	m := cfg.M
	if m <= 0 {
		m = 16
	}
	ef := cfg.EfConstruction
	if ef <= 0 {
		ef = 200
	}
	return &Index{
		m:              m,
		mMax0:          m * 2,
		efConstruction: ef,
		levelMult:      float32(1.0 / math.Log(float64(m))),
		metric:         cfg.Metric,
		nodes:          make(map[uint32]*node),
		rngState:       42,
	}
}

// Insert adds a vector under id. Returns ErrEmptyVector for a
// zero-length vector, *DuplicateIDError if id already exists, or
// *DimensionMismatchError if vec's length doesn't match the
// dimensionality established by the first insert.
func (idx *Index) Insert(id uint32, vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	if _, exists := idx.nodes[id]; exists {
		return &DuplicateIDError{ID: id}
	}
	if idx.hasDimension {
		if len(vec) != idx.dimension {
			return &DimensionMismatchError{Expected: idx.dimension, Got: len(vec)}
		}
	} else {
		idx.dimension = len(vec)
		idx.hasDimension = true
	}

	level := idx.selectLevel()
	n := newNode(id, level, vec, int(level)+1)

	if !idx.hasEntryPoint {
		idx.entryPointID = id
		idx.hasEntryPoint = true
		idx.levelMax = level
		idx.nodes[id] = n
		return nil
	}

	epID := idx.entryPointID
	idx.nodes[id] = n

	currentLevel := int(idx.levelMax)
	for currentLevel > int(level) {
		nearestID, _ := idx.searchLayerSingle(epID, id, uint8(currentLevel))
		epID = nearestID
		currentLevel--
	}

	for lc := int(level); lc >= 0; lc-- {
		neighbors := idx.searchLayer(epID, id, idx.efConstruction, uint8(lc))

		mLimit := idx.m
		if lc == 0 {
			mLimit = idx.mMax0
		}
		limit := mLimit
		if limit > len(neighbors) {
			limit = len(neighbors)
		}
		selected := make([]uint32, limit)
		for i := 0; i < limit; i++ {
			selected[i] = neighbors[i].ID
		}

		for _, nb := range selected {
			idx.addNeighbor(nb, id, uint8(lc))
			idx.addNeighbor(id, nb, uint8(lc))
		}
		for _, nb := range selected {
			idx.pruneNeighbors(nb, uint8(lc), mLimit)
		}

		if len(neighbors) > 0 {
			epID = neighbors[0].ID
		}
	}

	if level > idx.levelMax {
		idx.entryPointID = id
		idx.levelMax = level
	}

	return nil
}

// Search returns up to k nearest neighbors of query, descending by
// score. Tombstoned nodes are skipped.
func (idx *Index) Search(query []float32, k int) []Result {
	if len(idx.nodes) == 0 || !idx.hasEntryPoint || k == 0 {
		return nil
	}

	queryMag := vector.Magnitude(query)
	epID := idx.entryPointID

	currentLevel := int(idx.levelMax)
	for currentLevel > 0 {
		nearestID, _ := idx.searchLayerSingleQuery(epID, query, queryMag, uint8(currentLevel))
		epID = nearestID
		currentLevel--
	}

	ef := k
	if idx.efConstruction > ef {
		ef = idx.efConstruction
	}
	candidates := idx.searchLayerQuery(epID, query, queryMag, ef, 0)

	results := make([]Result, 0, k)
	for _, c := range candidates {
		if n, ok := idx.nodes[c.ID]; ok && !n.Deleted {
			results = append(results, c)
			if len(results) == k {
				break
			}
		}
	}
	return results
}

// Delete tombstones id; the node and its graph edges remain so
// traversal through it still works, but it's excluded from Search
// results.
func (idx *Index) Delete(id uint32) {
	if n, ok := idx.nodes[id]; ok {
		n.Deleted = true
	}
}

// Len returns the number of nodes, including tombstoned ones.
func (idx *Index) Len() int {
	return len(idx.nodes)
}

// GetVector returns a copy of the vector stored under id.
func (idx *Index) GetVector(id uint32) ([]float32, bool) {
	n, ok := idx.nodes[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(n.Vector))
	copy(out, n.Vector)
	return out, true
}

// selectLevel draws a new node's layer count from a deterministic
// exponential distribution, using a fixed-seed linear congruential
// generator so graph shape is reproducible across runs with identical
// insert order.
func (idx *Index) selectLevel() uint8 {
	idx.rngState = idx.rngState*6364136223846793005 + 1
	r := float32(idx.rngState>>33) / float32(4294967295.0)
	if r < 1e-7 {
		r = 1e-7
	}

	level := int(math.Floor(float64(-float32(math.Log(float64(r))) * idx.levelMult)))
	if level > 16 {
		level = 16
	}
	if level < 0 {
		level = 0
	}
	return uint8(level)
}

// searchLayerSingle greedily descends toward target at level,
// starting from entryID, comparing by distance (lower is better).
func (idx *Index) searchLayerSingle(entryID, targetID uint32, level uint8) (uint32, float32) {
	target := idx.nodes[targetID]
	targetMag := target.magnitude

	currentID := entryID
	currentDist := idx.distanceToNode(currentID, target.Vector, targetMag)

	for {
		changed := false
		if n, ok := idx.nodes[currentID]; ok && int(level) < len(n.Neighbors) {
			for _, nid := range n.Neighbors[level] {
				dist := idx.distanceToNode(nid, target.Vector, targetMag)
				if dist < currentDist {
					currentID = nid
					currentDist = dist
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return currentID, currentDist
}

// searchLayerSingleQuery is searchLayerSingle for an arbitrary query
// vector (not an existing node), comparing by similarity (higher is
// better) and skipping tombstoned neighbors.
func (idx *Index) searchLayerSingleQuery(entryID uint32, query []float32, queryMag float32, level uint8) (uint32, float32) {
	currentID := entryID
	currentSim := idx.similarity(currentID, query, queryMag)

	for {
		changed := false
		if n, ok := idx.nodes[currentID]; ok && int(level) < len(n.Neighbors) {
			for _, nid := range n.Neighbors[level] {
				if nb, ok := idx.nodes[nid]; !ok || nb.Deleted {
					continue
				}
				sim := idx.similarity(nid, query, queryMag)
				if sim > currentSim {
					currentID = nid
					currentSim = sim
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return currentID, currentSim
}

// searchLayer runs beam search at level toward targetID's vector.
func (idx *Index) searchLayer(entryID, targetID uint32, ef int, level uint8) []Result {
	target := idx.nodes[targetID]
	return idx.searchLayerInternal(entryID, target.Vector, target.magnitude, ef, level)
}

// searchLayerQuery runs beam search at level toward an arbitrary query.
func (idx *Index) searchLayerQuery(entryID uint32, query []float32, queryMag float32, ef int, level uint8) []Result {
	return idx.searchLayerInternal(entryID, query, queryMag, ef, level)
}

// searchLayerInternal is the shared beam-search routine: a max-heap
// of candidates to explore, and a size-bounded min-heap of the best
// results seen so far, pruned to ef entries.
func (idx *Index) searchLayerInternal(entryID uint32, query []float32, queryMag float32, ef int, level uint8) []Result {
	visited := map[uint32]bool{entryID: true}

	candidates := &maxHeap[uint32]{}
	results := &minHeap[uint32]{}

	entrySim := idx.similarity(entryID, query, queryMag)
	heap.Push(candidates, ScoredItem[uint32]{Score: entrySim, Item: entryID})
	heap.Push(results, ScoredItem[uint32]{Score: entrySim, Item: entryID})

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(ScoredItem[uint32])

		worstSim := float32(math.Inf(-1))
		if results.Len() > 0 {
			worstSim = (*results)[0].Score
		}
		if c.Score < worstSim && results.Len() >= ef {
			break
		}

		n, ok := idx.nodes[c.Item]
		if !ok || int(level) >= len(n.Neighbors) {
			continue
		}
		for _, nid := range n.Neighbors[level] {
			if visited[nid] {
				continue
			}
			visited[nid] = true

			nSim := idx.similarity(nid, query, queryMag)
			worst := float32(math.Inf(-1))
			if results.Len() > 0 {
				worst = (*results)[0].Score
			}
			if nSim > worst || results.Len() < ef {
				heap.Push(candidates, ScoredItem[uint32]{Score: nSim, Item: nid})
				heap.Push(results, ScoredItem[uint32]{Score: nSim, Item: nid})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]Result, 0, results.Len())
	for _, r := range *results {
		out = append(out, Result{ID: r.Item, Score: r.Score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// addNeighbor adds a one-directional edge fromID -> toID at level,
// growing fromID's neighbor slice as needed. Duplicate edges are
// ignored.
func (idx *Index) addNeighbor(fromID, toID uint32, level uint8) {
	n, ok := idx.nodes[fromID]
	if !ok {
		return
	}
	for len(n.Neighbors) <= int(level) {
		n.Neighbors = append(n.Neighbors, nil)
	}
	for _, existing := range n.Neighbors[level] {
		if existing == toID {
			return
		}
	}
	n.Neighbors[level] = append(n.Neighbors[level], toID)
}

// pruneNeighbors trims nodeID's neighbor list at level back down to
// maxNeighbors, keeping the most similar ones to nodeID's own vector.
func (idx *Index) pruneNeighbors(nodeID uint32, level uint8, maxNeighbors int) {
	n, ok := idx.nodes[nodeID]
	if !ok || int(level) >= len(n.Neighbors) || len(n.Neighbors[level]) <= maxNeighbors {
		return
	}

	nodeVec := n.Vector
	nodeMag := n.magnitude
	neighbors := n.Neighbors[level]

	type scored struct {
		id  uint32
		sim float32
	}
	scoredList := make([]scored, len(neighbors))
	for i, nid := range neighbors {
		scoredList[i] = scored{id: nid, sim: idx.similarity(nid, nodeVec, nodeMag)}
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].sim > scoredList[j].sim })
	if len(scoredList) > maxNeighbors {
		scoredList = scoredList[:maxNeighbors]
	}

	pruned := make([]uint32, len(scoredList))
	for i, s := range scoredList {
		pruned[i] = s.id
	}
	n.Neighbors[level] = pruned
}

// distanceToNode returns negative similarity, so lower means closer —
// used by the target-based greedy descent during insert.
func (idx *Index) distanceToNode(nodeID uint32, query []float32, queryMag float32) float32 {
	return -idx.similarity(nodeID, query, queryMag)
}

// similarity returns the configured metric's similarity between
// nodeID's stored vector and query (higher is always better,
// regardless of metric).
func (idx *Index) similarity(nodeID uint32, query []float32, queryMag float32) float32 {
	n, ok := idx.nodes[nodeID]
	if !ok {
		return float32(math.Inf(-1))
	}
	switch idx.metric {
	case Euclidean:
		return -float32(math.Sqrt(float64(vector.EuclideanSquared(n.Vector, query))))
	default:
		mag := n.magnitude
		return vector.Cosine(n.Vector, query, &mag, &queryMag)
	}
}
