// Package quantize implements binary (sign-bit) vector quantization
// for fast coarse filtering ahead of an exact-precision rerank.
package quantize

import (
	"math/bits"
	"sort"
)

// MaxHamming is the sentinel Hamming distance returned when two
// quantized vectors have mismatched dimensions.
const MaxHamming = ^uint32(0)

// Quantized is a sign-bit-packed binary encoding of a float32 vector.
// Each dimension occupies one bit: 1 if the original value was >= 0,
// 0 otherwise. Bits are packed into 64-bit words, 64 dimensions per
// word.
type Quantized struct {
	Data       []uint64
	Dimensions int
}

// Quantize packs v into a binary code, one sign bit per dimension.
func Quantize(v []float32) Quantized {
	dim := len(v)
	numWords := (dim + 63) / 64
	data := make([]uint64, numWords)
	for i, x := range v {
		if x >= 0 {
			data[i/64] |= 1 << uint(i%64)
		}
	}
	return Quantized{Data: data, Dimensions: dim}
}

// Hamming returns the number of differing bits between q and other.
// Returns MaxHamming if the two were quantized from vectors of
// different dimensionality.
func (q Quantized) Hamming(other Quantized) uint32 {
	if q.Dimensions != other.Dimensions {
		return MaxHamming
	}
	var dist uint32
	for i, w := range q.Data {
		dist += uint32(bits.OnesCount64(w ^ other.Data[i]))
	}
	return dist
}

// Similarity converts Hamming distance into a [0,1] similarity score,
// where 1.0 means identical codes. Returns 0 on dimension mismatch.
func (q Quantized) Similarity(other Quantized) float32 {
	dist := q.Hamming(other)
	if dist == MaxHamming {
		return 0
	}
	if q.Dimensions == 0 {
		return 1
	}
	return 1 - float32(dist)/float32(q.Dimensions)
}

// SizeBytes returns the in-memory size of the packed code, including
// the dimension field.
func (q Quantized) SizeBytes() int {
	return len(q.Data)*8 + 8
}

// CompressionRatio returns the size reduction versus a float32 vector
// of the same dimensionality.
func (q Quantized) CompressionRatio() float32 {
	if q.Dimensions == 0 {
		return 1
	}
	original := q.Dimensions * 4
	return float32(original) / float32(q.SizeBytes())
}

// IndexEntry pairs an opaque numeric id with its quantized code, as
// used by TwoStageSearch's candidate pool.
type IndexEntry struct {
	ID   uint32
	Code Quantized
}

// Result is an (id, score) pair returned by TwoStageSearch.
type Result struct {
	ID    uint32
	Score float32
}

// TwoStageSearch performs a binary coarse filter followed by an exact
// rerank: it ranks every entry in index by Hamming distance to the
// quantized query, keeps the top ceil(k*rerankMultiplier) (at least
// k) candidates, fetches their full-precision vectors via
// getFullVector, scores them with similarityFn, and returns the top k
// by that score. Entries whose full vector is unavailable are
// dropped.
func TwoStageSearch(
	query []float32,
	index []IndexEntry,
	k int,
	rerankMultiplier float32,
	getFullVector func(id uint32) ([]float32, bool),
	similarityFn func(a, b []float32) float32,
) []Result {
	if len(index) == 0 || k == 0 {
		return nil
	}

	queryCode := Quantize(query)
	rerankCount := int(ceilf(float32(k) * rerankMultiplier))
	if rerankCount < k {
		rerankCount = k
	}

	type candidate struct {
		id   uint32
		dist uint32
	}
	candidates := make([]candidate, len(index))
	for i, entry := range index {
		candidates[i] = candidate{id: entry.ID, dist: queryCode.Hamming(entry.Code)}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > rerankCount {
		candidates = candidates[:rerankCount]
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		full, ok := getFullVector(c.id)
		if !ok {
			continue
		}
		results = append(results, Result{ID: c.id, Score: similarityFn(query, full)})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func ceilf(x float32) float32 {
	i := float32(int64(x))
	if i < x {
		return i + 1
	}
	return i
}
