// Package mmr reranks search results for diversity using Maximal
// Marginal Relevance:
//
//	MMR = lambda * similarity(query, doc) - (1-lambda) * max(similarity(doc, selected))
//
// lambda = 1.0 is pure relevance (standard ranked search); lambda =
// 0.0 is pure diversity.
package mmr

import "github.com/KittClouds/kittcore-retrieval/pkg/vector"

// Config controls the lambda balance and how many extra candidates a
// caller should over-fetch before reranking.
type Config struct {
	// Lambda is the relevance/diversity balance: 0.0 = pure
	// diversity, 1.0 = pure relevance.
	Lambda float32
	// FetchMultiplier scales k to decide how many candidates to
	// fetch before reranking down to k.
	FetchMultiplier float32
}

// DefaultConfig returns the balanced preset (lambda=0.5, fetch x2).
func DefaultConfig() Config {
	return Config{Lambda: 0.5, FetchMultiplier: 2.0}
}

// Balanced weighs relevance and diversity equally.
func Balanced() Config { return DefaultConfig() }

// RelevanceFocused favors relevance over diversity.
func RelevanceFocused() Config {
	return Config{Lambda: 0.7, FetchMultiplier: 1.5}
}

// DiversityFocused favors diversity over relevance.
func DiversityFocused() Config {
	return Config{Lambda: 0.3, FetchMultiplier: 3.0}
}

// WithLambda builds a config with a custom lambda (clamped to
// [0,1]) and the default fetch multiplier.
func WithLambda(lambda float32) Config {
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}
	return Config{Lambda: lambda, FetchMultiplier: 2.0}
}

// Candidate is a result awaiting MMR reranking.
type Candidate struct {
	ID     uint32
	Score  float32
	Vector []float32
}

// Rerank greedily selects up to k candidates maximizing the MMR
// score at each step. candidates need not be pre-sorted; at each
// step the remaining candidate with the highest MMR score is chosen.
func Rerank(query []float32, candidates []Candidate, k int, lambda float32) []Candidate {
	if len(candidates) == 0 || k == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	queryMag := vector.Magnitude(query)
	selected := make([]Candidate, 0, k)
	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	for i := 0; i < k; i++ {
		if len(remaining) == 0 {
			break
		}
		bestIdx := 0
		bestMMR := float32(negInf)
		for idx, c := range remaining {
			score := mmrScore(query, queryMag, c, selected, lambda)
			if score > bestMMR {
				bestMMR = score
				bestIdx = idx
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

const negInf = float32(-1e38)

func mmrScore(query []float32, queryMag float32, candidate Candidate, selected []Candidate, lambda float32) float32 {
	candidateMag := vector.Magnitude(candidate.Vector)
	relevance := vector.Cosine(query, candidate.Vector, &queryMag, &candidateMag)

	var maxSimilarity float32
	if len(selected) > 0 {
		maxSimilarity = negInf
		for _, s := range selected {
			sMag := vector.Magnitude(s.Vector)
			sim := vector.Cosine(candidate.Vector, s.Vector, &candidateMag, &sMag)
			if sim > maxSimilarity {
				maxSimilarity = sim
			}
		}
	}

	return lambda*relevance - (1-lambda)*maxSimilarity
}

// IDScore is a plain (id, score) result pair, the shape most search
// APIs return before vectors are attached for reranking.
type IDScore struct {
	ID    uint32
	Score float32
}

// RerankWithLookup reranks a plain (id, score) result list by
// fetching each candidate's vector through getVector. Results whose
// vector can't be found are dropped.
func RerankWithLookup(query []float32, results []IDScore, k int, lambda float32, getVector func(id uint32) ([]float32, bool)) []IDScore {
	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		if v, ok := getVector(r.ID); ok {
			candidates = append(candidates, Candidate{ID: r.ID, Score: r.Score, Vector: v})
		}
	}

	reranked := Rerank(query, candidates, k, lambda)
	out := make([]IDScore, len(reranked))
	for i, c := range reranked {
		out[i] = IDScore{ID: c.ID, Score: c.Score}
	}
	return out
}
