// Package resorank implements ResoRank, a field-weighted BM25F lexical
// scorer with a configurable proximity bonus derived from coarse
// per-document term-position "segment masks" rather than exact token
// offsets.
package resorank

import (
	"math"
	"math/bits"
	"sort"
	"strings"
	"unicode"
)

// ProximityStrategy selects how query-term co-occurrence boosts a
// document's score.
type ProximityStrategy int

const (
	// ProximityNone applies no proximity bonus (multiplier = 1).
	ProximityNone ProximityStrategy = iota
	// ProximityGlobal scales the score by the overall concentration
	// of query terms across a document's segment buckets.
	ProximityGlobal
	// ProximityPerTerm averages a per-term concentration multiplier
	// across all matched query terms.
	ProximityPerTerm
	// ProximityPairwise sums a bonus per query-term pair, derived
	// from the overlap of their segment masks.
	ProximityPairwise
	// ProximityIdfWeighted is ProximityPairwise with each pair's
	// bonus weighted by the product of the two terms' IDFs. Default.
	ProximityIdfWeighted
)

// FieldConfig configures one field's BM25F weight and length
// normalization.
type FieldConfig struct {
	// Weight scales this field's contribution into the final score.
	Weight float64
	// B is the length-normalization exponent b_f; 0 disables length
	// normalization for this field, 1 fully normalizes.
	B float64
}

// Config controls BM25F scoring and proximity behavior.
type Config struct {
	K1         float64
	Fields     map[uint32]FieldConfig
	Proximity  ProximityStrategy
	// NumSegments is how many uniform position buckets a document's
	// segment mask divides into (<=32, since the mask is a uint32).
	NumSegments int
}

// DefaultConfig matches the single-field layout the RAG pipeline
// uses: field id 1, full weight, standard BM25 length normalization,
// IDF-weighted pairwise proximity, 8 position buckets.
func DefaultConfig() Config {
	return Config{
		K1:          1.2,
		Fields:      map[uint32]FieldConfig{1: {Weight: 1.0, B: 0.75}},
		Proximity:   ProximityIdfWeighted,
		NumSegments: 8,
	}
}

// FieldOccurrence records a term's frequency and the field's total
// token length within one document.
type FieldOccurrence struct {
	TF          int
	FieldLength int
}

type posting struct {
	fieldOcc    map[uint32]FieldOccurrence
	segmentMask uint32
}

// FieldTokens is the ordered token stream for one field of a
// document, as produced by Tokenize (or any equivalent tokenizer).
type FieldTokens struct {
	FieldID uint32
	Tokens  []string
}

// Result is a single (docID, score) hit from Search.
type Result struct {
	ID    string
	Score float64
}

// Index is a ResoRank inverted index.
type Index struct {
	cfg Config

	postings map[string]map[string]*posting // term -> docID -> posting
	docFreq  map[string]int                 // term -> number of docs containing it

	fieldTotalLength map[uint32]int // field -> sum of field lengths across docs that have it
	fieldDocCount    map[uint32]int // field -> number of docs that have it

	docTerms        map[string][]string        // docID -> terms indexed for it (for removal)
	docFieldLengths map[string]map[uint32]int  // docID -> fieldID -> length (for removal bookkeeping)

	docCount int
}

// New creates an empty Index.
func New(cfg Config) *Index {
	return &Index{
		cfg:              cfg,
		postings:         make(map[string]map[string]*posting),
		docFreq:          make(map[string]int),
		fieldTotalLength: make(map[uint32]int),
		fieldDocCount:    make(map[uint32]int),
		docTerms:         make(map[string][]string),
		docFieldLengths:  make(map[string]map[uint32]int),
	}
}

// IndexDocument adds or replaces a document's postings. Calling it
// again for the same id removes the prior postings first, so docFreq
// is never double-counted.
func (idx *Index) IndexDocument(id string, fields []FieldTokens) {
	idx.RemoveDocument(id)

	type accum struct {
		fieldOcc    map[uint32]FieldOccurrence
		segmentMask uint32
	}
	termAccum := make(map[string]*accum)
	fieldLengths := make(map[uint32]int)

	segments := idx.cfg.NumSegments
	if segments <= 0 {
		segments = 1
	}

	for _, ft := range fields {
		n := len(ft.Tokens)
		if n == 0 {
			continue
		}
		fieldLengths[ft.FieldID] = n

		for pos, tok := range ft.Tokens {
			a, ok := termAccum[tok]
			if !ok {
				a = &accum{fieldOcc: make(map[uint32]FieldOccurrence)}
				termAccum[tok] = a
			}
			bucket := pos * segments / n
			if bucket >= segments {
				bucket = segments - 1
			}
			a.segmentMask |= 1 << uint(bucket)
		}

		tf := make(map[string]int, n)
		for _, tok := range ft.Tokens {
			tf[tok]++
		}
		for tok, freq := range tf {
			a := termAccum[tok]
			a.fieldOcc[ft.FieldID] = FieldOccurrence{TF: freq, FieldLength: n}
		}
	}

	if len(termAccum) == 0 {
		return
	}

	terms := make([]string, 0, len(termAccum))
	for term, a := range termAccum {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string]*posting)
		}
		idx.postings[term][id] = &posting{fieldOcc: a.fieldOcc, segmentMask: a.segmentMask}
		idx.docFreq[term]++
		terms = append(terms, term)
	}

	for fieldID, length := range fieldLengths {
		idx.fieldTotalLength[fieldID] += length
		idx.fieldDocCount[fieldID]++
	}

	idx.docTerms[id] = terms
	idx.docFieldLengths[id] = fieldLengths
	idx.docCount++
}

// RemoveDocument deletes id's postings and decrements docFreq for
// every term it contributed. A no-op if id was never indexed.
func (idx *Index) RemoveDocument(id string) {
	terms, ok := idx.docTerms[id]
	if !ok {
		return
	}

	for _, term := range terms {
		if docs, ok := idx.postings[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.postings, term)
			}
		}
		idx.docFreq[term]--
		if idx.docFreq[term] <= 0 {
			delete(idx.docFreq, term)
		}
	}

	for fieldID, length := range idx.docFieldLengths[id] {
		idx.fieldTotalLength[fieldID] -= length
		idx.fieldDocCount[fieldID]--
	}

	delete(idx.docTerms, id)
	delete(idx.docFieldLengths, id)
	idx.docCount--
}

// Search scores every document containing at least one query term and
// returns the top k by descending score.
func (idx *Index) Search(queryTerms []string, k int) []Result {
	if idx.docCount == 0 || len(queryTerms) == 0 || k == 0 {
		return nil
	}

	unique := dedupe(queryTerms)
	idfs := make(map[string]float64, len(unique))
	for _, t := range unique {
		idfs[t] = idx.idf(t)
	}

	type acc struct {
		fieldScore float64
		masks      map[string]uint32
	}
	docAcc := make(map[string]*acc)

	for _, term := range unique {
		docs, ok := idx.postings[term]
		if !ok {
			continue
		}
		idfT := idfs[term]

		for docID, p := range docs {
			a, ok := docAcc[docID]
			if !ok {
				a = &acc{masks: make(map[string]uint32)}
				docAcc[docID] = a
			}
			a.masks[term] = p.segmentMask

			for fieldID, occ := range p.fieldOcc {
				fc, ok := idx.cfg.Fields[fieldID]
				if !ok {
					continue
				}
				avg := idx.avgFieldLength(fieldID)
				if avg == 0 {
					avg = float64(occ.FieldLength)
				}
				tfHat := float64(occ.TF) / (1 - fc.B + fc.B*float64(occ.FieldLength)/avg)
				contrib := idfT * ((idx.cfg.K1 + 1) * tfHat) / (idx.cfg.K1 + tfHat)
				a.fieldScore += fc.Weight * contrib
			}
		}
	}

	results := make([]Result, 0, len(docAcc))
	for docID, a := range docAcc {
		mult := idx.proximityMultiplier(unique, idfs, a.masks)
		results = append(results, Result{ID: docID, Score: a.fieldScore * mult})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (idx *Index) avgFieldLength(fieldID uint32) float64 {
	count := idx.fieldDocCount[fieldID]
	if count == 0 {
		return 0
	}
	return float64(idx.fieldTotalLength[fieldID]) / float64(count)
}

// idf is the non-negative BM25 IDF: ln((N-df+0.5)/(df+0.5)+1).
func (idx *Index) idf(term string) float64 {
	df := float64(idx.docFreq[term])
	n := float64(idx.docCount)
	v := math.Log(1 + (n-df+0.5)/(df+0.5))
	if v < 0 {
		v = 0
	}
	return v
}

func (idx *Index) proximityMultiplier(terms []string, idfs map[string]float64, masks map[string]uint32) float64 {
	switch idx.cfg.Proximity {
	case ProximityNone:
		return 1.0
	case ProximityGlobal:
		return idx.globalMultiplier(masks)
	case ProximityPerTerm:
		return idx.perTermMultiplier(masks)
	case ProximityPairwise:
		return 1.0 + idx.pairwiseBonus(terms, masks, nil)
	default: // ProximityIdfWeighted
		return 1.0 + idx.pairwiseBonus(terms, masks, idfs)
	}
}

func (idx *Index) segments() int {
	if idx.cfg.NumSegments <= 0 {
		return 1
	}
	return idx.cfg.NumSegments
}

// globalMultiplier rewards documents where the union of matched query
// terms' segment masks covers few buckets (terms concentrated in one
// area of the document), capped at 2x.
func (idx *Index) globalMultiplier(masks map[string]uint32) float64 {
	if len(masks) == 0 {
		return 1.0
	}
	var union uint32
	for _, m := range masks {
		union |= m
	}
	segments := idx.segments()
	occupied := bits.OnesCount32(union)
	concentration := 1.0 - float64(occupied)/float64(segments)
	if concentration < 0 {
		concentration = 0
	}
	mult := 1.0 + concentration
	if mult > 2.0 {
		mult = 2.0
	}
	return mult
}

// perTermMultiplier averages a per-term concentration bonus (fewer
// occupied buckets in that term's own mask => more concentrated).
func (idx *Index) perTermMultiplier(masks map[string]uint32) float64 {
	if len(masks) == 0 {
		return 1.0
	}
	segments := idx.segments()
	var total float64
	for _, m := range masks {
		occupied := bits.OnesCount32(m)
		if occupied == 0 {
			occupied = 1
		}
		concentration := 1.0 - float64(occupied)/float64(segments)
		if concentration < 0 {
			concentration = 0
		}
		total += 1.0 + concentration
	}
	return total / float64(len(masks))
}

// pairwiseBonus sums, over every pair of query terms present in the
// document, a bonus proportional to their segment-mask overlap. When
// idfs is non-nil each pair's bonus is weighted by the product of the
// two terms' IDFs (the IdfWeighted strategy).
func (idx *Index) pairwiseBonus(terms []string, masks map[string]uint32, idfs map[string]float64) float64 {
	segments := idx.segments()
	var bonus float64
	for i := 0; i < len(terms); i++ {
		mi, ok := masks[terms[i]]
		if !ok {
			continue
		}
		for j := i + 1; j < len(terms); j++ {
			mj, ok := masks[terms[j]]
			if !ok {
				continue
			}
			overlap := bits.OnesCount32(mi & mj)
			pairBonus := float64(overlap) / float64(segments)
			if idfs != nil {
				pairBonus *= idfs[terms[i]] * idfs[terms[j]]
			}
			bonus += pairBonus
		}
	}
	return bonus
}

func dedupe(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Tokenize lowercases text, splits on non-alphanumeric runes, and
// drops short tokens and stop words.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || isStopWord(w) {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true,
	"at": true, "be": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "he": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"with": true, "this": true, "but": true, "they": true,
	"we": true, "you": true, "your": true, "my": true, "their": true,
	"been": true, "do": true, "does": true, "did": true,
}

func isStopWord(w string) bool { return stopWords[w] }
