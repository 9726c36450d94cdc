// Package ranker scores candidate documents with BM25. Candidates are
// always the union of the queried terms' posting lists; documents with no
// overlap are never scored.
package ranker

import (
	"math"
	"sort"

	"github.com/wfertman/quarry/internal/index"
)

// Default BM25 constants. K1 controls term-frequency saturation, B the
// strength of document-length normalisation.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// ScoredDoc is a candidate document with its accumulated BM25 score.
type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// Params carries the collection statistics and tuning constants a scoring
// pass needs.
type Params struct {
	TotalDocs    int
	AvgDocLength float64
	K1           float64
	B            float64
}

// Rank scores every document appearing in at least one posting list and
// returns them ordered by score descending, ties broken by DocID
// ascending. docFreq carries each term's collection-wide document
// frequency, which may exceed the posting list's length when the caller
// has filtered candidates out; absent entries fall back to the list
// length. docLength resolves a document's token count.
func Rank(
	postingsPerTerm map[string]index.PostingList,
	docFreq map[string]int,
	params Params,
	docLength func(docID string) int,
) []ScoredDoc {
	if params.K1 == 0 {
		params.K1 = DefaultK1
	}
	if params.B == 0 {
		params.B = DefaultB
	}

	scores := make(map[string]float64)
	for term, postings := range postingsPerTerm {
		df, ok := docFreq[term]
		if !ok {
			df = len(postings)
		}
		idf := computeIDF(params.TotalDocs, df)
		for _, posting := range postings {
			tfNorm := computeTFNorm(
				float64(posting.Frequency),
				float64(docLength(posting.DocID)),
				params,
			)
			scores[posting.DocID] += idf * tfNorm
		}
	}

	result := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		result = append(result, ScoredDoc{
			DocID: docID,
			Score: math.Round(score*10000) / 10000,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].DocID < result[j].DocID
	})
	return result
}

// computeIDF is the BM25 inverse document frequency with additive
// smoothing: ln((N - df + 0.5) / (df + 0.5) + 1). The +1 keeps the value
// positive even for terms appearing in every document.
func computeIDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

// computeTFNorm is the length-normalised term-frequency component:
// tf * (k1 + 1) / (tf + k1 * (1 - b + b * len/avgLen)).
func computeTFNorm(termFreq, docLen float64, params Params) float64 {
	if params.AvgDocLength == 0 {
		return 0
	}
	lengthRatio := docLen / params.AvgDocLength
	denominator := termFreq + params.K1*(1-params.B+params.B*lengthRatio)
	return (termFreq * (params.K1 + 1)) / denominator
}
