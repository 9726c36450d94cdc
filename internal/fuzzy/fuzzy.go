// Package fuzzy finds indexed terms within a bounded edit distance of a
// query term. It scans the vocabulary with a banded Levenshtein check;
// at the vocabulary sizes this engine targets, the linear scan is cheap
// and keeps the index structure simple.
package fuzzy

import (
	"sort"

	"github.com/wfertman/quarry/internal/index"
)

// DefaultMaxDistance is the edit-distance bound used when a query does
// not specify one.
const DefaultMaxDistance = 1

// Candidate is a vocabulary term within the distance bound.
type Candidate struct {
	Term     string
	Distance int
	DF       int
}

// Match returns all vocabulary terms whose Levenshtein distance to term
// is at most maxDistance, ordered by distance ascending, then document
// frequency descending, then lexicographically. An exact vocabulary hit
// is included at distance 0.
func Match(term string, vocab []index.VocabEntry, maxDistance int) []Candidate {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}

	matches := make([]Candidate, 0, 4)
	termRunes := []rune(term)
	for _, entry := range vocab {
		candRunes := []rune(entry.Term)
		diff := len(candRunes) - len(termRunes)
		if diff > maxDistance || diff < -maxDistance {
			continue
		}
		d, ok := boundedDistance(termRunes, candRunes, maxDistance)
		if !ok {
			continue
		}
		matches = append(matches, Candidate{Term: entry.Term, Distance: d, DF: entry.DF})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		if matches[i].DF != matches[j].DF {
			return matches[i].DF > matches[j].DF
		}
		return matches[i].Term < matches[j].Term
	})
	return matches
}

// Terms is Match reduced to the ordered term strings.
func Terms(term string, vocab []index.VocabEntry, maxDistance int) []string {
	matches := Match(term, vocab, maxDistance)
	terms := make([]string, len(matches))
	for i, m := range matches {
		terms[i] = m.Term
	}
	return terms
}

// boundedDistance computes the Levenshtein distance between a and b with
// unit insert/delete/substitute costs, abandoning early once every cell
// in a row exceeds the bound. The boolean is false when the distance
// exceeds maxDistance.
func boundedDistance(a, b []rune, maxDistance int) (int, bool) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > maxDistance {
			return 0, false
		}
		prev, curr = curr, prev
	}

	if prev[len(b)] > maxDistance {
		return 0, false
	}
	return prev[len(b)], true
}
