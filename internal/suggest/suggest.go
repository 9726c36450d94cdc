// Package suggest implements prefix-based term autocomplete over the
// index vocabulary.
package suggest

import (
	"sort"
	"strings"

	"github.com/wfertman/quarry/internal/index"
)

// Suggest returns up to limit vocabulary terms starting with prefix,
// ordered by document frequency descending and then lexicographically.
// The prefix is case-normalised. An empty prefix, a non-positive limit,
// or no matching terms yields an empty slice.
func Suggest(prefix string, vocab []index.VocabEntry, limit int) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || limit <= 0 {
		return []string{}
	}

	matched := make([]index.VocabEntry, 0, limit)
	for _, entry := range vocab {
		if strings.HasPrefix(entry.Term, prefix) {
			matched = append(matched, entry)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DF != matched[j].DF {
			return matched[i].DF > matched[j].DF
		}
		return matched[i].Term < matched[j].Term
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	terms := make([]string, len(matched))
	for i, entry := range matched {
		terms[i] = entry.Term
	}
	return terms
}
