// Package highlight extracts contextual snippets from a document for the
// terms a query matched. Matched words are wrapped in <em> tags and
// overlapping context windows are merged into a single snippet.
package highlight

import (
	"strings"

	"github.com/wfertman/quarry/internal/tokenizer"
)

// DefaultContextWidth is the number of words kept on each side of a
// matched word when the caller does not specify a width.
const DefaultContextWidth = 5

const (
	markOpen  = "<em>"
	markClose = "</em>"
	ellipsis  = "..."
)

// Snippets scans text for occurrences of the matched terms
// (case-insensitive, against the normalised form of each word) and
// returns one snippet per merged context window, in document order. A
// document containing none of the terms yields an empty slice.
func Snippets(text string, terms []string, contextWidth int) []string {
	if contextWidth <= 0 {
		contextWidth = DefaultContextWidth
	}
	termSet := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		termSet[strings.ToLower(t)] = struct{}{}
	}
	if len(termSet) == 0 {
		return []string{}
	}

	words := strings.Fields(text)
	matched := make([]bool, len(words))
	hits := make([]int, 0, 4)
	for i, word := range words {
		if wordMatches(word, termSet) {
			matched[i] = true
			hits = append(hits, i)
		}
	}
	if len(hits) == 0 {
		return []string{}
	}

	windows := mergeWindows(hits, contextWidth, len(words))
	snippets := make([]string, 0, len(windows))
	for _, w := range windows {
		var sb strings.Builder
		if w.start > 0 {
			sb.WriteString(ellipsis)
			sb.WriteString(" ")
		}
		for i := w.start; i <= w.end; i++ {
			if i > w.start {
				sb.WriteString(" ")
			}
			if matched[i] {
				sb.WriteString(markOpen)
				sb.WriteString(words[i])
				sb.WriteString(markClose)
			} else {
				sb.WriteString(words[i])
			}
		}
		if w.end < len(words)-1 {
			sb.WriteString(" ")
			sb.WriteString(ellipsis)
		}
		snippets = append(snippets, sb.String())
	}
	return snippets
}

type window struct {
	start, end int
}

// mergeWindows expands each hit to its context window and coalesces
// windows that touch or overlap.
func mergeWindows(hits []int, width, total int) []window {
	windows := make([]window, 0, len(hits))
	for _, hit := range hits {
		start := hit - width
		if start < 0 {
			start = 0
		}
		end := hit + width
		if end > total-1 {
			end = total - 1
		}
		if n := len(windows); n > 0 && start <= windows[n-1].end+1 {
			if end > windows[n-1].end {
				windows[n-1].end = end
			}
			continue
		}
		windows = append(windows, window{start: start, end: end})
	}
	return windows
}

// wordMatches reports whether any normalised token of the raw word is in
// the matched term set. Punctuation attached to a word does not prevent
// a match.
func wordMatches(word string, termSet map[string]struct{}) bool {
	for _, term := range tokenizer.Terms(word) {
		if _, ok := termSet[term]; ok {
			return true
		}
	}
	return false
}
