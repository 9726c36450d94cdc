// Package tokenizer turns raw text into a sequence of normalised terms.
// It lower-cases input, splits on non-alphanumeric boundaries, and drops
// empty tokens. Tokenisation is deterministic and never fails: garbage
// input yields an empty slice.
package tokenizer

import (
	"strings"
	"unicode"
)

// Token is a single normalised term and its ordinal position in the
// original text. Positions are used by the highlighter to build context
// windows.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into lowercased tokens split on any rune that is
// neither a letter nor a digit.
func Tokenize(text string) []Token {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]Token, 0, len(words))
	for i, word := range words {
		tokens = append(tokens, Token{Term: word, Position: i})
	}
	return tokens
}

// Terms returns just the term strings, in order.
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t.Term
	}
	return terms
}

// UniqueTerms returns the distinct terms of text in first-seen order.
func UniqueTerms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t.Term]; ok {
			continue
		}
		seen[t.Term] = struct{}{}
		terms = append(terms, t.Term)
	}
	return terms
}
