// Package index implements the in-memory inverted index: term to posting
// list, per-document lengths, and collection aggregates used by BM25.
//
// The index is a plain data structure and is not safe for concurrent use;
// the engine serialises access behind a single reader-writer lock so that
// a document mutation is atomic with respect to readers.
package index

import (
	"sort"
	"time"

	"github.com/wfertman/quarry/internal/tokenizer"
	"github.com/wfertman/quarry/pkg/errors"
)

// Index is the inverted index plus the bookkeeping needed to remove
// documents without scanning every posting list.
type Index struct {
	postings map[string]PostingList
	docTerms map[string][]string
	docLens  map[string]int

	totalTokens int64
	sizeBytes   int64
	version     uint64
	updatedAt   time.Time
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		postings: make(map[string]PostingList),
		docTerms: make(map[string][]string),
		docLens:  make(map[string]int),
	}
}

// Add indexes a tokenised document. It fails with ErrDuplicateDocument if
// the ID is already indexed, leaving the index untouched.
func (ix *Index) Add(docID string, tokens []tokenizer.Token) error {
	if _, exists := ix.docLens[docID]; exists {
		return errors.ErrDuplicateDocument
	}

	byTerm := make(map[string]*Posting)
	for _, tok := range tokens {
		p, ok := byTerm[tok.Term]
		if !ok {
			p = &Posting{DocID: docID, Positions: make([]int, 0, 4)}
			byTerm[tok.Term] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, tok.Position)
	}

	terms := make([]string, 0, len(byTerm))
	for term, posting := range byTerm {
		ix.insertPosting(term, *posting)
		terms = append(terms, term)
		ix.sizeBytes += int64(len(term) + len(docID) + len(posting.Positions)*8 + 64)
	}
	sort.Strings(terms)

	ix.docTerms[docID] = terms
	ix.docLens[docID] = len(tokens)
	ix.totalTokens += int64(len(tokens))
	ix.touch()
	return nil
}

// Remove deletes every posting the document contributed, using the
// reverse term list recorded at add time. Validation precedes mutation,
// so a failed removal leaves the index unchanged.
func (ix *Index) Remove(docID string) error {
	terms, exists := ix.docTerms[docID]
	if !exists {
		return errors.ErrDocumentNotFound
	}

	for _, term := range terms {
		list := ix.postings[term]
		pos := sort.Search(len(list), func(i int) bool { return list[i].DocID >= docID })
		if pos < len(list) && list[pos].DocID == docID {
			ix.sizeBytes -= int64(len(term) + len(docID) + len(list[pos].Positions)*8 + 64)
			list = append(list[:pos], list[pos+1:]...)
		}
		if len(list) == 0 {
			delete(ix.postings, term)
		} else {
			ix.postings[term] = list
		}
	}

	ix.totalTokens -= int64(ix.docLens[docID])
	delete(ix.docLens, docID)
	delete(ix.docTerms, docID)
	ix.touch()
	return nil
}

// Postings returns the posting list for a term, ordered by DocID
// ascending. Unseen terms yield nil.
func (ix *Index) Postings(term string) PostingList {
	return ix.postings[term]
}

// DocumentFrequency returns the number of documents containing term.
func (ix *Index) DocumentFrequency(term string) int {
	return len(ix.postings[term])
}

// TermFrequency returns how often term occurs in the given document.
func (ix *Index) TermFrequency(term, docID string) int {
	list := ix.postings[term]
	pos := sort.Search(len(list), func(i int) bool { return list[i].DocID >= docID })
	if pos < len(list) && list[pos].DocID == docID {
		return list[pos].Frequency
	}
	return 0
}

// DocLength returns the token count of a document, or 0 if unknown.
func (ix *Index) DocLength(docID string) int {
	return ix.docLens[docID]
}

// DocCount returns the number of indexed documents.
func (ix *Index) DocCount() int {
	return len(ix.docLens)
}

// AvgDocLength returns the mean document length in tokens, or 0 for an
// empty collection.
func (ix *Index) AvgDocLength() float64 {
	if len(ix.docLens) == 0 {
		return 0
	}
	return float64(ix.totalTokens) / float64(len(ix.docLens))
}

// TermCount returns the current vocabulary size.
func (ix *Index) TermCount() int {
	return len(ix.postings)
}

// PostingCount returns the total number of postings across all terms.
func (ix *Index) PostingCount() int {
	n := 0
	for _, list := range ix.postings {
		n += len(list)
	}
	return n
}

// Vocabulary returns every indexed term with its document frequency,
// sorted lexicographically. Fuzzy matching and autocomplete scan this.
func (ix *Index) Vocabulary() []VocabEntry {
	vocab := make([]VocabEntry, 0, len(ix.postings))
	for term, list := range ix.postings {
		vocab = append(vocab, VocabEntry{Term: term, DF: len(list)})
	}
	sort.Slice(vocab, func(i, j int) bool { return vocab[i].Term < vocab[j].Term })
	return vocab
}

// SizeBytes returns a rough estimate of the index's memory footprint.
func (ix *Index) SizeBytes() int64 {
	return ix.sizeBytes
}

// Version returns the mutation counter. It increments on every add,
// remove, and reset.
func (ix *Index) Version() uint64 {
	return ix.version
}

// UpdatedAt returns the time of the last mutation.
func (ix *Index) UpdatedAt() time.Time {
	return ix.updatedAt
}

// Reset drops all postings and aggregates and bumps the version.
func (ix *Index) Reset() {
	ix.postings = make(map[string]PostingList)
	ix.docTerms = make(map[string][]string)
	ix.docLens = make(map[string]int)
	ix.totalTokens = 0
	ix.sizeBytes = 0
	ix.touch()
}

// insertPosting splices a posting into term's list at its DocID-ordered
// position.
func (ix *Index) insertPosting(term string, p Posting) {
	list := ix.postings[term]
	pos := sort.Search(len(list), func(i int) bool { return list[i].DocID >= p.DocID })
	list = append(list, Posting{})
	copy(list[pos+1:], list[pos:])
	list[pos] = p
	ix.postings[term] = list
}

func (ix *Index) touch() {
	ix.version++
	ix.updatedAt = time.Now().UTC()
}
