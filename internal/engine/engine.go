// Package engine ties the document store, inverted index, BM25 ranker,
// fuzzy matcher, autocomplete, and highlighter together behind one
// concurrency-safe facade.
//
// The engine holds a single reader-writer lock over the store and the
// index. Readers (Search, Suggest, Stats) run concurrently with each
// other; writers (AddDocument, RemoveDocument, UpdateDocument,
// BulkImport, Reset) take the lock exclusively, so every document
// mutation is atomic with respect to readers: no query ever observes a
// document whose postings are partially applied.
package engine

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfertman/quarry/internal/fuzzy"
	"github.com/wfertman/quarry/internal/highlight"
	"github.com/wfertman/quarry/internal/index"
	"github.com/wfertman/quarry/internal/ranker"
	"github.com/wfertman/quarry/internal/store"
	"github.com/wfertman/quarry/internal/suggest"
	"github.com/wfertman/quarry/internal/tokenizer"
	"github.com/wfertman/quarry/pkg/config"
)

// DefaultPerPage is the page size used when a caller does not choose one.
const DefaultPerPage = 10

// Engine is the embedded search engine. The zero value is not usable;
// construct with New.
type Engine struct {
	mu     sync.RWMutex
	store  *store.Store
	index  *index.Index
	cfg    config.SearchConfig
	logger *slog.Logger
}

// New creates an empty engine with the given search tuning. Zero-valued
// tuning fields fall back to the package defaults.
func New(cfg config.SearchConfig) *Engine {
	if cfg.K1 == 0 {
		cfg.K1 = ranker.DefaultK1
	}
	if cfg.B == 0 {
		cfg.B = ranker.DefaultB
	}
	if cfg.DefaultPerPage <= 0 {
		cfg.DefaultPerPage = DefaultPerPage
	}
	if cfg.MaxPerPage <= 0 {
		cfg.MaxPerPage = 100
	}
	if cfg.FuzzyMaxDistance <= 0 {
		cfg.FuzzyMaxDistance = fuzzy.DefaultMaxDistance
	}
	if cfg.HighlightContextWidth <= 0 {
		cfg.HighlightContextWidth = highlight.DefaultContextWidth
	}
	if cfg.SuggestLimit <= 0 {
		cfg.SuggestLimit = 5
	}
	if cfg.ContentPreviewLength <= 0 {
		cfg.ContentPreviewLength = 200
	}
	return &Engine{
		store:  store.New(),
		index:  index.New(),
		cfg:    cfg,
		logger: slog.Default().With("component", "engine"),
	}
}

// AddDocument indexes a document. An empty ID is replaced with a
// generated UUID. Fails with ErrDuplicateDocument when the ID is already
// indexed, leaving the engine unchanged.
func (e *Engine) AddDocument(doc *store.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.AddedAt.IsZero() {
		doc.AddedAt = time.Now().UTC()
	}
	tokens := tokenizer.Tokenize(doc.Title + " " + doc.Content)
	doc.Length = len(tokens)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.Add(doc.ID, tokens); err != nil {
		return err
	}
	e.store.Put(doc)
	e.logger.Debug("document indexed", "doc_id", doc.ID, "tokens", len(tokens))
	return nil
}

// RemoveDocument deletes a document and every posting it contributed.
// Fails with ErrDocumentNotFound when the ID is unknown; validation
// precedes mutation, so a failed removal changes nothing.
func (e *Engine) RemoveDocument(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.Remove(id); err != nil {
		return err
	}
	e.store.Delete(id)
	e.logger.Debug("document removed", "doc_id", id)
	return nil
}

// UpdateDocument replaces an existing document under one critical
// section: the old postings are fully removed before the new ones are
// added, and no reader observes the intermediate state. Fails with
// ErrDocumentNotFound when the ID is unknown.
func (e *Engine) UpdateDocument(doc *store.Document) error {
	if doc.AddedAt.IsZero() {
		doc.AddedAt = time.Now().UTC()
	}
	tokens := tokenizer.Tokenize(doc.Title + " " + doc.Content)
	doc.Length = len(tokens)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.Remove(doc.ID); err != nil {
		return err
	}
	e.store.Delete(doc.ID)
	if err := e.index.Add(doc.ID, tokens); err != nil {
		return err
	}
	e.store.Put(doc)
	return nil
}

// BulkImport adds documents one by one, reporting per-document failures
// instead of aborting the batch. It returns the number of documents
// actually added.
func (e *Engine) BulkImport(docs []*store.Document) (int, []DocumentFailure) {
	added := 0
	var failures []DocumentFailure
	for _, doc := range docs {
		if err := e.AddDocument(doc); err != nil {
			failures = append(failures, DocumentFailure{ID: doc.ID, Err: err})
			continue
		}
		added++
	}
	if len(failures) > 0 {
		e.logger.Warn("bulk import completed with failures",
			"added", added,
			"failed", len(failures),
		)
	}
	return added, failures
}

// Document returns the stored document with the given ID, or nil.
func (e *Engine) Document(id string) *store.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Get(id)
}

// Reset clears all documents and index state. Stats counters return to
// their initial values except the version counter, which records the
// reset itself.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Reset()
	e.index.Reset()
	e.logger.Info("index reset")
}

// Suggest returns up to limit indexed terms starting with prefix,
// ordered by document frequency descending then lexicographically. A
// non-positive limit falls back to the configured default.
func (e *Engine) Suggest(prefix string, limit int) []string {
	if limit <= 0 {
		limit = e.cfg.SuggestLimit
	}
	e.mu.RLock()
	vocab := e.index.Vocabulary()
	e.mu.RUnlock()
	return suggest.Suggest(prefix, vocab, limit)
}

// Stats returns a read-only snapshot of the index.
func (e *Engine) Stats() IndexStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return IndexStats{
		DocumentCount: e.index.DocCount(),
		TermCount:     e.index.TermCount(),
		PostingCount:  e.index.PostingCount(),
		SizeBytes:     e.index.SizeBytes(),
		Version:       e.index.Version(),
		UpdatedAt:     e.index.UpdatedAt(),
	}
}

// Search runs the query pipeline: tokenize, look up postings (with fuzzy
// expansion on a miss when enabled), filter by metadata, score with
// BM25, sort, paginate, and highlight the returned page.
//
// An empty or whitespace-only query is not an error: it returns an empty
// result set. Invalid pagination fails with ErrInvalidPagination and a
// malformed filter with ErrMalformedFilter.
func (e *Engine) Search(q Query) (*PagedResults, error) {
	start := time.Now()
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.PerPage > e.cfg.MaxPerPage {
		q.PerPage = e.cfg.MaxPerPage
	}

	terms := tokenizer.UniqueTerms(q.Text)
	if len(terms) == 0 {
		return &PagedResults{
			Results:   []ResultItem{},
			Page:      q.Page,
			PerPage:   q.PerPage,
			QueryTime: time.Since(start),
		}, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	postingsPerTerm, docFreq, resolved := e.gatherPostings(terms, q.Fuzzy)
	e.applyFilters(postingsPerTerm, q.Filters)

	params := ranker.Params{
		TotalDocs:    e.index.DocCount(),
		AvgDocLength: e.index.AvgDocLength(),
		K1:           e.cfg.K1,
		B:            e.cfg.B,
	}
	scored := ranker.Rank(postingsPerTerm, docFreq, params, e.index.DocLength)

	totalHits := len(scored)
	totalPages := (totalHits + q.PerPage - 1) / q.PerPage
	startIdx := (q.Page - 1) * q.PerPage
	endIdx := startIdx + q.PerPage
	if startIdx > totalHits {
		startIdx = totalHits
	}
	if endIdx > totalHits {
		endIdx = totalHits
	}

	results := make([]ResultItem, 0, endIdx-startIdx)
	for _, hit := range scored[startIdx:endIdx] {
		doc := e.store.Get(hit.DocID)
		if doc == nil {
			continue
		}
		item := ResultItem{
			ID:       doc.ID,
			Title:    doc.Title,
			Content:  truncate(doc.Content, e.cfg.ContentPreviewLength),
			Score:    hit.Score,
			Metadata: doc.Metadata,
		}
		if q.Highlight {
			item.Highlights = highlight.Snippets(
				doc.Title+" "+doc.Content,
				resolved,
				e.cfg.HighlightContextWidth,
			)
		}
		results = append(results, item)
	}

	elapsed := time.Since(start)
	e.logger.Info("query executed",
		"query", q.Text,
		"terms", terms,
		"fuzzy", q.Fuzzy,
		"total_hits", totalHits,
		"returned", len(results),
		"elapsed", elapsed,
	)
	return &PagedResults{
		Results:    results,
		TotalHits:  totalHits,
		Page:       q.Page,
		PerPage:    q.PerPage,
		TotalPages: totalPages,
		QueryTime:  elapsed,
	}, nil
}

// gatherPostings resolves each query term to a posting list. When fuzzy
// mode is on and an exact lookup comes up empty, the term is expanded to
// its closest vocabulary neighbours and their postings are unioned.
// It returns the postings keyed by query term, each term's
// collection-wide document frequency (the union size for expanded
// terms), and the full set of resolved terms for highlighting. The df
// map is recorded here, before any metadata filtering, so IDF always
// reflects the whole collection. Caller holds at least a read lock.
func (e *Engine) gatherPostings(terms []string, fuzzyMode bool) (map[string]index.PostingList, map[string]int, []string) {
	postingsPerTerm := make(map[string]index.PostingList, len(terms))
	docFreq := make(map[string]int, len(terms))
	resolved := make([]string, 0, len(terms))
	var vocab []index.VocabEntry

	for _, term := range terms {
		postings := e.index.Postings(term)
		if len(postings) > 0 {
			postingsPerTerm[term] = postings
			docFreq[term] = len(postings)
			resolved = append(resolved, term)
			continue
		}
		if !fuzzyMode {
			continue
		}
		if vocab == nil {
			vocab = e.index.Vocabulary()
		}
		matches := fuzzy.Terms(term, vocab, e.cfg.FuzzyMaxDistance)
		if len(matches) == 0 {
			continue
		}
		var merged index.PostingList
		for _, match := range matches {
			merged = unionPostings(merged, e.index.Postings(match))
			resolved = append(resolved, match)
		}
		postingsPerTerm[term] = merged
		docFreq[term] = len(merged)
	}
	return postingsPerTerm, docFreq, resolved
}

// applyFilters drops postings for documents that fail any metadata
// predicate. Caller holds at least a read lock.
func (e *Engine) applyFilters(postingsPerTerm map[string]index.PostingList, filters []Filter) {
	if len(filters) == 0 {
		return
	}
	verdicts := make(map[string]bool)
	for term, postings := range postingsPerTerm {
		kept := make(index.PostingList, 0, len(postings))
		for _, p := range postings {
			pass, seen := verdicts[p.DocID]
			if !seen {
				pass = e.documentPasses(p.DocID, filters)
				verdicts[p.DocID] = pass
			}
			if pass {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(postingsPerTerm, term)
		} else {
			postingsPerTerm[term] = kept
		}
	}
}

func (e *Engine) documentPasses(docID string, filters []Filter) bool {
	doc := e.store.Get(docID)
	if doc == nil {
		return false
	}
	for _, f := range filters {
		value, ok := doc.Metadata[f.Key]
		if !ok {
			return false
		}
		if f.Equals != "" {
			if value != f.Equals {
				return false
			}
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return false
		}
		if f.Min != nil && n < *f.Min {
			return false
		}
		if f.Max != nil && n > *f.Max {
			return false
		}
	}
	return true
}

// unionPostings merges two DocID-ordered posting lists. When a document
// appears in both, the posting with the higher frequency wins.
func unionPostings(a, b index.PostingList) index.PostingList {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	merged := make(index.PostingList, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].DocID < b[j].DocID:
			merged = append(merged, a[i])
			i++
		case a[i].DocID > b[j].DocID:
			merged = append(merged, b[j])
			j++
		default:
			if b[j].Frequency > a[i].Frequency {
				merged = append(merged, b[j])
			} else {
				merged = append(merged, a[i])
			}
			i++
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}

// truncate limits content previews to maxLen runes, appending an
// ellipsis when cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
