package engine

import (
	"fmt"
	"time"

	"github.com/wfertman/quarry/pkg/errors"
)

// Filter is a metadata predicate. Equals matches the metadata value
// exactly; Min/Max match documents whose value parses as a number inside
// the (inclusive) range. A filter must name a key and carry at least one
// predicate.
type Filter struct {
	Key    string   `json:"key"`
	Equals string   `json:"equals,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

// Query is a free-text search request. Page and PerPage are mandatory
// and 1-based; NewQuery fills in defaults.
type Query struct {
	Text      string   `json:"query"`
	Fuzzy     bool     `json:"fuzzy"`
	Page      int      `json:"page"`
	PerPage   int      `json:"per_page"`
	Filters   []Filter `json:"filters,omitempty"`
	Highlight bool     `json:"highlight"`
}

// NewQuery builds a Query with default pagination and highlighting
// enabled.
func NewQuery(text string) Query {
	return Query{
		Text:      text,
		Page:      1,
		PerPage:   DefaultPerPage,
		Highlight: true,
	}
}

// ResultItem is one scored, highlighted hit.
type ResultItem struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	Highlights []string          `json:"highlights,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// PagedResults is one page of a result set plus pagination metadata.
type PagedResults struct {
	Results    []ResultItem  `json:"results"`
	TotalHits  int           `json:"total_hits"`
	Page       int           `json:"page"`
	PerPage    int           `json:"per_page"`
	TotalPages int           `json:"total_pages"`
	QueryTime  time.Duration `json:"query_time"`
}

// IndexStats is a read-only snapshot of the index.
type IndexStats struct {
	DocumentCount int       `json:"document_count"`
	TermCount     int       `json:"term_count"`
	PostingCount  int       `json:"posting_count"`
	SizeBytes     int64     `json:"size_bytes"`
	Version       uint64    `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DocumentFailure reports a single document that a bulk import could not
// index.
type DocumentFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

func (f DocumentFailure) Error() string {
	return fmt.Sprintf("document %s: %v", f.ID, f.Err)
}

// validate checks pagination bounds and filter shape before any index
// access.
func (q Query) validate() error {
	if q.Page < 1 {
		return errors.Newf(errors.ErrInvalidPagination, 400, "page must be >= 1, got %d", q.Page)
	}
	if q.PerPage < 1 {
		return errors.Newf(errors.ErrInvalidPagination, 400, "per_page must be >= 1, got %d", q.PerPage)
	}
	for _, f := range q.Filters {
		if f.Key == "" {
			return errors.New(errors.ErrMalformedFilter, 400, "filter key is required")
		}
		if f.Equals == "" && f.Min == nil && f.Max == nil {
			return errors.Newf(errors.ErrMalformedFilter, 400, "filter on %q has no predicate", f.Key)
		}
		if f.Equals != "" && (f.Min != nil || f.Max != nil) {
			return errors.Newf(errors.ErrMalformedFilter, 400, "filter on %q mixes equality and range", f.Key)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return errors.Newf(errors.ErrMalformedFilter, 400, "filter on %q has min > max", f.Key)
		}
	}
	return nil
}
