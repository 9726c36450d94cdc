package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfertman/quarry/internal/store"
	"github.com/wfertman/quarry/pkg/config"
	"github.com/wfertman/quarry/pkg/errors"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(config.SearchConfig{})
}

func doc(id, title, content string, meta map[string]string) *store.Document {
	return &store.Document{ID: id, Title: title, Content: content, Metadata: meta}
}

func seedLibrary(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.AddDocument(doc("1", "Rust Guide", "rust systems programming", nil)))
	require.NoError(t, e.AddDocument(doc("2", "Python Intro", "python data science", nil)))
	require.NoError(t, e.AddDocument(doc("3", "Safety Notes", "rust memory safety", nil)))
}

func TestSearchReturnsMatchingDocuments(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	res, err := e.Search(NewQuery("rust"))
	require.NoError(t, err)

	require.Equal(t, 2, res.TotalHits)
	ids := []string{res.Results[0].ID, res.Results[1].ID}
	assert.ElementsMatch(t, []string{"1", "3"}, ids)
	for _, item := range res.Results {
		assert.Greater(t, item.Score, 0.0)
	}
}

func TestSearchNoMatch(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	res, err := e.Search(NewQuery("golang"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalHits)
	assert.Empty(t, res.Results)
}

func TestSearchEmptyQueryIsNotAnError(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	for _, text := range []string{"", "   ", "\t\n", "!!! ???"} {
		res, err := e.Search(NewQuery(text))
		require.NoError(t, err, "query %q", text)
		assert.Equal(t, 0, res.TotalHits)
		assert.Empty(t, res.Results)
	}
}

func TestSearchOnEmptyEngine(t *testing.T) {
	e := newTestEngine(t)

	res, err := e.Search(NewQuery("anything"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalHits)
}

func TestSuggestAfterIndexing(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	assert.Equal(t, []string{"rust"}, e.Suggest("ru", 5))
	assert.Empty(t, e.Suggest("zz", 5))
}

func TestStatsTrackMutations(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	stats := e.Stats()
	assert.Equal(t, 3, stats.DocumentCount)
	assert.Greater(t, stats.TermCount, 0)
	assert.Greater(t, stats.SizeBytes, int64(0))

	require.NoError(t, e.RemoveDocument("2"))

	after := e.Stats()
	assert.Equal(t, 2, after.DocumentCount)
	assert.Greater(t, after.Version, stats.Version)

	res, err := e.Search(NewQuery("python"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalHits)
}

func TestAddDuplicateDocument(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("1", "First", "some text", nil)))

	err := e.AddDocument(doc("1", "Second", "other text", nil))
	assert.ErrorIs(t, err, errors.ErrDuplicateDocument)

	res, searchErr := e.Search(NewQuery("other"))
	require.NoError(t, searchErr)
	assert.Equal(t, 0, res.TotalHits)
}

func TestRemoveUnknownDocument(t *testing.T) {
	e := newTestEngine(t)
	assert.ErrorIs(t, e.RemoveDocument("missing"), errors.ErrDocumentNotFound)
}

func TestAddGeneratesIDWhenEmpty(t *testing.T) {
	e := newTestEngine(t)
	d := doc("", "Untitled", "auto assigned identifier", nil)

	require.NoError(t, e.AddDocument(d))

	assert.NotEmpty(t, d.ID)
	assert.NotNil(t, e.Document(d.ID))
}

func TestUpdateDocumentReplacesPostings(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("1", "Draft", "initial wording", nil)))

	require.NoError(t, e.UpdateDocument(doc("1", "Final", "revised wording", nil)))

	res, err := e.Search(NewQuery("initial"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalHits)

	res, err = e.Search(NewQuery("revised"))
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalHits)
	assert.Equal(t, "Final", res.Results[0].Title)
}

func TestUpdateUnknownDocument(t *testing.T) {
	e := newTestEngine(t)
	err := e.UpdateDocument(doc("ghost", "T", "c", nil))
	assert.ErrorIs(t, err, errors.ErrDocumentNotFound)
}

func TestBulkImportReportsPerDocumentFailures(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("dup", "Existing", "already here", nil)))

	added, failures := e.BulkImport([]*store.Document{
		doc("a", "A", "first batch entry", nil),
		doc("dup", "Clash", "should fail", nil),
		doc("b", "B", "second batch entry", nil),
	})

	assert.Equal(t, 2, added)
	require.Len(t, failures, 1)
	assert.Equal(t, "dup", failures[0].ID)
	assert.ErrorIs(t, failures[0].Err, errors.ErrDuplicateDocument)
	assert.Equal(t, 3, e.Stats().DocumentCount)
}

func TestSearchPagination(t *testing.T) {
	e := newTestEngine(t)
	// Identical content gives identical scores, so ordering falls back
	// to document ID and pages are deterministic.
	for i := 1; i <= 12; i++ {
		id := fmt.Sprintf("doc-%02d", i)
		require.NoError(t, e.AddDocument(doc(id, "Entry", "shared corpus text", nil)))
	}

	q := NewQuery("shared")
	q.Page = 2
	q.PerPage = 5
	res, err := e.Search(q)
	require.NoError(t, err)

	assert.Equal(t, 12, res.TotalHits)
	assert.Equal(t, 3, res.TotalPages)
	require.Len(t, res.Results, 5)
	assert.Equal(t, "doc-06", res.Results[0].ID)
	assert.Equal(t, "doc-10", res.Results[4].ID)

	q.Page = 3
	res, err = e.Search(q)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "doc-11", res.Results[0].ID)
	assert.Equal(t, "doc-12", res.Results[1].ID)

	q.Page = 9
	res, err = e.Search(q)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, 12, res.TotalHits)
}

func TestSearchInvalidPagination(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	q := NewQuery("rust")
	q.Page = 0
	_, err := e.Search(q)
	assert.ErrorIs(t, err, errors.ErrInvalidPagination)

	q = NewQuery("rust")
	q.PerPage = -1
	_, err = e.Search(q)
	assert.ErrorIs(t, err, errors.ErrInvalidPagination)
}

func TestSearchClampsPerPageToMax(t *testing.T) {
	e := New(config.SearchConfig{MaxPerPage: 3})
	for i := 1; i <= 5; i++ {
		require.NoError(t, e.AddDocument(doc(fmt.Sprintf("doc-%d", i), "Entry", "clamp me", nil)))
	}

	q := NewQuery("clamp")
	q.PerPage = 50
	res, err := e.Search(q)
	require.NoError(t, err)

	assert.Equal(t, 3, res.PerPage)
	assert.Len(t, res.Results, 3)
	assert.Equal(t, 5, res.TotalHits)
}

func TestSearchEqualityFilter(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("1", "One", "filter target", map[string]string{"category": "guide"})))
	require.NoError(t, e.AddDocument(doc("2", "Two", "filter target", map[string]string{"category": "news"})))
	require.NoError(t, e.AddDocument(doc("3", "Three", "filter target", nil)))

	q := NewQuery("filter")
	q.Filters = []Filter{{Key: "category", Equals: "guide"}}
	res, err := e.Search(q)
	require.NoError(t, err)

	require.Equal(t, 1, res.TotalHits)
	assert.Equal(t, "1", res.Results[0].ID)
}

func TestSearchFilterDoesNotChangeScores(t *testing.T) {
	e := newTestEngine(t)
	// Three single-token documents all containing the term: df=3, N=3,
	// tf=1 at average length, so every score is ln(0.5/3.5+1) = 0.1335.
	require.NoError(t, e.AddDocument(doc("1", "", "apple", map[string]string{"cat": "x"})))
	require.NoError(t, e.AddDocument(doc("2", "", "apple", map[string]string{"cat": "y"})))
	require.NoError(t, e.AddDocument(doc("3", "", "apple", nil)))

	unfiltered, err := e.Search(NewQuery("apple"))
	require.NoError(t, err)
	require.Equal(t, 3, unfiltered.TotalHits)
	assert.InDelta(t, 0.1335, unfiltered.Results[0].Score, 0.0001)

	q := NewQuery("apple")
	q.Filters = []Filter{{Key: "cat", Equals: "x"}}
	filtered, err := e.Search(q)
	require.NoError(t, err)

	// Filtering candidates out must not shrink df: the surviving
	// document keeps its collection-wide score.
	require.Equal(t, 1, filtered.TotalHits)
	assert.Equal(t, unfiltered.Results[0].Score, filtered.Results[0].Score)
}

func TestSearchRangeFilter(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("1", "Old", "range target", map[string]string{"year": "2019"})))
	require.NoError(t, e.AddDocument(doc("2", "Mid", "range target", map[string]string{"year": "2022"})))
	require.NoError(t, e.AddDocument(doc("3", "New", "range target", map[string]string{"year": "2025"})))
	require.NoError(t, e.AddDocument(doc("4", "Bad", "range target", map[string]string{"year": "unknown"})))

	minY, maxY := 2020.0, 2024.0
	q := NewQuery("range")
	q.Filters = []Filter{{Key: "year", Min: &minY, Max: &maxY}}
	res, err := e.Search(q)
	require.NoError(t, err)

	require.Equal(t, 1, res.TotalHits)
	assert.Equal(t, "2", res.Results[0].ID)
}

func TestSearchMalformedFilters(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)
	low, high := 1.0, 2.0

	cases := []struct {
		name   string
		filter Filter
	}{
		{"missing key", Filter{Equals: "x"}},
		{"no predicate", Filter{Key: "category"}},
		{"equality and range mixed", Filter{Key: "year", Equals: "2020", Min: &low}},
		{"min above max", Filter{Key: "year", Min: &high, Max: &low}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := NewQuery("rust")
			q.Filters = []Filter{tc.filter}
			_, err := e.Search(q)
			assert.ErrorIs(t, err, errors.ErrMalformedFilter)
		})
	}
}

func TestSearchFuzzyFallback(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	// Exact search for a misspelling finds nothing.
	res, err := e.Search(NewQuery("rusty"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalHits)

	// With fuzzy on, the misspelling expands to the indexed term.
	q := NewQuery("rusty")
	q.Fuzzy = true
	res, err = e.Search(q)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalHits)
}

func TestSearchFuzzySkippedOnExactHit(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("1", "Exact", "cart pulled by horses", nil)))
	require.NoError(t, e.AddDocument(doc("2", "Near", "card games at night", nil)))

	q := NewQuery("cart")
	q.Fuzzy = true
	res, err := e.Search(q)
	require.NoError(t, err)

	// "cart" is indexed, so "card" is never pulled in.
	require.Equal(t, 1, res.TotalHits)
	assert.Equal(t, "1", res.Results[0].ID)
}

func TestSearchHighlighting(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("1", "Guide", "learning rust the hard way", nil)))

	res, err := e.Search(NewQuery("rust"))
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalHits)
	require.NotEmpty(t, res.Results[0].Highlights)
	assert.Contains(t, res.Results[0].Highlights[0], "<em>rust</em>")

	q := NewQuery("rust")
	q.Highlight = false
	res, err = e.Search(q)
	require.NoError(t, err)
	assert.Empty(t, res.Results[0].Highlights)
}

func TestSearchFuzzyHighlightsResolvedTerm(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("1", "Guide", "idiomatic rust patterns", nil)))

	q := NewQuery("rusty")
	q.Fuzzy = true
	res, err := e.Search(q)
	require.NoError(t, err)

	require.Equal(t, 1, res.TotalHits)
	require.NotEmpty(t, res.Results[0].Highlights)
	assert.Contains(t, res.Results[0].Highlights[0], "<em>rust</em>")
}

func TestSearchContentPreviewTruncated(t *testing.T) {
	e := New(config.SearchConfig{ContentPreviewLength: 20})
	longContent := "needle"
	for i := 0; i < 30; i++ {
		longContent += " padding"
	}
	require.NoError(t, e.AddDocument(doc("1", "Long", longContent, nil)))

	res, err := e.Search(NewQuery("needle"))
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalHits)

	preview := res.Results[0].Content
	assert.LessOrEqual(t, len([]rune(preview)), 23)
	assert.Contains(t, preview, "...")
}

func TestResetClearsEverything(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	e.Reset()

	assert.Equal(t, 0, e.Stats().DocumentCount)
	res, err := e.Search(NewQuery("rust"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalHits)
	assert.Nil(t, e.Document("1"))
}

func TestMultiTermQueryScoresUnion(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddDocument(doc("1", "Both", "rust memory management", nil)))
	require.NoError(t, e.AddDocument(doc("2", "One", "rust tooling notes", nil)))
	require.NoError(t, e.AddDocument(doc("3", "Other", "memory hierarchies explained", nil)))

	res, err := e.Search(NewQuery("rust memory"))
	require.NoError(t, err)

	require.Equal(t, 3, res.TotalHits)
	// The document matching both terms accumulates both idf
	// contributions and ranks first.
	assert.Equal(t, "1", res.Results[0].ID)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	e := newTestEngine(t)
	seedLibrary(t, e)

	var wg sync.WaitGroup
	for w := 0; w < 3; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("w%d-%d", worker, i)
				if err := e.AddDocument(doc(id, "Concurrent", "parallel indexing load", nil)); err != nil {
					t.Errorf("add %s: %v", id, err)
				}
			}
		}(w)
	}
	// Churners add and immediately remove documents so readers race
	// against removals as well as additions.
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("c%d-%d", worker, i)
				if err := e.AddDocument(doc(id, "Transient", "transient parallel entry", nil)); err != nil {
					t.Errorf("add %s: %v", id, err)
				}
				if err := e.RemoveDocument(id); err != nil {
					t.Errorf("remove %s: %v", id, err)
				}
			}
		}(c)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.RemoveDocument("2"); err != nil {
			t.Errorf("remove seeded doc: %v", err)
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := e.Search(NewQuery("parallel")); err != nil {
					t.Errorf("search: %v", err)
				}
				e.Suggest("par", 5)
				e.Stats()
			}
		}()
	}
	wg.Wait()

	// 3 seeded docs minus the removed one, plus 150 writer adds; every
	// churned document is gone again.
	assert.Equal(t, 152, e.Stats().DocumentCount)
	res, err := e.Search(NewQuery("parallel"))
	require.NoError(t, err)
	assert.Equal(t, 150, res.TotalHits)
	gone, err := e.Search(NewQuery("python"))
	require.NoError(t, err)
	assert.Equal(t, 0, gone.TotalHits)
}

func TestQueryValidateDirect(t *testing.T) {
	q := NewQuery("ok")
	assert.NoError(t, q.validate())

	q.PerPage = 0
	assert.ErrorIs(t, q.validate(), errors.ErrInvalidPagination)
}
