// Package benchmark contains Go benchmarks for the search engine,
// measuring indexing throughput, query latency, and allocation behaviour.
package benchmark

import (
	"fmt"
	"testing"

	"github.com/wfertman/quarry/internal/engine"
	"github.com/wfertman/quarry/internal/store"
	"github.com/wfertman/quarry/pkg/config"
)

var corpusTerms = []string{"distributed", "search", "ranking", "systems", "memory", "index", "query", "concurrency"}

func loadCorpus(e *engine.Engine, n int) {
	for i := 0; i < n; i++ {
		doc := &store.Document{
			ID:    fmt.Sprintf("doc-%d", i),
			Title: fmt.Sprintf("document about %s and %s", corpusTerms[i%len(corpusTerms)], corpusTerms[(i+1)%len(corpusTerms)]),
			Content: fmt.Sprintf("this document covers %s %s %s in production systems",
				corpusTerms[i%len(corpusTerms)], corpusTerms[(i+2)%len(corpusTerms)], corpusTerms[(i+3)%len(corpusTerms)]),
			Metadata: map[string]string{"shard": fmt.Sprintf("%d", i%4)},
		}
		if err := e.AddDocument(doc); err != nil {
			panic(err)
		}
	}
}

// BenchmarkAddDocument measures per-document indexing throughput.
func BenchmarkAddDocument(b *testing.B) {
	e := engine.New(config.SearchConfig{})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		doc := &store.Document{
			ID:      fmt.Sprintf("bench-%d", i),
			Title:   "benchmark title",
			Content: "a benchmark document with several terms for measuring indexing performance",
		}
		if err := e.AddDocument(doc); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSearch measures end-to-end query latency at various corpus
// sizes.
func BenchmarkSearch(b *testing.B) {
	for _, size := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("corpus_%d", size), func(b *testing.B) {
			e := engine.New(config.SearchConfig{})
			loadCorpus(e, size)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				q := engine.NewQuery(corpusTerms[i%len(corpusTerms)])
				if _, err := e.Search(q); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSearchParallel measures concurrent read throughput under the
// engine's reader-writer lock.
func BenchmarkSearchParallel(b *testing.B) {
	e := engine.New(config.SearchConfig{})
	loadCorpus(e, 10000)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q := engine.NewQuery(corpusTerms[i%len(corpusTerms)])
			if _, err := e.Search(q); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}

// BenchmarkSearchFuzzy measures the cost of fuzzy expansion on a
// vocabulary miss.
func BenchmarkSearchFuzzy(b *testing.B) {
	e := engine.New(config.SearchConfig{})
	loadCorpus(e, 10000)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q := engine.NewQuery("serch")
		q.Fuzzy = true
		if _, err := e.Search(q); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSuggest measures autocomplete latency over the full
// vocabulary.
func BenchmarkSuggest(b *testing.B) {
	e := engine.New(config.SearchConfig{})
	loadCorpus(e, 10000)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		results := e.Suggest("sys", 5)
		_ = results
	}
}
