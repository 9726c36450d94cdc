// Package server is the HTTP adapter over the engine: a thin layer that
// decodes requests, calls the core operations, and maps errors to
// statuses. Durable archiving and query-cache invalidation hang off the
// mutation paths here, keeping the engine itself free of I/O.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wfertman/quarry/internal/archive"
	"github.com/wfertman/quarry/internal/engine"
	"github.com/wfertman/quarry/internal/server/cache"
	"github.com/wfertman/quarry/internal/store"
	"github.com/wfertman/quarry/pkg/config"
	"github.com/wfertman/quarry/pkg/errors"
	"github.com/wfertman/quarry/pkg/logger"
	"github.com/wfertman/quarry/pkg/metrics"
)

// Handler serves the search API.
type Handler struct {
	engine  *engine.Engine
	cache   *cache.QueryCache
	archive *archive.Archive
	metrics *metrics.Metrics
	cfg     config.SearchConfig
	logger  *slog.Logger
}

// New creates a Handler. cache, arch, and m may be nil; the
// corresponding features are then disabled.
func New(eng *engine.Engine, queryCache *cache.QueryCache, arch *archive.Archive, m *metrics.Metrics, cfg config.SearchConfig) *Handler {
	return &Handler{
		engine:  eng,
		cache:   queryCache,
		archive: arch,
		metrics: m,
		cfg:     cfg,
		logger:  slog.Default().With("component", "api"),
	}
}

// Routes registers all API routes on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/suggest", h.Suggest)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/documents", h.AddDocument)
	mux.HandleFunc("POST /api/v1/documents/bulk", h.BulkImport)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.UpdateDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.RemoveDocument)
	mux.HandleFunc("POST /api/v1/reset", h.Reset)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Search runs a query. The body is an engine.Query; omitted pagination
// falls back to the configured defaults.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var q engine.Query
	q.Highlight = true
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.PerPage == 0 {
		q.PerPage = h.cfg.DefaultPerPage
	}

	var result *engine.PagedResults
	var err error
	cacheHit := false
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, q, func() (*engine.PagedResults, error) {
			return h.engine.Search(q)
		})
	} else {
		result, err = h.engine.Search(q)
	}
	if err != nil {
		h.recordSearch("error", start, cacheHit, q.Fuzzy, 0)
		log.Warn("search rejected", "query", q.Text, "error", err)
		h.writeAppError(w, err)
		return
	}

	resultType := "hit"
	if result.TotalHits == 0 {
		resultType = "zero_result"
	}
	h.recordSearch(resultType, start, cacheHit, q.Fuzzy, len(result.Results))
	log.Info("search completed",
		"query", q.Text,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

// Suggest returns autocomplete candidates for ?prefix= with optional
// ?limit=.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if h.metrics != nil {
		h.metrics.SuggestQueriesTotal.Inc()
	}
	terms := h.engine.Suggest(prefix, limit)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"prefix":      prefix,
		"suggestions": terms,
	})
}

// Stats returns a snapshot of the index.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()
	if h.metrics != nil {
		h.metrics.IndexDocuments.Set(float64(stats.DocumentCount))
		h.metrics.IndexTerms.Set(float64(stats.TermCount))
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// AddDocument indexes one document from the JSON body.
func (h *Handler) AddDocument(w http.ResponseWriter, r *http.Request) {
	var doc store.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.engine.AddDocument(&doc); err != nil {
		h.writeAppError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.DocsIndexedTotal.Inc()
	}
	h.afterMutation(r.Context(), &doc, "")
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "indexed"})
}

// UpdateDocument replaces the document at {id}.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var doc store.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	doc.ID = id
	if err := h.engine.UpdateDocument(&doc); err != nil {
		h.writeAppError(w, err)
		return
	}
	h.afterMutation(r.Context(), &doc, "")
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "updated"})
}

// GetDocument returns the stored document at {id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc := h.engine.Document(id)
	if doc == nil {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("document %s not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// RemoveDocument deletes the document at {id}.
func (h *Handler) RemoveDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.RemoveDocument(id); err != nil {
		h.writeAppError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.DocsRemovedTotal.Inc()
	}
	h.afterMutation(r.Context(), nil, id)
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "removed"})
}

// BulkImport indexes a batch, reporting per-document failures.
func (h *Handler) BulkImport(w http.ResponseWriter, r *http.Request) {
	var docs []*store.Document
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	added, failures := h.engine.BulkImport(docs)
	if h.metrics != nil {
		h.metrics.DocsIndexedTotal.Add(float64(added))
	}
	// Only documents the engine accepted reach the archive; archiving a
	// rejected document would overwrite the indexed content and poison
	// the next boot's replay.
	for _, doc := range acceptedDocs(docs, failures) {
		h.afterMutation(r.Context(), doc, "")
	}

	failed := make([]map[string]string, 0, len(failures))
	for _, f := range failures {
		failed = append(failed, map[string]string{"id": f.ID, "error": f.Err.Error()})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"added":    added,
		"failed":   len(failures),
		"failures": failed,
	})
}

// acceptedDocs filters a bulk-import batch down to the documents the
// engine actually indexed, dropping the ones named in failures.
func acceptedDocs(docs []*store.Document, failures []engine.DocumentFailure) []*store.Document {
	rejected := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		rejected[f.ID] = struct{}{}
	}
	accepted := make([]*store.Document, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		if _, ok := rejected[doc.ID]; ok {
			continue
		}
		accepted = append(accepted, doc)
	}
	return accepted
}

// Reset clears all documents, the archive, and the query cache.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset()
	if h.archive != nil {
		if err := h.archive.Clear(r.Context()); err != nil {
			h.logger.Error("archive clear failed", "error", err)
		}
	}
	h.invalidateCache(r.Context())
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// CacheStats reports query-cache hit rates.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops all cached query results.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// AfterIngest mirrors a consumed document event to the archive and cache
// the same way the HTTP mutation paths do.
func (h *Handler) AfterIngest(ctx context.Context, docID string, removed bool) {
	if removed {
		h.afterMutation(ctx, nil, docID)
		return
	}
	h.afterMutation(ctx, h.engine.Document(docID), "")
}

// afterMutation archives the change and invalidates the query cache.
// doc is the upserted document; removedID names a deleted one.
func (h *Handler) afterMutation(ctx context.Context, doc *store.Document, removedID string) {
	if h.archive != nil {
		var err error
		if doc != nil {
			err = h.archive.Save(ctx, doc)
		} else if removedID != "" {
			err = h.archive.Delete(ctx, removedID)
		}
		if err != nil {
			h.logger.Error("archive write failed", "error", err)
		}
	}
	h.invalidateCache(ctx)
}

func (h *Handler) invalidateCache(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
	}
}

func (h *Handler) recordSearch(resultType string, start time.Time, cacheHit, fuzzy bool, returned int) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	if fuzzy {
		h.metrics.FuzzySearchesTotal.Inc()
	}
	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
		h.metrics.CacheHitsTotal.Inc()
	} else {
		h.metrics.CacheMissesTotal.Inc()
	}
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(time.Since(start).Seconds())
	h.metrics.SearchResultsCount.Observe(float64(returned))
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	h.writeJSON(w, errors.HTTPStatusCode(err), map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
