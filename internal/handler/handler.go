package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/metrics"
)

const maxBodyBytes = 8 << 20

type Handler struct {
	registry  *registry.Registry
	cache     *cache.ResultCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	limits    config.MatcherConfig
	logger    *slog.Logger
}

// New wires the HTTP handlers. queryCache, collector and m may be nil.
func New(reg *registry.Registry, queryCache *cache.ResultCache, collector *analytics.Collector, m *metrics.Metrics, limits config.MatcherConfig) *Handler {
	return &Handler{
		registry:  reg,
		cache:     queryCache,
		collector: collector,
		metrics:   m,
		limits:    limits,
		logger:    slog.Default().With("component", "match-handler"),
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/references", h.Register)
	mux.HandleFunc("GET /api/v1/references", h.List)
	mux.HandleFunc("GET /api/v1/references/{id}", h.Get)
	mux.HandleFunc("DELETE /api/v1/references/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/references/{id}/match", h.Match)
	mux.HandleFunc("POST /api/v1/references/{id}/match", h.MatchBatch)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
}

type registerRequest struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
}

type referenceResponse struct {
	ID        string    `json:"id"`
	Length    int       `json:"length"`
	Symbols   int       `json:"symbols"`
	CreatedAt time.Time `json:"created_at"`
}

type batchRequest struct {
	Queries []string `json:"queries"`
}

type batchResponse struct {
	ReferenceID string          `json:"reference_id"`
	Results     []*cache.Result `json:"results"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, created, err := h.registry.Register(r.Context(), req.ID, req.Reference)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if created && h.collector != nil {
		h.collector.Track(analytics.ReferenceEvent{
			ID:          analytics.NewEventID(),
			Type:        analytics.EventRegister,
			ReferenceID: entry.ID,
			Length:      entry.Matcher.Len(),
			Symbols:     entry.Matcher.SymbolCount(),
			Timestamp:   time.Now().UTC(),
		})
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, toResponse(entry))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.List()
	out := make([]referenceResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"references": out})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toResponse(entry))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context(), id); err != nil {
			logger.FromContext(r.Context()).Warn("cache invalidation after delete failed", "reference_id", id, "error", err)
		}
	}
	if h.collector != nil {
		h.collector.Track(analytics.ReferenceEvent{
			ID:          analytics.NewEventID(),
			Type:        analytics.EventUnregister,
			ReferenceID: id,
			Timestamp:   time.Now().UTC(),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

// Match answers a single query given in the q parameter. An absent q is the
// empty query, which matches every reference.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	entry, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	query := r.URL.Query().Get("q")
	if err := h.checkQuery(query); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	result, err := h.match(r.Context(), entry, query)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// MatchBatch answers many queries against one reference, preserving order.
func (h *Handler) MatchBatch(w http.ResponseWriter, r *http.Request) {
	entry, err := h.registry.Get(r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Queries) > h.limits.MaxBatchQueries {
		h.writeAppError(w, r, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"batch has %d queries, limit is %d", len(req.Queries), h.limits.MaxBatchQueries))
		return
	}
	for _, q := range req.Queries {
		if err := h.checkQuery(q); err != nil {
			h.writeAppError(w, r, err)
			return
		}
	}
	results := make([]*cache.Result, 0, len(req.Queries))
	for _, q := range req.Queries {
		result, err := h.match(r.Context(), entry, q)
		if err != nil {
			h.writeAppError(w, r, err)
			return
		}
		results = append(results, result)
	}
	h.writeJSON(w, http.StatusOK, batchResponse{ReferenceID: entry.ID, Results: results})
}

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

func (h *Handler) match(ctx context.Context, entry *registry.Entry, query string) (*cache.Result, error) {
	start := time.Now()
	compute := func() (*cache.Result, error) {
		positions, ok := entry.Matcher.Match(query)
		return &cache.Result{
			ReferenceID: entry.ID,
			Query:       query,
			Matched:     ok,
			Positions:   positions,
		}, nil
	}

	var (
		result   *cache.Result
		cacheHit bool
		err      error
	)
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, cache.Ref{ID: entry.ID, Fingerprint: entry.Fingerprint}, query, compute)
	} else {
		result, err = compute()
	}
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	h.observe(result, cacheHit, elapsed)

	logger.FromContext(ctx).Debug("match completed",
		"reference_id", entry.ID,
		"query_length", utf8.RuneCountInString(query),
		"matched", result.Matched,
		"cache_hit", cacheHit,
		"latency_us", elapsed.Microseconds(),
	)
	if h.collector != nil {
		h.collector.Track(analytics.MatchEvent{
			ID:          analytics.NewEventID(),
			Type:        analytics.EventMatch,
			ReferenceID: entry.ID,
			QueryLength: utf8.RuneCountInString(query),
			Matched:     result.Matched,
			CacheHit:    cacheHit,
			LatencyUs:   elapsed.Microseconds(),
			Timestamp:   time.Now().UTC(),
			RequestID:   logger.RequestID(ctx),
		})
	}
	return result, nil
}

func (h *Handler) observe(result *cache.Result, cacheHit bool, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	outcome := "unmatched"
	if result.Matched {
		outcome = "matched"
	}
	h.metrics.MatchQueriesTotal.WithLabelValues(outcome).Inc()
	cacheStatus := "none"
	if h.cache != nil {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}
	switch cacheStatus {
	case "hit":
		h.metrics.CacheHitsTotal.Inc()
	case "miss":
		h.metrics.CacheMissesTotal.Inc()
	}
	h.metrics.MatchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
}

func (h *Handler) checkQuery(query string) error {
	if !utf8.ValidString(query) {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query must be valid UTF-8")
	}
	if n := utf8.RuneCountInString(query); n > h.limits.MaxQueryLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "query has %d symbols, limit is %d", n, h.limits.MaxQueryLength)
	}
	return nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func toResponse(e *registry.Entry) referenceResponse {
	return referenceResponse{
		ID:        e.ID,
		Length:    e.Matcher.Len(),
		Symbols:   e.Matcher.SymbolCount(),
		CreatedAt: e.CreatedAt,
	}
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, err.Error())
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
