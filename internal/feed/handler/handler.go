// Package handler exposes the feed platform over HTTP: the ranked feed,
// engagement commands, log CRUD, scroll positions, and activity stats.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/worklogapp/feed-platform/internal/activity"
	"github.com/worklogapp/feed-platform/internal/engage"
	"github.com/worklogapp/feed-platform/internal/feed"
	"github.com/worklogapp/feed-platform/internal/feed/cache"
	"github.com/worklogapp/feed-platform/internal/logsvc"
	"github.com/worklogapp/feed-platform/internal/scrollpos"
	apperrors "github.com/worklogapp/feed-platform/pkg/errors"
	"github.com/worklogapp/feed-platform/pkg/logger"
	"github.com/worklogapp/feed-platform/pkg/metrics"
	"github.com/worklogapp/feed-platform/pkg/middleware"
	"github.com/worklogapp/feed-platform/pkg/tracing"
)

// viewerHeader carries the authenticated user id injected by the upstream
// gateway. Authentication itself happens there, not here.
const viewerHeader = "X-User-ID"

// PageFetcher abstracts the feed fetcher for tests.
type PageFetcher interface {
	FetchPage(ctx context.Context, req feed.Request) (*feed.Page, error)
}

type Handler struct {
	fetcher     PageFetcher
	cache       *cache.PageCache
	engage      *engage.Service
	logs        *logsvc.Service
	scroll      scrollpos.Cache
	collector   *activity.Collector
	metrics     *metrics.Metrics
	defaultSize int
	maxSize     int
	fetchBudget time.Duration
	logger      *slog.Logger
}

// Options wires the handler's collaborators. Cache, collector, scroll, and
// metrics may be nil; the corresponding features degrade quietly.
type Options struct {
	Fetcher      PageFetcher
	Cache        *cache.PageCache
	Engage       *engage.Service
	Logs         *logsvc.Service
	Scroll       scrollpos.Cache
	Collector    *activity.Collector
	Metrics      *metrics.Metrics
	DefaultLimit int
	MaxLimit     int
	FetchBudget  time.Duration
}

func New(opts Options) *Handler {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	if opts.FetchBudget <= 0 {
		opts.FetchBudget = 5 * time.Second
	}
	return &Handler{
		fetcher:     opts.Fetcher,
		cache:       opts.Cache,
		engage:      opts.Engage,
		logs:        opts.Logs,
		scroll:      opts.Scroll,
		collector:   opts.Collector,
		metrics:     opts.Metrics,
		defaultSize: opts.DefaultLimit,
		maxSize:     opts.MaxLimit,
		fetchBudget: opts.FetchBudget,
		logger:      slog.Default().With("component", "feed-handler"),
	}
}

// Register attaches all routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/feed", h.Feed)
	mux.HandleFunc("POST /api/v1/logs", h.CreateLog)
	mux.HandleFunc("PATCH /api/v1/logs/{id}", h.EditLog)
	mux.HandleFunc("DELETE /api/v1/logs/{id}", h.DeleteLog)
	mux.HandleFunc("POST /api/v1/logs/{id}/like", h.engageAction(h.engage.Like))
	mux.HandleFunc("DELETE /api/v1/logs/{id}/like", h.engageAction(h.engage.Unlike))
	mux.HandleFunc("POST /api/v1/logs/{id}/relog", h.engageAction(h.engage.Relog))
	mux.HandleFunc("DELETE /api/v1/logs/{id}/relog", h.engageAction(h.engage.Unrelog))
	mux.HandleFunc("POST /api/v1/logs/{id}/comments", h.CreateComment)
	mux.HandleFunc("DELETE /api/v1/comments/{id}", h.DeleteComment)
	mux.HandleFunc("GET /api/v1/scroll", h.GetScroll)
	mux.HandleFunc("PUT /api/v1/scroll", h.PutScroll)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

// Feed serves one page of the following or suggested feed.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	mode, err := feed.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	viewerID := r.Header.Get(viewerHeader)
	if mode == feed.ModeFollowing && viewerID == "" {
		h.writeError(w, apperrors.New(apperrors.ErrUnauthorized, 401, "following feed requires a viewer"))
		return
	}

	limit := h.defaultSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, 400, "limit must be a positive integer"))
			return
		}
		if parsed > h.maxSize {
			parsed = h.maxSize
		}
		limit = parsed
	}

	var cursor *time.Time
	if cursorStr := r.URL.Query().Get("cursor"); cursorStr != "" {
		t, err := time.Parse(time.RFC3339Nano, cursorStr)
		if err != nil {
			h.writeError(w, apperrors.New(apperrors.ErrInvalidCursor, 400, "cursor must be an RFC3339 timestamp"))
			return
		}
		cursor = &t
	}

	req := feed.Request{Mode: mode, ViewerID: viewerID, Cursor: cursor, PageSize: limit}

	fetchCtx, cancel := context.WithTimeout(ctx, h.fetchBudget)
	defer cancel()
	fetchCtx, span := tracing.StartSpan(fetchCtx, "feed.request", middleware.GetRequestID(ctx))
	span.SetAttr("mode", string(mode))
	defer func() {
		span.End()
		span.Log()
	}()

	var page *feed.Page
	cacheHit := false
	if h.cache != nil {
		page, cacheHit, err = h.cache.GetOrCompute(fetchCtx, req, func() (*feed.Page, error) {
			return h.fetcher.FetchPage(fetchCtx, req)
		})
	} else {
		page, err = h.fetcher.FetchPage(fetchCtx, req)
	}

	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("feed fetch failed", "mode", mode, "error", err)
		h.observeFeed(string(mode), "error", start, 0)
		h.track(activity.FeedEvent{
			Type:      activity.EventPageFailed,
			Mode:      string(mode),
			Anonymous: viewerID == "",
			LatencyMs: latencyMs,
			RequestID: middleware.GetRequestID(ctx),
			Timestamp: time.Now().UTC(),
		})
		h.writeError(w, err)
		return
	}

	outcome := "ok"
	if len(page.Items) == 0 {
		outcome = "empty"
	}
	h.observeFeed(string(mode), outcome, start, len(page.Items))
	if h.metrics != nil && h.cache != nil {
		if cacheHit {
			h.metrics.FeedCacheHitsTotal.Inc()
		} else {
			h.metrics.FeedCacheMissesTotal.Inc()
		}
	}
	h.track(activity.FeedEvent{
		Type:       activity.EventPageServed,
		Mode:       string(mode),
		Anonymous:  viewerID == "",
		Candidates: len(page.Items),
		Returned:   len(page.Items),
		CacheHit:   cacheHit,
		LatencyMs:  latencyMs,
		RequestID:  middleware.GetRequestID(ctx),
		Timestamp:  time.Now().UTC(),
	})

	log.Info("feed page served",
		"mode", mode,
		"returned", len(page.Items),
		"cache_hit", cacheHit,
		"latency_ms", latencyMs,
	)
	h.writeJSON(w, http.StatusOK, page)
}

type createLogRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
}

// CreateLog creates a new work log for the viewer.
func (h *Handler) CreateLog(w http.ResponseWriter, r *http.Request) {
	viewerID := r.Header.Get(viewerHeader)
	var req createLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, 400, "malformed request body"))
		return
	}
	created, err := h.logs.Create(r.Context(), viewerID, req.Content, req.ImageURL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// EditLog updates a log's content.
func (h *Handler) EditLog(w http.ResponseWriter, r *http.Request) {
	viewerID := r.Header.Get(viewerHeader)
	var req createLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, 400, "malformed request body"))
		return
	}
	if err := h.logs.Edit(r.Context(), viewerID, r.PathValue("id"), req.Content); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteLog soft-deletes a log.
func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	viewerID := r.Header.Get(viewerHeader)
	if err := h.logs.Delete(r.Context(), viewerID, r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type commentRequest struct {
	Content string `json:"content"`
}

// CreateComment posts a comment on a log.
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	viewerID := r.Header.Get(viewerHeader)
	if viewerID == "" {
		h.writeError(w, apperrors.New(apperrors.ErrUnauthorized, 401, "commenting requires a viewer"))
		return
	}
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, 400, "malformed request body"))
		return
	}
	created, err := h.logs.CreateComment(r.Context(), viewerID, r.PathValue("id"), req.Content)
	if err != nil {
		h.countEngage("comment", "error")
		h.writeError(w, err)
		return
	}
	h.countEngage("comment", "ok")
	h.writeJSON(w, http.StatusCreated, created)
}

// DeleteComment removes the viewer's own comment.
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	viewerID := r.Header.Get(viewerHeader)
	if viewerID == "" {
		h.writeError(w, apperrors.New(apperrors.ErrUnauthorized, 401, "commenting requires a viewer"))
		return
	}
	if err := h.logs.DeleteComment(r.Context(), viewerID, r.PathValue("id")); err != nil {
		h.countEngage("uncomment", "error")
		h.writeError(w, err)
		return
	}
	h.countEngage("uncomment", "ok")
	w.WriteHeader(http.StatusNoContent)
}

type engageFn func(ctx context.Context, viewerID, logID string) (engage.LogState, error)

func (h *Handler) engageAction(fn engageFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewerID := r.Header.Get(viewerHeader)
		if viewerID == "" {
			h.writeError(w, apperrors.New(apperrors.ErrUnauthorized, 401, "engagement requires a viewer"))
			return
		}
		state, err := fn(r.Context(), viewerID, r.PathValue("id"))
		if err != nil {
			h.observeEngage(r, "error")
			h.writeError(w, err)
			return
		}
		h.observeEngage(r, "ok")
		h.writeJSON(w, http.StatusOK, state)
	}
}

// GetScroll restores the viewer's saved scroll position for a route.
func (h *Handler) GetScroll(w http.ResponseWriter, r *http.Request) {
	if h.scroll == nil {
		h.writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	viewerID := r.Header.Get(viewerHeader)
	route := r.URL.Query().Get("route")
	pos, found, err := h.scroll.Get(r.Context(), viewerID, route)
	if err != nil {
		h.logger.Error("scroll restore failed", "route", route, "error", err)
		h.writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"found": found, "offset": pos.Offset})
}

type putScrollRequest struct {
	Route  string `json:"route"`
	Offset int64  `json:"offset"`
}

// PutScroll saves the viewer's scroll position for a route.
func (h *Handler) PutScroll(w http.ResponseWriter, r *http.Request) {
	if h.scroll == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	viewerID := r.Header.Get(viewerHeader)
	var req putScrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Route == "" {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, 400, "route and offset are required"))
		return
	}
	pos := scrollpos.Position{Offset: req.Offset, SavedAt: time.Now().UTC()}
	if err := h.scroll.Set(r.Context(), viewerID, req.Route, pos); err != nil {
		h.logger.Error("scroll save failed", "route", req.Route, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// CacheStats reports feed cache hit/miss counts.
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
		"hit_rate": strconv.FormatFloat(hitRate, 'f', 1, 64) + "%",
	})
}

// CacheInvalidate drops all cached feed pages.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, 503, "caching is disabled"))
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, apperrors.New(apperrors.ErrInternal, 500, "cache invalidation failed"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) observeFeed(mode, outcome string, start time.Time, candidates int) {
	if h.metrics == nil {
		return
	}
	h.metrics.FeedRequestsTotal.WithLabelValues(mode, outcome).Inc()
	h.metrics.FeedBuildDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	h.metrics.FeedCandidates.Observe(float64(candidates))
}

func (h *Handler) observeEngage(r *http.Request, status string) {
	action := "like"
	switch {
	case r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/relog"):
		action = "unrelog"
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/relog"):
		action = "relog"
	case r.Method == http.MethodDelete:
		action = "unlike"
	}
	h.countEngage(action, status)
}

func (h *Handler) countEngage(action, status string) {
	if h.metrics == nil {
		return
	}
	h.metrics.EngagementTotal.WithLabelValues(action, status).Inc()
}

func (h *Handler) track(event activity.FeedEvent) {
	if h.collector != nil {
		h.collector.Track(event)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
