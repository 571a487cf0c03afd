package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/worklogapp/feed-platform/pkg/kafka"
)

// Stats is the rolling aggregate served to operators.
type Stats struct {
	TotalPages     int64            `json:"total_pages"`
	FailedPages    int64            `json:"failed_pages"`
	PagesByMode    map[string]int64 `json:"pages_by_mode"`
	AnonymousPages int64            `json:"anonymous_pages"`
	CacheHits      int64            `json:"cache_hits"`
	CacheMisses    int64            `json:"cache_misses"`
	AvgLatencyMs   float64          `json:"avg_latency_ms"`
	P50LatencyMs   int64            `json:"p50_latency_ms"`
	P95LatencyMs   int64            `json:"p95_latency_ms"`
	P99LatencyMs   int64            `json:"p99_latency_ms"`
}

// maxLatencySamples bounds the percentile window.
const maxLatencySamples = 10000

// Aggregator folds FeedEvents into rolling Stats.
type Aggregator struct {
	mu          sync.RWMutex
	totalPages  int64
	failedPages int64
	byMode      map[string]int64
	anonymous   int64
	cacheHits   int64
	cacheMisses int64
	latencies   []int64
	logger      *slog.Logger
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		byMode: make(map[string]int64),
		logger: slog.Default().With("component", "activity-aggregator"),
	}
}

// HandleMessage is a kafka.MessageHandler that folds one event into the
// aggregate.
func (a *Aggregator) HandleMessage(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[FeedEvent](value)
	if err != nil {
		a.logger.Error("dropping malformed activity event", "error", err)
		return nil
	}
	a.Record(event)
	return nil
}

// Record folds one event into the aggregate.
func (a *Aggregator) Record(event FeedEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Type == EventPageFailed {
		a.failedPages++
		return
	}
	a.totalPages++
	a.byMode[event.Mode]++
	if event.Anonymous {
		a.anonymous++
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}
	a.latencies = append(a.latencies, event.LatencyMs)
	if len(a.latencies) > maxLatencySamples {
		a.latencies = a.latencies[len(a.latencies)-maxLatencySamples:]
	}
}

// Snapshot returns a copy of the current Stats.
func (a *Aggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := Stats{
		TotalPages:     a.totalPages,
		FailedPages:    a.failedPages,
		PagesByMode:    make(map[string]int64, len(a.byMode)),
		AnonymousPages: a.anonymous,
		CacheHits:      a.cacheHits,
		CacheMisses:    a.cacheMisses,
	}
	for mode, n := range a.byMode {
		stats.PagesByMode[mode] = n
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	return stats
}

// StatsHandler serves the current Stats as JSON.
func (a *Aggregator) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(a.Snapshot()); err != nil {
			a.logger.Error("failed to write stats", "error", err)
		}
	}
}

func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
