// Command loadtest drives the feed endpoint with concurrent viewers walking
// cursor pagination in both modes and reports latency percentiles.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Viewers     []string
	PageSize    int
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	pagesWalked   atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

// feedPage mirrors the handler's page envelope; only next_cursor matters
// here.
type feedPage struct {
	NextCursor *time.Time `json:"next_cursor"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the feed service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	viewers := flag.Int("viewers", 20, "size of the simulated viewer pool")
	pageSize := flag.Int("limit", 10, "page size per request")
	seed := flag.Int64("seed", 1, "viewer pool seed")
	flag.Parse()

	gofakeit.Seed(*seed)
	pool := make([]string, 0, *viewers+1)
	pool = append(pool, "") // one anonymous viewer exercises the baseline path
	for i := 0; i < *viewers; i++ {
		pool = append(pool, gofakeit.UUID())
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Viewers:     pool,
		PageSize:    *pageSize,
	}

	fmt.Println("=== Feed Service Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Viewers:     %d (+1 anonymous)\n", *viewers)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	modes := []string{"suggested", "following"}
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			turn := workerID

			for ctx.Err() == nil {
				viewer := cfg.Viewers[turn%len(cfg.Viewers)]
				mode := modes[turn%len(modes)]
				turn++
				// An anonymous viewer has no following feed.
				if viewer == "" {
					mode = "suggested"
				}
				walkFeed(ctx, client, cfg, stats, viewer, mode)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

// walkFeed pages through one viewer's feed until the cursor runs out, the
// walk hits a cap, or the test deadline passes.
func walkFeed(ctx context.Context, client *http.Client, cfg Config, stats *Stats, viewer, mode string) {
	const maxPages = 10
	var cursor string

	for page := 0; page < maxPages && ctx.Err() == nil; page++ {
		feedURL := fmt.Sprintf("%s/api/v1/feed?mode=%s&limit=%d", cfg.BaseURL, mode, cfg.PageSize)
		if cursor != "" {
			feedURL += "&cursor=" + url.QueryEscape(cursor)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
		if err != nil {
			return
		}
		if viewer != "" {
			req.Header.Set("X-User-ID", viewer)
		}

		start := time.Now()
		resp, err := client.Do(req)
		duration := time.Since(start)
		if err != nil {
			stats.RecordRequest(duration, 0, err)
			return
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		stats.RecordRequest(duration, resp.StatusCode, nil)
		stats.pagesWalked.Add(1)

		if resp.StatusCode != http.StatusOK {
			return
		}
		var parsed feedPage
		if json.Unmarshal(body, &parsed) != nil || parsed.NextCursor == nil {
			return
		}
		cursor = parsed.NextCursor.Format(time.RFC3339Nano)
	}
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Pages Walked:    %d\n", stats.pagesWalked.Load())

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P90:    %s\n", percentile(latencies, 90))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		count := stats.statusCodes[code].Load()
		fmt.Printf("  %d: %d\n", code, count)
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
