// Package activity tracks feed usage: every served page becomes a FeedEvent
// published to Kafka by a non-blocking Collector, and an Aggregator consumes
// the topic to serve rolling usage stats.
package activity

import "time"

// EventType distinguishes feed event variants.
type EventType string

const (
	EventPageServed EventType = "page_served"
	EventPageFailed EventType = "page_failed"
)

// FeedEvent describes one feed page request.
type FeedEvent struct {
	Type       EventType `json:"type"`
	Mode       string    `json:"mode"`
	Anonymous  bool      `json:"anonymous"`
	Candidates int       `json:"candidates"`
	Returned   int       `json:"returned"`
	CacheHit   bool      `json:"cache_hit"`
	LatencyMs  int64     `json:"latency_ms"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
