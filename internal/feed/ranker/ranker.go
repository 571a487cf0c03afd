// Package ranker scores and orders feed candidates. Score is a pure function
// of the candidate and the viewer context; ranking a window never touches the
// data store.
package ranker

import (
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/worklogapp/feed-platform/internal/model"
)

// Term weights. The four weighted terms sum to 1.0; the freshness boost is
// additive on top.
const (
	interestWeight    = 0.45
	engagementWeight  = 0.25
	recencyWeight     = 0.20
	credibilityWeight = 0.10
)

// Interest sub-weights.
const (
	followsAuthorWeight     = 0.35
	recentInteractionWeight = 0.20
	affinityMax             = 0.15
)

const (
	// engagementSaturation sets where the log-scaled engagement term bends.
	// The term approaches 1 asymptotically, so virality beyond this point
	// buys almost nothing but never quite saturates.
	engagementSaturation = 1000

	// decayHalfLifeHours halves a post's recency contribution every 42
	// hours (midpoint of the 36-48h product target).
	decayHalfLifeHours = 42

	// credibilitySaturation is the per-window author post count at which
	// credibility caps out.
	credibilitySaturation = 20

	freshnessHours         = 6
	freshnessBoostMax      = 0.05
	lowEngagementThreshold = 5
)

// tieEpsilon: scores closer than this are ordered by recency instead. The
// affinity perturbation makes exact equality unlikely but near-equality
// common, and near-ties must not flip between requests.
const tieEpsilon = 0.001

// Context carries the viewer-side signals one ranking pass consumes.
type Context struct {
	// ViewerID is empty for anonymous viewers.
	ViewerID string
	// Following is the set of author ids the viewer follows.
	Following map[string]bool
	// RecentAuthors is the set of authors the viewer liked in the trailing
	// interaction window.
	RecentAuthors map[string]bool
	// AuthorWindowPosts counts candidate-window posts per author.
	AuthorWindowPosts map[string]int64
	// Now anchors age computation; the zero value means time.Now.
	Now time.Time
}

func (c Context) now() time.Time {
	if c.Now.IsZero() {
		return time.Now()
	}
	return c.Now
}

// Score maps one candidate plus context to a relevance score. The weighted
// component is bounded to [0,1]; the freshness boost adds at most 0.05.
func Score(item model.FeedItem, ctx Context) float64 {
	ageHours := ctx.now().Sub(item.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}

	interest := interestScore(item, ctx)

	raw := item.RawEngagement()
	engagement := math.Log1p(raw) / math.Log1p(engagementSaturation+raw)

	recency := math.Pow(0.5, ageHours/decayHalfLifeHours)

	windowPosts := ctx.AuthorWindowPosts[item.UserID]
	if windowPosts < 1 {
		windowPosts = 1
	}
	credibility := math.Min(1, math.Log1p(float64(windowPosts))/math.Log(credibilitySaturation))

	boost := 0.0
	if ageHours < freshnessHours && raw < lowEngagementThreshold {
		boost = freshnessBoostMax * (1 - ageHours/freshnessHours)
	}

	return interest*interestWeight +
		engagement*engagementWeight +
		recency*recencyWeight +
		credibility*credibilityWeight +
		boost
}

// interestScore blends social-graph signals with a topic-affinity
// perturbation, clamped to [0,1]. Anonymous viewers get a flat baseline in
// [0.3, 0.5) instead of graph terms.
func interestScore(item model.FeedItem, ctx Context) float64 {
	affinity := topicAffinity(item.ID, ctx.now())
	if ctx.ViewerID == "" {
		return 0.3 + 0.2*affinity
	}
	score := affinityMax * affinity
	if ctx.Following[item.UserID] {
		score += followsAuthorWeight
	}
	if ctx.RecentAuthors[item.UserID] {
		score += recentInteractionWeight
	}
	return math.Min(1, score)
}

// topicAffinity stands in for a future content-similarity signal. It is a
// seeded hash of (log id, UTC day) mapped to [0,1): stable within a day so
// repeated fetches agree, different across days so the feed keeps some
// serendipity.
func topicAffinity(logID string, now time.Time) float64 {
	h := fnv.New64a()
	h.Write([]byte(logID))
	h.Write([]byte{0})
	h.Write([]byte(now.UTC().Format("2006-01-02")))
	return float64(h.Sum64()%1_000_000) / 1_000_000
}

// ScoredItem pairs a candidate with its computed score for one ranking pass.
type ScoredItem struct {
	Item  model.FeedItem
	Score float64
}

// Rank scores every candidate and returns them ordered by descending score,
// breaking near-ties (within tieEpsilon) by newer creation time.
func Rank(items []model.FeedItem, ctx Context) []ScoredItem {
	scored := make([]ScoredItem, len(items))
	for i, item := range items {
		scored[i] = ScoredItem{Item: item, Score: Score(item, ctx)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if math.Abs(scored[i].Score-scored[j].Score) < tieEpsilon {
			return scored[i].Item.CreatedAt.After(scored[j].Item.CreatedAt)
		}
		return scored[i].Score > scored[j].Score
	})
	return scored
}
