// Package feed assembles ranked, paginated feed pages. The Fetcher pulls a
// chronological candidate window plus batched side data from the store, the
// ranker reorders it for the suggested mode, and a creation-time cursor keeps
// pagination stable regardless of ranking.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/worklogapp/feed-platform/internal/feed/ranker"
	"github.com/worklogapp/feed-platform/internal/model"
	"github.com/worklogapp/feed-platform/internal/store"
	apperrors "github.com/worklogapp/feed-platform/pkg/errors"
	"github.com/worklogapp/feed-platform/pkg/tracing"
)

// Mode selects between the chronological following feed and the ranked
// suggested feed.
type Mode string

const (
	ModeFollowing Mode = "following"
	ModeSuggested Mode = "suggested"
)

// ParseMode validates a caller-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFollowing, ModeSuggested:
		return Mode(s), nil
	default:
		return "", apperrors.Newf(apperrors.ErrInvalidInput, 400, "unknown feed mode %q", s)
	}
}

// Request identifies one page fetch.
type Request struct {
	Mode     Mode
	ViewerID string
	// Cursor is an exclusive upper bound on created_at; nil fetches the
	// newest page.
	Cursor   *time.Time
	PageSize int
}

// Page is one feed page. NextCursor is nil at the end of the feed.
type Page struct {
	Items      []model.FeedItem `json:"items"`
	NextCursor *time.Time       `json:"next_cursor,omitempty"`
}

// Options tunes the Fetcher.
type Options struct {
	PageSize int
	// OverfetchFactor multiplies PageSize for the suggested-mode candidate
	// window so the ranker has material to reorder.
	OverfetchFactor int
	// RecentInteractionWindow bounds the recently-interacted-authors
	// lookback.
	RecentInteractionWindow time.Duration
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

// Fetcher builds feed pages from the data store. It only ever reads.
type Fetcher struct {
	store  store.Store
	opts   Options
	logger *slog.Logger
}

// NewFetcher creates a Fetcher, filling in defaults for zero option values.
func NewFetcher(st store.Store, opts Options) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	if opts.OverfetchFactor < 1 {
		opts.OverfetchFactor = 3
	}
	if opts.RecentInteractionWindow <= 0 {
		opts.RecentInteractionWindow = 7 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{
		store:  st,
		opts:   opts,
		logger: slog.Default().With("component", "feed-fetcher"),
	}
}

// FetchPage assembles one feed page. Any store failure aborts the whole
// page; missing side data for a single item degrades that item instead.
func (f *Fetcher) FetchPage(ctx context.Context, req Request) (*Page, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = f.opts.PageSize
	}

	// The following set feeds both the following-mode author restriction
	// and the suggested-mode interest term, so it is resolved regardless
	// of mode.
	_, graphSpan := tracing.StartChildSpan(ctx, "feed.viewer_graph")
	following, err := f.followingSet(ctx, req.ViewerID)
	if err != nil {
		graphSpan.End()
		return nil, fmt.Errorf("%w: resolving following set: %v", apperrors.ErrDataAccess, err)
	}

	recentAuthors, err := f.recentInteractedAuthors(ctx, req.ViewerID)
	graphSpan.End()
	if err != nil {
		return nil, fmt.Errorf("%w: resolving recent interactions: %v", apperrors.ErrDataAccess, err)
	}

	quota := pageSize
	if req.Mode == ModeSuggested {
		quota = pageSize * f.opts.OverfetchFactor
	}

	_, windowSpan := tracing.StartChildSpan(ctx, "feed.candidate_window")
	window, err := f.candidateWindow(ctx, req, following, quota)
	windowSpan.SetAttr("candidates", len(window))
	windowSpan.End()
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return &Page{Items: []model.FeedItem{}}, nil
	}

	_, assembleSpan := tracing.StartChildSpan(ctx, "feed.assemble")
	items, err := f.assemble(ctx, window, req.ViewerID)
	assembleSpan.End()
	if err != nil {
		return nil, err
	}

	// Cursor comes from the chronological window before any re-ranking or
	// truncation, so pages never skip or repeat candidates as ranking
	// noise varies.
	var nextCursor *time.Time
	if len(window) == quota {
		last := window[len(window)-1].CreatedAt
		nextCursor = &last
	}

	if req.Mode == ModeSuggested {
		_, rankSpan := tracing.StartChildSpan(ctx, "feed.rank")
		rctx := ranker.Context{
			ViewerID:          req.ViewerID,
			Following:         following,
			RecentAuthors:     recentAuthors,
			AuthorWindowPosts: authorWindowCounts(window),
			Now:               f.opts.Now(),
		}
		ranked := ranker.Rank(items, rctx)
		items = items[:0]
		for _, s := range ranked {
			items = append(items, s.Item)
		}
		rankSpan.End()
	}
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	f.logger.Debug("feed page assembled",
		"mode", req.Mode,
		"window", len(window),
		"returned", len(items),
		"has_next", nextCursor != nil,
	)
	return &Page{Items: items, NextCursor: nextCursor}, nil
}

// followingSet returns the ids of authors the viewer follows; empty for
// anonymous viewers.
func (f *Fetcher) followingSet(ctx context.Context, viewerID string) (map[string]bool, error) {
	if viewerID == "" {
		return map[string]bool{}, nil
	}
	rows, err := f.store.Query(ctx, store.CollectionFollows, store.Query{
		Filters: []store.Filter{store.Eq("follower_id", viewerID)},
	})
	if err != nil {
		return nil, err
	}
	following := make(map[string]bool, len(rows))
	for _, row := range rows {
		if id := row.StringValue("following_id"); id != "" {
			following[id] = true
		}
	}
	return following, nil
}

// recentInteractedAuthors returns the deduplicated authors of logs the
// viewer liked within the interaction window.
func (f *Fetcher) recentInteractedAuthors(ctx context.Context, viewerID string) (map[string]bool, error) {
	if viewerID == "" {
		return map[string]bool{}, nil
	}
	since := f.opts.Now().Add(-f.opts.RecentInteractionWindow)
	likes, err := f.store.Query(ctx, store.CollectionLikes, store.Query{
		Filters: []store.Filter{
			store.Eq("user_id", viewerID),
			store.Gte("created_at", since),
		},
	})
	if err != nil {
		return nil, err
	}
	if len(likes) == 0 {
		return map[string]bool{}, nil
	}
	logIDs := dedupe(likes, "log_id")
	logs, err := f.store.Query(ctx, store.CollectionLogs, store.Query{
		Filters: []store.Filter{store.In("id", logIDs)},
	})
	if err != nil {
		return nil, err
	}
	authors := make(map[string]bool, len(logs))
	for _, row := range logs {
		if id := row.StringValue("user_id"); id != "" {
			authors[id] = true
		}
	}
	return authors, nil
}

// candidateWindow queries the chronological candidate slice: visible logs,
// newest first, cursor as exclusive upper bound, author-restricted for the
// following mode.
func (f *Fetcher) candidateWindow(ctx context.Context, req Request, following map[string]bool, quota int) ([]model.Log, error) {
	filters := []store.Filter{
		store.IsNull("hidden_at"),
		store.IsNull("deleted_at"),
	}
	if req.Cursor != nil {
		filters = append(filters, store.Lt("created_at", *req.Cursor))
	}
	if req.Mode == ModeFollowing {
		authorIDs := make([]string, 0, len(following)+1)
		for id := range following {
			authorIDs = append(authorIDs, id)
		}
		if req.ViewerID != "" {
			authorIDs = append(authorIDs, req.ViewerID)
		}
		// An anonymous viewer with no follows has no personal feed.
		if len(authorIDs) == 0 {
			return nil, nil
		}
		filters = append(filters, store.In("user_id", authorIDs))
	}

	rows, err := f.store.Query(ctx, store.CollectionLogs, store.Query{
		Filters: filters,
		OrderBy: "created_at",
		Desc:    true,
		Limit:   quota,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: querying candidates: %v", apperrors.ErrDataAccess, err)
	}
	logs := make([]model.Log, 0, len(rows))
	for _, row := range rows {
		logs = append(logs, model.LogFromRow(row))
	}
	return logs, nil
}

// assemble resolves the window's side data in minimal round trips, fanned
// out concurrently: one profile query keyed by the distinct author set, one
// grouped count per engagement relation, and (when a viewer is present) the
// viewer's like/relog membership over the same log-id set.
func (f *Fetcher) assemble(ctx context.Context, window []model.Log, viewerID string) ([]model.FeedItem, error) {
	authorIDs := make([]string, 0, len(window))
	seen := make(map[string]bool, len(window))
	logIDs := make([]string, 0, len(window))
	for _, l := range window {
		logIDs = append(logIDs, l.ID)
		if !seen[l.UserID] {
			seen[l.UserID] = true
			authorIDs = append(authorIDs, l.UserID)
		}
	}

	var (
		profiles                  map[string]model.Profile
		likes, comments, relogs   map[string]int64
		viewerLikes, viewerRelogs map[string]bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := f.store.Query(gctx, store.CollectionProfiles, store.Query{
			Filters: []store.Filter{store.In("user_id", authorIDs)},
		})
		if err != nil {
			return fmt.Errorf("fetching profiles: %w", err)
		}
		profiles = make(map[string]model.Profile, len(rows))
		for _, row := range rows {
			p := model.ProfileFromRow(row)
			profiles[p.UserID] = p
		}
		return nil
	})
	g.Go(func() error {
		var err error
		likes, err = f.store.GroupCount(gctx, store.CollectionLikes,
			[]store.Filter{store.In("log_id", logIDs)}, "log_id")
		if err != nil {
			return fmt.Errorf("counting likes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		comments, err = f.store.GroupCount(gctx, store.CollectionComments,
			[]store.Filter{store.In("log_id", logIDs)}, "log_id")
		if err != nil {
			return fmt.Errorf("counting comments: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		relogs, err = f.store.GroupCount(gctx, store.CollectionRelogs,
			[]store.Filter{store.In("log_id", logIDs)}, "log_id")
		if err != nil {
			return fmt.Errorf("counting relogs: %w", err)
		}
		return nil
	})
	if viewerID != "" {
		g.Go(func() error {
			var err error
			viewerLikes, err = f.membership(gctx, store.CollectionLikes, viewerID, logIDs)
			if err != nil {
				return fmt.Errorf("checking viewer likes: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			var err error
			viewerRelogs, err = f.membership(gctx, store.CollectionRelogs, viewerID, logIDs)
			if err != nil {
				return fmt.Errorf("checking viewer relogs: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDataAccess, err)
	}

	items := make([]model.FeedItem, 0, len(window))
	for _, l := range window {
		item := model.FeedItem{
			Log:            l,
			LikesCount:     likes[l.ID],
			CommentsCount:  comments[l.ID],
			RelogsCount:    relogs[l.ID],
			ViewerLiked:    viewerLikes[l.ID],
			ViewerRelogged: viewerRelogs[l.ID],
		}
		if p, ok := profiles[l.UserID]; ok {
			item.Author = &p
		}
		items = append(items, item)
	}
	return items, nil
}

// membership returns the set of logIDs the viewer has a row for in the
// given relation.
func (f *Fetcher) membership(ctx context.Context, collection, viewerID string, logIDs []string) (map[string]bool, error) {
	rows, err := f.store.Query(ctx, collection, store.Query{
		Filters: []store.Filter{
			store.Eq("user_id", viewerID),
			store.In("log_id", logIDs),
		},
	})
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(rows))
	for _, row := range rows {
		set[row.StringValue("log_id")] = true
	}
	return set, nil
}

// authorWindowCounts derives the credibility input: posts per author within
// the current candidate window. Recomputed per fetch, never persisted.
func authorWindowCounts(window []model.Log) map[string]int64 {
	counts := make(map[string]int64, len(window))
	for _, l := range window {
		counts[l.UserID]++
	}
	return counts
}

func dedupe(rows []store.Row, field string) []string {
	seen := make(map[string]bool, len(rows))
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		v := row.StringValue(field)
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
