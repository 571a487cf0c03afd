// Package engage executes like/relog commands with optimistic local state:
// the in-process view of counts and flags is updated first, the remote
// mutation is fired with bounded retries, and the local transition is rolled
// back if the remote side ultimately fails. The next authoritative fetch
// reconciles any remaining drift.
package engage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worklogapp/feed-platform/internal/store"
	apperrors "github.com/worklogapp/feed-platform/pkg/errors"
	"github.com/worklogapp/feed-platform/pkg/resilience"
)

// Action names an engagement command.
type Action string

const (
	ActionLike    Action = "like"
	ActionUnlike  Action = "unlike"
	ActionRelog   Action = "relog"
	ActionUnrelog Action = "unrelog"
)

// remoteTimeout bounds one store write attempt; the retry loop decides how
// many attempts happen.
const remoteTimeout = 2 * time.Second

// LogState is the optimistic per-log view a client renders between the
// command and the next authoritative fetch.
type LogState struct {
	LikesCount     int64 `json:"likes_count"`
	RelogsCount    int64 `json:"relogs_count"`
	ViewerLiked    bool  `json:"viewer_liked"`
	ViewerRelogged bool  `json:"viewer_relogged"`
}

// State holds optimistic per-(viewer, log) engagement views.
type State struct {
	mu    sync.Mutex
	views map[string]LogState
}

// NewState creates an empty optimistic state.
func NewState() *State {
	return &State{views: make(map[string]LogState)}
}

func stateKey(viewerID, logID string) string {
	return viewerID + "/" + logID
}

// Seed installs the authoritative counts for a (viewer, log) pair, usually
// from a just-fetched feed page. It overwrites any optimistic residue.
func (s *State) Seed(viewerID, logID string, view LogState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[stateKey(viewerID, logID)] = view
}

// View returns the current optimistic view for a (viewer, log) pair.
func (s *State) View(viewerID, logID string) (LogState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[stateKey(viewerID, logID)]
	return v, ok
}

func (s *State) apply(viewerID, logID string, fn func(*LogState)) LogState {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stateKey(viewerID, logID)
	v := s.views[key]
	fn(&v)
	s.views[key] = v
	return v
}

// Service runs engagement commands against the store.
type Service struct {
	store  store.Store
	state  *State
	retry  resilience.RetryConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an engagement Service sharing the given optimistic
// state.
func NewService(st store.Store, state *State) *Service {
	return &Service{
		store: st,
		state: state,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		logger: slog.Default().With("component", "engage"),
		now:    time.Now,
	}
}

// Like records viewerID liking logID. The optimistic view is bumped before
// the remote insert; a remote failure rolls the bump back.
func (s *Service) Like(ctx context.Context, viewerID, logID string) (LogState, error) {
	return s.run(ctx, ActionLike, viewerID, logID,
		func(v *LogState) {
			if !v.ViewerLiked {
				v.ViewerLiked = true
				v.LikesCount++
			}
		},
		func(v *LogState) {
			if v.ViewerLiked {
				v.ViewerLiked = false
				v.LikesCount--
			}
		},
		func(ctx context.Context) error {
			_, err := s.store.Insert(ctx, store.CollectionLikes, store.Row{
				"id":         uuid.NewString(),
				"user_id":    viewerID,
				"log_id":     logID,
				"created_at": s.now().UTC(),
			})
			return err
		},
	)
}

// Unlike removes viewerID's like on logID.
func (s *Service) Unlike(ctx context.Context, viewerID, logID string) (LogState, error) {
	return s.run(ctx, ActionUnlike, viewerID, logID,
		func(v *LogState) {
			if v.ViewerLiked {
				v.ViewerLiked = false
				v.LikesCount--
			}
		},
		func(v *LogState) {
			if !v.ViewerLiked {
				v.ViewerLiked = true
				v.LikesCount++
			}
		},
		func(ctx context.Context) error {
			return s.store.Delete(ctx, store.CollectionLikes, []store.Filter{
				store.Eq("user_id", viewerID),
				store.Eq("log_id", logID),
			})
		},
	)
}

// Relog records viewerID relogging logID.
func (s *Service) Relog(ctx context.Context, viewerID, logID string) (LogState, error) {
	return s.run(ctx, ActionRelog, viewerID, logID,
		func(v *LogState) {
			if !v.ViewerRelogged {
				v.ViewerRelogged = true
				v.RelogsCount++
			}
		},
		func(v *LogState) {
			if v.ViewerRelogged {
				v.ViewerRelogged = false
				v.RelogsCount--
			}
		},
		func(ctx context.Context) error {
			_, err := s.store.Insert(ctx, store.CollectionRelogs, store.Row{
				"id":         uuid.NewString(),
				"user_id":    viewerID,
				"log_id":     logID,
				"created_at": s.now().UTC(),
			})
			return err
		},
	)
}

// Unrelog removes viewerID's relog of logID.
func (s *Service) Unrelog(ctx context.Context, viewerID, logID string) (LogState, error) {
	return s.run(ctx, ActionUnrelog, viewerID, logID,
		func(v *LogState) {
			if v.ViewerRelogged {
				v.ViewerRelogged = false
				v.RelogsCount--
			}
		},
		func(v *LogState) {
			if !v.ViewerRelogged {
				v.ViewerRelogged = true
				v.RelogsCount++
			}
		},
		func(ctx context.Context) error {
			return s.store.Delete(ctx, store.CollectionRelogs, []store.Filter{
				store.Eq("user_id", viewerID),
				store.Eq("log_id", logID),
			})
		},
	)
}

func (s *Service) run(
	ctx context.Context,
	action Action,
	viewerID, logID string,
	forward, rollback func(*LogState),
	remote func(ctx context.Context) error,
) (LogState, error) {
	if viewerID == "" || logID == "" {
		return LogState{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "%s: viewer and log ids are required", action)
	}

	view := s.state.apply(viewerID, logID, forward)

	err := resilience.Retry(ctx, string(action), s.retry, func() error {
		return resilience.WithTimeout(ctx, remoteTimeout, string(action), remote)
	})
	if err != nil {
		view = s.state.apply(viewerID, logID, rollback)
		s.logger.Warn("engagement command failed, rolled back",
			"action", action,
			"log_id", logID,
			"error", err,
		)
		return view, fmt.Errorf("%w: %s log %s: %v", apperrors.ErrDataAccess, action, logID, err)
	}
	return view, nil
}
