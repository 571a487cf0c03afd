// Package logsvc is the thin CRUD layer over the logs collection: create,
// edit, and soft-delete. It stays deliberately dumb; all ranking intelligence
// lives in the feed package.
package logsvc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/worklogapp/feed-platform/internal/model"
	"github.com/worklogapp/feed-platform/internal/store"
	apperrors "github.com/worklogapp/feed-platform/pkg/errors"
)

const maxContentLength = 2000

type Service struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

func New(st store.Store) *Service {
	return &Service{
		store:  st,
		logger: slog.Default().With("component", "logsvc"),
		now:    time.Now,
	}
}

// Create inserts a new log for the given author.
func (s *Service) Create(ctx context.Context, authorID, content, imageURL string) (model.Log, error) {
	content = strings.TrimSpace(content)
	if authorID == "" {
		return model.Log{}, apperrors.New(apperrors.ErrUnauthorized, 401, "author required")
	}
	if content == "" {
		return model.Log{}, apperrors.New(apperrors.ErrInvalidInput, 400, "content is empty")
	}
	if len(content) > maxContentLength {
		return model.Log{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "content exceeds %d characters", maxContentLength)
	}

	now := s.now().UTC()
	row, err := s.store.Insert(ctx, store.CollectionLogs, store.Row{
		"id":         uuid.NewString(),
		"user_id":    authorID,
		"content":    content,
		"image_url":  imageURL,
		"created_at": now,
		"updated_at": now,
	})
	if err != nil {
		return model.Log{}, fmt.Errorf("%w: creating log: %v", apperrors.ErrDataAccess, err)
	}
	created := model.LogFromRow(row)
	s.logger.Info("log created", "log_id", created.ID, "author_id", authorID)
	return created, nil
}

// Edit replaces a log's content and stamps edited_at. Only the author may
// edit.
func (s *Service) Edit(ctx context.Context, authorID, logID, content string) error {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > maxContentLength {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "invalid content")
	}
	owned, err := s.owned(ctx, authorID, logID)
	if err != nil {
		return err
	}
	if !owned {
		return apperrors.New(apperrors.ErrUnauthorized, 403, "not the author")
	}

	now := s.now().UTC()
	err = s.store.Update(ctx, store.CollectionLogs,
		[]store.Filter{store.Eq("id", logID)},
		store.Row{
			"content":    content,
			"edited_at":  now,
			"updated_at": now,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: editing log %s: %v", apperrors.ErrDataAccess, logID, err)
	}
	return nil
}

// Delete soft-deletes a log; it disappears from every feed immediately but
// the record survives for audit.
func (s *Service) Delete(ctx context.Context, authorID, logID string) error {
	owned, err := s.owned(ctx, authorID, logID)
	if err != nil {
		return err
	}
	if !owned {
		return apperrors.New(apperrors.ErrUnauthorized, 403, "not the author")
	}

	err = s.store.Update(ctx, store.CollectionLogs,
		[]store.Filter{store.Eq("id", logID)},
		store.Row{"deleted_at": s.now().UTC()},
	)
	if err != nil {
		return fmt.Errorf("%w: deleting log %s: %v", apperrors.ErrDataAccess, logID, err)
	}
	s.logger.Info("log deleted", "log_id", logID, "author_id", authorID)
	return nil
}

// CreateComment inserts a comment on a log. Comments count three times in the
// engagement term, so the log must still be visible to take new ones.
func (s *Service) CreateComment(ctx context.Context, authorID, logID, content string) (model.Comment, error) {
	content = strings.TrimSpace(content)
	if authorID == "" {
		return model.Comment{}, apperrors.New(apperrors.ErrUnauthorized, 401, "author required")
	}
	if content == "" {
		return model.Comment{}, apperrors.New(apperrors.ErrInvalidInput, 400, "content is empty")
	}
	if len(content) > maxContentLength {
		return model.Comment{}, apperrors.Newf(apperrors.ErrInvalidInput, 400, "content exceeds %d characters", maxContentLength)
	}

	logs, err := s.store.Query(ctx, store.CollectionLogs, store.Query{
		Filters: []store.Filter{
			store.Eq("id", logID),
			store.IsNull("deleted_at"),
		},
		Limit: 1,
	})
	if err != nil {
		return model.Comment{}, fmt.Errorf("%w: loading log %s: %v", apperrors.ErrDataAccess, logID, err)
	}
	if len(logs) == 0 {
		return model.Comment{}, apperrors.Newf(apperrors.ErrNotFound, 404, "log %s not found", logID)
	}

	row, err := s.store.Insert(ctx, store.CollectionComments, store.Row{
		"id":         uuid.NewString(),
		"log_id":     logID,
		"user_id":    authorID,
		"content":    content,
		"created_at": s.now().UTC(),
	})
	if err != nil {
		return model.Comment{}, fmt.Errorf("%w: creating comment: %v", apperrors.ErrDataAccess, err)
	}
	created := model.CommentFromRow(row)
	s.logger.Info("comment created", "comment_id", created.ID, "log_id", logID, "author_id", authorID)
	return created, nil
}

// DeleteComment removes a comment. Only the comment's author may delete it;
// the row is gone for good, unlike soft-deleted logs.
func (s *Service) DeleteComment(ctx context.Context, authorID, commentID string) error {
	if authorID == "" || commentID == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "author and comment ids are required")
	}
	rows, err := s.store.Query(ctx, store.CollectionComments, store.Query{
		Filters: []store.Filter{store.Eq("id", commentID)},
		Limit:   1,
	})
	if err != nil {
		return fmt.Errorf("%w: loading comment %s: %v", apperrors.ErrDataAccess, commentID, err)
	}
	if len(rows) == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, 404, "comment %s not found", commentID)
	}
	if rows[0].StringValue("user_id") != authorID {
		return apperrors.New(apperrors.ErrUnauthorized, 403, "not the author")
	}

	err = s.store.Delete(ctx, store.CollectionComments, []store.Filter{store.Eq("id", commentID)})
	if err != nil {
		return fmt.Errorf("%w: deleting comment %s: %v", apperrors.ErrDataAccess, commentID, err)
	}
	s.logger.Info("comment deleted", "comment_id", commentID, "author_id", authorID)
	return nil
}

func (s *Service) owned(ctx context.Context, authorID, logID string) (bool, error) {
	if authorID == "" || logID == "" {
		return false, apperrors.New(apperrors.ErrInvalidInput, 400, "author and log ids are required")
	}
	rows, err := s.store.Query(ctx, store.CollectionLogs, store.Query{
		Filters: []store.Filter{store.Eq("id", logID)},
		Limit:   1,
	})
	if err != nil {
		return false, fmt.Errorf("%w: loading log %s: %v", apperrors.ErrDataAccess, logID, err)
	}
	if len(rows) == 0 {
		return false, apperrors.Newf(apperrors.ErrNotFound, 404, "log %s not found", logID)
	}
	return rows[0].StringValue("user_id") == authorID, nil
}
