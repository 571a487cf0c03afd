package logsvc

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/worklogapp/feed-platform/internal/store"
	apperrors "github.com/worklogapp/feed-platform/pkg/errors"
)

var logsvcNow = time.Date(2026, 7, 14, 9, 0, 0, 0, time.UTC)

func newTestService(st store.Store) *Service {
	svc := New(st)
	svc.now = func() time.Time { return logsvcNow }
	return svc
}

func TestCreateLog(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(st)

	created, err := svc.Create(context.Background(), "author-1", "  shipped the importer  ", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Error("created log has no id")
	}
	if created.Content != "shipped the importer" {
		t.Errorf("content = %q, want trimmed", created.Content)
	}
	if created.UserID != "author-1" {
		t.Errorf("user_id = %q", created.UserID)
	}

	rows, err := st.Query(context.Background(), store.CollectionLogs, store.Query{
		Filters: []store.Filter{store.Eq("id", created.ID)},
	})
	if err != nil || len(rows) != 1 {
		t.Fatalf("persisted rows = %d, err = %v", len(rows), err)
	}
	if got, ok := rows[0].TimeValue("created_at"); !ok || !got.Equal(logsvcNow) {
		t.Errorf("created_at = %v (ok=%v), want %v", got, ok, logsvcNow)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(store.NewMemory())
	ctx := context.Background()

	cases := []struct {
		name     string
		authorID string
		content  string
		sentinel error
		status   int
	}{
		{"anonymous author", "", "hello", apperrors.ErrUnauthorized, 401},
		{"empty content", "author-1", "   ", apperrors.ErrInvalidInput, 400},
		{"oversized content", "author-1", strings.Repeat("x", maxContentLength+1), apperrors.ErrInvalidInput, 400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.authorID, tc.content, "")
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("err = %v, want %v", err, tc.sentinel)
			}
			if code := apperrors.HTTPStatusCode(err); code != tc.status {
				t.Errorf("status = %d, want %d", code, tc.status)
			}
		})
	}

	// Content at exactly the limit is accepted.
	if _, err := svc.Create(ctx, "author-1", strings.Repeat("x", maxContentLength), ""); err != nil {
		t.Errorf("content at the limit rejected: %v", err)
	}
}

func TestEditRequiresOwnership(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(st)
	ctx := context.Background()

	created, err := svc.Create(ctx, "author-1", "draft", "")
	if err != nil {
		t.Fatal(err)
	}

	err = svc.Edit(ctx, "someone-else", created.ID, "hijacked")
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("edit by non-author: err = %v", err)
	}
	if code := apperrors.HTTPStatusCode(err); code != 403 {
		t.Errorf("status = %d, want 403", code)
	}

	if err := svc.Edit(ctx, "author-1", created.ID, "final"); err != nil {
		t.Fatalf("edit by author: %v", err)
	}
	rows, _ := st.Query(ctx, store.CollectionLogs, store.Query{
		Filters: []store.Filter{store.Eq("id", created.ID)},
	})
	if got := rows[0].StringValue("content"); got != "final" {
		t.Errorf("content after edit = %q", got)
	}
	if _, ok := rows[0].TimeValue("edited_at"); !ok {
		t.Error("edited_at not stamped")
	}
}

func TestEditMissingLogIsNotFound(t *testing.T) {
	svc := newTestService(store.NewMemory())
	err := svc.Edit(context.Background(), "author-1", "no-such-log", "content")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDeleteIsSoft(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(st)
	ctx := context.Background()

	created, err := svc.Create(ctx, "author-1", "to be removed", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "author-1", created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	rows, err := st.Query(ctx, store.CollectionLogs, store.Query{
		Filters: []store.Filter{store.Eq("id", created.ID)},
	})
	if err != nil || len(rows) != 1 {
		t.Fatalf("deleted row vanished: rows = %d, err = %v", len(rows), err)
	}
	if _, ok := rows[0].TimeValue("deleted_at"); !ok {
		t.Error("deleted_at not stamped")
	}
}

func TestDeleteByNonAuthorRefused(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(st)
	ctx := context.Background()

	created, err := svc.Create(ctx, "author-1", "mine", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, "author-2", created.ID); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestCreateComment(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(st)
	ctx := context.Background()

	log, err := svc.Create(ctx, "author-1", "entry", "")
	if err != nil {
		t.Fatal(err)
	}

	comment, err := svc.CreateComment(ctx, "commenter-1", log.ID, "  nice work  ")
	if err != nil {
		t.Fatalf("CreateComment: %v", err)
	}
	if comment.ID == "" || comment.LogID != log.ID || comment.UserID != "commenter-1" {
		t.Errorf("comment = %+v", comment)
	}
	if comment.Content != "nice work" {
		t.Errorf("content = %q, want trimmed", comment.Content)
	}

	rows, err := st.Query(ctx, store.CollectionComments, store.Query{
		Filters: []store.Filter{store.Eq("log_id", log.ID)},
	})
	if err != nil || len(rows) != 1 {
		t.Fatalf("persisted comments = %d, err = %v", len(rows), err)
	}
}

func TestCreateCommentValidation(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(st)
	ctx := context.Background()

	log, err := svc.Create(ctx, "author-1", "entry", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.CreateComment(ctx, "", log.ID, "hi"); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Errorf("anonymous comment: err = %v", err)
	}
	if _, err := svc.CreateComment(ctx, "commenter-1", log.ID, "   "); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty comment: err = %v", err)
	}
	if _, err := svc.CreateComment(ctx, "commenter-1", "no-such-log", "hi"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("comment on missing log: err = %v", err)
	}

	// A soft-deleted log takes no new comments.
	if err := svc.Delete(ctx, "author-1", log.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateComment(ctx, "commenter-1", log.ID, "too late"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("comment on deleted log: err = %v", err)
	}
}

func TestDeleteCommentRequiresOwnership(t *testing.T) {
	st := store.NewMemory()
	svc := newTestService(st)
	ctx := context.Background()

	log, err := svc.Create(ctx, "author-1", "entry", "")
	if err != nil {
		t.Fatal(err)
	}
	comment, err := svc.CreateComment(ctx, "commenter-1", log.ID, "mine")
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteComment(ctx, "someone-else", comment.ID); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("delete by non-author: err = %v", err)
	}
	if err := svc.DeleteComment(ctx, "commenter-1", comment.ID); err != nil {
		t.Fatalf("DeleteComment: %v", err)
	}

	rows, err := st.Query(ctx, store.CollectionComments, store.Query{
		Filters: []store.Filter{store.Eq("id", comment.ID)},
	})
	if err != nil || len(rows) != 0 {
		t.Errorf("comment rows after delete = %d, err = %v", len(rows), err)
	}

	if err := svc.DeleteComment(ctx, "commenter-1", comment.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("double delete: err = %v", err)
	}
}

func TestStoreFailureSurfacesAsDataAccess(t *testing.T) {
	st := store.NewMemory()
	st.SetFailure(errors.New("connection refused"))
	svc := newTestService(st)

	_, err := svc.Create(context.Background(), "author-1", "content", "")
	if !errors.Is(err, apperrors.ErrDataAccess) {
		t.Fatalf("err = %v, want data access", err)
	}
}
