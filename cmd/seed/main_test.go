package main

import (
	"context"
	"testing"
	"time"

	"github.com/worklogapp/feed-platform/internal/feed"
	"github.com/worklogapp/feed-platform/internal/store"
)

func TestSeededProfilesResolveAsAuthors(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	const authorID = "author-1"
	if _, err := st.Insert(ctx, store.CollectionProfiles, profileRow(authorID, now)); err != nil {
		t.Fatalf("Insert profile: %v", err)
	}
	if _, err := st.Insert(ctx, store.CollectionLogs, store.Row{
		"id":         "log-1",
		"user_id":    authorID,
		"content":    "seeded entry",
		"created_at": now,
		"updated_at": now,
	}); err != nil {
		t.Fatalf("Insert log: %v", err)
	}

	page, err := feed.NewFetcher(st, feed.Options{}).FetchPage(ctx, feed.Request{
		Mode:     feed.ModeSuggested,
		PageSize: 10,
	})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("%d items, want 1", len(page.Items))
	}
	author := page.Items[0].Author
	if author == nil {
		t.Fatal("seeded profile did not resolve as the log author")
	}
	if author.UserID != authorID {
		t.Errorf("author user id = %q, want %q", author.UserID, authorID)
	}
	if author.Username == "" || author.DisplayName == "" {
		t.Errorf("author fields empty: %+v", author)
	}
}
