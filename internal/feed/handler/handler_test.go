package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/worklogapp/feed-platform/internal/engage"
	"github.com/worklogapp/feed-platform/internal/feed"
	"github.com/worklogapp/feed-platform/internal/logsvc"
	"github.com/worklogapp/feed-platform/internal/model"
	"github.com/worklogapp/feed-platform/internal/scrollpos"
	"github.com/worklogapp/feed-platform/internal/store"
	apperrors "github.com/worklogapp/feed-platform/pkg/errors"
)

// fakeFetcher records the last request and serves a canned page or error.
type fakeFetcher struct {
	lastReq feed.Request
	page    *feed.Page
	err     error
}

func (f *fakeFetcher) FetchPage(ctx context.Context, req feed.Request) (*feed.Page, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.page != nil {
		return f.page, nil
	}
	return &feed.Page{Items: []model.FeedItem{}}, nil
}

func newTestServer(t *testing.T, fetcher *fakeFetcher) (*httptest.Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	h := New(Options{
		Fetcher:      fetcher,
		Engage:       engage.NewService(st, engage.NewState()),
		Logs:         logsvc.New(st),
		Scroll:       scrollpos.NewMemoryCache(16),
		DefaultLimit: 10,
		MaxLimit:     50,
	})
	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st
}

func doRequest(t *testing.T, method, url, viewerID, body string) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if viewerID != "" {
		req.Header.Set("X-User-ID", viewerID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFeedRequestParsing(t *testing.T) {
	fetcher := &fakeFetcher{}
	srv, _ := newTestServer(t, fetcher)

	cursor := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	url := srv.URL + "/api/v1/feed?mode=suggested&limit=25&cursor=" + cursor.Format(time.RFC3339Nano)
	resp := doRequest(t, "GET", url, "viewer-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	req := fetcher.lastReq
	if req.Mode != feed.ModeSuggested {
		t.Errorf("mode = %q", req.Mode)
	}
	if req.ViewerID != "viewer-1" {
		t.Errorf("viewer = %q", req.ViewerID)
	}
	if req.PageSize != 25 {
		t.Errorf("page size = %d, want 25", req.PageSize)
	}
	if req.Cursor == nil || !req.Cursor.Equal(cursor) {
		t.Errorf("cursor = %v, want %v", req.Cursor, cursor)
	}
}

func TestFeedLimitIsCappedAtMax(t *testing.T) {
	fetcher := &fakeFetcher{}
	srv, _ := newTestServer(t, fetcher)

	resp := doRequest(t, "GET", srv.URL+"/api/v1/feed?mode=suggested&limit=500", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if fetcher.lastReq.PageSize != 50 {
		t.Errorf("page size = %d, want the configured max", fetcher.lastReq.PageSize)
	}
}

func TestFeedRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	cases := []struct {
		name   string
		path   string
		viewer string
		status int
	}{
		{"unknown mode", "/api/v1/feed?mode=trending", "viewer-1", 400},
		{"missing mode", "/api/v1/feed", "viewer-1", 400},
		{"bad limit", "/api/v1/feed?mode=suggested&limit=abc", "viewer-1", 400},
		{"zero limit", "/api/v1/feed?mode=suggested&limit=0", "viewer-1", 400},
		{"bad cursor", "/api/v1/feed?mode=suggested&cursor=yesterday", "viewer-1", 400},
		{"anonymous following", "/api/v1/feed?mode=following", "", 401},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, "GET", srv.URL+tc.path, tc.viewer, "")
			if resp.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.status)
			}
		})
	}
}

func TestFeedFetchErrorMapsToStatus(t *testing.T) {
	fetcher := &fakeFetcher{err: apperrors.New(apperrors.ErrDataAccess, 503, "store down")}
	srv, _ := newTestServer(t, fetcher)

	resp := doRequest(t, "GET", srv.URL+"/api/v1/feed?mode=suggested", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["error"] == "" {
		t.Error("error body missing message")
	}
}

func TestLogLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	resp := doRequest(t, "POST", srv.URL+"/api/v1/logs", "author-1", `{"content":"wired the importer"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created model.Log
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Content != "wired the importer" {
		t.Fatalf("created = %+v", created)
	}

	resp = doRequest(t, "PATCH", srv.URL+"/api/v1/logs/"+created.ID, "author-1", `{"content":"rewired the importer"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("edit status = %d", resp.StatusCode)
	}

	resp = doRequest(t, "PATCH", srv.URL+"/api/v1/logs/"+created.ID, "intruder", `{"content":"mine now"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("edit by non-author status = %d", resp.StatusCode)
	}

	resp = doRequest(t, "DELETE", srv.URL+"/api/v1/logs/"+created.ID, "author-1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
}

func TestCreateLogWithoutViewer(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})
	resp := doRequest(t, "POST", srv.URL+"/api/v1/logs", "", `{"content":"anonymous"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestEngagementOverHTTP(t *testing.T) {
	srv, st := newTestServer(t, &fakeFetcher{})

	resp := doRequest(t, "POST", srv.URL+"/api/v1/logs/log-1/like", "viewer-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("like status = %d", resp.StatusCode)
	}
	var state engage.LogState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if !state.ViewerLiked || state.LikesCount != 1 {
		t.Errorf("state after like = %+v", state)
	}

	rows, err := st.Query(context.Background(), store.CollectionLikes, store.Query{
		Filters: []store.Filter{store.Eq("user_id", "viewer-1")},
	})
	if err != nil || len(rows) != 1 {
		t.Errorf("persisted likes = %d, err = %v", len(rows), err)
	}

	resp = doRequest(t, "DELETE", srv.URL+"/api/v1/logs/log-1/like", "viewer-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unlike status = %d", resp.StatusCode)
	}

	resp = doRequest(t, "POST", srv.URL+"/api/v1/logs/log-1/relog", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous relog status = %d", resp.StatusCode)
	}
}

func TestCommentsOverHTTP(t *testing.T) {
	srv, st := newTestServer(t, &fakeFetcher{})

	resp := doRequest(t, "POST", srv.URL+"/api/v1/logs", "author-1", `{"content":"daily entry"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create log status = %d", resp.StatusCode)
	}
	var log model.Log
	if err := json.NewDecoder(resp.Body).Decode(&log); err != nil {
		t.Fatal(err)
	}

	resp = doRequest(t, "POST", srv.URL+"/api/v1/logs/"+log.ID+"/comments", "commenter-1", `{"content":"congrats"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create comment status = %d", resp.StatusCode)
	}
	var comment model.Comment
	if err := json.NewDecoder(resp.Body).Decode(&comment); err != nil {
		t.Fatal(err)
	}
	if comment.ID == "" || comment.LogID != log.ID || comment.Content != "congrats" {
		t.Fatalf("comment = %+v", comment)
	}

	rows, err := st.Query(context.Background(), store.CollectionComments, store.Query{
		Filters: []store.Filter{store.Eq("log_id", log.ID)},
	})
	if err != nil || len(rows) != 1 {
		t.Errorf("persisted comments = %d, err = %v", len(rows), err)
	}

	resp = doRequest(t, "POST", srv.URL+"/api/v1/logs/"+log.ID+"/comments", "", `{"content":"anon"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous comment status = %d", resp.StatusCode)
	}
	resp = doRequest(t, "POST", srv.URL+"/api/v1/logs/no-such-log/comments", "commenter-1", `{"content":"hi"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("comment on missing log status = %d", resp.StatusCode)
	}

	resp = doRequest(t, "DELETE", srv.URL+"/api/v1/comments/"+comment.ID, "intruder", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("delete by non-author status = %d", resp.StatusCode)
	}
	resp = doRequest(t, "DELETE", srv.URL+"/api/v1/comments/"+comment.ID, "commenter-1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
}

func TestEngagementStoreFailureMapsToServiceUnavailable(t *testing.T) {
	srv, st := newTestServer(t, &fakeFetcher{})
	st.SetFailure(errors.New("store down"))

	resp := doRequest(t, "POST", srv.URL+"/api/v1/logs/log-1/like", "viewer-1", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestScrollRoundTripOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	resp := doRequest(t, "PUT", srv.URL+"/api/v1/scroll", "viewer-1", `{"route":"/feed","offset":2240}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("save status = %d", resp.StatusCode)
	}

	resp = doRequest(t, "GET", srv.URL+"/api/v1/scroll?route=/feed", "viewer-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restore status = %d", resp.StatusCode)
	}
	var body struct {
		Found  bool  `json:"found"`
		Offset int64 `json:"offset"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Found || body.Offset != 2240 {
		t.Errorf("restored = %+v", body)
	}

	// A different viewer sees nothing.
	resp = doRequest(t, "GET", srv.URL+"/api/v1/scroll?route=/feed", "viewer-2", "")
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Found {
		t.Error("scroll position leaked across viewers")
	}
}

func TestPutScrollRequiresRoute(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})
	resp := doRequest(t, "PUT", srv.URL+"/api/v1/scroll", "viewer-1", `{"offset":10}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCacheStatsDisabled(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})
	resp := doRequest(t, "GET", srv.URL+"/api/v1/cache/stats", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "disabled" {
		t.Errorf("body = %v", body)
	}
}
