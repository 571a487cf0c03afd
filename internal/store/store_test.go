package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

var storeNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func insertLog(t *testing.T, m *Memory, id string, age time.Duration, extra Row) {
	t.Helper()
	row := Row{
		"id":         id,
		"user_id":    "author",
		"content":    "content",
		"created_at": storeNow.Add(-age),
		"updated_at": storeNow.Add(-age),
	}
	for k, v := range extra {
		row[k] = v
	}
	if _, err := m.Insert(context.Background(), CollectionLogs, row); err != nil {
		t.Fatalf("inserting %s: %v", id, err)
	}
}

func TestMemoryFilterSemantics(t *testing.T) {
	m := NewMemory()
	hiddenAt := storeNow.Add(-time.Minute)
	insertLog(t, m, "old", 48*time.Hour, nil)
	insertLog(t, m, "new", time.Hour, nil)
	insertLog(t, m, "hidden", time.Hour, Row{"hidden_at": hiddenAt})

	t.Run("eq", func(t *testing.T) {
		rows, err := m.Query(context.Background(), CollectionLogs, Query{
			Filters: []Filter{Eq("id", "new")},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 1 || rows[0].StringValue("id") != "new" {
			t.Errorf("eq returned %d rows", len(rows))
		}
	})

	t.Run("in", func(t *testing.T) {
		rows, err := m.Query(context.Background(), CollectionLogs, Query{
			Filters: []Filter{In("id", []string{"old", "hidden"})},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 {
			t.Errorf("in returned %d rows, want 2", len(rows))
		}
	})

	t.Run("lt is exclusive", func(t *testing.T) {
		bound := storeNow.Add(-time.Hour)
		rows, err := m.Query(context.Background(), CollectionLogs, Query{
			Filters: []Filter{Lt("created_at", bound)},
		})
		if err != nil {
			t.Fatal(err)
		}
		// "new" and "hidden" sit exactly at the bound and must be excluded.
		if len(rows) != 1 || rows[0].StringValue("id") != "old" {
			t.Errorf("lt returned %v rows, want only the older one", len(rows))
		}
	})

	t.Run("gte is inclusive", func(t *testing.T) {
		bound := storeNow.Add(-time.Hour)
		rows, err := m.Query(context.Background(), CollectionLogs, Query{
			Filters: []Filter{Gte("created_at", bound)},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 {
			t.Errorf("gte returned %d rows, want 2", len(rows))
		}
	})

	t.Run("null checks", func(t *testing.T) {
		visible, err := m.Query(context.Background(), CollectionLogs, Query{
			Filters: []Filter{IsNull("hidden_at")},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(visible) != 2 {
			t.Errorf("IsNull returned %d rows, want 2", len(visible))
		}
		hidden, err := m.Query(context.Background(), CollectionLogs, Query{
			Filters: []Filter{NotNull("hidden_at")},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(hidden) != 1 || hidden[0].StringValue("id") != "hidden" {
			t.Errorf("NotNull returned %d rows, want the hidden one", len(hidden))
		}
	})

	t.Run("order and limit", func(t *testing.T) {
		rows, err := m.Query(context.Background(), CollectionLogs, Query{
			OrderBy: "created_at",
			Desc:    true,
			Limit:   2,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 {
			t.Fatalf("limit returned %d rows, want 2", len(rows))
		}
		first, _ := rows[0].TimeValue("created_at")
		second, _ := rows[1].TimeValue("created_at")
		if first.Before(second) {
			t.Error("descending order violated")
		}
	})
}

func TestMemoryRejectsUnknownNames(t *testing.T) {
	m := NewMemory()
	if _, err := m.Query(context.Background(), "documents", Query{}); err == nil {
		t.Error("unknown collection accepted")
	}
	if _, err := m.Insert(context.Background(), CollectionLogs, Row{"title": "x"}); err == nil {
		t.Error("unknown field accepted on insert")
	}
	insertLog(t, m, "log-1", time.Hour, nil)
	_, err := m.Query(context.Background(), CollectionLogs, Query{
		Filters: []Filter{Eq("nope", 1)},
	})
	if err == nil {
		t.Error("unknown filter field accepted")
	}
}

func TestMemoryUpdateAndDelete(t *testing.T) {
	m := NewMemory()
	insertLog(t, m, "log-1", time.Hour, nil)
	insertLog(t, m, "log-2", time.Hour, nil)

	deletedAt := storeNow
	err := m.Update(context.Background(), CollectionLogs,
		[]Filter{Eq("id", "log-1")}, Row{"deleted_at": deletedAt})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	rows, _ := m.Query(context.Background(), CollectionLogs, Query{
		Filters: []Filter{NotNull("deleted_at")},
	})
	if len(rows) != 1 || rows[0].StringValue("id") != "log-1" {
		t.Errorf("update touched the wrong rows: %v", rows)
	}

	if err := m.Delete(context.Background(), CollectionLogs, nil); err == nil {
		t.Error("unfiltered delete accepted")
	}
	if err := m.Delete(context.Background(), CollectionLogs, []Filter{Eq("id", "log-2")}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	remaining, _ := m.Query(context.Background(), CollectionLogs, Query{})
	if len(remaining) != 1 {
		t.Errorf("%d rows remain after delete, want 1", len(remaining))
	}
}

func TestMemoryGroupCount(t *testing.T) {
	m := NewMemory()
	for i, logID := range []string{"log-1", "log-1", "log-1", "log-2"} {
		_, err := m.Insert(context.Background(), CollectionLikes, Row{
			"id":         string(rune('a' + i)),
			"user_id":    "fan",
			"log_id":     logID,
			"created_at": storeNow,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	counts, err := m.GroupCount(context.Background(), CollectionLikes,
		[]Filter{In("log_id", []string{"log-1", "log-2", "log-3"})}, "log_id")
	if err != nil {
		t.Fatalf("GroupCount: %v", err)
	}
	if counts["log-1"] != 3 || counts["log-2"] != 1 {
		t.Errorf("counts = %v, want log-1:3 log-2:1", counts)
	}
	if _, ok := counts["log-3"]; ok {
		t.Error("GroupCount invented a count for an unengaged log")
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemory()
	insertLog(t, m, "log-1", time.Hour, nil)
	boom := errors.New("boom")
	m.SetFailure(boom)

	if _, err := m.Query(context.Background(), CollectionLogs, Query{}); !errors.Is(err, boom) {
		t.Errorf("Query error = %v, want injected failure", err)
	}
	m.SetFailure(nil)
	if _, err := m.Query(context.Background(), CollectionLogs, Query{}); err != nil {
		t.Errorf("Query after clearing failure: %v", err)
	}
}

func TestBuildWhere(t *testing.T) {
	cursor := storeNow
	where, args, err := buildWhere(CollectionLogs, []Filter{
		IsNull("hidden_at"),
		IsNull("deleted_at"),
		Lt("created_at", cursor),
		In("user_id", []string{"a", "b"}),
	}, 1)
	if err != nil {
		t.Fatalf("buildWhere: %v", err)
	}
	want := ` WHERE "hidden_at" IS NULL AND "deleted_at" IS NULL AND "created_at" < $1 AND "user_id" = ANY($2)`
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 2 {
		t.Errorf("args = %d, want 2 (null checks bind nothing)", len(args))
	}

	where, args, err = buildWhere(CollectionLogs, nil, 1)
	if err != nil || where != "" || args != nil {
		t.Errorf("empty filters: where=%q args=%v err=%v", where, args, err)
	}

	if _, _, err := buildWhere(CollectionLogs, []Filter{Eq("bogus", 1)}, 1); err == nil {
		t.Error("unknown field accepted")
	}
	if _, _, err := buildWhere(CollectionLogs, []Filter{In("id", nil)}, 1); err != nil {
		t.Errorf("nil []string slice rejected: %v", err)
	}
}

func TestBuildWherePlaceholderOffset(t *testing.T) {
	// Update builds SET clauses first, so WHERE placeholders start later.
	where, args, err := buildWhere(CollectionLogs, []Filter{
		Eq("id", "log-1"),
		Eq("user_id", "author"),
	}, 3)
	if err != nil {
		t.Fatalf("buildWhere: %v", err)
	}
	want := ` WHERE "id" = $3 AND "user_id" = $4`
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 2 {
		t.Errorf("args = %d, want 2", len(args))
	}
}
