// Package store defines the generic data-access boundary the feed core is
// built against: named record collections with filterable queries, grouped
// counts, and plain insert/update/delete. The hosted backend the product
// runs on exposes exactly this shape, so nothing above this package knows
// about SQL.
package store

import (
	"context"
	"time"
)

// Op is a filter predicate operator.
type Op int

const (
	OpEq Op = iota
	OpIn
	OpLt
	OpGte
	OpIsNull
	OpNotNull
)

// Filter is a single predicate over a collection field. Value is ignored for
// OpIsNull and OpNotNull; for OpIn it must be a []string.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter { return Filter{Field: field, Op: OpEq, Value: value} }

func In(field string, vals []string) Filter { return Filter{Field: field, Op: OpIn, Value: vals} }

func Lt(field string, value any) Filter { return Filter{Field: field, Op: OpLt, Value: value} }

func Gte(field string, value any) Filter { return Filter{Field: field, Op: OpGte, Value: value} }

func IsNull(field string) Filter { return Filter{Field: field, Op: OpIsNull} }

func NotNull(field string) Filter { return Filter{Field: field, Op: OpNotNull} }

// Query describes one read against a collection.
type Query struct {
	Filters []Filter
	// OrderBy is a timestamp field; Desc selects descending order.
	OrderBy string
	Desc    bool
	Limit   int
}

// Row is one record as returned by the backend. Timestamp fields decode as
// time.Time, everything else as string/int64/bool.
type Row map[string]any

// Store is the read/write capability over named collections.
type Store interface {
	Query(ctx context.Context, collection string, q Query) ([]Row, error)
	Count(ctx context.Context, collection string, filters []Filter) (int64, error)
	// GroupCount counts rows per distinct value of groupField, in a single
	// round trip. Feed assembly depends on this being one query, not N.
	GroupCount(ctx context.Context, collection string, filters []Filter, groupField string) (map[string]int64, error)
	Insert(ctx context.Context, collection string, record Row) (Row, error)
	Update(ctx context.Context, collection string, filters []Filter, patch Row) error
	Delete(ctx context.Context, collection string, filters []Filter) error
}

// Collections known to the platform. Postgres validates every collection and
// field name against this allowlist before building SQL.
const (
	CollectionLogs     = "logs"
	CollectionProfiles = "profiles"
	CollectionFollows  = "follows"
	CollectionLikes    = "likes"
	CollectionComments = "comments"
	CollectionRelogs   = "relogs"
)

var collectionFields = map[string]map[string]bool{
	CollectionLogs: {
		"id": true, "user_id": true, "content": true, "image_url": true,
		"created_at": true, "updated_at": true, "edited_at": true,
		"hidden_at": true, "deleted_at": true,
	},
	CollectionProfiles: {
		"id": true, "user_id": true, "username": true, "display_name": true,
		"bio": true, "avatar_url": true, "created_at": true, "updated_at": true,
	},
	CollectionFollows: {
		"id": true, "follower_id": true, "following_id": true, "created_at": true,
	},
	CollectionLikes: {
		"id": true, "user_id": true, "log_id": true, "created_at": true,
	},
	CollectionComments: {
		"id": true, "user_id": true, "log_id": true, "content": true,
		"created_at": true, "updated_at": true,
	},
	CollectionRelogs: {
		"id": true, "user_id": true, "log_id": true, "created_at": true,
	},
}

// ValidField reports whether field exists on the named collection.
func ValidField(collection, field string) bool {
	fields, ok := collectionFields[collection]
	return ok && fields[field]
}

// ValidCollection reports whether the collection name is known.
func ValidCollection(collection string) bool {
	_, ok := collectionFields[collection]
	return ok
}

// TimeValue coerces a Row field to time.Time; ok is false when the field is
// absent, null, or not a timestamp.
func (r Row) TimeValue(field string) (time.Time, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, ok := v.(time.Time)
	return t, ok
}

// StringValue coerces a Row field to string, returning "" when absent.
func (r Row) StringValue(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}
