// Package model holds the domain records the feed core reads from the data
// store, plus the assembled FeedItem the API returns. The store owns and
// mutates these records; the core only holds per-request snapshots.
package model

import (
	"time"

	"github.com/worklogapp/feed-platform/internal/store"
)

// Log is one work-log post.
type Log struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Content   string     `json:"content"`
	ImageURL  string     `json:"image_url,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	HiddenAt  *time.Time `json:"hidden_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Visible reports whether the log may appear in any feed.
func (l Log) Visible() bool {
	return l.HiddenAt == nil && l.DeletedAt == nil
}

// Profile is a user's public profile.
type Profile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Comment is one comment on a log.
type Comment struct {
	ID        string    `json:"id"`
	LogID     string    `json:"log_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedItem is a log assembled with the side data a client renders: the
// author profile, engagement counts, and the viewer's own interaction flags.
// Author is nil when the profile could not be resolved; the page still
// returns the item.
type FeedItem struct {
	Log
	Author         *Profile `json:"author,omitempty"`
	LikesCount     int64    `json:"likes_count"`
	CommentsCount  int64    `json:"comments_count"`
	RelogsCount    int64    `json:"relogs_count"`
	ViewerLiked    bool     `json:"viewer_liked"`
	ViewerRelogged bool     `json:"viewer_relogged"`
}

// RawEngagement is the weighted interaction total the scorer saturates:
// likes count once, comments three times, relogs four.
func (f FeedItem) RawEngagement() float64 {
	return float64(f.LikesCount) + 3*float64(f.CommentsCount) + 4*float64(f.RelogsCount)
}

// LogFromRow decodes a logs-collection row, tolerating absent fields.
func LogFromRow(row store.Row) Log {
	l := Log{
		ID:       row.StringValue("id"),
		UserID:   row.StringValue("user_id"),
		Content:  row.StringValue("content"),
		ImageURL: row.StringValue("image_url"),
	}
	if t, ok := row.TimeValue("created_at"); ok {
		l.CreatedAt = t
	}
	if t, ok := row.TimeValue("updated_at"); ok {
		l.UpdatedAt = t
	}
	if t, ok := row.TimeValue("edited_at"); ok {
		l.EditedAt = &t
	}
	if t, ok := row.TimeValue("hidden_at"); ok {
		l.HiddenAt = &t
	}
	if t, ok := row.TimeValue("deleted_at"); ok {
		l.DeletedAt = &t
	}
	return l
}

// CommentFromRow decodes a comments-collection row.
func CommentFromRow(row store.Row) Comment {
	c := Comment{
		ID:      row.StringValue("id"),
		LogID:   row.StringValue("log_id"),
		UserID:  row.StringValue("user_id"),
		Content: row.StringValue("content"),
	}
	if t, ok := row.TimeValue("created_at"); ok {
		c.CreatedAt = t
	}
	return c
}

// ProfileFromRow decodes a profiles-collection row.
func ProfileFromRow(row store.Row) Profile {
	p := Profile{
		ID:          row.StringValue("id"),
		UserID:      row.StringValue("user_id"),
		Username:    row.StringValue("username"),
		DisplayName: row.StringValue("display_name"),
		Bio:         row.StringValue("bio"),
		AvatarURL:   row.StringValue("avatar_url"),
	}
	if t, ok := row.TimeValue("created_at"); ok {
		p.CreatedAt = t
	}
	return p
}
