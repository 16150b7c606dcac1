package xapi

import (
	"net/http"
	"time"
)

// Credential identifies a platform account for login. The secret is held in
// memory for the duration of a job and never written to the session cache.
type Credential struct {
	AccountID string `json:"account_id"`
	Secret    string `json:"secret"`
}

// Session is an authenticated cookie bundle reusable across fetches without
// re-login. Sessions are owned by the session cache, one live session per
// account.
type Session struct {
	AccountID string         `json:"account_id"`
	Cookies   []*http.Cookie `json:"cookies"`
	CreatedAt time.Time      `json:"created_at"`
}

// FetchKind selects which platform call a FetchSpec issues.
type FetchKind string

const (
	FetchTimeline FetchKind = "timeline"
	FetchSearch   FetchKind = "search"
)

// SearchKind maps to the platform's search tabs.
type SearchKind string

const (
	SearchTop    SearchKind = "Top"
	SearchLatest SearchKind = "Latest"
)

// SortKey is the stable ordering applied to a task's collected items.
type SortKey string

const (
	SortRecency    SortKey = "recency"
	SortEngagement SortKey = "engagement"
)

// FetchSpec describes the platform call a query plan resolved to: which
// endpoint, its arguments, and how results are ordered.
type FetchSpec struct {
	Kind       FetchKind  `json:"kind"`
	Handle     string     `json:"handle,omitempty"`
	Query      string     `json:"query,omitempty"`
	SearchKind SearchKind `json:"search_kind,omitempty"`
	Sort       SortKey    `json:"sort"`
}

type Engagement struct {
	Reposts int `json:"reposts"`
	Likes   int `json:"likes"`
	Replies int `json:"replies"`
}

// Post is one scraped item. Immutable once collected.
type Post struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	AuthorID   string     `json:"author_id"`
	Text       string     `json:"text"`
	CreatedAt  time.Time  `json:"created_at"`
	URL        string     `json:"url"`
	Engagement Engagement `json:"engagement"`
}

// Page is one cursor-delimited chunk of results. An empty NextCursor means
// the platform has no further pages.
type Page struct {
	Posts      []Post `json:"posts"`
	NextCursor string `json:"next_cursor"`
}
