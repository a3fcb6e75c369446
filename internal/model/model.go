// Package model defines shared data structures.
package model

import "time"

// ModerationApproved is the status every article gets on ingestion.
// Other statuses are assigned by external moderation tooling.
const ModerationApproved = "approved"

// Source represents a configured feed endpoint the aggregator polls.
type Source struct {
	ID                    int64      `json:"id"`
	Name                  string     `json:"name"`
	FeedURL               string     `json:"feed_url"`
	IsActive              bool       `json:"is_active"`
	ErrorCount            int        `json:"error_count"`
	LastError             string     `json:"last_error,omitempty"`
	LastFetchedAt         *time.Time `json:"last_fetched_at,omitempty"`
	LastSuccessfulFetchAt *time.Time `json:"last_successful_fetch_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// Article is the normalized, deduplicated record stored for one feed entry.
// The pair (SourceID, GUID) is unique; an article is never written twice by
// the aggregation pipeline. View counts, featured flags and moderation are
// mutated by external collaborators only.
type Article struct {
	ID               int64     `json:"id"`
	SourceID         int64     `json:"source_id"`
	CategoryID       *int64    `json:"category_id,omitempty"`
	GUID             string    `json:"guid"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Content          string    `json:"content"`
	Excerpt          string    `json:"excerpt"`
	Author           string    `json:"author,omitempty"`
	URL              string    `json:"url"`
	ImageURL         string    `json:"image_url,omitempty"`
	Keywords         []string  `json:"keywords"`
	SentimentScore   float64   `json:"sentiment_score"`
	ReadTimeMinutes  int       `json:"read_time_minutes"`
	IsFeatured       bool      `json:"is_featured"`
	IsTrending       bool      `json:"is_trending"`
	IsBreaking       bool      `json:"is_breaking"`
	ModerationStatus string    `json:"moderation_status"`
	ViewCount        int64     `json:"view_count"`
	PublishedAt      time.Time `json:"published_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// TagSuggestion is a vocabulary tag matched during content analysis.
// Suggestions become article_tags rows when their article is inserted.
type TagSuggestion struct {
	Tag        string  `json:"tag"`
	Confidence float64 `json:"confidence"`
}

// FetchResult is the per-source outcome of one sync pass. Failures are
// values, never propagated errors, so one bad source cannot abort a batch.
type FetchResult struct {
	SourceID        int64     `json:"source_id"`
	SourceName      string    `json:"source"`
	Success         bool      `json:"success"`
	ItemCount       int       `json:"item_count"`
	NewArticleCount int       `json:"new_article_count"`
	Error           string    `json:"error,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// ArticleFilter describes a paginated article query. Zero values mean
// "no constraint" except Status, which defaults to approved.
type ArticleFilter struct {
	CategoryIDs     []int64
	SourceIDs       []int64
	PublishedAfter  *time.Time
	PublishedBefore *time.Time
	Featured        *bool
	Trending        *bool
	Breaking        *bool
	Status          string
	Search          string
	SortBy          string
	SortAscending   bool
	Limit           int
	Offset          int
}

// Pagination describes the window a query result covers.
type Pagination struct {
	Total       int  `json:"total"`
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	TotalPages  int  `json:"total_pages"`
	HasNextPage bool `json:"has_next_page"`
	HasPrevPage bool `json:"has_prev_page"`
}

// ArticlePage bundles one page of articles with its pagination block.
type ArticlePage struct {
	Articles   []Article  `json:"articles"`
	Pagination Pagination `json:"pagination"`
}

// Stats are aggregate counts over approved articles.
type Stats struct {
	TotalArticles    int        `json:"total_articles"`
	RecentArticles   int        `json:"recent_articles"`
	FeaturedArticles int        `json:"featured_articles"`
	TrendingArticles int        `json:"trending_articles"`
	BreakingNews     int        `json:"breaking_news"`
	LastUpdated      *time.Time `json:"last_updated"`
}
