// Package database provides storage backends for the aggregation service.
package database

import (
	"context"
	"time"

	"threatfeed/internal/model"
)

// Store defines the persistence contract for sources, articles and tags.
// Both the SQLite and PostgreSQL implementations satisfy this interface.
// The (source_id, guid) uniqueness on articles is enforced by the database
// itself; callers' existence checks are only a fast path.
type Store interface {
	Close() error

	// Ping reports whether the store is reachable. Sync runs use it as an
	// up-front gate so "storage unavailable" is distinguishable from
	// "no results".
	Ping(ctx context.Context) error

	// DatabaseType returns the backend name ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Source operations
	ListSources(ctx context.Context) ([]model.Source, error)
	// ListActiveSources returns active sources ordered least recently
	// fetched first, never-fetched sources before everything else.
	ListActiveSources(ctx context.Context) ([]model.Source, error)
	CreateSource(ctx context.Context, name, feedURL string) (int64, error)
	GetOrCreateSource(ctx context.Context, name, feedURL string) (int64, bool, error)
	MarkFetchAttempt(ctx context.Context, sourceID int64, at time.Time) error
	MarkFetchSuccess(ctx context.Context, sourceID int64, at time.Time) error
	MarkFetchFailure(ctx context.Context, sourceID int64, message string) error

	// Article operations
	// GetArticleByGUID returns nil (no error) when the article is absent.
	GetArticleByGUID(ctx context.Context, sourceID int64, guid string) (*model.Article, error)
	// InsertArticle inserts unless (source_id, guid) already exists.
	// It reports whether a row was written and fills in the article ID.
	InsertArticle(ctx context.Context, article *model.Article) (bool, error)
	InsertArticleTags(ctx context.Context, articleID int64, tags []model.TagSuggestion) error
	// QueryArticles returns one page of matches plus the total match count.
	QueryArticles(ctx context.Context, filter model.ArticleFilter) ([]model.Article, int, error)
	GetStats(ctx context.Context) (*model.Stats, error)
}
