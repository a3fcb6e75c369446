// SQLite storage backend. Also used as the test database.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"threatfeed/internal/model"
)

// SQLiteStore wraps the SQLite connection.
type SQLiteStore struct {
	conn *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Single connection: SQLite allows one writer, and it keeps
	// in-memory databases on a single backing store.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	db := &SQLiteStore{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *SQLiteStore) Close() error {
	return db.conn.Close()
}

func (db *SQLiteStore) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *SQLiteStore) DatabaseType() string {
	return "SQLite"
}

func (db *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		feed_url TEXT NOT NULL UNIQUE,
		is_active INTEGER NOT NULL DEFAULT 1,
		error_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		last_fetched_at TIMESTAMP,
		last_successful_fetch_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		category_id INTEGER,
		guid TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		excerpt TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '[]',
		sentiment_score REAL NOT NULL DEFAULT 0,
		read_time_minutes INTEGER NOT NULL DEFAULT 1,
		is_featured INTEGER NOT NULL DEFAULT 0,
		is_trending INTEGER NOT NULL DEFAULT 0,
		is_breaking INTEGER NOT NULL DEFAULT 0,
		moderation_status TEXT NOT NULL DEFAULT 'approved',
		view_count INTEGER NOT NULL DEFAULT 0,
		published_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(source_id, guid)
	);
	CREATE TABLE IF NOT EXISTS article_tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
		tag TEXT NOT NULL,
		confidence REAL NOT NULL,
		UNIQUE(article_id, tag)
	);

	CREATE INDEX IF NOT EXISTS idx_articles_source_id ON articles(source_id);
	CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at DESC);
	CREATE INDEX IF NOT EXISTS idx_articles_moderation ON articles(moderation_status);
	CREATE INDEX IF NOT EXISTS idx_article_tags_article_id ON article_tags(article_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Source Methods ---

func (db *SQLiteStore) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, feed_url, is_active, error_count, last_error,
		       last_fetched_at, last_successful_fetch_at, created_at
		FROM sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

func (db *SQLiteStore) ListActiveSources(ctx context.Context) ([]model.Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, feed_url, is_active, error_count, last_error,
		       last_fetched_at, last_successful_fetch_at, created_at
		FROM sources
		WHERE is_active = 1
		ORDER BY last_fetched_at ASC NULLS FIRST, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

func (db *SQLiteStore) CreateSource(ctx context.Context, name, feedURL string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO sources (name, feed_url, created_at) VALUES (?, ?, ?)",
		name, feedURL, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *SQLiteStore) GetOrCreateSource(ctx context.Context, name, feedURL string) (int64, bool, error) {
	var id int64
	err := db.conn.QueryRowContext(ctx, "SELECT id FROM sources WHERE feed_url = ?", feedURL).Scan(&id)
	if err == sql.ErrNoRows {
		id, err := db.CreateSource(ctx, name, feedURL)
		return id, true, err
	}
	return id, false, err
}

func (db *SQLiteStore) MarkFetchAttempt(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE sources SET last_fetched_at = ? WHERE id = ?", at, sourceID)
	return err
}

func (db *SQLiteStore) MarkFetchSuccess(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources
		SET last_successful_fetch_at = ?, error_count = 0, last_error = ''
		WHERE id = ?`, at, sourceID)
	return err
}

func (db *SQLiteStore) MarkFetchFailure(ctx context.Context, sourceID int64, message string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources
		SET error_count = error_count + 1, last_error = ?
		WHERE id = ?`, message, sourceID)
	return err
}

// --- Article Methods ---

func (db *SQLiteStore) GetArticleByGUID(ctx context.Context, sourceID int64, guid string) (*model.Article, error) {
	query, args, err := sq.Select(articleColumns...).From("articles").
		Where(sq.Eq{"source_id": sourceID, "guid": guid}).
		ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanArticleLite(db.conn.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get article by guid: %w", err)
	}
	return a, nil
}

func (db *SQLiteStore) InsertArticle(ctx context.Context, article *model.Article) (bool, error) {
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now().UTC()
	}
	keywords, err := json.Marshal(article.Keywords)
	if err != nil {
		return false, fmt.Errorf("marshal keywords: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO articles (source_id, category_id, guid, title, description,
			content, excerpt, author, url, image_url, keywords, sentiment_score,
			read_time_minutes, is_featured, is_trending, is_breaking,
			moderation_status, view_count, published_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, guid) DO NOTHING`,
		article.SourceID, article.CategoryID, article.GUID, article.Title,
		article.Description, article.Content, article.Excerpt, article.Author,
		article.URL, article.ImageURL, string(keywords), article.SentimentScore,
		article.ReadTimeMinutes, article.IsFeatured, article.IsTrending,
		article.IsBreaking, article.ModerationStatus, article.ViewCount,
		article.PublishedAt, article.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	id, _ := res.LastInsertId()
	article.ID = id
	return true, nil
}

func (db *SQLiteStore) InsertArticleTags(ctx context.Context, articleID int64, tags []model.TagSuggestion) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO article_tags (article_id, tag, confidence)
		VALUES (?, ?, ?)
		ON CONFLICT(article_id, tag) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, tag := range tags {
		if _, err := stmt.ExecContext(ctx, articleID, tag.Tag, tag.Confidence); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (db *SQLiteStore) QueryArticles(ctx context.Context, filter model.ArticleFilter) ([]model.Article, int, error) {
	pageQB, countQB := buildArticleQueries(filter, sq.Question, true)

	countSQL, countArgs, err := countQB.ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := db.conn.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count articles: %w", err)
	}

	pageSQL, pageArgs, err := pageQB.ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := db.conn.QueryContext(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []model.Article
	for rows.Next() {
		a, err := scanArticleLite(rows)
		if err != nil {
			return nil, 0, err
		}
		articles = append(articles, *a)
	}
	return articles, total, rows.Err()
}

func (db *SQLiteStore) GetStats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{}
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&stats.TotalArticles, "SELECT COUNT(*) FROM articles WHERE moderation_status = 'approved'", nil},
		{&stats.RecentArticles, "SELECT COUNT(*) FROM articles WHERE moderation_status = 'approved' AND created_at >= ?", []any{cutoff}},
		{&stats.FeaturedArticles, "SELECT COUNT(*) FROM articles WHERE moderation_status = 'approved' AND is_featured = 1", nil},
		{&stats.TrendingArticles, "SELECT COUNT(*) FROM articles WHERE moderation_status = 'approved' AND is_trending = 1", nil},
		{&stats.BreakingNews, "SELECT COUNT(*) FROM articles WHERE moderation_status = 'approved' AND is_breaking = 1", nil},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, c.query, c.args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats count: %w", err)
		}
	}

	var last time.Time
	err := db.conn.QueryRowContext(ctx, `
		SELECT created_at FROM articles
		WHERE moderation_status = 'approved'
		ORDER BY created_at DESC LIMIT 1`).Scan(&last)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("stats last updated: %w", err)
	}
	if err == nil {
		stats.LastUpdated = &last
	}
	return stats, nil
}

// --- Helper functions ---

func scanArticleLite(row rowScanner) (*model.Article, error) {
	var a model.Article
	var categoryID sql.NullInt64
	var keywords string
	if err := row.Scan(
		&a.ID, &a.SourceID, &categoryID, &a.GUID, &a.Title, &a.Description,
		&a.Content, &a.Excerpt, &a.Author, &a.URL, &a.ImageURL, &keywords,
		&a.SentimentScore, &a.ReadTimeMinutes, &a.IsFeatured, &a.IsTrending,
		&a.IsBreaking, &a.ModerationStatus, &a.ViewCount, &a.PublishedAt,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}
	if categoryID.Valid {
		a.CategoryID = &categoryID.Int64
	}
	if keywords != "" {
		if err := json.Unmarshal([]byte(keywords), &a.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords: %w", err)
		}
	}
	return &a, nil
}
