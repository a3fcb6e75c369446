package database

import (
	"strings"

	sq "github.com/Masterminds/squirrel"

	"threatfeed/internal/model"
)

// articleColumns is the scan order shared by both backends.
var articleColumns = []string{
	"id", "source_id", "category_id", "guid", "title", "description",
	"content", "excerpt", "author", "url", "image_url", "keywords",
	"sentiment_score", "read_time_minutes", "is_featured", "is_trending",
	"is_breaking", "moderation_status", "view_count", "published_at",
	"created_at",
}

// sortColumns whitelists user-selectable sort columns. Anything else falls
// back to published time.
var sortColumns = map[string]string{
	"published_at":      "published_at",
	"created_at":        "created_at",
	"title":             "title",
	"sentiment_score":   "sentiment_score",
	"read_time_minutes": "read_time_minutes",
	"view_count":        "view_count",
}

// articlePredicates translates a filter into squirrel WHERE conditions.
// caseFold is set for backends without ILIKE (SQLite).
func articlePredicates(f model.ArticleFilter, caseFold bool) []sq.Sqlizer {
	status := f.Status
	if status == "" {
		status = model.ModerationApproved
	}
	preds := []sq.Sqlizer{sq.Eq{"moderation_status": status}}

	if len(f.CategoryIDs) > 0 {
		preds = append(preds, sq.Eq{"category_id": f.CategoryIDs})
	}
	if len(f.SourceIDs) > 0 {
		preds = append(preds, sq.Eq{"source_id": f.SourceIDs})
	}
	if f.PublishedAfter != nil {
		preds = append(preds, sq.GtOrEq{"published_at": *f.PublishedAfter})
	}
	if f.PublishedBefore != nil {
		preds = append(preds, sq.LtOrEq{"published_at": *f.PublishedBefore})
	}
	if f.Featured != nil {
		preds = append(preds, sq.Eq{"is_featured": *f.Featured})
	}
	if f.Trending != nil {
		preds = append(preds, sq.Eq{"is_trending": *f.Trending})
	}
	if f.Breaking != nil {
		preds = append(preds, sq.Eq{"is_breaking": *f.Breaking})
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		if caseFold {
			pattern = strings.ToLower(pattern)
			preds = append(preds, sq.Expr("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", pattern, pattern))
		} else {
			preds = append(preds, sq.Expr("(title ILIKE ? OR description ILIKE ?)", pattern, pattern))
		}
	}
	return preds
}

func orderClause(f model.ArticleFilter) string {
	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "published_at"
	}
	dir := "DESC"
	if f.SortAscending {
		dir = "ASC"
	}
	return col + " " + dir
}

// buildArticleQueries produces the page and count statements for a filter
// using the given placeholder format.
func buildArticleQueries(f model.ArticleFilter, format sq.PlaceholderFormat, caseFold bool) (sq.SelectBuilder, sq.SelectBuilder) {
	builder := sq.StatementBuilder.PlaceholderFormat(format)
	preds := articlePredicates(f, caseFold)

	page := builder.Select(articleColumns...).From("articles")
	count := builder.Select("COUNT(*)").From("articles")
	for _, p := range preds {
		page = page.Where(p)
		count = count.Where(p)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	page = page.OrderBy(orderClause(f)).Limit(uint64(limit)).Offset(uint64(offset))
	return page, count
}
