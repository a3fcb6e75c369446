package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"threatfeed/internal/analysis"
	"threatfeed/internal/database"
	"threatfeed/internal/model"
)

// Outcome is the result of processing one feed entry.
type Outcome struct {
	Article     *model.Article
	IsNew       bool
	IsDuplicate bool
}

// Processor normalizes raw feed entries into articles: cleans text,
// deduplicates against storage, runs content analysis, and persists the
// article plus its suggested tags.
type Processor struct {
	store    database.Store
	analyzer *analysis.Analyzer
	log      *logrus.Entry
}

// NewProcessor builds a processor around a store and an analyzer.
func NewProcessor(store database.Store, analyzer *analysis.Analyzer, log *logrus.Entry) *Processor {
	return &Processor{store: store, analyzer: analyzer, log: log}
}

// ProcessEntry turns one raw entry into a stored article. It returns
// (nil, nil) when the entry fails validation (missing title or link); that
// is a silent skip, not an error. Duplicate (source, guid) pairs return the
// existing article untouched.
func (p *Processor) ProcessEntry(ctx context.Context, item *gofeed.Item, source model.Source) (*Outcome, error) {
	title := analysis.CollapseWhitespace(analysis.StripHTML(item.Title))
	link := strings.TrimSpace(item.Link)
	if title == "" || link == "" {
		return nil, nil
	}

	guid := strings.TrimSpace(item.GUID)
	if guid == "" {
		guid = link
	}

	// Fast path; the unique constraint on (source_id, guid) is the real
	// enforcement under concurrent writers.
	existing, err := p.store.GetArticleByGUID(ctx, source.ID, guid)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if existing != nil {
		return &Outcome{Article: existing, IsDuplicate: true}, nil
	}

	description := analysis.CollapseWhitespace(analysis.StripHTML(item.Description))
	content := analysis.CollapseWhitespace(analysis.StripHTML(item.Content))

	result := p.analyzer.Analyze(title + " " + description + " " + content)

	excerptSource := item.Content
	if excerptSource == "" {
		excerptSource = item.Description
	}

	article := &model.Article{
		SourceID:         source.ID,
		GUID:             guid,
		Title:            title,
		Description:      description,
		Content:          content,
		Excerpt:          p.analyzer.Excerpt(excerptSource),
		Author:           entryAuthor(item),
		URL:              link,
		ImageURL:         entryImage(item),
		Keywords:         result.Keywords,
		SentimentScore:   result.SentimentScore,
		ReadTimeMinutes:  result.ReadTimeMinutes,
		IsTrending:       result.IsTrending,
		IsBreaking:       result.IsBreaking,
		ModerationStatus: model.ModerationApproved,
		PublishedAt:      entryPublished(item),
	}

	inserted, err := p.store.InsertArticle(ctx, article)
	if err != nil {
		return nil, fmt.Errorf("insert article: %w", err)
	}
	if !inserted {
		// Lost the insert race; hand back whatever the winner wrote.
		existing, err := p.store.GetArticleByGUID(ctx, source.ID, guid)
		if err != nil {
			return nil, fmt.Errorf("dedup lookup after conflict: %w", err)
		}
		return &Outcome{Article: existing, IsDuplicate: true}, nil
	}

	if err := p.store.InsertArticleTags(ctx, article.ID, result.SuggestedTags); err != nil {
		// The article itself is in; a tag failure is not worth unwinding it.
		p.log.WithError(err).WithField("article_id", article.ID).Warn("failed to store tags")
	}

	return &Outcome{Article: article, IsNew: true}, nil
}

// entryPublished resolves the publish timestamp: the parsed date, then a
// best-effort parse of the raw date string, then now.
func entryPublished(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.Published != "" {
		if t, err := dateparse.ParseAny(item.Published); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func entryAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// entryImage resolves a representative image. Priority: image-typed
// enclosure, the entry's image field, a media:thumbnail extension, then the
// first <img> inside the raw content markup. First match wins.
func entryImage(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if media, ok := item.Extensions["media"]; ok {
		for _, thumb := range media["thumbnail"] {
			if url := thumb.Attrs["url"]; url != "" {
				return url
			}
		}
	}
	markup := item.Content
	if markup == "" {
		markup = item.Description
	}
	return firstImageSrc(markup)
}

func firstImageSrc(markup string) string {
	if !strings.Contains(markup, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return src
}
