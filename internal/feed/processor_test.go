package feed

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatfeed/internal/analysis"
	"threatfeed/internal/database"
	"threatfeed/internal/model"
)

func newTestLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	store, err := database.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestProcessor(t *testing.T) (*Processor, database.Store) {
	t.Helper()
	store := newTestStore(t)
	analyzer := analysis.New(analysis.DefaultConfig())
	return NewProcessor(store, analyzer, newTestLog()), store
}

func createTestSource(t *testing.T, store database.Store, name, url string) model.Source {
	t.Helper()
	id, err := store.CreateSource(context.Background(), name, url)
	require.NoError(t, err)
	return model.Source{ID: id, Name: name, FeedURL: url}
}

func TestProcessEntryStoresAnalyzedArticle(t *testing.T) {
	processor, store := newTestProcessor(t)
	source := createTestSource(t, store, "Vendor Blog", "https://vendor.example/feed.xml")

	published := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	item := &gofeed.Item{
		GUID:            "post-1",
		Title:           "Ransomware gang exploits zero-day vulnerability",
		Link:            "https://vendor.example/posts/1",
		Description:     "<p>A new <b>ransomware</b> campaign abuses an unpatched flaw.</p>",
		PublishedParsed: &published,
		Author:          &gofeed.Person{Name: "Jordan Reyes"},
	}

	outcome, err := processor.ProcessEntry(context.Background(), item, source)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.True(t, outcome.IsNew)
	assert.False(t, outcome.IsDuplicate)

	a := outcome.Article
	require.NotNil(t, a)
	assert.NotZero(t, a.ID)
	assert.Equal(t, source.ID, a.SourceID)
	assert.Equal(t, "post-1", a.GUID)
	assert.Equal(t, "Ransomware gang exploits zero-day vulnerability", a.Title)
	assert.NotContains(t, a.Description, "<p>")
	assert.Equal(t, "Jordan Reyes", a.Author)
	assert.Equal(t, model.ModerationApproved, a.ModerationStatus)
	assert.Equal(t, published, a.PublishedAt)
	assert.GreaterOrEqual(t, a.ReadTimeMinutes, 1)
	assert.NotEmpty(t, a.Keywords)

	stored, err := store.GetArticleByGUID(context.Background(), source.ID, "post-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, a.ID, stored.ID)
}

func TestProcessEntrySkipsDuplicateGUID(t *testing.T) {
	processor, store := newTestProcessor(t)
	source := createTestSource(t, store, "Vendor Blog", "https://vendor.example/feed.xml")

	item := &gofeed.Item{
		GUID:  "post-1",
		Title: "First version of the headline",
		Link:  "https://vendor.example/posts/1",
	}
	first, err := processor.ProcessEntry(context.Background(), item, source)
	require.NoError(t, err)
	require.True(t, first.IsNew)

	// Same guid with an updated headline must not touch the stored copy.
	item.Title = "Updated version of the headline"
	second, err := processor.ProcessEntry(context.Background(), item, source)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.False(t, second.IsNew)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.Article.ID, second.Article.ID)
	assert.Equal(t, "First version of the headline", second.Article.Title)
}

func TestProcessEntrySameGUIDAcrossSources(t *testing.T) {
	processor, store := newTestProcessor(t)
	sourceA := createTestSource(t, store, "Blog A", "https://a.example/feed.xml")
	sourceB := createTestSource(t, store, "Blog B", "https://b.example/feed.xml")

	item := &gofeed.Item{
		GUID:  "shared-guid",
		Title: "Cross-posted advisory",
		Link:  "https://a.example/posts/1",
	}
	a, err := processor.ProcessEntry(context.Background(), item, sourceA)
	require.NoError(t, err)
	b, err := processor.ProcessEntry(context.Background(), item, sourceB)
	require.NoError(t, err)

	// Deduplication is scoped to one source.
	assert.True(t, a.IsNew)
	assert.True(t, b.IsNew)
	assert.NotEqual(t, a.Article.ID, b.Article.ID)
}

func TestProcessEntryRejectsMissingFields(t *testing.T) {
	processor, store := newTestProcessor(t)
	source := createTestSource(t, store, "Vendor Blog", "https://vendor.example/feed.xml")

	cases := []struct {
		name string
		item *gofeed.Item
	}{
		{"missing title", &gofeed.Item{Link: "https://vendor.example/posts/1"}},
		{"missing link", &gofeed.Item{Title: "Headline"}},
		{"whitespace title", &gofeed.Item{Title: "   ", Link: "https://vendor.example/posts/1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, err := processor.ProcessEntry(context.Background(), tc.item, source)
			require.NoError(t, err)
			assert.Nil(t, outcome)
		})
	}

	_, total, err := store.QueryArticles(context.Background(), model.ArticleFilter{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestProcessEntryGUIDFallsBackToLink(t *testing.T) {
	processor, store := newTestProcessor(t)
	source := createTestSource(t, store, "Vendor Blog", "https://vendor.example/feed.xml")

	item := &gofeed.Item{
		Title: "No guid on this one",
		Link:  "https://vendor.example/posts/42",
	}
	outcome, err := processor.ProcessEntry(context.Background(), item, source)
	require.NoError(t, err)
	require.True(t, outcome.IsNew)
	assert.Equal(t, "https://vendor.example/posts/42", outcome.Article.GUID)

	// A second pass over the same link is a duplicate.
	again, err := processor.ProcessEntry(context.Background(), item, source)
	require.NoError(t, err)
	assert.True(t, again.IsDuplicate)
}

func TestProcessEntryImagePriority(t *testing.T) {
	item := &gofeed.Item{
		Enclosures: []*gofeed.Enclosure{
			{Type: "audio/mpeg", URL: "https://cdn.example/audio.mp3"},
			{Type: "image/png", URL: "https://cdn.example/cover.png"},
		},
		Image:   &gofeed.Image{URL: "https://cdn.example/feed-image.png"},
		Content: `<p>text</p><img src="https://cdn.example/inline.png">`,
	}
	assert.Equal(t, "https://cdn.example/cover.png", entryImage(item))

	item.Enclosures = nil
	assert.Equal(t, "https://cdn.example/feed-image.png", entryImage(item))

	item.Image = nil
	assert.Equal(t, "https://cdn.example/inline.png", entryImage(item))

	item.Content = "<p>no pictures</p>"
	assert.Equal(t, "", entryImage(item))
}

func TestEntryPublishedFallsBackToRawDate(t *testing.T) {
	item := &gofeed.Item{Published: "Thu, 20 Aug 2026 09:00:00 UTC"}
	got := entryPublished(item)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.August, got.Month())

	// No date at all resolves to roughly now.
	empty := entryPublished(&gofeed.Item{})
	assert.WithinDuration(t, time.Now().UTC(), empty, time.Minute)
}
