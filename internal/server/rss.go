package server

import (
	"fmt"
	"time"

	"github.com/gorilla/feeds"

	"threatfeed/internal/config"
	"threatfeed/internal/model"
)

// GenerateRSSFeed renders the latest approved articles as an RSS 2.0 feed.
func GenerateRSSFeed(articles []model.Article, cfg *config.Config) (string, error) {
	now := time.Now()
	f := &feeds.Feed{
		Title:       cfg.FeedTitle,
		Link:        &feeds.Link{Href: cfg.FeedLink},
		Description: cfg.FeedDescription,
		Created:     now,
	}

	for _, a := range articles {
		item := &feeds.Item{
			Title:       a.Title,
			Link:        &feeds.Link{Href: a.URL},
			Description: a.Excerpt,
			Id:          a.GUID,
			Created:     a.PublishedAt,
		}
		if a.Author != "" {
			item.Author = &feeds.Author{Name: a.Author}
		}
		f.Items = append(f.Items, item)
	}

	out, err := f.ToRss()
	if err != nil {
		return "", fmt.Errorf("generate rss: %w", err)
	}
	return out, nil
}
