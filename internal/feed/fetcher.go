// Package feed implements the aggregation pipeline: fetching source feeds,
// normalizing entries into articles, and orchestrating sync runs.
package feed

import (
	"context"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"threatfeed/internal/database"
	"threatfeed/internal/model"
)

// maxStoredErrorLen bounds the error message recorded on a source.
const maxStoredErrorLen = 200

// Fetcher retrieves and parses one feed per source, with per-source
// error bookkeeping. It never retries; retry cadence comes from the
// orchestrator's scheduled re-runs.
type Fetcher struct {
	store     database.Store
	processor *Processor
	parser    *gofeed.Parser
	timeout   time.Duration
	log       *logrus.Entry
}

// NewFetcher wires a fetcher with a bounded HTTP client and an identifying
// User-Agent.
func NewFetcher(store database.Store, processor *Processor, userAgent string, timeout time.Duration, log *logrus.Entry) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = &http.Client{Timeout: timeout}
	return &Fetcher{
		store:     store,
		processor: processor,
		parser:    parser,
		timeout:   timeout,
		log:       log,
	}
}

// FetchSource performs a single fetch attempt for one source and returns
// the outcome as a value. Network errors, timeouts and malformed feeds are
// all the same failure shape; nothing is raised.
func (f *Fetcher) FetchSource(ctx context.Context, source model.Source) model.FetchResult {
	now := time.Now().UTC()
	result := model.FetchResult{
		SourceID:   source.ID,
		SourceName: source.Name,
		FetchedAt:  now,
	}

	// Record the attempt before fetching so stalled fetches are visible.
	if err := f.store.MarkFetchAttempt(ctx, source.ID, now); err != nil {
		result.Error = "storage unavailable: " + err.Error()
		return result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parsed, err := f.parser.ParseURLWithContext(source.FeedURL, fetchCtx)
	if err != nil {
		message := truncateError(err.Error())
		if markErr := f.store.MarkFetchFailure(ctx, source.ID, message); markErr != nil {
			f.log.WithError(markErr).WithField("source", source.Name).
				Warn("failed to record fetch failure")
		}
		result.Error = message
		return result
	}

	result.ItemCount = len(parsed.Items)
	for _, item := range parsed.Items {
		outcome, err := f.processor.ProcessEntry(ctx, item, source)
		if err != nil {
			// A bad entry must not abort the rest of the feed.
			f.log.WithError(err).WithFields(logrus.Fields{
				"source": source.Name,
				"guid":   item.GUID,
			}).Warn("skipping entry")
			continue
		}
		if outcome != nil && outcome.IsNew {
			result.NewArticleCount++
		}
	}

	// Reporting success while the error counter stays stale would break the
	// reset-on-success bookkeeping, so a failed update fails the fetch too.
	if err := f.store.MarkFetchSuccess(ctx, source.ID, time.Now().UTC()); err != nil {
		result.Error = "storage unavailable: " + err.Error()
		return result
	}

	result.Success = true
	return result
}

func truncateError(message string) string {
	if len(message) <= maxStoredErrorLen {
		return message
	}
	end := maxStoredErrorLen
	for end > 0 && !utf8.RuneStart(message[end]) {
		end--
	}
	return message[:end]
}
