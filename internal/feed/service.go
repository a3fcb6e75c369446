package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"threatfeed/internal/database"
	"threatfeed/internal/model"
)

// Service is the aggregation orchestrator: it drives sync runs over all
// active sources and exposes the read APIs.
type Service struct {
	store      database.Store
	fetcher    *Fetcher
	batchSize  int
	batchDelay time.Duration
	log        *logrus.Entry
}

// NewService constructs the orchestrator. Batch size defaults to 3 and
// batch delay to 2s when unset.
func NewService(store database.Store, fetcher *Fetcher, batchSize int, batchDelay time.Duration, log *logrus.Entry) *Service {
	if batchSize <= 0 {
		batchSize = 3
	}
	if batchDelay < 0 {
		batchDelay = 2 * time.Second
	}
	return &Service{
		store:      store,
		fetcher:    fetcher,
		batchSize:  batchSize,
		batchDelay: batchDelay,
		log:        log,
	}
}

// SyncAllSources fetches every active source, least recently fetched
// first, in fixed-size concurrent batches with a politeness delay between
// batches. Each source yields exactly one FetchResult; a failing or even
// panicking fetch is captured as a failure value and never disturbs its
// batch siblings. The only error this returns is storage being unavailable
// before any per-source work starts.
func (s *Service) SyncAllSources(ctx context.Context) ([]model.FetchResult, error) {
	if err := s.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("storage unavailable: %w", err)
	}

	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage unavailable: %w", err)
	}
	if len(sources) == 0 {
		return []model.FetchResult{}, nil
	}

	s.log.WithFields(logrus.Fields{
		"sources":    len(sources),
		"batch_size": s.batchSize,
	}).Info("starting sync")

	results := make([]model.FetchResult, 0, len(sources))
	for start := 0; start < len(sources); start += s.batchSize {
		end := start + s.batchSize
		if end > len(sources) {
			end = len(sources)
		}
		results = append(results, s.syncBatch(ctx, sources[start:end])...)

		if end < len(sources) && s.batchDelay > 0 {
			select {
			case <-time.After(s.batchDelay):
			case <-ctx.Done():
				return results, nil
			}
		}
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	s.log.WithFields(logrus.Fields{
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	}).Info("sync complete")

	return results, nil
}

// syncBatch fans out one batch and joins on all of it, capturing every
// outcome, panics included, as a FetchResult.
func (s *Service) syncBatch(ctx context.Context, batch []model.Source) []model.FetchResult {
	results := make([]model.FetchResult, len(batch))
	var wg sync.WaitGroup
	for i, source := range batch {
		wg.Add(1)
		go func(i int, source model.Source) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = model.FetchResult{
						SourceID:   source.ID,
						SourceName: source.Name,
						Error:      fmt.Sprintf("fetch panicked: %v", r),
						FetchedAt:  time.Now().UTC(),
					}
				}
			}()
			results[i] = s.fetcher.FetchSource(ctx, source)
		}(i, source)
	}
	wg.Wait()
	return results
}

// GetArticles runs a filtered, paginated article query. Moderation status
// defaults to approved; an empty result is a valid response with total=0.
func (s *Service) GetArticles(ctx context.Context, filter model.ArticleFilter) (*model.ArticlePage, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	articles, total, err := s.store.QueryArticles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	if articles == nil {
		articles = []model.Article{}
	}

	totalPages := (total + filter.Limit - 1) / filter.Limit
	return &model.ArticlePage{
		Articles: articles,
		Pagination: model.Pagination{
			Total:       total,
			Page:        filter.Offset/filter.Limit + 1,
			Limit:       filter.Limit,
			TotalPages:  totalPages,
			HasNextPage: filter.Offset+filter.Limit < total,
			HasPrevPage: filter.Offset > 0,
		},
	}, nil
}

// GetStats returns aggregate counts over approved articles. Read-only.
func (s *Service) GetStats(ctx context.Context) (*model.Stats, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}
