package wikipedia

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"wikichat/internal/domain"
)

// PageFetcher is the subset of Client the Loader needs.
type PageFetcher interface {
	GetPage(ctx context.Context, title string) (*domain.Document, error)
}

// Loader fetches many pages concurrently.
type Loader struct {
	fetcher     PageFetcher
	concurrency int
	logger      *slog.Logger
}

// NewLoader creates a Loader. concurrency <= 0 means 4 parallel fetches.
func NewLoader(fetcher PageFetcher, concurrency int, logger *slog.Logger) *Loader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Loader{fetcher: fetcher, concurrency: concurrency, logger: logger}
}

// Load fetches titles in parallel and returns the documents in title order.
// Pages that do not exist are skipped with a warning; any other failure
// cancels the remaining fetches and is returned.
func (l *Loader) Load(ctx context.Context, titles []string) ([]domain.Document, error) {
	if len(titles) == 0 {
		return nil, nil
	}

	results := make([]*domain.Document, len(titles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for i, title := range titles {
		g.Go(func() error {
			doc, err := l.fetcher.GetPage(gctx, title)
			if errors.Is(err, domain.ErrPageNotFound) {
				l.logger.Warn("wikipedia page not found, skipping", "title", title)
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]domain.Document, 0, len(titles))
	for _, d := range results {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	l.logger.Info("wikipedia pages loaded", "requested", len(titles), "loaded", len(docs))
	return docs, nil
}
