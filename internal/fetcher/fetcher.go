package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"neurodigest/internal/model"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ArticleStorage interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	// StoreBatch persists all articles in one transaction and returns how many were inserted.
	StoreBatch(ctx context.Context, articles []model.Article) (int, error)
}

type Source interface {
	Name() string

	Fetch(ctx context.Context) ([]model.Item, error)
}

// Report summarizes one ingestion cycle.
type Report struct {
	CycleID       string
	Sources       int
	FailedSources int
	Skipped       int
	Duplicates    int
	Staged        int
	Stored        int
}

type Fetcher struct {
	articles ArticleStorage
	sources  []Source

	fetchInterval time.Duration
	log           *slog.Logger
	now           func() time.Time

	// cycle serializes Fetch so the existence check and the commit never interleave.
	cycle sync.Mutex
}

func New(articles ArticleStorage, sources []Source, fetchInterval time.Duration, log *slog.Logger) *Fetcher {
	return &Fetcher{
		articles:      articles,
		sources:       sources,
		fetchInterval: fetchInterval,
		log:           log.With("component", "fetcher"),
		now:           time.Now,
	}
}

// Run fires a cycle every fetch interval until ctx is done.
func (f *Fetcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.fetchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := f.Fetch(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				f.log.Error("ingestion cycle failed", "error", err)
			}
		}
	}
}

type fetchResult struct {
	items []model.Item
	err   error
}

// Fetch runs one ingestion cycle: every source is fetched, new entries are
// staged in registry order and committed as a single batch.
func (f *Fetcher) Fetch(ctx context.Context) (Report, error) {
	f.cycle.Lock()
	defer f.cycle.Unlock()

	report := Report{CycleID: uuid.NewString(), Sources: len(f.sources)}
	log := f.log.With("cycle_id", report.CycleID)
	ingestedAt := f.now().UTC()

	results := make([]fetchResult, len(f.sources))

	var wg sync.WaitGroup

	for i, src := range f.sources {
		wg.Add(1)

		go func(i int, source Source) {
			defer wg.Done()

			items, err := source.Fetch(ctx)
			results[i] = fetchResult{items: items, err: err}
		}(i, src)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	var staged []model.Article

	seen := make(map[string]struct{})

	for i, src := range f.sources {
		res := results[i]

		if res.err != nil {
			report.FailedSources++
			log.Warn("source skipped", "source", src.Name(), "error", res.err)

			continue
		}

		for _, item := range res.items {
			if err := item.Validate(); err != nil {
				report.Skipped++
				log.Warn("entry skipped", "source", src.Name(), "title", item.Title, "link", item.Link, "error", err)

				continue
			}

			if _, ok := seen[item.Link]; ok {
				report.Duplicates++
				continue
			}

			exists, err := f.articles.ExistsByURL(ctx, item.Link)

			if err != nil {
				return report, fmt.Errorf("check article %q: %w", item.Link, err)
			}

			seen[item.Link] = struct{}{}

			if exists {
				report.Duplicates++
				continue
			}

			staged = append(staged, newArticle(src.Name(), item, ingestedAt))
		}
	}

	report.Staged = len(staged)

	if len(staged) == 0 {
		log.Info("ingestion cycle finished", "sources", report.Sources, "failed", report.FailedSources, "stored", 0)
		return report, nil
	}

	stored, err := f.articles.StoreBatch(ctx, staged)

	if err != nil {
		return report, fmt.Errorf("store %d articles: %w", len(staged), err)
	}

	report.Stored = stored

	log.Info("ingestion cycle finished",
		"sources", report.Sources,
		"failed", report.FailedSources,
		"skipped", report.Skipped,
		"duplicates", report.Duplicates,
		"stored", report.Stored,
	)

	return report, nil
}

func newArticle(source string, item model.Item, ingestedAt time.Time) model.Article {
	article := model.Article{
		Title:       item.Title,
		Summary:     item.Summary,
		URL:         item.Link,
		Source:      source,
		PublishedAt: ingestedAt,
	}

	if !item.Date.IsZero() {
		date := item.Date.UTC()
		article.FeedPublishedAt = &date
	}

	return article
}
