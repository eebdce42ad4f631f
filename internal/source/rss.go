package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"neurodigest/internal/model"
	"time"

	"github.com/SlyMarbo/rss"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
)

var (
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrMalformedFeed    = errors.New("malformed feed")
)

const maxFeedSize = 10 << 20

type Options struct {
	Client *http.Client
	// Timeout bounds a single attempt, including reading the body.
	Timeout  time.Duration
	Attempts int
}

type RSSSource struct {
	URL        string
	sourceName string

	client   *http.Client
	timeout  time.Duration
	attempts int
}

func (s RSSSource) Name() string {
	return s.sourceName
}

func NewRSSSourceFromModel(m model.Source, opts Options) RSSSource {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	return RSSSource{
		URL:        m.FeedURL,
		sourceName: m.Name,
		client:     client,
		timeout:    opts.Timeout,
		attempts:   max(opts.Attempts, 1),
	}
}

// Fetch downloads and parses the feed, retrying transport failures.
// Malformed feeds fail on the first attempt.
func (s RSSSource) Fetch(ctx context.Context) ([]model.Item, error) {
	var lastErr error

	for attempt := 1; attempt <= s.attempts; attempt++ {
		items, err := s.fetchOnce(ctx)
		if err == nil {
			return items, nil
		}

		lastErr = fmt.Errorf("fetch %s (attempt %d/%d): %w", s.sourceName, attempt, s.attempts, err)

		if ctx.Err() != nil || errors.Is(err, ErrMalformedFeed) {
			break
		}
	}

	return nil, lastErr
}

func (s RSSSource) fetchOnce(ctx context.Context) ([]model.Item, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	body, err := s.loadFeed(ctx, s.URL)

	if err != nil {
		return nil, err
	}

	return s.parse(body)
}

func (s RSSSource) loadFeed(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)

	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(req)

	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
}

// parse uses gofeed's universal parser and falls back to the rss package.
// Entries missing a link are kept so the pipeline can report them.
func (s RSSSource) parse(body []byte) ([]model.Item, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))

	if err == nil {
		return lo.Map(feed.Items, func(item *gofeed.Item, _ int) model.Item {
			summary := item.Description
			if summary == "" {
				summary = item.Content
			}

			var date time.Time

			switch {
			case item.PublishedParsed != nil:
				date = *item.PublishedParsed
			case item.UpdatedParsed != nil:
				date = *item.UpdatedParsed
			}

			return model.Item{
				Title:      item.Title,
				Categories: item.Categories,
				Link:       item.Link,
				Date:       date,
				Summary:    summary,
				SourceName: s.sourceName,
			}
		}), nil
	}

	fallback, fallbackErr := rss.Parse(body)

	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: %v; %v", ErrMalformedFeed, err, fallbackErr)
	}

	return lo.Map(fallback.Items, func(item *rss.Item, _ int) model.Item {
		summary := item.Summary
		if summary == "" {
			summary = item.Content
		}

		return model.Item{
			Title:      item.Title,
			Categories: item.Categories,
			Link:       item.Link,
			Date:       item.Date,
			Summary:    summary,
			SourceName: s.sourceName,
		}
	}), nil
}
