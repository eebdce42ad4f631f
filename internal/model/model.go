package model

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("article not found")

	ErrMissingTitle   = errors.New("entry has no title")
	ErrMissingSummary = errors.New("entry has no summary")
	ErrMissingLink    = errors.New("entry has no link")
)

// Item is one parsed feed entry.
type Item struct {
	Title      string
	Categories []string
	Link       string
	Date       time.Time // publication time in the feed, zero when absent
	Summary    string
	SourceName string
}

// Validate reports the first required field the entry is missing.
func (i Item) Validate() error {
	switch {
	case strings.TrimSpace(i.Title) == "":
		return ErrMissingTitle
	case strings.TrimSpace(i.Summary) == "":
		return ErrMissingSummary
	case strings.TrimSpace(i.Link) == "":
		return ErrMissingLink
	}

	return nil
}

type Source struct {
	Name    string `yaml:"name"`
	FeedURL string `yaml:"url"`
}

type Article struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
	Source  string `json:"source"`
	// PublishedAt is the ingestion time, not the time the feed reports.
	PublishedAt     time.Time  `json:"date_published"`
	FeedPublishedAt *time.Time `json:"feed_published_at,omitempty"`
	PostedAt        *time.Time `json:"-"`
}
