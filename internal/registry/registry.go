// Package registry resolves the fixed, ordered list of feeds polled by the fetcher.
package registry

import (
	"errors"
	"fmt"
	"neurodigest/internal/model"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyName     = errors.New("feed name is empty")
	ErrEmptyURL      = errors.New("feed url is empty")
	ErrDuplicateName = errors.New("duplicate feed name")
	ErrBadEntry      = errors.New(`feed entry must look like "name=url"`)
)

var defaults = []model.Source{
	{
		Name:    "PubMed",
		FeedURL: "https://pubmed.ncbi.nlm.nih.gov/rss/search/1X2oNUnWsZgAe0Db1U7cJ6sBDnV6bZbiQDQ_RV6nJhQ6LUJ5QJ/?limit=10&utm_campaign=pubmed-2&fc=20240130131332",
	},
	{
		Name:    "Frontiers in Psychology",
		FeedURL: "https://www.frontiersin.org/journals/psychology/rss",
	},
	{
		Name:    "Nature Neuroscience",
		FeedURL: "https://www.nature.com/subjects/neuroscience/rss",
	},
}

// Default returns a copy of the built-in feeds.
func Default() []model.Source {
	return append([]model.Source(nil), defaults...)
}

// Resolve picks the registry file if set, then inline entries, then the built-in feeds.
func Resolve(file string, entries []string) ([]model.Source, error) {
	switch {
	case file != "":
		return LoadFile(file)
	case len(entries) > 0:
		return ParseEntries(entries)
	default:
		return Default(), nil
	}
}

// ParseEntries reads "name=url" pairs. The name ends at the first '=',
// so query strings in the url are kept intact.
func ParseEntries(entries []string) ([]model.Source, error) {
	sources := make([]model.Source, 0, len(entries))

	for _, entry := range entries {
		name, url, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBadEntry, entry)
		}

		sources = append(sources, model.Source{
			Name:    strings.TrimSpace(name),
			FeedURL: strings.TrimSpace(url),
		})
	}

	if err := validate(sources); err != nil {
		return nil, err
	}

	return sources, nil
}

type file struct {
	Feeds []model.Source `yaml:"feeds"`
}

// LoadFile reads a YAML registry:
//
//	feeds:
//	  - name: PubMed
//	    url: https://pubmed.ncbi.nlm.nih.gov/rss/...
func LoadFile(path string) ([]model.Source, error) {
	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry YAML: %w", err)
	}

	if err := validate(f.Feeds); err != nil {
		return nil, err
	}

	return f.Feeds, nil
}

func validate(sources []model.Source) error {
	seen := make(map[string]struct{}, len(sources))

	for i, src := range sources {
		if strings.TrimSpace(src.Name) == "" {
			return fmt.Errorf("%w: feed[%d]", ErrEmptyName, i)
		}

		if strings.TrimSpace(src.FeedURL) == "" {
			return fmt.Errorf("%w: feed[%d] %q", ErrEmptyURL, i, src.Name)
		}

		if _, ok := seen[src.Name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateName, src.Name)
		}

		seen[src.Name] = struct{}{}
	}

	return nil
}
