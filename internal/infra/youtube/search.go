// Package youtube resolves free-text references to YouTube video URLs.
package youtube

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ppalone/ytsearch"
)

// ErrNoResults is returned when a search finds no video.
var ErrNoResults = errors.New("no search results")

const watchURL = "https://www.youtube.com/watch?v="

// Hit is a single search result.
type Hit struct {
	VideoID string
	Title   string
}

type searchFunc func(ctx context.Context, query string) ([]Hit, error)

// Searcher resolves search text to the first matching video.
type Searcher struct {
	search searchFunc
}

// NewSearcher creates a Searcher backed by the YouTube web search.
func NewSearcher() *Searcher {
	client := ytsearch.NewClient(nil)
	return &Searcher{
		search: func(ctx context.Context, query string) ([]Hit, error) {
			res, err := client.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			hits := make([]Hit, 0, len(res.Results))
			for _, r := range res.Results {
				hits = append(hits, Hit{VideoID: r.VideoID, Title: r.Title})
			}
			return hits, nil
		},
	}
}

// Resolve handles references that are not URLs.
func (s *Searcher) Resolve(ctx context.Context, ref string) (string, bool, error) {
	query := strings.TrimSpace(ref)
	if query == "" || isURL(query) || strings.HasPrefix(query, "spotify:") {
		return "", false, nil
	}

	hits, err := s.search(ctx, query)
	if err != nil {
		return "", true, errors.Wrap(err, "youtube search failed")
	}
	for _, h := range hits {
		if h.VideoID != "" {
			return watchURL + h.VideoID, true, nil
		}
	}
	return "", true, errors.Wrapf(ErrNoResults, "query %q", query)
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
