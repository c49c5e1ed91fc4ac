// Package spotify resolves Spotify track links into audio search queries.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// trackAPI is the part of the Spotify API the client uses.
type trackAPI interface {
	GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error)
}

// Client is a Spotify API client.
type Client struct {
	api        trackAPI
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// New creates a new Spotify client authenticated with client credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	// HTTP client fetches and refreshes the app token on demand
	httpClient := creds.Client(ctx)

	return newClient(spotify.New(httpClient), cfg.Market), nil
}

func newClient(api trackAPI, market string) *Client {
	if market == "" {
		market = "JP"
	}
	return &Client{
		api:        api,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Resolve turns a Spotify track URL or URI into a yt-dlp search query.
// Other references are not handled.
func (c *Client) Resolve(ctx context.Context, ref string) (string, bool, error) {
	if !IsTrackRef(ref) {
		return "", false, nil
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.api.GetTrack(ctx, spotify.ID(extractTrackID(ref)), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return "", true, errors.Wrap(err, "failed to get track")
	}

	return searchQuery(result), true, nil
}

// IsTrackRef reports whether ref points at a Spotify track.
func IsTrackRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "spotify:track:") {
		return true
	}
	return strings.Contains(ref, "open.spotify.com") && strings.Contains(ref, "/track/")
}

// searchQuery builds a single-result search for the track's audio.
func searchQuery(t *spotify.FullTrack) string {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	q := t.Name
	if len(artists) > 0 {
		q = strings.Join(artists, ", ") + " - " + t.Name
	}
	return "ytsearch1:" + q + " audio"
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}
