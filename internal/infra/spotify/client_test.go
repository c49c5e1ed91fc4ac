package spotify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"
)

type fakeAPI struct {
	track   *spotify.FullTrack
	errs    []error
	calls   int
	gotID   spotify.ID
	gotOpts int
}

func (f *fakeAPI) GetTrack(_ context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error) {
	f.calls++
	f.gotID = id
	f.gotOpts = len(opts)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.track, nil
}

func fullTrack(name string, artists ...string) *spotify.FullTrack {
	t := &spotify.FullTrack{}
	t.Name = name
	for _, a := range artists {
		t.Artists = append(t.Artists, spotify.SimpleArtist{Name: a})
	}
	return t
}

func TestExtractTrackID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Spotify URI format",
			input:    "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Spotify URL format",
			input:    "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Spotify URL with query params",
			input:    "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc123",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Localized URL",
			input:    "https://open.spotify.com/intl-ja/track/abc123/",
			expected: "abc123",
		},
		{
			name:     "Plain track ID",
			input:    "4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractTrackID(tt.input))
		})
	}
}

func TestIsTrackRef(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"spotify:track:abc", true},
		{"https://open.spotify.com/track/abc", true},
		{"https://open.spotify.com/playlist/abc", false},
		{"https://www.youtube.com/watch?v=abc", false},
		{"some text", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTrackRef(tt.input))
		})
	}
}

func TestClient_Resolve(t *testing.T) {
	api := &fakeAPI{track: fullTrack("Never Gonna Give You Up", "Rick Astley")}
	c := newClient(api, "")

	target, ok, err := c.Resolve(context.Background(), "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ytsearch1:Rick Astley - Never Gonna Give You Up audio", target)
	assert.Equal(t, spotify.ID("4uLU6hMCjMI75M1A2tKUQC"), api.gotID)
	assert.Equal(t, 1, api.gotOpts, "market option is passed")
}

func TestClient_Resolve_NotHandled(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(api, "US")

	_, ok, err := c.Resolve(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, api.calls)
}

func TestClient_Resolve_Retry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "retry then succeed",
			errs:      []error{errors.New("503 Service Unavailable")},
			wantCalls: 2,
		},
		{
			name:      "non-retryable",
			errs:      []error{errors.New("404 not found")},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "retries exhausted",
			errs:      []error{errors.New("429"), errors.New("429"), errors.New("429")},
			wantErr:   true,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{track: fullTrack("Song", "A", "B"), errs: tt.errs}
			c := newClient(api, "JP")
			c.retryDelay = time.Millisecond

			target, ok, err := c.Resolve(context.Background(), "spotify:track:xyz")
			assert.True(t, ok)
			assert.Equal(t, tt.wantCalls, api.calls)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ytsearch1:A, B - Song audio", target)
		})
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "id"})
	assert.Error(t, err)

	c, err := New(context.Background(), Config{ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "JP", c.market)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "rate limit error with 429",
			err:      errors.New("Error 429: rate limit exceeded"),
			expected: true,
		},
		{
			name:     "server error 502",
			err:      errors.New("502 Bad Gateway"),
			expected: true,
		},
		{
			name:     "client error 400",
			err:      errors.New("400 Bad Request"),
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("something went wrong"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRetryable(tt.err))
		})
	}
}
