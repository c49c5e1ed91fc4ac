package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/jukebot/internal/domain/media"
)

func userRequest(ref string) Request {
	return Request{
		Ref:       ref,
		Requester: media.Requester{ID: "u1", Name: "alice", Type: media.RequesterTypeUser},
	}
}

func TestRefFormatFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		settings     map[string]any
		ref          string
		wantAccepted bool
	}{
		{
			name:         "https url",
			ref:          "https://www.youtube.com/watch?v=abc",
			wantAccepted: true,
		},
		{
			name:         "http url",
			ref:          "http://example.com/a.mp3",
			wantAccepted: true,
		},
		{
			name:         "spotify uri",
			ref:          "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			wantAccepted: true,
		},
		{
			name:         "unsupported scheme",
			ref:          "ftp://example.com/a.mp3",
			wantAccepted: false,
		},
		{
			name:         "empty",
			ref:          "   ",
			wantAccepted: false,
		},
		{
			name:         "text rejected by default",
			ref:          "never gonna give you up",
			wantAccepted: false,
		},
		{
			name:         "text allowed",
			settings:     map[string]any{"allow_text": true},
			ref:          "never gonna give you up",
			wantAccepted: true,
		},
		{
			name:         "too long",
			settings:     map[string]any{"max_length": 10},
			ref:          "https://example.com/long",
			wantAccepted: false,
		},
		{
			name:         "custom schemes",
			settings:     map[string]any{"schemes": []string{"https"}},
			ref:          "http://example.com",
			wantAccepted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &RefFormatFilter{}
			require.NoError(t, f.ValidateConfig(tt.settings))

			result := f.Check(context.Background(), userRequest(tt.ref))
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, "invalid_reference", result.Code)
			}
		})
	}
}

func TestHostAllowlistFilter_Check(t *testing.T) {
	f := &HostAllowlistFilter{}
	require.NoError(t, f.ValidateConfig(map[string]any{
		"hosts": []any{"youtube.com", "youtu.be", "SoundCloud.com"},
	}))

	tests := []struct {
		name         string
		ref          string
		wantAccepted bool
	}{
		{"exact host", "https://youtu.be/abc", true},
		{"subdomain", "https://www.youtube.com/watch?v=abc", true},
		{"case insensitive", "https://soundcloud.com/artist/track", true},
		{"other host", "https://example.com/a.mp3", false},
		{"suffix trick", "https://notyoutube.com/watch", false},
		{"text passes through", "some search text", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := f.Check(context.Background(), userRequest(tt.ref))
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, "host_not_allowed", result.Code)
			}
		})
	}
}

func TestHostAllowlistFilter_ValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		wantErr  bool
	}{
		{"no hosts", map[string]any{}, true},
		{"invalid host", map[string]any{"hosts": []any{"not a host"}}, true},
		{"valid", map[string]any{"hosts": []any{"youtube.com"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&HostAllowlistFilter{}).ValidateConfig(tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequesterRateFilter_Check(t *testing.T) {
	f := &RequesterRateFilter{}
	require.NoError(t, f.ValidateConfig(map[string]any{"per_minute": 1, "burst": 2}))
	ctx := context.Background()

	alice := userRequest("https://youtu.be/a")
	bob := alice
	bob.Requester.ID = "u2"

	assert.True(t, f.Check(ctx, alice).Accepted)
	assert.True(t, f.Check(ctx, alice).Accepted)
	result := f.Check(ctx, alice)
	assert.False(t, result.Accepted)
	assert.Equal(t, "rate_limited", result.Code)

	assert.True(t, f.Check(ctx, bob).Accepted, "limits are per requester")
}

func TestRequesterRateFilter_ValidateConfig(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		want     RequesterRateConfig
		wantErr  bool
	}{
		{
			name: "defaults",
			want: RequesterRateConfig{PerMinute: 6, Burst: 3},
		},
		{
			name:     "string values",
			settings: map[string]any{"per_minute": "2.5", "burst": "4"},
			want:     RequesterRateConfig{PerMinute: 2.5, Burst: 4},
		},
		{
			name:     "negative rate",
			settings: map[string]any{"per_minute": -1},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &RequesterRateFilter{}
			err := f.ValidateConfig(tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.config)
		})
	}
}

func TestBlockedRequesterFilter_Check(t *testing.T) {
	f := &BlockedRequesterFilter{}
	require.NoError(t, f.ValidateConfig(map[string]any{"user_ids": []any{"u1"}}))

	result := f.Check(context.Background(), userRequest("https://youtu.be/a"))
	assert.False(t, result.Accepted)
	assert.Equal(t, "requester_blocked", result.Code)

	other := userRequest("https://youtu.be/a")
	other.Requester.ID = "u9"
	assert.True(t, f.Check(context.Background(), other).Accepted)
}

func TestRequesterPendingFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		maxPending   int
		pending      int
		wantAccepted bool
	}{
		{"nothing waiting", 1, 0, true},
		{"at limit", 1, 1, false},
		{"below limit", 3, 2, true},
		{"above limit", 3, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &RequesterPendingFilter{}
			require.NoError(t, f.ValidateConfig(map[string]any{"max_pending": tt.maxPending}))

			req := userRequest("https://youtu.be/a")
			req.Pending = tt.pending
			result := f.Check(context.Background(), req)
			assert.Equal(t, tt.wantAccepted, result.Accepted)
			if !tt.wantAccepted {
				assert.Equal(t, "requester_pending", result.Code)
			}
		})
	}
}

func TestFilters_AppliesTo(t *testing.T) {
	tests := []struct {
		filter    Filter
		wantUser  bool
		wantAdmin bool
	}{
		{&RefFormatFilter{}, true, true},
		{&HostAllowlistFilter{}, true, false},
		{&RequesterRateFilter{}, true, false},
		{&BlockedRequesterFilter{}, true, false},
		{&RequesterPendingFilter{}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.filter.Name(), func(t *testing.T) {
			assert.Equal(t, tt.wantUser, tt.filter.AppliesTo(media.RequesterTypeUser))
			assert.Equal(t, tt.wantAdmin, tt.filter.AppliesTo(media.RequesterTypeAdmin))
		})
	}
}
