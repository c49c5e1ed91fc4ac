package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: test-token
`)
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("TOKEN", "")
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Discord.Prefix)
	assert.Equal(t, "downloads", cfg.Fetcher.DownloadDir)
	assert.Equal(t, "cookies.txt", cfg.Fetcher.CookiesFile)
	assert.Equal(t, 300*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 10*time.Second, cfg.IdleInterval())
	assert.Equal(t, 300*time.Second, cfg.IdleThreshold())
	assert.Equal(t, "ffmpeg", cfg.Playback.FFmpegPath)
	assert.Equal(t, 128, cfg.Playback.BitrateKbps)
	assert.Zero(t, cfg.Playback.MaxQueue)
	assert.Empty(t, cfg.Server.Addr)
	assert.False(t, cfg.SpotifyEnabled())
	assert.Equal(t, "Please provide a valid URL.", cfg.GetMessage("invalid_reference"))
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
discord:
  token: file-token
server:
  addr: 127.0.0.1:9090
`)
	t.Setenv("TOKEN", "legacy-token")
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("ADMIN_TOKEN", "admin-secret")
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "admin-secret", cfg.Admin.Token)
	assert.True(t, cfg.SpotifyEnabled())
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("TOKEN", "")
	t.Setenv("ADMIN_TOKEN", "")
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "discord: ["))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Discord:  DiscordConfig{Token: "t", Prefix: "."},
			Fetcher:  FetcherConfig{DownloadDir: "downloads", TimeoutSec: 300, RatePerMinute: 20},
			Playback: PlaybackConfig{HistorySize: 20, FFmpegPath: "ffmpeg", BitrateKbps: 128},
			Idle:     IdleConfig{IntervalSec: 10, ThresholdSec: 300},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "server without admin token",
			mutate:  func(c *Config) { c.Server.Addr = ":8080" },
			wantErr: true,
			errMsg:  "admin.token",
		},
		{
			name: "server with admin token",
			mutate: func(c *Config) {
				c.Server.Addr = ":8080"
				c.Admin.Token = "secret"
			},
		},
		{
			name:    "half spotify credentials",
			mutate:  func(c *Config) { c.Spotify.ClientID = "id" },
			wantErr: true,
			errMsg:  "spotify",
		},
		{
			name:    "threshold shorter than interval",
			mutate:  func(c *Config) { c.Idle.ThresholdSec = 5 },
			wantErr: true,
			errMsg:  "threshold_sec",
		},
		{
			name:    "bitrate out of range",
			mutate:  func(c *Config) { c.Playback.BitrateKbps = 1000 },
			wantErr: true,
			errMsg:  "BitrateKbps",
		},
		{
			name:    "invalid guild id",
			mutate:  func(c *Config) { c.Discord.GuildID = "abc" },
			wantErr: true,
			errMsg:  "GuildID",
		},
		{
			name:    "negative max queue",
			mutate:  func(c *Config) { c.Playback.MaxQueue = -1 },
			wantErr: true,
			errMsg:  "MaxQueue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_GetMessage(t *testing.T) {
	cfg := Config{Messages: MessagesConfig{
		DefaultError:     "default",
		RateLimited:      "slow down",
		RequesterPending: "pending",
	}}

	tests := []struct {
		code string
		want string
	}{
		{"rate_limited", "slow down"},
		{"requester_pending", "pending"},
		{"unknown_code", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.GetMessage(tt.code))
		})
	}
}

func TestConfig_EnabledFilters(t *testing.T) {
	cfg := Config{Filters: map[string]FilterConfig{
		"ref_format_filter":     {Enabled: true},
		"host_allowlist_filter": {Enabled: false, Settings: map[string]any{"hosts": []any{"youtube.com"}}},
		"requester_rate_filter": {Enabled: true, Settings: map[string]any{"burst": 2}},
	}}

	enabled := cfg.EnabledFilters()
	assert.Len(t, enabled, 2)
	assert.Contains(t, enabled, "ref_format_filter")
	assert.Equal(t, map[string]any{"burst": 2}, enabled["requester_rate_filter"])
	assert.True(t, cfg.IsFilterEnabled("ref_format_filter"))
	assert.False(t, cfg.IsFilterEnabled("host_allowlist_filter"))
}

func TestLoad_Example(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("TOKEN", "")
	t.Setenv("ADMIN_TOKEN", "admin")
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "")

	cfg, err := Load(filepath.Join("..", "..", "..", "config", "jukebot.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Discord.Prefix)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.False(t, cfg.SpotifyEnabled())
	assert.ElementsMatch(t, []string{"ref_format_filter", "requester_rate_filter"}, keys(cfg.EnabledFilters()))
}

func keys(m map[string]map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
