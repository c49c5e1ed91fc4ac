// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig           `yaml:"discord"`
	Server   ServerConfig            `yaml:"server"`
	Admin    AdminConfig             `yaml:"admin"`
	Fetcher  FetcherConfig           `yaml:"fetcher"`
	Playback PlaybackConfig          `yaml:"playback"`
	Idle     IdleConfig              `yaml:"idle"`
	Search   SearchConfig            `yaml:"search"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Messages MessagesConfig          `yaml:"messages"`
}

// DiscordConfig represents the bot connection configuration.
type DiscordConfig struct {
	Token   string `yaml:"token" validate:"required"`
	Prefix  string `yaml:"prefix" default:"." validate:"required,max=3"`
	GuildID string `yaml:"guild_id" validate:"omitempty,numeric"` // Restrict commands to one guild (optional)
}

// ServerConfig represents the control server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr"` // Empty disables the control server
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// FetcherConfig represents the asset fetcher configuration.
type FetcherConfig struct {
	DownloadDir   string `yaml:"download_dir" default:"downloads" validate:"required"`
	CookiesFile   string `yaml:"cookies_file" default:"cookies.txt"` // Used only if the file exists
	TimeoutSec    int    `yaml:"timeout_sec" default:"300" validate:"gte=0,lte=3600"`
	RatePerMinute int    `yaml:"rate_per_minute" default:"20" validate:"gte=1"`
}

// PlaybackConfig represents playback configuration.
type PlaybackConfig struct {
	MaxQueue    int    `yaml:"max_queue" validate:"gte=0"` // 0 means unlimited
	HistorySize int    `yaml:"history_size" default:"20" validate:"gte=1"`
	FFmpegPath  string `yaml:"ffmpeg_path" default:"ffmpeg" validate:"required"`
	BitrateKbps int    `yaml:"bitrate_kbps" default:"128" validate:"gte=16,lte=510"`
}

// IdleConfig represents the idle monitor configuration.
type IdleConfig struct {
	IntervalSec  int `yaml:"interval_sec" default:"10" validate:"gte=1"`
	ThresholdSec int `yaml:"threshold_sec" default:"300" validate:"gte=1"`
}

// SearchConfig represents free-text search configuration.
type SearchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SpotifyConfig represents Spotify API configuration.
// Spotify links are resolved only when both credentials are set.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
type MessagesConfig struct {
	Success          string `yaml:"success" default:"Added to queue: %s (position %d)"`
	DefaultError     string `yaml:"default_error" default:"Could not add that to the queue."`
	InvalidReference string `yaml:"invalid_reference" default:"Please provide a valid URL."`
	HostNotAllowed   string `yaml:"host_not_allowed" default:"That site is not allowed."`
	RateLimited      string `yaml:"rate_limited" default:"You are sending requests too quickly."`
	RequesterBlocked string `yaml:"requester_blocked" default:"You are not allowed to add songs."`
	RequesterPending string `yaml:"requester_pending" default:"You already have songs waiting in the queue."`
	QueueFull        string `yaml:"queue_full" default:"The queue is full."`
	NotInVoice       string `yaml:"not_in_voice" default:"You need to be in a voice channel."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	// TOKEN is accepted for compatibility with existing .env files
	if v := os.Getenv("TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "success":
		return c.Messages.Success
	case "invalid_reference":
		return c.Messages.InvalidReference
	case "host_not_allowed":
		return c.Messages.HostNotAllowed
	case "rate_limited":
		return c.Messages.RateLimited
	case "requester_blocked":
		return c.Messages.RequesterBlocked
	case "requester_pending":
		return c.Messages.RequesterPending
	case "queue_full":
		return c.Messages.QueueFull
	case "not_in_voice":
		return c.Messages.NotInVoice
	default:
		return c.Messages.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Server.Addr != "" && c.Admin.Token == "" {
		return errors.New("admin.token is required when server.addr is set")
	}
	if (c.Spotify.ClientID == "") != (c.Spotify.ClientSecret == "") {
		return errors.New("spotify.client_id and spotify.client_secret must be set together")
	}
	if c.Idle.ThresholdSec < c.Idle.IntervalSec {
		return errors.Newf("idle.threshold_sec (%d) must not be shorter than idle.interval_sec (%d)",
			c.Idle.ThresholdSec, c.Idle.IntervalSec)
	}

	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// EnabledFilters returns the settings of every enabled filter keyed by name.
func (c *Config) EnabledFilters() map[string]map[string]any {
	enabled := make(map[string]map[string]any)
	for name, f := range c.Filters {
		if f.Enabled {
			enabled[name] = f.Settings
		}
	}
	return enabled
}

// SpotifyEnabled reports whether Spotify credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// FetchTimeout returns the per-fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSec) * time.Second
}

// IdleInterval returns the idle monitor sampling interval.
func (c *Config) IdleInterval() time.Duration {
	return time.Duration(c.Idle.IntervalSec) * time.Second
}

// IdleThreshold returns how long the sink may stay idle before it is released.
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.Idle.ThresholdSec) * time.Second
}
