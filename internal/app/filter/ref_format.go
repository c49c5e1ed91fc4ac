package filter

import (
	"context"
	"net/url"
	"strings"

	"github.com/osa030/jukebot/internal/domain/media"
)

// RefFormatConfig represents the configuration for RefFormatFilter.
type RefFormatConfig struct {
	Schemes   []string `mapstructure:"schemes" default:"[\"http\",\"https\"]" validate:"min=1,dive,required"`
	AllowText bool     `mapstructure:"allow_text"`
	MaxLength int      `mapstructure:"max_length" default:"2048" validate:"gte=1"`
}

// RefFormatFilter checks that a reference is a URL with an allowed scheme,
// or free text when text search is enabled.
type RefFormatFilter struct {
	config RefFormatConfig
}

func (f *RefFormatFilter) Name() string {
	return "ref_format_filter"
}

func (f *RefFormatFilter) Description() string {
	return "Checks that the reference is a supported URL (or search text if allowed)"
}

func (f *RefFormatFilter) ReturnCodes() []string {
	return []string{"invalid_reference"}
}

func (f *RefFormatFilter) ValidateConfig(settings map[string]any) error {
	var config RefFormatConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = config
	return nil
}

func (f *RefFormatFilter) AppliesTo(media.RequesterType) bool {
	return true
}

func (f *RefFormatFilter) Check(ctx context.Context, req Request) Result {
	ref := strings.TrimSpace(req.Ref)
	if ref == "" || (f.config.MaxLength > 0 && len(ref) > f.config.MaxLength) {
		return Reject("invalid_reference")
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		// Spotify URIs carry no host
		if strings.HasPrefix(ref, "spotify:track:") {
			return Accept()
		}
		if f.config.AllowText && !strings.Contains(ref, "://") {
			return Accept()
		}
		return Reject("invalid_reference")
	}

	for _, s := range f.config.Schemes {
		if strings.EqualFold(u.Scheme, s) {
			return Accept()
		}
	}
	return Reject("invalid_reference")
}

func init() {
	Register("ref_format_filter", func() Filter {
		return &RefFormatFilter{}
	})
}
