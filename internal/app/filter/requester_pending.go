package filter

import (
	"context"

	"github.com/osa030/jukebot/internal/domain/media"
)

// RequesterPendingConfig represents the configuration for RequesterPendingFilter.
type RequesterPendingConfig struct {
	MaxPending int `mapstructure:"max_pending" default:"3" validate:"gte=1"`
}

// RequesterPendingFilter caps how many entries one requester may have waiting.
type RequesterPendingFilter struct {
	config RequesterPendingConfig
}

func (f *RequesterPendingFilter) Name() string {
	return "requester_pending_filter"
}

func (f *RequesterPendingFilter) Description() string {
	return "Checks how many entries the requester already has waiting"
}

func (f *RequesterPendingFilter) ReturnCodes() []string {
	return []string{"requester_pending"}
}

func (f *RequesterPendingFilter) ValidateConfig(settings map[string]any) error {
	var config RequesterPendingConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = config
	return nil
}

func (f *RequesterPendingFilter) AppliesTo(requesterType media.RequesterType) bool {
	return requesterType == media.RequesterTypeUser
}

func (f *RequesterPendingFilter) Check(ctx context.Context, req Request) Result {
	if req.Pending >= f.config.MaxPending {
		return Reject("requester_pending")
	}
	return Accept()
}

func init() {
	Register("requester_pending_filter", func() Filter {
		return &RequesterPendingFilter{}
	})
}
