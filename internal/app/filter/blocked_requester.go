package filter

import (
	"context"

	"github.com/osa030/jukebot/internal/domain/media"
)

// BlockedRequesterConfig represents the configuration for BlockedRequesterFilter.
type BlockedRequesterConfig struct {
	UserIDs []string `mapstructure:"user_ids" validate:"dive,required"`
}

// BlockedRequesterFilter rejects requests from blocked users.
type BlockedRequesterFilter struct {
	blocked map[string]struct{}
}

func (f *BlockedRequesterFilter) Name() string {
	return "blocked_requester_filter"
}

func (f *BlockedRequesterFilter) Description() string {
	return "Rejects requests from blocked users"
}

func (f *BlockedRequesterFilter) ReturnCodes() []string {
	return []string{"requester_blocked"}
}

func (f *BlockedRequesterFilter) ValidateConfig(settings map[string]any) error {
	var config BlockedRequesterConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.blocked = make(map[string]struct{}, len(config.UserIDs))
	for _, id := range config.UserIDs {
		f.blocked[id] = struct{}{}
	}
	return nil
}

func (f *BlockedRequesterFilter) AppliesTo(requesterType media.RequesterType) bool {
	// Only users can be blocked
	return requesterType == media.RequesterTypeUser
}

func (f *BlockedRequesterFilter) Check(ctx context.Context, req Request) Result {
	if _, ok := f.blocked[req.Requester.ID]; ok {
		return Reject("requester_blocked")
	}
	return Accept()
}

func init() {
	Register("blocked_requester_filter", func() Filter {
		return &BlockedRequesterFilter{}
	})
}
