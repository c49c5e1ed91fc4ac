package filter

import (
	"context"
	"net/url"
	"strings"

	"github.com/osa030/jukebot/internal/domain/media"
)

// HostAllowlistConfig represents the configuration for HostAllowlistFilter.
type HostAllowlistConfig struct {
	Hosts []string `mapstructure:"hosts" validate:"min=1,dive,hostname"`
}

// HostAllowlistFilter restricts URL references to a set of hosts and their subdomains.
// References that are not URLs are left to other filters.
type HostAllowlistFilter struct {
	hosts []string
}

func (f *HostAllowlistFilter) Name() string {
	return "host_allowlist_filter"
}

func (f *HostAllowlistFilter) Description() string {
	return "Checks that URL references point at an allowed host"
}

func (f *HostAllowlistFilter) ReturnCodes() []string {
	return []string{"host_not_allowed"}
}

func (f *HostAllowlistFilter) ValidateConfig(settings map[string]any) error {
	var config HostAllowlistConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.hosts = make([]string, len(config.Hosts))
	for i, h := range config.Hosts {
		f.hosts[i] = strings.ToLower(h)
	}
	return nil
}

func (f *HostAllowlistFilter) AppliesTo(requesterType media.RequesterType) bool {
	// Admin requests bypass the allowlist
	return requesterType == media.RequesterTypeUser
}

func (f *HostAllowlistFilter) Check(ctx context.Context, req Request) Result {
	u, err := url.Parse(strings.TrimSpace(req.Ref))
	if err != nil || u.Host == "" {
		return Accept()
	}

	host := strings.ToLower(u.Hostname())
	for _, h := range f.hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return Accept()
		}
	}
	return Reject("host_not_allowed")
}

func init() {
	Register("host_allowlist_filter", func() Filter {
		return &HostAllowlistFilter{}
	})
}
