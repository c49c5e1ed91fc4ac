package filter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/osa030/jukebot/internal/domain/media"
)

// RequesterRateConfig represents the configuration for RequesterRateFilter.
type RequesterRateConfig struct {
	PerMinute float64 `mapstructure:"per_minute" default:"6" validate:"gt=0"`
	Burst     int     `mapstructure:"burst" default:"3" validate:"gte=1"`
}

// RequesterRateFilter limits how often a single requester may enqueue.
type RequesterRateFilter struct {
	config RequesterRateConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (f *RequesterRateFilter) Name() string {
	return "requester_rate_filter"
}

func (f *RequesterRateFilter) Description() string {
	return "Limits the request rate of each requester"
}

func (f *RequesterRateFilter) ReturnCodes() []string {
	return []string{"rate_limited"}
}

func (f *RequesterRateFilter) ValidateConfig(settings map[string]any) error {
	var config RequesterRateConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = config
	f.limiters = make(map[string]*rate.Limiter)
	return nil
}

func (f *RequesterRateFilter) AppliesTo(requesterType media.RequesterType) bool {
	return requesterType == media.RequesterTypeUser
}

func (f *RequesterRateFilter) Check(ctx context.Context, req Request) Result {
	if f.limiter(req.Requester.ID).Allow() {
		return Accept()
	}
	return Reject("rate_limited")
}

func (f *RequesterRateFilter) limiter(id string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.limiters == nil {
		f.limiters = make(map[string]*rate.Limiter)
	}
	l, ok := f.limiters[id]
	if !ok {
		every := time.Duration(float64(time.Minute) / f.config.PerMinute)
		l = rate.NewLimiter(rate.Every(every), f.config.Burst)
		f.limiters[id] = l
	}
	return l
}

func init() {
	Register("requester_rate_filter", func() Filter {
		return &RequesterRateFilter{}
	})
}
