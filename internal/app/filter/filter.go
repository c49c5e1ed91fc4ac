// Package filter provides the filter chain for play request validation.
package filter

import (
	"context"

	"github.com/osa030/jukebot/internal/domain/media"
)

// Request represents a play request to be validated.
type Request struct {
	Ref       string
	Requester media.Requester
	Pending   int // Entries the requester already has waiting in the queue
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "invalid_reference", "rate_limited"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for request filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to the given requester type.
	AppliesTo(requesterType media.RequesterType) bool
	// Check performs the filter check.
	Check(ctx context.Context, req Request) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
