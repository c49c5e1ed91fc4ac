// Package resolve maps media references to something the fetcher can download.
package resolve

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Resolver translates references it recognizes.
// ok is false when the resolver does not handle ref.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (target string, ok bool, err error)
}

// Chain tries resolvers in order. References no resolver handles pass through unchanged.
type Chain []Resolver

// Resolve returns the download target for ref.
func (c Chain) Resolve(ctx context.Context, ref string) (string, error) {
	for _, r := range c {
		target, ok, err := r.Resolve(ctx, ref)
		if err != nil {
			return "", errors.Wrapf(err, "resolve %q", ref)
		}
		if ok {
			zlog.Debug().Msgf("resolve: ref=%s target=%s", ref, target)
			return target, nil
		}
	}
	return ref, nil
}
