// Package destination writes canonical events to the configured destination
// calendar. Exactly one provider is active per run.
package destination

import (
	"context"
	"log/slog"

	"github.com/seino/sync-garoon-calendar/internal/models"
	"github.com/seino/sync-garoon-calendar/internal/retry"
)

// Provider is the destination calendar contract. All operations are
// idempotent at the engine level: Delete of a missing event succeeds, and Get
// reports a missing event as (nil, nil) rather than an error, since callers
// use it to detect out-of-band deletion.
type Provider interface {
	Create(ctx context.Context, event *models.DestinationEvent) (string, error)
	Update(ctx context.Context, id string, event *models.DestinationEvent) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.DestinationEvent, error)
}

// WithRetry wraps every provider operation in the backoff retry policy.
func WithRetry(p Provider, opts retry.Options, logger *slog.Logger) Provider {
	return &retryingProvider{p: p, opts: opts, logger: logger}
}

type retryingProvider struct {
	p      Provider
	opts   retry.Options
	logger *slog.Logger
}

func (r *retryingProvider) Create(ctx context.Context, event *models.DestinationEvent) (string, error) {
	return retry.DoValue(ctx, r.opts, func(ctx context.Context) (string, error) {
		return r.p.Create(ctx, event)
	})
}

func (r *retryingProvider) Update(ctx context.Context, id string, event *models.DestinationEvent) error {
	return retry.Do(ctx, r.opts, func(ctx context.Context) error {
		return r.p.Update(ctx, id, event)
	})
}

func (r *retryingProvider) Delete(ctx context.Context, id string) error {
	return retry.Do(ctx, r.opts, func(ctx context.Context) error {
		return r.p.Delete(ctx, id)
	})
}

func (r *retryingProvider) Get(ctx context.Context, id string) (*models.DestinationEvent, error) {
	return retry.DoValue(ctx, r.opts, func(ctx context.Context) (*models.DestinationEvent, error) {
		return r.p.Get(ctx, id)
	})
}
