package destination

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seino/sync-garoon-calendar/internal/models"
	"github.com/seino/sync-garoon-calendar/internal/retry"
)

type flakyStatusErr struct{ code int }

func (e *flakyStatusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *flakyStatusErr) StatusCode() int { return e.code }

// flakyProvider fails each operation a fixed number of times before
// succeeding.
type flakyProvider struct {
	failures int
	calls    int
	code     int
}

func (f *flakyProvider) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		return &flakyStatusErr{code: f.code}
	}
	return nil
}

func (f *flakyProvider) Create(context.Context, *models.DestinationEvent) (string, error) {
	if err := f.attempt(); err != nil {
		return "", err
	}
	return "dest-1", nil
}

func (f *flakyProvider) Update(context.Context, string, *models.DestinationEvent) error {
	return f.attempt()
}

func (f *flakyProvider) Delete(context.Context, string) error { return f.attempt() }

func (f *flakyProvider) Get(context.Context, string) (*models.DestinationEvent, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return &models.DestinationEvent{ID: "dest-1"}, nil
}

func fastRetryOpts() retry.Options {
	return retry.Options{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestWithRetry_RecoversFromTransientFailures(t *testing.T) {
	inner := &flakyProvider{failures: 2, code: 503}
	p := WithRetry(inner, fastRetryOpts(), slog.New(slog.DiscardHandler))

	id, err := p.Create(context.Background(), &models.DestinationEvent{Title: "x"})
	require.NoError(t, err)
	assert.Equal(t, "dest-1", id)
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	inner := &flakyProvider{failures: 10, code: 400}
	p := WithRetry(inner, fastRetryOpts(), slog.New(slog.DiscardHandler))

	err := p.Update(context.Background(), "dest-1", &models.DestinationEvent{Title: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetry_GetPassesThroughAbsent(t *testing.T) {
	inner := &flakyProvider{failures: 1, code: 429}
	p := WithRetry(inner, fastRetryOpts(), slog.New(slog.DiscardHandler))

	got, err := p.Get(context.Background(), "dest-1")
	require.NoError(t, err)
	assert.Equal(t, "dest-1", got.ID)
	assert.Equal(t, 2, inner.calls)
}
