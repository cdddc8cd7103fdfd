package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) StatusCode() int { return e.code }

func fastOpts() Options {
	return Options{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_RetryableFailureAttemptsMaxRetriesPlusOne(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastOpts(), func(context.Context) error {
		attempts++
		return &statusErr{code: http.StatusServiceUnavailable}
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts, "maxRetries=3 means 4 attempts total")
}

func TestDo_NonRetryableFailureAttemptsOnce(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastOpts(), func(context.Context) error {
		attempts++
		return &statusErr{code: http.StatusBadRequest}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastOpts(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &statusErr{code: http.StatusTooManyRequests}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoValue_ReturnsValueAndLastError(t *testing.T) {
	v, err := DoValue(context.Background(), fastOpts(), func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	wantErr := &statusErr{code: http.StatusInternalServerError}
	_, err = DoValue(context.Background(), fastOpts(), func(context.Context) (string, error) {
		return "", wantErr
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	opts := Options{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, opts, func(context.Context) error {
		attempts++
		return &statusErr{code: http.StatusBadGateway}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryable_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"google 429", &googleapi.Error{Code: 429}, true},
		{"google 503", &googleapi.Error{Code: 503}, true},
		{"google 400", &googleapi.Error{Code: 400}, false},
		{"google 404", &googleapi.Error{Code: 404}, false},
		{"status coder 500", &statusErr{code: 500}, true},
		{"status coder 403", &statusErr{code: 403}, false},
		{"wrapped status coder", fmt.Errorf("call failed: %w", &statusErr{code: 502}), true},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestBackoff_NeverExceedsMaxDelay(t *testing.T) {
	opts := Options{BaseDelay: time.Second, MaxDelay: 10 * time.Second}.withDefaults()
	for attempt := 0; attempt < 20; attempt++ {
		d := backoff(opts, attempt)
		assert.LessOrEqual(t, d, opts.MaxDelay, "attempt %d", attempt)
		assert.Greater(t, d, time.Duration(0))
	}
}
