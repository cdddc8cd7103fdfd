// Package retry wraps fallible operations with bounded
// exponential-backoff-and-jitter retry.
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/emersion/go-webdav"
	"google.golang.org/api/googleapi"
)

// Classifier reports whether a failure is transient and worth retrying.
type Classifier func(error) bool

// Options bound the retry loop. The zero value gets sensible defaults from
// withDefaults.
type Options struct {
	MaxRetries int           // attempts beyond the first, default 3
	BaseDelay  time.Duration // default 1s
	MaxDelay   time.Duration // default 10s
	Classifier Classifier    // default Retryable
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.Classifier == nil {
		o.Classifier = Retryable
	}
	return o
}

// StatusCoder is implemented by structured errors that carry an HTTP status
// code, so classification never has to match on message text.
type StatusCoder interface {
	StatusCode() int
}

// Retryable is the default classifier: rate limiting, server-side 5xx and
// transient network failures are retryable; anything else, in particular
// other 4xx client errors, surfaces immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retryableStatus(gerr.Code)
	}
	var werr *webdav.HTTPError
	if errors.As(err, &werr) {
		return retryableStatus(werr.Code)
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return retryableStatus(sc.StatusCode())
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

// Do runs op, retrying classified-transient failures with exponential backoff
// and jitter until the attempt budget is exhausted. The last error is
// returned unwrapped so callers can still inspect it. Backoff waits respect
// ctx cancellation.
func Do(ctx context.Context, opts Options, op func(context.Context) error) error {
	_, err := DoValue(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, opts Options, op func(context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= opts.MaxRetries || !opts.Classifier(err) {
			return zero, err
		}
		if werr := sleep(ctx, backoff(opts, attempt)); werr != nil {
			return zero, werr
		}
	}
}

// backoff computes min(base*2^attempt + random(0, base), max).
func backoff(opts Options, attempt int) time.Duration {
	d := opts.BaseDelay << uint(attempt)
	if d <= 0 || d > opts.MaxDelay {
		d = opts.MaxDelay
	}
	d += time.Duration(rand.Int64N(int64(opts.BaseDelay)))
	if d > opts.MaxDelay {
		d = opts.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
