package llm

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// call runs fn with a per-attempt timeout and retries transient failures up to maxRetries times.
func call[T any](ctx context.Context, timeout time.Duration, maxRetries int, transient func(error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryBaseDelay
	policy.MaxInterval = retryMaxDelay
	policy.MaxElapsedTime = 0

	var out T
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var err error
		out, err = fn(attemptCtx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(errors.Join(ctx.Err(), err))
		case !transient(err):
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx))
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTransientStatus(code int) bool {
	return code == 429 || code >= 500
}

func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
