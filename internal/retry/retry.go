// Package retry re-runs failed back office calls with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"pos-sync/internal/circuit"
	"pos-sync/internal/client"
	"pos-sync/internal/util"

	"github.com/cenkalti/backoff/v4"
)

// Timer is the wait primitive between attempts; tests swap in a fake one
type Timer = backoff.Timer

// Options controls one retry sequence
type Options struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter randomizes each delay by up to this fraction. Zero keeps delays deterministic.
	Jitter    float64
	Retryable func(error) bool
	// OnRetry observes every retry before its delay; attempt is 1 for the first retry.
	OnRetry func(err error, attempt int, delay time.Duration)
	Timer   Timer
}

// DefaultOptions mirrors the client-side defaults of the back office integration
func DefaultOptions() Options {
	return Options{
		MaxRetries:    3,
		BaseDelay:     time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		Retryable:     DefaultRetryable,
	}
}

// DefaultRetryable accepts network failures and 408, 429 and 5xx responses
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuit.ErrOpen) || errors.Is(err, context.Canceled) {
		return false
	}

	if code, ok := client.StatusCode(err); ok {
		return code == http.StatusRequestTimeout ||
			code == http.StatusTooManyRequests ||
			code >= 500
	}

	var netErr *client.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var opErr net.Error
	return errors.As(err, &opErr)
}

// Do runs op until it succeeds, returns a non-retryable error, or runs out of retries.
// The last error is returned unchanged.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	retryable := opts.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	if opts.MaxRetries <= 0 {
		return op(ctx)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.BaseDelay
	exp.MaxInterval = opts.MaxDelay
	exp.Multiplier = opts.BackoffFactor
	exp.RandomizationFactor = opts.Jitter
	exp.MaxElapsedTime = 0
	if exp.Multiplier < 1 {
		exp.Multiplier = 1
	}
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.Reset()

	b := backoff.WithMaxRetries(backoff.WithContext(exp, ctx), uint64(opts.MaxRetries))

	attempt := 0
	notify := func(err error, delay time.Duration) {
		attempt++
		util.RetryAttemptsTotal.Inc()
		if opts.OnRetry != nil {
			opts.OnRetry(err, attempt, delay)
		}
	}

	return backoff.RetryNotifyWithTimerAndData(func() (T, error) {
		res, err := op(ctx)
		if err != nil && !retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, b, notify, opts.Timer)
}
