package util

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Backoff retries an operation with exponential delays. It is the timed
// retry for transient transport failures; it is never used for the
// structural batch-splitting retry, which carries no delay.
type Backoff struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // delay before the second attempt
	MaxDelay    time.Duration // cap on the computed delay
	Multiplier  float64       // growth factor, 2.0 if zero
	Jitter      float64       // 0..1 fraction of randomness on each delay
}

// DefaultBackoff is tuned for public JSON-RPC endpoints: quick first retry,
// bounded tail so a dead node fails a call in seconds rather than minutes.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 4,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// ErrAttemptsExhausted wraps the last error once every attempt has failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Retry runs op until it succeeds, returns a permanent error, or attempts
// run out. Permanent errors (marked with MarkPermanent) short-circuit.
func (b Backoff) Retry(ctx context.Context, op func() error) error {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = op()
		if last == nil {
			return nil
		}
		if IsPermanent(last) {
			return last
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(i + 1)):
		}
	}
	return errors.Join(ErrAttemptsExhausted, last)
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, b Backoff, op func() (T, error)) (T, error) {
	var out T
	err := b.Retry(ctx, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (b Backoff) delay(attempt int) time.Duration {
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(b.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if b.Jitter > 0 {
		spread := d * b.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	if b.MaxDelay > 0 && time.Duration(d) > b.MaxDelay {
		d = float64(b.MaxDelay)
	}
	return time.Duration(d)
}

// permanentError marks an error that retrying cannot fix (bad input,
// unknown protocol, deterministic revert).
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// MarkPermanent wraps err so Backoff.Retry stops immediately.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
