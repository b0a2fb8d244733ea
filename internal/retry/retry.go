// internal/retry/retry.go
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Decision tells Do what to do with a failed attempt.
type Decision int

const (
	// Retry waits for the next back-off interval and tries again.
	Retry Decision = iota
	// Abort returns the error immediately.
	Abort
	// Cooldown tries again without waiting; the caller has already parked the failing credential.
	Cooldown
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Abort:
		return "abort"
	case Cooldown:
		return "cooldown"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Classifier maps an error to a Decision.
type Classifier func(error) Decision

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy mirrors the collector defaults: five attempts, 1s doubling up to a minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     time.Minute,
		Multiplier:      2,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// AlwaysRetry retries every error.
func AlwaysRetry(error) Decision { return Retry }

// Do runs op until it succeeds, the classifier aborts, attempts run out or ctx is done.
func Do(ctx context.Context, p Policy, classify Classifier, op func(context.Context) error) error {
	if classify == nil {
		classify = AlwaysRetry
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	b := p.backOff()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w (last error: %v)", ctxErr, err)
			}
			return ctxErr
		}

		err = op(ctx)
		if err == nil {
			return nil
		}

		decision := classify(err)
		if decision == Abort {
			return err
		}
		if attempt == attempts {
			break
		}
		if decision == Cooldown {
			continue
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-timer.C:
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}
