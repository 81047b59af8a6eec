package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/tidemark/shoregrid/internal/ctxlog"
)

// Config controls the backoff schedule for calls to the rate-limited
// external service. Sleep and Jitter are injectable so the policy is
// testable with a fake clock.
type Config struct {
	// MaxAttempts is the total attempt budget K, including the first try.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between any two attempts.
	MaxBackoff time.Duration

	// MaxTotalWait caps the summed backoff across all attempts; once
	// exceeded, the next retryable failure becomes fatal.
	MaxTotalWait time.Duration

	// BackoffFactor is the exponential multiplier between attempts.
	BackoffFactor float64

	// JitterFactor is the maximum random jitter as a fraction of the
	// backoff (0..1), spreading retries from concurrent site tasks.
	JitterFactor float64

	// Sleep waits for d or until the context is done. Nil means real time.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns a random sample in [0,1). Nil means math/rand.
	Jitter func() float64
}

// DefaultConfig returns the policy used for tide-service calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		MaxTotalWait:   2 * time.Minute,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	if c.Jitter == nil {
		c.Jitter = rand.Float64
	}
	return c
}

// Stats reports what a Do call actually did.
type Stats struct {
	Attempts  int
	TotalWait time.Duration
}

// Op is one attempt against the external service. attempt starts at 1.
type Op func(ctx context.Context, attempt int) error

// Do runs op under the retry policy. Retryable failures are retried with
// exponential backoff and jitter until the attempt budget or total-wait
// budget runs out, at which point the last failure is reported as fatal.
// Fatal failures and context cancellation return immediately.
func Do(ctx context.Context, cfg Config, op Op) (Stats, error) {
	cfg = cfg.withDefaults()
	logger := ctxlog.FromContext(ctx)

	var stats Stats
	backoff := cfg.InitialBackoff
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return stats, errors.Wrap(err, "retry canceled")
		}
		stats.Attempts = attempt

		err := op(ctx, attempt)
		if err == nil {
			return stats, nil
		}
		if !IsRetryable(err) {
			return stats, AsFatal(err)
		}
		if attempt == cfg.MaxAttempts {
			return stats, exhausted(err, attempt)
		}

		wait := backoff
		if cfg.JitterFactor > 0 {
			wait += time.Duration(cfg.Jitter() * cfg.JitterFactor * float64(backoff))
		}
		if cfg.MaxBackoff > 0 && wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
		if cfg.MaxTotalWait > 0 && stats.TotalWait+wait > cfg.MaxTotalWait {
			return stats, exhausted(err, attempt)
		}

		logger.Debug("Retryable failure, backing off.",
			"attempt", attempt, "wait", wait, "error", err)
		if serr := cfg.Sleep(ctx, wait); serr != nil {
			return stats, errors.Wrap(serr, "retry canceled during backoff")
		}
		stats.TotalWait += wait
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
	}
	// Unreachable: the loop always returns from its final iteration.
	return stats, errors.New("retry loop ended without a result")
}

func exhausted(last error, attempts int) error {
	return AsFatal(errors.Wrapf(last, "retry budget exhausted after %d attempts", attempts))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
