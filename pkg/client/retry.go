package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardclient_retries_total",
		Help: "Total number of retry attempts",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cardclient_retry_backoff_seconds",
		Help:    "Backoff duration waited between attempts",
		Buckets: []float64{0.5, 1, 2, 3, 5, 10, 30},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardclient_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted",
	})
)

// RetryPolicy holds the configuration for retry logic.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries including the first one.
	// Zero disables retrying: the first failure propagates immediately.
	MaxAttempts int

	// WaitMin and WaitMax bound the uniformly sampled wait between attempts.
	WaitMin time.Duration
	WaitMax time.Duration

	// Timeout bounds every single attempt, including reading the body.
	Timeout time.Duration
}

// DefaultRetryPolicy returns the default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		WaitMin:     1 * time.Second,
		WaitMax:     3 * time.Second,
		Timeout:     10 * time.Second,
	}
}

// Validate checks the policy for values that cannot be honoured.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 0:
		return NewConfigurationError("retry_attempts", "must be >= 0 (got %d)", p.MaxAttempts)
	case p.WaitMin < 0 || p.WaitMax < 0:
		return NewConfigurationError("retry_wait", "wait bounds must not be negative")
	case p.WaitMax < p.WaitMin:
		return NewConfigurationError("retry_wait", "upper bound %v below lower bound %v", p.WaitMax, p.WaitMin)
	case p.Timeout < 0:
		return NewConfigurationError("timeout", "must not be negative")
	}
	return nil
}

// Attempts returns the number of tries the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff samples a wait duration uniformly from [WaitMin, WaitMax].
func (p RetryPolicy) Backoff() time.Duration {
	if p.WaitMax <= p.WaitMin {
		return p.WaitMin
	}
	return p.WaitMin + rand.N(p.WaitMax-p.WaitMin+1)
}

// Key renders the policy as a stable cache-key fragment.
func (p RetryPolicy) Key() string {
	return fmt.Sprintf("attempts=%d:wait=%s-%s:timeout=%s", p.MaxAttempts, p.WaitMin, p.WaitMax, p.Timeout)
}

// Retry runs fn until it succeeds, returns a Permanent error, or the policy's
// attempts are used up. fn receives the 1-based attempt number.
func Retry(ctx context.Context, policy RetryPolicy, fn func(attempt int) error) error {
	attempts := policy.Attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err

		if attempt >= attempts {
			break
		}

		retriesTotal.Inc()
		wait := policy.Backoff()
		retryBackoffSeconds.Observe(wait.Seconds())

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(wait):
		}
	}

	if policy.MaxAttempts <= 1 {
		return lastErr
	}

	retryExhaustedTotal.Inc()
	log.Warn().
		Err(lastErr).
		Int("max_attempts", attempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
}
