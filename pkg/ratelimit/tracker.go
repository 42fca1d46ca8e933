package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitWindowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardclient_rate_limit_windows_total",
		Help: "Total number of rate limit windows announced by backends",
	}, []string{"host"})

	rateLimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cardclient_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for a rate limit window to pass",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"host"})
)

// Tracker records rate-limit windows per backend host and gates requests.
// A nil Redis client keeps the state in process memory.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local map[string]Window
}

// NewTracker creates a new rate limit tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
		now:    time.Now,
		local:  make(map[string]Window),
	}
}

// GetWindow returns the recorded window for host, or nil when none is known.
func (t *Tracker) GetWindow(ctx context.Context, host string) (*Window, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		w, ok := t.local[host]
		if !ok {
			return nil, nil
		}
		return &w, nil
	}

	data, err := t.redis.Get(ctx, RedisKey(host)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit window: %w", err)
	}

	var w Window
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse rate limit window: %w", err)
	}
	return &w, nil
}

// UpdateFromResponse records a window when the backend answered 429.
func (t *Tracker) UpdateFromResponse(ctx context.Context, host string, statusCode int, headers http.Header) error {
	if statusCode != http.StatusTooManyRequests {
		return nil
	}

	now := t.now()
	wait := ParseRetryAfter(headers, now)
	w := Window{
		Host:         host,
		BlockedUntil: now.Add(wait),
		LastUpdate:   now,
	}

	rateLimitWindowsTotal.WithLabelValues(host).Inc()
	t.logger.Warn().
		Str("host", host).
		Dur("retry_after", wait).
		Msg("Backend rate limit reached")

	if t.redis == nil {
		t.mu.Lock()
		t.local[host] = w
		t.mu.Unlock()
		return nil
	}

	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal rate limit window: %w", err)
	}
	// Expire with the window so stale state never lingers.
	if err := t.redis.Set(ctx, RedisKey(host), data, wait+time.Second).Err(); err != nil {
		return fmt.Errorf("store rate limit window in redis: %w", err)
	}
	return nil
}

// Wait blocks until no window is active for host or ctx is done.
func (t *Tracker) Wait(ctx context.Context, host string) error {
	w, err := t.GetWindow(ctx, host)
	if err != nil {
		return err
	}

	remaining := w.Remaining(t.now())
	if remaining <= 0 {
		return nil
	}

	t.logger.Info().
		Str("host", host).
		Dur("wait_duration", remaining).
		Msg("Waiting for rate limit window")
	rateLimitWaitSeconds.WithLabelValues(host).Observe(remaining.Seconds())

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
