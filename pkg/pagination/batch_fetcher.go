package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel requests
	MaxConcurrency int
	// ProgressEvery logs progress after this many fetched items; 0 disables it
	ProgressEvery int
}

// DefaultConfig returns a conservative configuration for the identity APIs
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		ProgressEvery:  100,
	}
}

// FetchFunc fetches a single item.
type FetchFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// result is the outcome of fetching a single key
type result[K comparable, V any] struct {
	key   K
	value V
	err   error
}

// BatchFetcher fetches independent items with a bounded worker pool
type BatchFetcher[K comparable, V any] struct {
	fetch  FetchFunc[K, V]
	config Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher[K comparable, V any](fetch FetchFunc[K, V], config Config) *BatchFetcher[K, V] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &BatchFetcher[K, V]{fetch: fetch, config: config}
}

// FetchAll fetches every key and returns key -> value. The first failure
// cancels outstanding work and is returned together with the items fetched
// so far.
func (bf *BatchFetcher[K, V]) FetchAll(ctx context.Context, keys []K) (map[K]V, error) {
	start := time.Now()
	results := make(map[K]V, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan K)
	out := make(chan result[K, V])

	go func() {
		defer close(queue)
		for _, k := range keys {
			select {
			case queue <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < min(bf.config.MaxConcurrency, len(keys)); i++ {
		wg.Add(1)
		go bf.worker(ctx, queue, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	var firstErr error
	for res := range out {
		if res.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("fetch %v: %w", res.key, res.err)
				cancel()
			}
			continue
		}
		results[res.key] = res.value

		if bf.config.ProgressEvery > 0 && len(results)%bf.config.ProgressEvery == 0 {
			log.Info().
				Int("fetched", len(results)).
				Int("total", len(keys)).
				Float64("progress_pct", float64(len(results))/float64(len(keys))*100).
				Msg("Fetch progress")
		}
	}

	if firstErr != nil {
		log.Warn().
			Err(firstErr).
			Int("fetched", len(results)).
			Int("total", len(keys)).
			Msg("Batch fetch failed - returning partial results")
		return results, firstErr
	}

	log.Debug().
		Int("items", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")
	return results, nil
}

// worker processes keys from the queue
func (bf *BatchFetcher[K, V]) worker(ctx context.Context, queue <-chan K, out chan<- result[K, V], wg *sync.WaitGroup) {
	defer wg.Done()

	for key := range queue {
		if ctx.Err() != nil {
			return
		}

		value, err := bf.fetch(ctx, key)
		select {
		case out <- result[K, V]{key: key, value: value, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
