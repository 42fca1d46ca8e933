//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_SharedWindow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	first := NewTracker(redisClient, logger)
	second := NewTracker(redisClient, logger)
	ctx := context.Background()

	w, err := first.GetWindow(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetWindow() error = %v", err)
	}
	if w != nil {
		t.Fatalf("expected no window in empty redis, got %+v", w)
	}

	headers := http.Header{}
	headers.Set("Retry-After", "30")
	if err := first.UpdateFromResponse(ctx, "api.example.com", http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	// A second tracker sharing redis sees the same window.
	w, err = second.GetWindow(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetWindow() error = %v", err)
	}
	if !w.Active(time.Now()) {
		t.Fatal("expected an active window")
	}

	remaining := w.Remaining(time.Now())
	if remaining < 25*time.Second || remaining > 31*time.Second {
		t.Errorf("Remaining = %v, want approximately 30s", remaining)
	}

	ttl, err := redisClient.TTL(ctx, RedisKey("api.example.com")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > 32*time.Second {
		t.Errorf("redis TTL = %v, want the window length", ttl)
	}
}

func TestTracker_Integration_WaitCancelled(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)

	headers := http.Header{}
	headers.Set("Retry-After", "60")
	if err := tracker.UpdateFromResponse(context.Background(), "api.example.com", http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := tracker.Wait(ctx, "api.example.com"); err == nil {
		t.Error("Wait() should return the context error while the window is active")
	}
}
