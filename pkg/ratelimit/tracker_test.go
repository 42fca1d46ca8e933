package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newMemoryTracker(now time.Time) *Tracker {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger)
	tracker.now = func() time.Time { return now }
	return tracker
}

func TestUpdateFromResponse_IgnoresOtherStatuses(t *testing.T) {
	tracker := newMemoryTracker(time.Now())
	ctx := context.Background()

	for _, status := range []int{200, 404, 500, 503} {
		if err := tracker.UpdateFromResponse(ctx, "api.example.com", status, http.Header{}); err != nil {
			t.Fatalf("UpdateFromResponse(%d) error = %v", status, err)
		}
	}

	w, err := tracker.GetWindow(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetWindow() error = %v", err)
	}
	if w != nil {
		t.Errorf("expected no window, got %+v", w)
	}
}

func TestUpdateFromResponse_RecordsWindow(t *testing.T) {
	now := time.Now()
	tracker := newMemoryTracker(now)
	ctx := context.Background()

	headers := http.Header{}
	headers.Set("Retry-After", "20")

	if err := tracker.UpdateFromResponse(ctx, "api.example.com", http.StatusTooManyRequests, headers); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	w, err := tracker.GetWindow(ctx, "api.example.com")
	if err != nil {
		t.Fatalf("GetWindow() error = %v", err)
	}
	if w == nil {
		t.Fatal("expected a window to be recorded")
	}
	if !w.BlockedUntil.Equal(now.Add(20 * time.Second)) {
		t.Errorf("BlockedUntil = %v, want %v", w.BlockedUntil, now.Add(20*time.Second))
	}

	other, _ := tracker.GetWindow(ctx, "other.example.com")
	if other != nil {
		t.Error("windows must be scoped per host")
	}
}

func TestWait_NoWindow(t *testing.T) {
	tracker := newMemoryTracker(time.Now())

	start := time.Now()
	if err := tracker.Wait(context.Background(), "api.example.com"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Wait() should return immediately without a window")
	}
}

func TestWait_BlocksUntilWindowPasses(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger)
	tracker.local["api.example.com"] = Window{
		Host:         "api.example.com",
		BlockedUntil: time.Now().Add(150 * time.Millisecond),
	}

	start := time.Now()
	if err := tracker.Wait(context.Background(), "api.example.com"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Wait() returned after %v, expected to block", elapsed)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(nil, logger)
	tracker.local["api.example.com"] = Window{BlockedUntil: time.Now().Add(time.Minute)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tracker.Wait(ctx, "api.example.com"); err == nil {
		t.Error("Wait() should fail when the context is cancelled")
	}
}
