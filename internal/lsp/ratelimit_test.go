package lsp

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_ZeroRateDisablesLimiting(t *testing.T) {
	r := NewRateLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 100; i++ {
		if err := r.Wait(ctx, "textDocument/hover", false); err != nil {
			t.Fatalf("Wait() with rate 0 should never block/error, got %v", err)
		}
	}
}

func TestRateLimiter_LifecycleMethodsBypassLimit(t *testing.T) {
	r := NewRateLimiter(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 10; i++ {
		if err := r.Wait(ctx, "initialize", false); err != nil {
			t.Fatalf("Wait(initialize) should bypass the limiter, got %v", err)
		}
	}
}

func TestRateLimiter_NotificationsBypassLimit(t *testing.T) {
	r := NewRateLimiter(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	for i := 0; i < 10; i++ {
		if err := r.Wait(ctx, "textDocument/didChange", true); err != nil {
			t.Fatalf("Wait(notification) should bypass the limiter, got %v", err)
		}
	}
}

func TestRateLimiter_ThrottlesSteadyStateRequests(t *testing.T) {
	r := NewRateLimiter(1, 1)
	ctx := context.Background()

	// First request consumes the burst token immediately.
	if err := r.Wait(ctx, "textDocument/hover", false); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	// Second request should be throttled against a short deadline.
	shortCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(shortCtx, "textDocument/hover", false); err == nil {
		t.Error("second Wait() should be throttled and hit the deadline")
	}
}

func TestRateLimiter_NilReceiverIsSafe(t *testing.T) {
	var r *RateLimiter
	if err := r.Wait(context.Background(), "textDocument/hover", false); err != nil {
		t.Fatalf("Wait() on nil *RateLimiter should be a no-op, got %v", err)
	}
}
