package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterSpacesSameChannel(t *testing.T) {
	t.Parallel()
	const interval = 100 * time.Millisecond
	l := NewRateLimiter(interval)
	ctx := context.Background()

	start := time.Now()
	if err := l.Wait(ctx, "@chan"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	first := time.Since(start)
	if first > interval/2 {
		t.Fatalf("first dispatch waited %v, want immediate", first)
	}

	if err := l.Wait(ctx, "@chan"); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < interval-10*time.Millisecond {
		t.Fatalf("second dispatch after %v, want >= %v", elapsed, interval)
	}
}

func TestRateLimiterIndependentChannels(t *testing.T) {
	t.Parallel()
	l := NewRateLimiter(time.Minute)
	ctx := context.Background()

	if err := l.Wait(ctx, "@a"); err != nil {
		t.Fatalf("Wait(@a): %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "@b"); err != nil {
		t.Fatalf("Wait(@b): %v", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("unrelated channel blocked for %v", d)
	}
}

func TestRateLimiterRespectsContext(t *testing.T) {
	t.Parallel()
	l := NewRateLimiter(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "@chan"); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	if err := l.Wait(ctx, "@chan"); err == nil {
		t.Fatal("expected context error on blocked Wait")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	t.Parallel()
	l := NewRateLimiter(0)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := l.Wait(ctx, "@chan"); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("disabled limiter blocked for %v", d)
	}
}
