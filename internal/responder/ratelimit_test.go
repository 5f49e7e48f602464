package responder

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(3, 600) // 10 tokens per second
	ctx := context.Background()

	start := time.Now()
	for i := range 3 {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("token %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("burst took %v", elapsed)
	}

	start = time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("fourth call returned after %v, want a refill wait", elapsed)
	}
}

func TestRateLimiter_WaitStopsOnDeadline(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v, want deadline exceeded", err)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	tests := []struct {
		burst    int
		perMin   float64
		wantMax  float64
		wantRate float64
	}{
		{0, 0, 10, 1},
		{-1, 120, 10, 2},
		{4, 30, 4, 0.5},
	}
	for _, tt := range tests {
		rl := NewRateLimiter(tt.burst, tt.perMin)
		if rl.max != tt.wantMax || rl.rate != tt.wantRate {
			t.Errorf("NewRateLimiter(%d, %v) = max %v rate %v, want %v %v",
				tt.burst, tt.perMin, rl.max, rl.rate, tt.wantMax, tt.wantRate)
		}
	}
}
