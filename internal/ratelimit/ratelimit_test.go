package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/exchange/engine/internal/exchangeiface"
)

func TestAcquireBlocksUntilTokenAvailable(t *testing.T) {
	m := New(Limits{RequestsPerMinute: 60, Burst: 1}, time.Second)

	ctx := context.Background()
	if err := m.Acquire(ctx, exchangeiface.Binance); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	start := time.Now()
	if err := m.Acquire(ctx, exchangeiface.Binance); err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Fatalf("expected second Acquire to wait for bucket refill, only waited %v", elapsed)
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	m := New(Limits{RequestsPerMinute: 1, Burst: 1}, time.Second)
	_ = m.Acquire(context.Background(), exchangeiface.Bitmex) // drain the single token

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Acquire(ctx, exchangeiface.Bitmex); err == nil {
		t.Fatal("expected Acquire to fail once ctx expires")
	}
}

func TestConfigurePerExchangeOverridesDefault(t *testing.T) {
	m := New(Limits{RequestsPerMinute: 60, Burst: 1}, time.Second)
	m.Configure(exchangeiface.Serum, Limits{RequestsPerMinute: 6000, Burst: 100})

	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := m.Acquire(context.Background(), exchangeiface.Serum); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("expected burst of 100 to drain near-instantly, took %v", elapsed)
	}
}

func TestWithTimeoutReturnsNetworkErrorOnExpiry(t *testing.T) {
	m := New(Limits{RequestsPerMinute: 60, Burst: 1}, 30*time.Millisecond)

	err := m.WithTimeout(context.Background(), func(ctx context.Context) *exchangeiface.Error {
		<-ctx.Done()
		return &exchangeiface.Error{Kind: exchangeiface.KindNetwork, Message: "slow"}
	})
	if err == nil || err.Kind != exchangeiface.KindNetwork {
		t.Fatalf("expected Network error on timeout, got %v", err)
	}
}

func TestWithTimeoutPassesThroughFastSuccess(t *testing.T) {
	m := New(Limits{RequestsPerMinute: 60, Burst: 1}, time.Second)
	err := m.WithTimeout(context.Background(), func(ctx context.Context) *exchangeiface.Error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryBackoff{Initial: time.Millisecond, Multiplier: 2, MaxAttempts: 5}, func(ctx context.Context) *exchangeiface.Error {
		calls++
		return &exchangeiface.Error{Kind: exchangeiface.KindInvalidOrder}
	})
	if err == nil || err.Kind != exchangeiface.KindInvalidOrder {
		t.Fatalf("expected InvalidOrder passthrough, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable error, got %d", calls)
	}
}

func TestWithRetryRetriesNetworkErrorsThenSucceeds(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryBackoff{Initial: time.Millisecond, Multiplier: 2, MaxAttempts: 5}, func(ctx context.Context) *exchangeiface.Error {
		calls++
		if calls < 3 {
			return &exchangeiface.Error{Kind: exchangeiface.KindNetwork}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestWithRetryExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), RetryBackoff{Initial: time.Millisecond, Multiplier: 2, MaxAttempts: 3}, func(ctx context.Context) *exchangeiface.Error {
		calls++
		return &exchangeiface.Error{Kind: exchangeiface.KindRateLimit}
	})
	if err == nil || err.Kind != exchangeiface.KindRateLimit {
		t.Fatalf("expected last RateLimit error returned, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly MaxAttempts calls, got %d", calls)
	}
}
