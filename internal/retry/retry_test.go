package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), Options{}, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Fatalf("got %q want ok", result)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), Options{Attempts: 5, DelayMs: 1}, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("got %d want 42", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("always fails")
	calls := 0
	_, err := Do(context.Background(), Options{Attempts: 3, DelayMs: 1}, func(ctx context.Context) (int, error) {
		calls++
		return 0, wantErr
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Options{Attempts: Unlimited, DelayMs: 20}, func(ctx context.Context) (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, errors.New("keep trying")
	})
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	var cancelled *CancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("expected *CancelledError, got %T: %v", err, err)
	}
}

func TestDoRespectsAlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := Do(ctx, Options{Attempts: Unlimited, DelayMs: 500}, func(ctx context.Context) (int, error) {
		return 0, errors.New("never succeeds")
	})
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatal("Do should fail fast on an already-cancelled context")
	}
}
