package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	res := Do(context.Background(), DefaultConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if !res.Success || res.Data != 42 || res.Attempts != 1 {
		t.Fatalf("got %+v", res)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesOnRetryableThenSucceeds(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	res := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, WrapHTTPStatus(503, nil)
		}
		return 7, nil
	})
	if !res.Success || res.Attempts != 3 || res.Data != 7 {
		t.Fatalf("got %+v", res)
	}
}

func TestDoStopsImmediatelyOnNonRetryable(t *testing.T) {
	calls := 0
	permanent := errors.New("bad request")
	cfg := Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	res := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	if res.Success || calls != 1 {
		t.Fatalf("expected single attempt on non-retryable error, got calls=%d result=%+v", calls, res)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	cfg := Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	res := Do(context.Background(), cfg, func(ctx context.Context) (int, error) {
		calls++
		return 0, WrapHTTPStatus(502, nil)
	})
	if res.Success || calls != 3 || res.Attempts != 3 {
		t.Fatalf("got calls=%d result=%+v", calls, res)
	}
}

func TestRetryableHTTPStatus(t *testing.T) {
	if RetryableHTTPStatus(200) {
		t.Error("200 should not be retryable")
	}
	if !RetryableHTTPStatus(503) {
		t.Error("503 should be retryable")
	}
	if RetryableHTTPStatus(404) {
		t.Error("404 should not be retryable")
	}
}
