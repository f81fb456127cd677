package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"sharewear/internal/pkg/errors"
)

func fastPolicy(max int) RetryPolicy {
	return RetryPolicy{MaxAttempts: max, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetryPolicyTransient(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(3).Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.AssetFetch("https://assets.test/a.png", fmt.Errorf("status 503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", attempts, calls)
	}
}

func TestRetryPolicyPermanentStopsImmediately(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(5).Run(context.Background(), func() error {
		calls++
		return errors.Validation("bad design")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.IsValidation(err) {
		t.Errorf("error lost its class: %v", err)
	}
	if attempts != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", attempts, calls)
	}
}

func TestRetryPolicyExhaustion(t *testing.T) {
	calls := 0
	attempts, err := fastPolicy(3).Run(context.Background(), func() error {
		calls++
		return errors.Timeout("render")
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", attempts, calls)
	}
}

func TestRetryPolicyContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Hour}.Run(ctx, func() error {
		return errors.Timeout("render")
	})
	if err == nil {
		t.Fatal("expected error when context is cancelled")
	}
}
