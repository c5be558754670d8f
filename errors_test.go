package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryBackoffSequence(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := retryBackoff(i); got != w {
			t.Errorf("retryBackoff(%d) = %v, want %v", i, got, w)
		}
	}
}

func TestWithConnectRetryExhaustsAttempts(t *testing.T) {
	old := connectBackoffBase
	connectBackoffBase = time.Microsecond
	defer func() { connectBackoffBase = old }()

	calls := 0
	err := withConnectRetry(context.Background(), "test", func() error {
		calls++
		return errors.New("refused")
	})
	if calls != connectRetries+1 {
		t.Errorf("calls = %d, want %d (1 attempt + %d retries)", calls, connectRetries+1, connectRetries)
	}
	if exitCode(err) != 2 {
		t.Errorf("exhausted retry exit code = %d, want 2", exitCode(err))
	}
}

func TestWithConnectRetryStopsOnSuccess(t *testing.T) {
	old := connectBackoffBase
	connectBackoffBase = time.Microsecond
	defer func() { connectBackoffBase = old }()

	calls := 0
	err := withConnectRetry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithConnectRetryHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withConnectRetry(ctx, "test", func() error {
		calls++
		return errors.New("refused")
	})
	if err == nil {
		t.Fatal("cancelled retry should error")
	}
	if calls != 1 {
		t.Errorf("calls after cancel = %d, want 1", calls)
	}
}
