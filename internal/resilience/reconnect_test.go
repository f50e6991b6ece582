package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	cfg := &ReconnectConfig{MaxAttempts: 5, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 4 * time.Millisecond}

	err := Reconnect(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, cfg)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_GivesUp(t *testing.T) {
	cause := errors.New("refused")
	cfg := &ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 1}

	err := Reconnect(context.Background(), "test", func(ctx context.Context) error { return cause }, cfg)
	if !errors.Is(err, cause) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
}

func TestReconnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &ReconnectConfig{MaxAttempts: 0, Backoff: time.Second, Multiplier: 1}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Reconnect(ctx, "test", func(ctx context.Context) error { return errors.New("down") }, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
