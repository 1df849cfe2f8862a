package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestBackoff_Growth(t *testing.T) {
	policy := DefaultReconnectPolicy()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, w := range want {
		if got := policy.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoff_Cap(t *testing.T) {
	tests := []struct {
		attempt int
		base    time.Duration
		max     time.Duration
		want    time.Duration
	}{
		{attempt: 5, base: time.Second, max: 30 * time.Second, want: 30 * time.Second},
		{attempt: 10, base: time.Second, max: 30 * time.Second, want: 30 * time.Second},
		{attempt: 200, base: time.Second, max: 30 * time.Second, want: 30 * time.Second},
		{attempt: 0, base: 50 * time.Second, max: 30 * time.Second, want: 30 * time.Second},
		{attempt: 3, base: time.Second, max: 0, want: 8 * time.Second},
		{attempt: -1, base: time.Second, max: 0, want: time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, tt.base, tt.max); got != tt.want {
			t.Errorf("Backoff(%d, %v, %v) = %v, want %v", tt.attempt, tt.base, tt.max, got, tt.want)
		}
	}
}

func TestDefaultPolicies(t *testing.T) {
	if got := DefaultReconnectPolicy().MaxAttempts; got != 5 {
		t.Errorf("reconnect MaxAttempts = %d, want 5", got)
	}
	if got := DefaultConnectPolicy().MaxAttempts; got != 3 {
		t.Errorf("connect MaxAttempts = %d, want 3", got)
	}
	if got := (RetryPolicy{}).attempts(); got != 1 {
		t.Errorf("zero policy attempts = %d, want 1", got)
	}
}

func TestSleep_MockClock(t *testing.T) {
	mock := clock.NewMock()
	done := make(chan error, 1)

	go func() {
		done <- sleep(context.Background(), mock, 4*time.Second)
	}()

	// Let the goroutine register its timer before advancing.
	for i := 0; i < 100; i++ {
		mock.Add(time.Second)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("sleep returned %v", err)
			}
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
	t.Fatal("sleep never returned")
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, clock.New(), time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("sleep error = %v, want context.Canceled", err)
	}
}
