package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{Attempts: 4, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("busy")
		}
		return 42, nil
	}, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Fatalf("Do() = %d after %d calls", got, calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	sentinel := errors.New("constraint")
	calls := 0
	_, err := Do(context.Background(), Policy{Attempts: 5, InitialInterval: time.Millisecond}, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, Permanent(sentinel)
	}, nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestDoBoundsAttempts(t *testing.T) {
	calls := 0
	notified := 0
	_, err := Do(context.Background(), Policy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	}, func(error, time.Duration) { notified++ })
	if err == nil {
		t.Fatalf("Do() expected error")
	}
	if calls != 3 || notified != 2 {
		t.Fatalf("calls = %d notified = %d", calls, notified)
	}
}
