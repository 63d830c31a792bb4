package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunStopsWithContext(t *testing.T) {
	s := New(Options{MinInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int64

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if ticks.Load() < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", ticks.Load())
	}
}

func TestRunSurvivesTickErrors(t *testing.T) {
	s := New(Options{MinInterval: time.Millisecond, ErrorBackoff: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int64

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return errors.New("boom")
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	if ticks.Load() < 3 {
		t.Fatalf("loop should continue through errors, got %d ticks", ticks.Load())
	}
}

func TestNextDelayWithinBounds(t *testing.T) {
	s := New(Options{MinInterval: 5 * time.Minute, MaxInterval: 15 * time.Minute}, zerolog.Nop())
	for i := 0; i < 1000; i++ {
		d := s.nextDelay()
		if d < 5*time.Minute || d > 15*time.Minute {
			t.Fatalf("delay %v outside [5m, 15m]", d)
		}
	}
}

func TestNextDelayFixedInterval(t *testing.T) {
	s := New(Options{MinInterval: time.Minute}, zerolog.Nop())
	if d := s.nextDelay(); d != time.Minute {
		t.Fatalf("expected fixed 1m delay, got %v", d)
	}
}

func TestNewPanicsOnInvalidInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}
