package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2025, 10, 1, 9, 17, 3, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick %s", got)
	}

	onBoundary := time.Date(2025, 10, 1, 10, 0, 0, 0, time.UTC)
	if got := s.nextTick(onBoundary); !got.Equal(onBoundary.Add(time.Hour)) {
		t.Fatalf("a tick on the boundary must move forward, got %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 15 * time.Minute}, zerolog.Nop())
	now := time.Date(2025, 10, 1, 9, 17, 3, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	if got := s.tickStart(now); !got.Equal(now) {
		t.Fatalf("unaligned tick start should be the tick itself, got %s", got)
	}
}

func TestRunImmediatelyAndStop(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunImmediately: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := s.Run(ctx, func(context.Context, time.Time) error {
		calls++
		cancel()
		return errors.New("cycle failed")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one immediate tick, got %d", calls)
	}
}

func TestNewRejectsZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero interval should panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
