package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRejectsZeroInterval(t *testing.T) {
	if _, err := New("sweep", Options{}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestNextTickAligned(t *testing.T) {
	s, err := New("sweep", Options{Interval: 15 * time.Minute, AlignToInterval: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.Date(2024, 3, 10, 12, 7, 30, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 3, 10, 12, 15, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick %v", got)
	}
	boundary := time.Date(2024, 3, 10, 12, 15, 0, 0, time.UTC)
	if got := s.nextTick(boundary); !got.Equal(boundary.Add(15 * time.Minute)) {
		t.Fatalf("a tick exactly on the boundary moves to the next one, got %v", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s, err := New("sync", Options{Interval: time.Hour}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.Date(2024, 3, 10, 12, 7, 30, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected next tick %v", got)
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s, err := New("sweep", Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	err = s.Run(ctx, func(context.Context, time.Time) error {
		if ticks.Add(1) == 3 {
			cancel()
		}
		return errors.New("tick errors do not stop the loop")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ticks.Load() != 3 {
		t.Fatalf("expected 3 ticks, got %d", ticks.Load())
	}
}
