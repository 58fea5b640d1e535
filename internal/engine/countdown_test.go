package engine

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type fixedClock struct {
	now float64
	err error
}

func (c fixedClock) ServerNow(context.Context) (float64, error) { return c.now, c.err }

func TestRemainingUsesServerClockAndMillis(t *testing.T) {
	cd := NewCountdown(fixedClock{now: 1700000000}, nil, nil)
	if got := cd.Remaining(context.Background(), 1700000030); got != 30 {
		t.Fatalf("Remaining = %v", got)
	}
	if got := cd.Remaining(context.Background(), 1700000030000); got != 30 {
		t.Fatalf("Remaining(ms) = %v", got)
	}
}

func TestRemainingFallsBackToLocalClock(t *testing.T) {
	local := time.Unix(1700000000, 0)
	cd := NewCountdown(fixedClock{err: errors.New("down")}, nil, nil)
	cd.now = func() time.Time { return local }
	if got := cd.Remaining(context.Background(), local.Unix()+25); math.Abs(got-25) > 0.001 {
		t.Fatalf("Remaining = %v", got)
	}
	cd = NewCountdown(fixedClock{now: 0}, nil, nil)
	cd.now = func() time.Time { return local }
	if got := cd.Remaining(context.Background(), local.Unix()+25); math.Abs(got-25) > 0.001 {
		t.Fatalf("Remaining with zero server clock = %v", got)
	}
}

func TestWaitUntilOpenSchedule(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var sleeps []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		now = now.Add(d)
		return ctx.Err()
	}
	cd := NewCountdown(fixedClock{err: errors.New("down")}, sleep, nil)
	cd.now = func() time.Time { return now }

	if err := cd.WaitUntilOpen(context.Background(), 1700000040); err != nil {
		t.Fatalf("WaitUntilOpen: %v", err)
	}
	// 40s: 两次 15s，到 10s 后每秒一次直到 1s，最后 0.8s。
	if len(sleeps) != 12 {
		t.Fatalf("sleeps = %v", sleeps)
	}
	if sleeps[0] != 15*time.Second || sleeps[1] != 15*time.Second {
		t.Fatalf("long sleeps = %v", sleeps[:2])
	}
	if sleeps[len(sleeps)-1] != 800*time.Millisecond {
		t.Fatalf("last sleep = %v", sleeps[len(sleeps)-1])
	}
}

func TestWaitUntilOpenPastAndCancelled(t *testing.T) {
	cd := NewCountdown(fixedClock{now: 1700000000}, func(context.Context, time.Duration) error {
		t.Fatalf("must not sleep")
		return nil
	}, nil)
	if err := cd.WaitUntilOpen(context.Background(), 1600000000); err != nil {
		t.Fatalf("WaitUntilOpen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cd = NewCountdown(fixedClock{now: 1700000000}, nil, nil)
	if err := cd.WaitUntilOpen(ctx, 1700003600); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
