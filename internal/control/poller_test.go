package control

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollerReturnsFirstTick(t *testing.T) {
	sleeps := 0
	p := Poller{Interval: time.Millisecond, Ticks: 10, Sleep: func(time.Duration) { sleeps++ }}
	tick, err := p.Wait(context.Background(), func() bool { return sleeps == 4 })
	if err != nil || tick != 4 || sleeps != 4 {
		t.Fatalf("tick=%d sleeps=%d err=%v", tick, sleeps, err)
	}
}

func TestPollerCeiling(t *testing.T) {
	sleeps := 0
	var slept time.Duration
	p := Poller{Interval: time.Millisecond, Ticks: 3000, Sleep: func(d time.Duration) { sleeps++; slept += d }}
	tick, err := p.Wait(context.Background(), func() bool { return false })
	if !errors.Is(err, errCeiling) || tick != 3000 || sleeps != 3000 {
		t.Fatalf("tick=%d sleeps=%d err=%v", tick, sleeps, err)
	}
	if slept != 3*time.Second {
		t.Fatalf("slept=%v want 3s", slept)
	}
}

func TestPollerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeps := 0
	p := Poller{Interval: time.Millisecond, Ticks: 100, Sleep: func(time.Duration) {
		sleeps++
		if sleeps == 2 {
			cancel()
		}
	}}
	tick, err := p.Wait(ctx, func() bool { return false })
	if !errors.Is(err, context.Canceled) || tick != 2 {
		t.Fatalf("tick=%d err=%v", tick, err)
	}
}

func TestNewPoller(t *testing.T) {
	p := NewPoller(time.Millisecond, 10*time.Second)
	if p.Ticks != DefaultHandshakeTicks || p.Timeout() != 10*time.Second {
		t.Fatalf("ticks=%d timeout=%v", p.Ticks, p.Timeout())
	}
	if q := NewPoller(0, 0); q.Ticks != 1 || q.Interval != DefaultPollInterval {
		t.Fatalf("degenerate poller %+v", q)
	}
}
