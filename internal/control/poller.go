package control

import (
	"context"
	"errors"
	"time"
)

// errCeiling is returned by Poller.Wait when the tick ceiling runs out.
var errCeiling = errors.New("poll ceiling reached")

// Default poll ceilings: 1 ms ticks, 10 s for the handshake and 3 s for a
// command result.
const (
	DefaultPollInterval   = time.Millisecond
	DefaultHandshakeTicks = 10000
	DefaultCommandTicks   = 3000
)

// Poller is a fixed-interval, bounded wait. Sleep is a hook for tests;
// nil means time.Sleep.
type Poller struct {
	Interval time.Duration
	Ticks    int
	Sleep    func(time.Duration)
}

// NewPoller derives the tick ceiling from a total timeout.
func NewPoller(interval, timeout time.Duration) Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticks := int(timeout / interval)
	if ticks < 1 {
		ticks = 1
	}
	return Poller{Interval: interval, Ticks: ticks}
}

// Timeout is the wall-clock limit of the poller.
func (p Poller) Timeout() time.Duration { return time.Duration(p.Ticks) * p.Interval }

// Wait sleeps one interval per tick and checks done after each sleep. It
// returns the 1-based tick on which done first held. When the ceiling is
// reached it returns Ticks and errCeiling; on cancellation the ticks spent
// and ctx.Err().
func (p Poller) Wait(ctx context.Context, done func() bool) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	for tick := 1; tick <= p.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return tick - 1, err
		}
		sleep(p.Interval)
		if done() {
			return tick, nil
		}
	}
	return p.Ticks, errCeiling
}
