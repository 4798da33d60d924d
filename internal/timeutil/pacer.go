package timeutil

import (
	"context"
	"time"
)

// Pacer releases a periodic loop at fixed deadlines start+k*period. Because
// every deadline is derived from the start instant rather than from the end
// of the previous sleep, the time spent doing work (and waiting on shared
// locks) does not accumulate as drift.
type Pacer struct {
	clock  Clock
	period time.Duration
	next   time.Time
	missed uint64
}

// NewPacer returns a pacer whose first deadline is one period from now.
func NewPacer(clock Clock, period time.Duration) *Pacer {
	if clock == nil {
		clock = RealClock{}
	}
	return &Pacer{
		clock:  clock,
		period: period,
		next:   clock.Now().Add(period),
	}
}

// Period returns the pacing period.
func (p *Pacer) Period() time.Duration { return p.period }

// Missed reports how many deadlines were skipped because the loop fell
// more than a full period behind.
func (p *Pacer) Missed() uint64 { return p.missed }

// Wait blocks until the next deadline or until ctx is done and returns how
// many periods have passed since the previous release: 1 on schedule, more
// when the caller overran and deadlines were skipped. When the caller has
// overrun by more than a period the schedule is re-anchored on now instead
// of firing a burst of catch-up iterations.
func (p *Pacer) Wait(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	periods := 1
	now := p.clock.Now()
	if behind := now.Sub(p.next); behind >= p.period {
		skipped := uint64(behind / p.period)
		p.missed += skipped
		p.next = p.next.Add(time.Duration(skipped) * p.period)
		periods += int(skipped)
	}

	if wait := p.next.Sub(now); wait > 0 {
		timer := p.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		case <-timer.C():
		}
	}

	p.next = p.next.Add(p.period)
	return periods, nil
}
