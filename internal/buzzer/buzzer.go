// Package buzzer serializes alert requests onto the single buzzer output.
package buzzer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

// Output drives the buzzer pin.
type Output interface {
	WriteDigital(pin int, high bool) error
}

// Actuator sounds the buzzer once per request. Requests made while it is
// sounding queue up and run back to back; none are dropped.
type Actuator struct {
	out      Output
	pin      int
	duration time.Duration
	clock    timeutil.Clock

	mu      sync.Mutex
	pending int
	wake    chan struct{}

	busy       atomic.Bool
	requests   atomic.Uint64
	actuations atomic.Uint64
}

// New returns an actuator for pin. A nil clock uses the real clock.
func New(out Output, pin int, duration time.Duration, clock timeutil.Clock) *Actuator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if duration <= 0 {
		duration = time.Second
	}
	return &Actuator{
		out:      out,
		pin:      pin,
		duration: duration,
		clock:    clock,
		wake:     make(chan struct{}, 1),
	}
}

// Request queues one actuation. It never blocks.
func (a *Actuator) Request() {
	a.requests.Add(1)
	a.mu.Lock()
	a.pending++
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Busy reports whether the buzzer is sounding.
func (a *Actuator) Busy() bool { return a.busy.Load() }

// Pending returns the number of queued requests.
func (a *Actuator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// Requests returns the total number of requests received.
func (a *Actuator) Requests() uint64 { return a.requests.Load() }

// Actuations returns the number of completed buzzes.
func (a *Actuator) Actuations() uint64 { return a.actuations.Load() }

func (a *Actuator) take() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == 0 {
		return false
	}
	a.pending--
	return true
}

func (a *Actuator) actuate() {
	a.busy.Store(true)
	defer a.busy.Store(false)
	if err := a.out.WriteDigital(a.pin, true); err != nil {
		monitoring.Logf("buzzer: set GPIO%d high: %v", a.pin, err)
	}
	a.clock.Sleep(a.duration)
	if err := a.out.WriteDigital(a.pin, false); err != nil {
		monitoring.Logf("buzzer: set GPIO%d low: %v", a.pin, err)
	}
	a.actuations.Add(1)
}

// Run services requests until ctx is cancelled. An actuation in progress
// completes before Run returns; queued requests are abandoned.
func (a *Actuator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if a.take() {
			a.actuate()
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-a.wake:
		}
	}
}
