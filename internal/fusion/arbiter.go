package fusion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/drowsiness.monitor/internal/alert"
	"github.com/banshee-data/drowsiness.monitor/internal/blink"
	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/pulse"
	"github.com/banshee-data/drowsiness.monitor/internal/sensor"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

// Thresholds configures the arbiter rules. Intervals and cooldowns are in
// ticks; sensor thresholds are in scaled units or milliseconds.
type Thresholds struct {
	ApproachDelta    int32
	ApproachCooldown uint32
	BlinkFast        uint32
	BlinkCooldown    uint32
	BlinkSlow        uint32
	Proximity        uint8
	Grip             uint8
	IBI              uint32
	CombinedCooldown uint32
	NoGrip           GripConfig
}

// DefaultThresholds returns the calibrated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ApproachDelta:    130,
		ApproachCooldown: 500,
		BlinkFast:        160,
		BlinkCooldown:    500,
		BlinkSlow:        500,
		Proximity:        180,
		Grip:             85,
		IBI:              1000,
		CombinedCooldown: 1500,
		NoGrip:           GripConfig{NoGripLevel: 60, Dwell: 1500, Cooldown: 1000},
	}
}

// Busy reports whether the actuator is sounding.
type Busy interface {
	Busy() bool
}

// Options wires an Arbiter.
type Options struct {
	Thresholds Thresholds
	State      *sensor.SharedState
	Blinks     blink.Source
	Alerts     alert.Requester
	Buzzer     Busy
	Clock      timeutil.Clock
	Period     time.Duration
	// OnAlert observes every fired alert. It runs on the fusion goroutine
	// and must not block.
	OnAlert func(alert.Event)
}

// Arbiter evaluates every rule once per tick. All rules share the same
// request primitive and have no priority over one another.
type Arbiter struct {
	opts     Options
	approach *Debouncer
	blinkDeb *Debouncer
	combined *Debouncer
	grip     *GripMachine
	tracker  blink.Tracker

	mu      sync.Mutex
	ibis    pulse.History
	counts  map[alert.Source]uint64
	tick    atomic.Uint32
	gripNow atomic.Int32
	blinkOK bool
}

// NewArbiter builds an arbiter. Blinks may be nil when no detector runs.
func NewArbiter(opts Options) *Arbiter {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Period <= 0 {
		opts.Period = 2 * time.Millisecond
	}
	t := opts.Thresholds
	return &Arbiter{
		opts:     opts,
		approach: NewDebouncer(t.ApproachCooldown),
		blinkDeb: NewDebouncer(t.BlinkCooldown),
		combined: NewDebouncer(t.CombinedCooldown),
		grip:     NewGripMachine(t.NoGrip),
		counts:   make(map[alert.Source]uint64),
		blinkOK:  opts.Blinks != nil,
	}
}

// GripState returns the grip machine's current state.
// Safe to call from other goroutines.
func (a *Arbiter) GripState() GripState { return GripState(a.gripNow.Load()) }

// Tick returns the last evaluated tick.
func (a *Arbiter) Tick() uint32 { return a.tick.Load() }

// Counts returns how many alerts each source has raised.
func (a *Arbiter) Counts() map[alert.Source]uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[alert.Source]uint64, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// PulseStats summarises the IBIs consumed so far.
func (a *Arbiter) PulseStats() pulse.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ibis.Stats()
}

// BlinkHistory returns recent blink intervals, oldest first.
func (a *Arbiter) BlinkHistory() [blink.HistorySize]uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracker.History()
}

func (a *Arbiter) fire(src alert.Source, rule string, tick uint32, blinkInterval uint32) alert.Event {
	ev := alert.New(src, rule, tick, a.opts.Clock.Now(), a.opts.State.Snapshot())
	ev.BlinkInterval = blinkInterval
	a.mu.Lock()
	a.counts[src]++
	a.mu.Unlock()

	a.opts.Alerts.Request()
	if rule != "" {
		monitoring.Logf("%s event: %s (tick %d)", src, rule, tick)
	} else {
		monitoring.Logf("%s event (tick %d)", src, tick)
	}
	if a.opts.OnAlert != nil {
		a.opts.OnAlert(ev)
	}
	return ev
}

func (a *Arbiter) pollBlink(tick uint32) (blink.Event, bool) {
	if !a.blinkOK {
		return blink.Event{}, false
	}
	tok, ok, err := a.opts.Blinks.Poll()
	if err != nil {
		if errors.Is(err, blink.ErrClosed) {
			a.blinkOK = false
		}
		monitoring.Logf("blink: poll: %v", err)
		return blink.Event{}, false
	}
	if !ok {
		return blink.Event{}, false
	}
	a.mu.Lock()
	ev := a.tracker.Observe(tok, tick)
	a.mu.Unlock()
	monitoring.Logf("blink interval: %d", ev.Interval)
	return ev, true
}

// combinedRule returns the first matching combined rule, or "".
func (a *Arbiter) combinedRule(newBlink bool, blinkInterval uint32, prox, grip uint8, ibi uint32) string {
	t := a.opts.Thresholds
	slowBlink := newBlink && blinkInterval < t.BlinkSlow
	near := prox > t.Proximity
	loose := grip < t.Grip
	slowHeart := ibi > t.IBI

	switch {
	case slowBlink && near:
		return alert.RuleBlinkProximity
	case slowBlink && loose:
		return alert.RuleBlinkGrip
	case near && loose:
		return alert.RuleProximityGrip
	case slowBlink && slowHeart:
		return alert.RuleBlinkPulse
	case near && slowHeart:
		return alert.RuleProximityPulse
	case loose && slowHeart:
		return alert.RuleGripPulse
	}
	return ""
}

// Step runs one fusion cycle at tick and returns the alerts it fired.
func (a *Arbiter) Step(tick uint32) []alert.Event {
	a.tick.Store(tick)
	t := a.opts.Thresholds
	st := a.opts.State
	var fired []alert.Event

	if a.approach.Evaluate(st.ProximityDelta() > t.ApproachDelta, tick) {
		fired = append(fired, a.fire(alert.SourceApproach, "", tick, 0))
	}

	gripFired := a.grip.Step(st.GripValue(), tick)
	a.gripNow.Store(int32(a.grip.State()))
	if gripFired {
		fired = append(fired, a.fire(alert.SourceGrip, "", tick, 0))
	}

	blinkEv, newBlink := a.pollBlink(tick)
	if newBlink && a.blinkDeb.Evaluate(blinkEv.Interval < t.BlinkFast, tick) {
		fired = append(fired, a.fire(alert.SourceBlink, "", tick, blinkEv.Interval))
	}

	ibi, fresh := st.TakeIBI()
	if fresh {
		a.mu.Lock()
		a.ibis.Push(ibi)
		a.mu.Unlock()
	}

	if a.opts.Buzzer != nil && a.opts.Buzzer.Busy() {
		return fired
	}
	rule := a.combinedRule(newBlink, blinkEv.Interval, st.ProximityValue(), st.GripValue(), ibi)
	if a.combined.Evaluate(rule != "", tick) {
		fired = append(fired, a.fire(alert.SourceCombined, rule, tick, blinkEv.Interval))
	}
	return fired
}

// Run steps the arbiter every period until ctx is cancelled. The tick
// counts elapsed periods, not completed steps, so dwell and cooldown
// windows keep their wall-clock length when cycles overrun.
func (a *Arbiter) Run(ctx context.Context) error {
	pacer := timeutil.NewPacer(a.opts.Clock, a.opts.Period)
	var tick uint32
	for {
		a.Step(tick)
		periods, err := pacer.Wait(ctx)
		if err != nil {
			return nil
		}
		tick += uint32(periods)
	}
}
