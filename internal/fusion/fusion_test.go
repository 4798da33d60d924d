package fusion

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drowsiness.monitor/internal/alert"
	"github.com/banshee-data/drowsiness.monitor/internal/blink"
	"github.com/banshee-data/drowsiness.monitor/internal/sensor"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

type countingRequester struct{ n atomic.Int64 }

func (c *countingRequester) Request() { c.n.Add(1) }

type fixedBusy struct{ busy atomic.Bool }

func (f *fixedBusy) Busy() bool { return f.busy.Load() }

type harness struct {
	arb    *Arbiter
	state  *sensor.SharedState
	blinks *blink.MockSource
	req    *countingRequester
	busy   *fixedBusy
	events []alert.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		state:  sensor.NewSharedState(600),
		blinks: blink.NewMockSource(),
		req:    &countingRequester{},
		busy:   &fixedBusy{},
	}
	h.arb = NewArbiter(Options{
		Thresholds: DefaultThresholds(),
		State:      h.state,
		Blinks:     h.blinks,
		Alerts:     h.req,
		Buzzer:     h.busy,
		Clock:      timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		OnAlert:    func(ev alert.Event) { h.events = append(h.events, ev) },
	})
	return h
}

func (h *harness) firedAt(src alert.Source) []uint32 {
	var ticks []uint32
	for _, ev := range h.events {
		if ev.Source == src {
			ticks = append(ticks, ev.Tick)
		}
	}
	return ticks
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(500)
	assert.False(t, d.Evaluate(false, 0))
	assert.True(t, d.Evaluate(true, 10))
	assert.False(t, d.Evaluate(true, 11))
	assert.False(t, d.Evaluate(true, 509))
	assert.True(t, d.Evaluate(true, 510))
	assert.Equal(t, uint32(510), d.ArmedAt())
}

func TestDebouncer_CooldownAcrossTickWrap(t *testing.T) {
	d := NewDebouncer(100)
	start := ^uint32(0) - 20
	require.True(t, d.Evaluate(true, start))
	assert.False(t, d.Evaluate(true, start+99))
	assert.True(t, d.Evaluate(true, start+100), "wrapping subtraction keeps the window exact")
}

func TestGripMachine_SingleAlertThenCooldown(t *testing.T) {
	m := NewGripMachine(GripConfig{NoGripLevel: 60, Dwell: 1500, Cooldown: 1000})

	var states []GripState
	var fires []uint32
	for tick := uint32(0); tick < 4000; tick++ {
		if m.Step(10, tick) {
			fires = append(fires, tick)
		}
		if len(states) == 0 || states[len(states)-1] != m.State() {
			states = append(states, m.State())
		}
	}

	// held at zero grip throughout, the machine cycles but never fires
	// twice inside dwell+cooldown
	require.NotEmpty(t, fires)
	assert.Equal(t, uint32(1501), fires[0])
	for i := 1; i < len(fires); i++ {
		assert.GreaterOrEqual(t, fires[i]-fires[i-1], uint32(1000+1500))
	}
	assert.Equal(t, []GripState{GripNoGrip, GripAlert, GripDisableAlert, GripIdle, GripNoGrip}, states[:5])
}

func TestGripMachine_RegripReturnsToIdle(t *testing.T) {
	m := NewGripMachine(GripConfig{NoGripLevel: 60, Dwell: 1500, Cooldown: 1000})
	m.Step(30, 0)
	require.Equal(t, GripNoGrip, m.State())
	m.Step(30, 1499)
	require.Equal(t, GripNoGrip, m.State())
	m.Step(60, 1500)
	assert.Equal(t, GripIdle, m.State())
}

func TestGripMachine_UnknownStateResets(t *testing.T) {
	m := NewGripMachine(GripConfig{NoGripLevel: 60, Dwell: 1500, Cooldown: 1000})
	m.state = GripState(42)
	assert.False(t, m.Step(200, 0))
	assert.Equal(t, GripIdle, m.State())
	assert.Equal(t, "GripState(42)", GripState(42).String())
}

func TestArbiter_ApproachScenario(t *testing.T) {
	h := newHarness(t)
	h.state.PublishProximity(100, 150, 0)

	for tick := uint32(0); tick < 500; tick++ {
		h.arb.Step(tick)
	}
	assert.Equal(t, []uint32{0}, h.firedAt(alert.SourceApproach))
	assert.Equal(t, int64(1), h.req.n.Load())

	h.arb.Step(500)
	assert.Equal(t, []uint32{0, 500}, h.firedAt(alert.SourceApproach))

	ev := h.events[0]
	assert.Equal(t, int32(150), ev.Snapshot.ProximityDelta)
	assert.NotEqual(t, ev.ID, h.events[1].ID)
}

func TestArbiter_NoGripScenario(t *testing.T) {
	h := newHarness(t)

	var states []GripState
	record := func() {
		if s := h.arb.GripState(); len(states) == 0 || states[len(states)-1] != s {
			states = append(states, s)
		}
	}
	record()
	h.state.PublishGrip(30, 0)
	for tick := uint32(0); tick < 1600; tick++ {
		h.arb.Step(tick)
		record()
	}
	h.state.PublishGrip(200, 0)
	for tick := uint32(1600); tick < 2600; tick++ {
		h.arb.Step(tick)
		record()
	}

	want := []GripState{GripIdle, GripNoGrip, GripAlert, GripDisableAlert, GripIdle}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Errorf("grip state sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []uint32{1501}, h.firedAt(alert.SourceGrip))
	assert.Equal(t, int64(1), h.req.n.Load())
	assert.Equal(t, uint64(1), h.arb.Counts()[alert.SourceGrip])
}

func TestArbiter_CombinedBlinkAndPulseScenario(t *testing.T) {
	h := newHarness(t)
	h.state.PublishBeat(1100, 54)

	send := map[uint32]bool{400: true, 800: true, 1950: true, 2300: true}
	for tick := uint32(0); tick < 2400; tick++ {
		if send[tick] {
			h.blinks.Send(1)
		}
		h.arb.Step(tick)
	}

	assert.Equal(t, []uint32{400, 2300}, h.firedAt(alert.SourceCombined))
	assert.Empty(t, h.firedAt(alert.SourceBlink), "intervals above 160 are not fast blinks")
	require.NotEmpty(t, h.events)
	assert.Equal(t, alert.RuleBlinkPulse, h.events[0].Rule)
	assert.Equal(t, uint32(400), h.events[0].BlinkInterval)
	assert.Equal(t, 1, h.arb.PulseStats().Count, "the fresh IBI is consumed once")
	assert.Equal(t, [blink.HistorySize]uint32{0, 400, 400, 1150, 350}, h.arb.BlinkHistory())
}

func TestArbiter_FastBlink(t *testing.T) {
	h := newHarness(t)
	for _, tick := range []uint32{100, 200, 500, 620} {
		h.blinks.Send(1)
		h.arb.Step(tick)
	}

	// 100 fires (interval 100 from tick 0); 200 is inside the cooldown;
	// 500 is a slow interval; 620 is fast again and past the cooldown
	assert.Equal(t, []uint32{100, 620}, h.firedAt(alert.SourceBlink))
	// a fast blink is also a slow-blink term, but needs a partner condition
	assert.Empty(t, h.firedAt(alert.SourceCombined))
}

func TestArbiter_CombinedSkippedWhileBuzzerBusy(t *testing.T) {
	h := newHarness(t)
	h.state.PublishProximity(200, 0, 0)
	h.state.PublishGrip(40, 0)

	h.busy.busy.Store(true)
	for tick := uint32(0); tick < 10; tick++ {
		h.arb.Step(tick)
	}
	assert.Empty(t, h.firedAt(alert.SourceCombined))

	h.busy.busy.Store(false)
	h.arb.Step(10)
	assert.Equal(t, []uint32{10}, h.firedAt(alert.SourceCombined))
	assert.Equal(t, alert.RuleProximityGrip, h.events[len(h.events)-1].Rule)
}

func TestArbiter_CombinedRuleOrder(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name     string
		newBlink bool
		interval uint32
		prox     uint8
		grip     uint8
		ibi      uint32
		want     string
	}{
		{"quiet", false, 0, 0, 255, 600, ""},
		{"stale blink ignored", false, 100, 0, 40, 600, ""},
		{"blink proximity", true, 300, 200, 255, 600, alert.RuleBlinkProximity},
		{"blink grip", true, 300, 0, 40, 600, alert.RuleBlinkGrip},
		{"proximity grip", false, 0, 200, 40, 600, alert.RuleProximityGrip},
		{"blink pulse", true, 300, 0, 255, 1200, alert.RuleBlinkPulse},
		{"proximity pulse", false, 0, 200, 255, 1200, alert.RuleProximityPulse},
		{"grip pulse", false, 0, 0, 40, 1200, alert.RuleGripPulse},
		{"boundaries are exclusive", true, 500, 180, 85, 1000, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.arb.combinedRule(tt.newBlink, tt.interval, tt.prox, tt.grip, tt.ibi)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArbiter_ClosedBlinkSourceIsDropped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.blinks.Close())
	h.arb.Step(0)
	h.arb.Step(1)
	assert.False(t, h.arb.blinkOK)
}

func TestArbiter_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.arb.opts.Clock = timeutil.RealClock{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.NoError(t, h.arb.Run(ctx))
	assert.Greater(t, h.arb.Tick(), uint32(0))
}

// runawayClock advances by step on every Now, as if each cycle took longer
// than the fusion period.
type runawayClock struct {
	*timeutil.MockClock
	step time.Duration
}

func (c runawayClock) Now() time.Time {
	c.Advance(c.step)
	return c.MockClock.Now()
}

func TestArbiter_RunDwellFollowsClockWhenOverrunning(t *testing.T) {
	h := newHarness(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.arb.opts.Clock = runawayClock{MockClock: timeutil.NewMockClock(start), step: 10 * time.Millisecond}
	fired := make(chan alert.Event, 1)
	h.arb.opts.OnAlert = func(ev alert.Event) {
		select {
		case fired <- ev:
		default:
		}
	}
	h.state.PublishGrip(30, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.arb.Run(ctx) }()

	var ev alert.Event
	select {
	case ev = <-fired:
	case <-time.After(10 * time.Second):
		t.Fatal("no alert fired")
	}
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, alert.SourceGrip, ev.Source)
	assert.GreaterOrEqual(t, ev.Tick, uint32(1500))
	// 1500 ticks of 2 ms is 3 s of clock time, however few cycles ran
	assert.InDelta(t, 3*time.Second, ev.Time.Sub(start), float64(50*time.Millisecond))
}
