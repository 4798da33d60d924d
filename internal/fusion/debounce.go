// Package fusion combines sensor state and blink events into alert
// decisions on a fixed 2 ms tick.
package fusion

// Debouncer gates a trigger so it fires at most once per cooldown window.
// Ticks are uint32 and compared by wrapping subtraction.
type Debouncer struct {
	cooldown uint32
	armedAt  uint32
	cooling  bool
}

// NewDebouncer returns an idle debouncer.
func NewDebouncer(cooldownTicks uint32) *Debouncer {
	return &Debouncer{cooldown: cooldownTicks}
}

// Cooling reports whether the debouncer is still inside its window at
// tick, leaving the window if it has elapsed.
func (d *Debouncer) Cooling(tick uint32) bool {
	if d.cooling && tick-d.armedAt >= d.cooldown {
		d.cooling = false
	}
	return d.cooling
}

// Evaluate fires when trigger is set and the debouncer is idle.
func (d *Debouncer) Evaluate(trigger bool, tick uint32) bool {
	if d.Cooling(tick) || !trigger {
		return false
	}
	d.cooling = true
	d.armedAt = tick
	return true
}

// ArmedAt returns the tick of the last firing.
func (d *Debouncer) ArmedAt() uint32 { return d.armedAt }
