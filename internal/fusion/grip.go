package fusion

import (
	"fmt"

	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
)

// GripState is a state of the no-grip detector.
type GripState int

const (
	GripIdle GripState = iota
	GripNoGrip
	GripAlert
	GripDisableAlert
)

func (s GripState) String() string {
	switch s {
	case GripIdle:
		return "Idle"
	case GripNoGrip:
		return "NoGrip"
	case GripAlert:
		return "Alert"
	case GripDisableAlert:
		return "DisableAlert"
	}
	return fmt.Sprintf("GripState(%d)", int(s))
}

// GripConfig holds the machine's thresholds in scaled units and ticks.
type GripConfig struct {
	NoGripLevel uint8
	Dwell       uint32
	Cooldown    uint32
}

// GripMachine raises one alert when the wheel has been released for the
// dwell time, then ignores grip until the cooldown has passed. The alert
// is issued on the tick after entering Alert.
type GripMachine struct {
	cfg       GripConfig
	state     GripState
	enteredAt uint32
	cooldown  *Debouncer
}

// NewGripMachine returns a machine in Idle.
func NewGripMachine(cfg GripConfig) *GripMachine {
	return &GripMachine{cfg: cfg, cooldown: NewDebouncer(cfg.Cooldown)}
}

// State returns the current state.
func (m *GripMachine) State() GripState { return m.state }

// Step advances the machine by one tick and reports whether it fired.
func (m *GripMachine) Step(grip uint8, tick uint32) bool {
	low := grip < m.cfg.NoGripLevel
	switch m.state {
	case GripIdle:
		if low {
			m.state = GripNoGrip
			m.enteredAt = tick
		}
	case GripNoGrip:
		switch {
		case !low:
			m.state = GripIdle
		case tick-m.enteredAt >= m.cfg.Dwell:
			m.state = GripAlert
		}
	case GripAlert:
		m.state = GripDisableAlert
		return m.cooldown.Evaluate(true, tick)
	case GripDisableAlert:
		if !m.cooldown.Cooling(tick) {
			m.state = GripIdle
		}
	default:
		monitoring.Logf("grip: unknown state %v, resetting", m.state)
		m.state = GripIdle
	}
	return false
}
