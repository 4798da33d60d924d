// Package alert defines the alert events raised by the fusion loop.
package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/drowsiness.monitor/internal/sensor"
)

// Source identifies which rule family raised an alert.
type Source string

const (
	SourceApproach Source = "approach"
	SourceBlink    Source = "blink"
	SourceCombined Source = "combined"
	SourceGrip     Source = "grip"
)

// Sources lists every alert source in reporting order.
var Sources = []Source{SourceApproach, SourceBlink, SourceCombined, SourceGrip}

// Combined rule names, in evaluation order.
const (
	RuleBlinkProximity = "blink_proximity"
	RuleBlinkGrip      = "blink_grip"
	RuleProximityGrip  = "proximity_grip"
	RuleBlinkPulse     = "blink_pulse"
	RuleProximityPulse = "proximity_pulse"
	RuleGripPulse      = "grip_pulse"
)

// Event is one fired alert.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Source        Source          `json:"source"`
	Rule          string          `json:"rule,omitempty"`
	Tick          uint32          `json:"tick"`
	Time          time.Time       `json:"time"`
	BlinkInterval uint32          `json:"blink_interval,omitempty"`
	Snapshot      sensor.Snapshot `json:"snapshot"`
}

// New returns an event with a fresh id.
func New(source Source, rule string, tick uint32, at time.Time, snap sensor.Snapshot) Event {
	return Event{
		ID:       uuid.New(),
		Source:   source,
		Rule:     rule,
		Tick:     tick,
		Time:     at.UTC(),
		Snapshot: snap,
	}
}

// Requester asks the actuator for one buzz. Requests are counted, never
// coalesced.
type Requester interface {
	Request()
}
