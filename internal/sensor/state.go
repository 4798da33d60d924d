// Package sensor holds the state shared between the sampling goroutines and
// the fusion loop, and the periodic analog sampler used for proximity and
// grip.
package sensor

import "sync/atomic"

// SharedState is the latest published output of every sampler. Each field
// has exactly one writer; the fusion loop is the only consumer of the fresh
// IBI flag. Fields are independent and no cross-field snapshot consistency
// is promised.
type SharedState struct {
	proximityValue atomic.Uint32
	proximityDelta atomic.Int32
	distance       atomic.Uint32
	gripValue      atomic.Uint32
	gripDelta      atomic.Int32
	pulseIBI       atomic.Uint32
	pulseBPM       atomic.Uint32
	ibiFresh       atomic.Bool
	beats          atomic.Uint64
}

// Snapshot is a point-in-time copy of SharedState, assembled field by field.
type Snapshot struct {
	ProximityValue uint8  `json:"proximity_value"`
	ProximityDelta int32  `json:"proximity_delta"`
	DistanceFt100  uint32 `json:"distance_ft100"`
	GripValue      uint8  `json:"grip_value"`
	GripDelta      int32  `json:"grip_delta"`
	PulseIBI       uint32 `json:"pulse_ibi_ms"`
	PulseBPM       uint32 `json:"pulse_bpm"`
	Beats          uint64 `json:"beats"`
}

// NewSharedState returns state seeded with the detector's default IBI, so
// readers see a plausible interval before the first beat.
func NewSharedState(defaultIBI uint32) *SharedState {
	s := &SharedState{}
	s.pulseIBI.Store(defaultIBI)
	// grip starts "held" so the no-grip machine does not trip before the
	// first sample lands
	s.gripValue.Store(255)
	return s
}

// PublishProximity stores the proximity sampler output.
func (s *SharedState) PublishProximity(value uint8, delta int32, distanceFt100 uint32) {
	s.proximityValue.Store(uint32(value))
	s.proximityDelta.Store(delta)
	s.distance.Store(distanceFt100)
}

// PublishGrip stores the grip sampler output.
func (s *SharedState) PublishGrip(value uint8, delta int32) {
	s.gripValue.Store(uint32(value))
	s.gripDelta.Store(delta)
}

// PublishBeat stores a new inter-beat interval and marks it fresh.
func (s *SharedState) PublishBeat(ibi, bpm uint32) {
	s.pulseIBI.Store(ibi)
	s.pulseBPM.Store(bpm)
	s.beats.Add(1)
	s.ibiFresh.Store(true)
}

// PublishIBI stores an interval without marking a beat, used when the
// detector resets to its default.
func (s *SharedState) PublishIBI(ibi uint32) {
	s.pulseIBI.Store(ibi)
}

// TakeIBI returns the latest IBI and whether it arrived since the previous
// call. Each beat is reported fresh exactly once.
func (s *SharedState) TakeIBI() (uint32, bool) {
	fresh := s.ibiFresh.Swap(false)
	return s.pulseIBI.Load(), fresh
}

func (s *SharedState) ProximityValue() uint8 { return uint8(s.proximityValue.Load()) }
func (s *SharedState) ProximityDelta() int32 { return s.proximityDelta.Load() }
func (s *SharedState) GripValue() uint8      { return uint8(s.gripValue.Load()) }
func (s *SharedState) GripDelta() int32      { return s.gripDelta.Load() }
func (s *SharedState) LatestIBI() uint32     { return s.pulseIBI.Load() }

// Snapshot reads every field without touching the fresh flag.
func (s *SharedState) Snapshot() Snapshot {
	return Snapshot{
		ProximityValue: s.ProximityValue(),
		ProximityDelta: s.ProximityDelta(),
		DistanceFt100:  s.distance.Load(),
		GripValue:      s.GripValue(),
		GripDelta:      s.GripDelta(),
		PulseIBI:       s.pulseIBI.Load(),
		PulseBPM:       s.pulseBPM.Load(),
		Beats:          s.beats.Load(),
	}
}
