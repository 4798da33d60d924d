package adc

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

// SimSource produces synthetic waveforms for running without hardware:
// a ~75 BPM pulse, a slowly varying proximity and a steady grip that lets go
// for a few seconds each minute.
type SimSource struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	start    time.Time
	rng      *rand.Rand
	channels SimChannels
}

// SimChannels maps signals onto converter inputs.
type SimChannels struct {
	Pulse, Proximity, Grip int
}

// NewSimSource returns a simulator driven by clock.
func NewSimSource(clock timeutil.Clock, ch SimChannels) *SimSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SimSource{
		clock:    clock,
		start:    clock.Now(),
		rng:      rand.New(rand.NewSource(1)),
		channels: ch,
	}
}

func (s *SimSource) ChangeActiveChannel(channel int) error {
	return ValidateChannel(channel)
}

func (s *SimSource) ReadVoltage(channel int) (float64, error) {
	if err := ValidateChannel(channel); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.clock.Since(s.start).Seconds()
	noise := (s.rng.Float64() - 0.5) * 0.02

	switch channel {
	case s.channels.Pulse:
		return 3.0 + 1.0*math.Sin(2*math.Pi*t/0.8) + noise, nil
	case s.channels.Proximity:
		return 1.2 + 0.4*math.Sin(2*math.Pi*t/20) + noise, nil
	case s.channels.Grip:
		if math.Mod(t, 60) > 55 {
			return 1.3 + noise, nil
		}
		return 3.2 + noise, nil
	}
	return 0, ErrNoSample
}

// ScriptedSource replays fixed per-channel readings, for tests. When a
// channel's script is exhausted its last entry repeats.
type ScriptedSource struct {
	mu       sync.Mutex
	scripts  map[int][]Reading
	pos      map[int]int
	Switches []int
}

// Reading is one scripted result.
type Reading struct {
	Volts float64
	Err   error
}

// NewScriptedSource returns an empty script.
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{scripts: map[int][]Reading{}, pos: map[int]int{}}
}

// Push appends readings for channel.
func (s *ScriptedSource) Push(channel int, r ...Reading) *ScriptedSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[channel] = append(s.scripts[channel], r...)
	return s
}

// PushVolts appends error-free readings for channel.
func (s *ScriptedSource) PushVolts(channel int, volts ...float64) *ScriptedSource {
	rs := make([]Reading, len(volts))
	for i, v := range volts {
		rs[i] = Reading{Volts: v}
	}
	return s.Push(channel, rs...)
}

func (s *ScriptedSource) ChangeActiveChannel(channel int) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	s.mu.Lock()
	s.Switches = append(s.Switches, channel)
	s.mu.Unlock()
	return nil
}

func (s *ScriptedSource) ReadVoltage(channel int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	script := s.scripts[channel]
	if len(script) == 0 {
		return 0, ErrNoSample
	}
	i := s.pos[channel]
	if i >= len(script) {
		i = len(script) - 1
	} else {
		s.pos[channel] = i + 1
	}
	return script[i].Volts, script[i].Err
}
