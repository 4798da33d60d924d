package sensor

import (
	"context"
	"time"

	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

// Reader reads a voltage from one ADC channel. *adc.Bus satisfies it.
type Reader interface {
	Read(channel int) (float64, error)
}

// Indicator mirrors a scaled value onto a PWM output.
type Indicator interface {
	WritePWM(pin int, duty uint8) error
}

// Reading is one published sampler result.
type Reading struct {
	Value  uint8
	Delta  int32
	Volts  float64
	Faulty bool
}

// SamplerConfig describes one analog sampler.
type SamplerConfig struct {
	Name      string
	Channel   int
	Period    time.Duration
	Scale     Scale
	Indicator Indicator
	PWMPin    int
	// Publish receives every valid reading.
	Publish func(Reading)
}

// Sampler reads one channel periodically, maps it to 0..255, smooths it and
// publishes value and delta.
type Sampler struct {
	cfg    SamplerConfig
	reader Reader
	clock  timeutil.Clock
	window Window
	last   uint8
	faults uint64
}

// NewSampler builds a sampler. A nil clock uses the real clock.
func NewSampler(cfg SamplerConfig, reader Reader, clock timeutil.Clock) *Sampler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sampler{cfg: cfg, reader: reader, clock: clock}
}

// Faults returns how many readings were rejected.
func (s *Sampler) Faults() uint64 { return s.faults }

// Sample performs one iteration. Read errors and out-of-range voltages keep
// the previous valid value and are reported only through the Faulty flag.
func (s *Sampler) Sample() Reading {
	volts, err := s.reader.Read(s.cfg.Channel)
	if err != nil || !s.cfg.Scale.Valid(volts) {
		s.faults++
		if s.faults == 1 || s.faults%1000 == 0 {
			monitoring.Logf("%s: rejected reading %.3fV (err=%v, faults=%d)", s.cfg.Name, volts, err, s.faults)
		}
		return Reading{Value: s.last, Volts: volts, Faulty: true}
	}

	value := uint8(s.cfg.Scale.Map(volts))
	delta := s.window.Observe(int32(value))
	s.last = value

	r := Reading{Value: value, Delta: delta, Volts: volts}
	if s.cfg.Indicator != nil {
		if err := s.cfg.Indicator.WritePWM(s.cfg.PWMPin, value); err != nil {
			monitoring.Logf("%s: indicator: %v", s.cfg.Name, err)
		}
	}
	if s.cfg.Publish != nil {
		s.cfg.Publish(r)
	}
	return r
}

// Run samples on a fixed deadline schedule until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	pacer := timeutil.NewPacer(s.clock, s.cfg.Period)
	monitoring.Logf("%s: sampler started (channel %d, every %s)", s.cfg.Name, s.cfg.Channel, s.cfg.Period)
	for {
		s.Sample()
		if _, err := pacer.Wait(ctx); err != nil {
			monitoring.Logf("%s: sampler stopped", s.cfg.Name)
			return nil
		}
	}
}
