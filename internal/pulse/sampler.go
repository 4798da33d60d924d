package pulse

import (
	"context"
	"time"

	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

// Reader reads a voltage from one ADC channel.
type Reader interface {
	Read(channel int) (float64, error)
}

// Output drives the beat indicator.
type Output interface {
	WriteDigital(pin int, high bool) error
}

// Publisher receives beats. *sensor.SharedState satisfies it.
type Publisher interface {
	PublishBeat(ibi, bpm uint32)
	PublishIBI(ibi uint32)
}

// SamplerConfig wires the pulse sampler.
type SamplerConfig struct {
	Channel      int
	Period       time.Duration
	IndicatorPin int
	Detector     Config
}

// Sampler feeds ADC readings into a Detector every period.
type Sampler struct {
	cfg      SamplerConfig
	reader   Reader
	out      Output
	pub      Publisher
	clock    timeutil.Clock
	detector *Detector
	signal   int
	faults   uint64
}

// NewSampler builds the pulse sampler. out may be nil.
func NewSampler(cfg SamplerConfig, reader Reader, out Output, pub Publisher, clock timeutil.Clock) *Sampler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.Period <= 0 {
		cfg.Period = 2 * time.Millisecond
	}
	cfg.Detector.SamplePeriodMs = int(cfg.Period / time.Millisecond)
	return &Sampler{
		cfg:      cfg,
		reader:   reader,
		out:      out,
		pub:      pub,
		clock:    clock,
		detector: NewDetector(cfg.Detector),
		signal:   cfg.Detector.Baseline,
	}
}

// Detector exposes the underlying detector for diagnostics.
func (s *Sampler) Detector() *Detector { return s.detector }

// Sample reads one value taken one period after the previous and advances
// the detector.
func (s *Sampler) Sample() Result { return s.sample(1) }

// sample reads one value taken periods sample periods after the previous.
// A failed read reuses the previous signal so beat timing stays aligned
// with the sample clock.
func (s *Sampler) sample(periods int) Result {
	volts, err := s.reader.Read(s.cfg.Channel)
	if err != nil {
		s.faults++
		if s.faults == 1 || s.faults%5000 == 0 {
			monitoring.Logf("pulse: read failed (faults=%d): %v", s.faults, err)
		}
	} else {
		s.signal = int(volts * 1000)
	}

	r := s.detector.ProcessElapsed(s.signal, periods*s.cfg.Detector.SamplePeriodMs)
	if s.out != nil && (r.Rising || r.Falling) {
		if err := s.out.WriteDigital(s.cfg.IndicatorPin, r.Rising); err != nil {
			monitoring.Logf("pulse: indicator: %v", err)
		}
	}
	switch {
	case r.Beat:
		s.pub.PublishBeat(uint32(r.IBI), uint32(r.BPM))
	case r.Reset:
		s.pub.PublishIBI(uint32(r.IBI))
	}
	return r
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	pacer := timeutil.NewPacer(s.clock, s.cfg.Period)
	monitoring.Logf("pulse: sampler started (channel %d, every %s)", s.cfg.Channel, s.cfg.Period)
	periods := 1
	for {
		s.sample(periods)
		n, err := pacer.Wait(ctx)
		if err != nil {
			monitoring.Logf("pulse: sampler stopped after %d missed deadlines", pacer.Missed())
			return nil
		}
		periods = n
	}
}
