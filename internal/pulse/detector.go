// Package pulse implements the photoplethysmograph beat detector, the
// inter-beat interval history and the 2 ms pulse sampler.
package pulse

const (
	rateSlots = 10
	// minBeatSpacing rejects high-frequency noise (ms).
	minBeatSpacing = 250
	// lossOfSignal is how long without a beat before the detector re-arms (ms).
	lossOfSignal = 2500
)

// Config calibrates the detector. Signals are in millivolts.
type Config struct {
	Baseline       int
	DefaultIBI     int
	SamplePeriodMs int
}

// DefaultConfig matches an ADS1015 reading in millivolts at 500 Hz.
func DefaultConfig() Config {
	return Config{Baseline: 3500, DefaultIBI: 600, SamplePeriodMs: 2}
}

// State is the detector's internal state, exposed for diagnostics.
type State struct {
	Counter    int64 // ms since the detector started
	LastBeat   int64
	Peak       int
	Trough     int
	Thresh     int
	Amp        int
	IBI        int
	BPM        int
	Pulse      bool
	FirstBeat  bool
	SecondBeat bool
	Rate       [rateSlots]int
}

// Result reports what one sample did.
type Result struct {
	Rising  bool // a beat onset was detected and the indicator should go high
	Falling bool // the beat ended and the indicator should go low
	Beat    bool // a usable IBI was measured
	Reset   bool // no beat for too long; defaults restored
	IBI     int
	BPM     int
}

// Detector is an adaptive peak/trough threshold beat detector. It is not
// safe for concurrent use; the pulse sampler owns it.
type Detector struct {
	cfg Config
	s   State
}

// NewDetector returns a detector in its loss-of-signal state.
func NewDetector(cfg Config) *Detector {
	if cfg.SamplePeriodMs <= 0 {
		cfg.SamplePeriodMs = 2
	}
	if cfg.DefaultIBI <= 0 {
		cfg.DefaultIBI = 600
	}
	d := &Detector{cfg: cfg}
	d.s.Amp = 100
	d.rearm()
	return d
}

func (d *Detector) rearm() {
	d.s.Thresh = d.cfg.Baseline
	d.s.Peak = d.cfg.Baseline
	d.s.Trough = d.cfg.Baseline
	d.s.IBI = d.cfg.DefaultIBI
	d.s.FirstBeat = true
	d.s.SecondBeat = true
}

// State returns a copy of the internal state.
func (d *Detector) State() State { return d.s }

// Process consumes one sample taken one sample period after the previous.
func (d *Detector) Process(signal int) Result {
	return d.ProcessElapsed(signal, d.cfg.SamplePeriodMs)
}

// ProcessElapsed consumes one sample taken elapsedMs after the previous
// one, so beat timing follows the clock when the sampler skips periods.
func (d *Detector) ProcessElapsed(signal, elapsedMs int) Result {
	s := &d.s
	var r Result

	if elapsedMs <= 0 {
		elapsedMs = d.cfg.SamplePeriodMs
	}
	s.Counter += int64(elapsedMs)
	n := int(s.Counter - s.LastBeat)
	refractory := (s.IBI / 5) * 3

	// trough, after the dicrotic notch window
	if signal < s.Thresh && n > refractory && signal < s.Trough {
		s.Trough = signal
	}
	if signal > s.Thresh && signal > s.Peak {
		s.Peak = signal
	}

	if n > minBeatSpacing && signal > s.Thresh && !s.Pulse && n > refractory {
		s.Pulse = true
		r.Rising = true
		s.IBI = n
		s.LastBeat = s.Counter
		if s.FirstBeat {
			// first interval is unreliable
			s.FirstBeat = false
		} else {
			if s.SecondBeat {
				s.SecondBeat = false
				for i := range s.Rate {
					s.Rate[i] = s.IBI
				}
			}
			total := 0
			for i := 0; i < rateSlots-1; i++ {
				s.Rate[i] = s.Rate[i+1]
				total += s.Rate[i]
			}
			s.Rate[rateSlots-1] = s.IBI
			total += s.IBI
			s.BPM = int(60000.0 / (float64(total) / rateSlots))
			r.Beat = true
		}
	}

	if signal < s.Thresh && s.Pulse {
		s.Pulse = false
		r.Falling = true
		s.Amp = s.Peak - s.Trough
		s.Thresh = s.Amp/2 + s.Trough
		s.Peak = s.Thresh
		s.Trough = s.Thresh
	}

	if n > lossOfSignal {
		d.rearm()
		s.LastBeat = s.Counter
		r.Reset = true
	}

	r.IBI = s.IBI
	r.BPM = s.BPM
	return r
}
