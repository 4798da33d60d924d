package gpio

import "sync"

// Write is one recorded pin operation.
type Write struct {
	Pin  int
	PWM  bool
	High bool
	Duty uint8
}

// Recorder is an in-memory Driver for tests and for running without
// hardware.
type Recorder struct {
	mu     sync.Mutex
	writes []Write
	levels map[int]bool
	closed bool
	Err    error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{levels: make(map[int]bool)}
}

func (r *Recorder) WriteDigital(pin int, high bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.writes = append(r.writes, Write{Pin: pin, High: high})
	r.levels[pin] = high
	return nil
}

func (r *Recorder) WritePWM(pin int, duty uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.writes = append(r.writes, Write{Pin: pin, PWM: true, Duty: duty, High: duty > 0})
	r.levels[pin] = duty > 0
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Writes returns a copy of every write so far.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Write, len(r.writes))
	copy(out, r.writes)
	return out
}

// WritesTo returns the writes to one pin.
func (r *Recorder) WritesTo(pin int) []Write {
	var out []Write
	for _, w := range r.Writes() {
		if w.Pin == pin {
			out = append(out, w)
		}
	}
	return out
}

// Level reports the last level written to pin.
func (r *Recorder) Level(pin int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.levels[pin]
}
