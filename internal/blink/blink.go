// Package blink consumes blink tokens written by the external eye-blink
// detector and tracks the interval between blinks.
package blink

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Poll after Close.
var ErrClosed = errors.New("blink: source closed")

// Source is a non-blocking producer of blink tokens. Poll returns ok=false
// when no token is pending; that is the normal idle case, not an error.
type Source interface {
	Poll() (token int32, ok bool, err error)
	Close() error
}

// HistorySize is the number of recent blink intervals kept.
const HistorySize = 5

// Event is one received blink.
type Event struct {
	Token    int32
	Tick     uint32
	Interval uint32
}

// Tracker records inter-blink intervals measured in fusion ticks. The
// first interval is measured from tick zero.
type Tracker struct {
	lastTick uint32
	history  [HistorySize]uint32
	count    uint64
}

// Observe records a blink at tick and returns it with its interval.
func (t *Tracker) Observe(token int32, tick uint32) Event {
	interval := tick - t.lastTick
	copy(t.history[:], t.history[1:])
	t.history[HistorySize-1] = interval
	t.lastTick = tick
	t.count++
	return Event{Token: token, Tick: tick, Interval: interval}
}

// Latest returns the newest interval, or 0 before any blink.
func (t *Tracker) Latest() uint32 { return t.history[HistorySize-1] }

// History returns the intervals, oldest first.
func (t *Tracker) History() [HistorySize]uint32 { return t.history }

// Count returns how many blinks were observed.
func (t *Tracker) Count() uint64 { return t.count }

// MockSource is an in-memory Source for tests.
type MockSource struct {
	mu     sync.Mutex
	queue  []int32
	closed bool
	Err    error
}

// NewMockSource returns an empty source.
func NewMockSource() *MockSource { return &MockSource{} }

// Send queues tokens.
func (m *MockSource) Send(tokens ...int32) {
	m.mu.Lock()
	m.queue = append(m.queue, tokens...)
	m.mu.Unlock()
}

// Pending returns the number of queued tokens.
func (m *MockSource) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *MockSource) Poll() (int32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, false, ErrClosed
	}
	if m.Err != nil {
		return 0, false, m.Err
	}
	if len(m.queue) == 0 {
		return 0, false, nil
	}
	tok := m.queue[0]
	m.queue = m.queue[1:]
	return tok, true, nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
