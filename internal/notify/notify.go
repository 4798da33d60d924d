// Package notify fans fired alerts out to the journal and to optional
// MQTT and Redis sinks without blocking the fusion loop.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/drowsiness.monitor/internal/alert"
)

// Sink receives alert events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev alert.Event) error
}

// Payload is the wire form published to brokers.
func Payload(ev alert.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Dispatcher queues events and delivers them to every sink from its own
// goroutine. Submit never blocks; when the queue is full the event is
// dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	queue   chan alert.Event
	timeout time.Duration
	logger  *zap.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	mu       sync.Mutex
	lastErrs map[string]string
}

// NewDispatcher returns a dispatcher with the given queue depth.
func NewDispatcher(logger *zap.Logger, depth int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if depth <= 0 {
		depth = 256
	}
	return &Dispatcher{
		sinks:    sinks,
		queue:    make(chan alert.Event, depth),
		timeout:  2 * time.Second,
		logger:   logger,
		lastErrs: make(map[string]string),
	}
}

// AddSink registers another sink. Call before Run.
func (d *Dispatcher) AddSink(s Sink) { d.sinks = append(d.sinks, s) }

// Sinks returns the registered sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Submit enqueues ev.
func (d *Dispatcher) Submit(ev alert.Event) {
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("alert queue full, dropping event",
			zap.String("alert_id", ev.ID.String()),
			zap.String("source", string(ev.Source)))
	}
}

func (d *Dispatcher) deliver(ev alert.Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Publish(ctx, ev)
		cancel()
		if err != nil {
			d.failed.Add(1)
			d.mu.Lock()
			d.lastErrs[s.Name()] = err.Error()
			d.mu.Unlock()
			d.logger.Warn("alert sink failed",
				zap.String("sink", s.Name()),
				zap.String("alert_id", ev.ID.String()),
				zap.Error(err))
			continue
		}
		d.delivered.Add(1)
	}
}

// Run delivers events until ctx is cancelled, then drains what is queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return nil
				}
			}
		}
	}
}

// Stats reports delivery counters.
type Stats struct {
	Delivered  uint64            `json:"delivered"`
	Dropped    uint64            `json:"dropped"`
	Failed     uint64            `json:"failed"`
	LastErrors map[string]string `json:"last_errors,omitempty"`
}

// Stats returns a copy of the delivery counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	errs := make(map[string]string, len(d.lastErrs))
	for k, v := range d.lastErrs {
		errs[k] = v
	}
	d.mu.Unlock()
	return Stats{
		Delivered:  d.delivered.Load(),
		Dropped:    d.dropped.Load(),
		Failed:     d.failed.Load(),
		LastErrors: errs,
	}
}
