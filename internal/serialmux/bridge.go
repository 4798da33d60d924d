package serialmux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/drowsiness.monitor/internal/adc"
	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

// ErrStaleSample is returned when the newest reading for a channel is older
// than the bridge's MaxAge.
var ErrStaleSample = fmt.Errorf("%w: stale", adc.ErrNoSample)

type latest struct {
	millivolts float64
	at         time.Time
	ok         bool
}

// Bridge presents the serial ADC bridge as an adc.Source. Run consumes the
// streamed samples and keeps the newest per channel; ReadVoltage returns it.
type Bridge struct {
	mux    SerialMuxInterface
	clock  timeutil.Clock
	maxAge time.Duration

	mu       sync.Mutex
	values   [adc.NumChannels]latest
	active   int
	selected bool

	lines    atomic.Uint64
	rejected atomic.Uint64
}

// NewBridge wraps mux. A zero maxAge disables the staleness check.
func NewBridge(mux SerialMuxInterface, clock timeutil.Clock, maxAge time.Duration) *Bridge {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Bridge{mux: mux, clock: clock, maxAge: maxAge}
}

// Run subscribes to the mux and records samples until ctx is done or the
// subscription closes.
func (b *Bridge) Run(ctx context.Context) error {
	id, lines := b.mux.Subscribe()
	defer b.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			b.Observe(line)
		}
	}
}

// Observe records one raw line from the bridge.
func (b *Bridge) Observe(line string) {
	b.lines.Add(1)
	s, err := ParseSample(line)
	if err == nil {
		err = adc.ValidateChannel(s.Channel)
	}
	if err != nil {
		if n := b.rejected.Add(1); n == 1 || n%1000 == 0 {
			monitoring.Logf("adc bridge: %v (%d rejected)", err, n)
		}
		return
	}

	b.mu.Lock()
	b.values[s.Channel] = latest{millivolts: s.Millivolts, at: b.clock.Now(), ok: true}
	b.mu.Unlock()
}

// ChangeActiveChannel asks the firmware to convert channel. Repeated
// selects of the active channel are not resent.
func (b *Bridge) ChangeActiveChannel(channel int) error {
	if err := adc.ValidateChannel(channel); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selected && b.active == channel {
		return nil
	}
	if err := b.mux.SendCommand(FormatSelect(channel)); err != nil {
		return err
	}
	b.active, b.selected = channel, true
	return nil
}

// ReadVoltage returns the newest reading for channel in volts.
func (b *Bridge) ReadVoltage(channel int) (float64, error) {
	if err := adc.ValidateChannel(channel); err != nil {
		return 0, err
	}
	b.mu.Lock()
	v := b.values[channel]
	b.mu.Unlock()

	if !v.ok {
		return 0, adc.ErrNoSample
	}
	if b.maxAge > 0 && b.clock.Since(v.at) > b.maxAge {
		return 0, ErrStaleSample
	}
	return v.millivolts / 1000, nil
}

// Stats reports the number of lines seen and rejected.
func (b *Bridge) Stats() (lines, rejected uint64) {
	return b.lines.Load(), b.rejected.Load()
}

// Close closes the underlying mux.
func (b *Bridge) Close() error {
	return b.mux.Close()
}
