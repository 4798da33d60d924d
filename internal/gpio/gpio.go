// Package gpio drives the digital indicators, the proportional PWM
// indicators and the buzzer.
package gpio

import (
	"fmt"
	"io"
	"sync"
)

// Driver writes output pins by BCM number.
type Driver interface {
	WriteDigital(pin int, high bool) error
	// WritePWM sets a duty cycle where 0 is off and 255 is fully on.
	WritePWM(pin int, duty uint8) error
}

// Bus serializes writes to a Driver and remembers every pin it touched so
// they can all be driven low on shutdown.
type Bus struct {
	mu      sync.Mutex
	drv     Driver
	touched map[int]struct{}
}

// NewBus wraps drv.
func NewBus(drv Driver) *Bus {
	return &Bus{drv: drv, touched: make(map[int]struct{})}
}

func (b *Bus) WriteDigital(pin int, high bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched[pin] = struct{}{}
	if err := b.drv.WriteDigital(pin, high); err != nil {
		return fmt.Errorf("write GPIO%d: %w", pin, err)
	}
	return nil
}

func (b *Bus) WritePWM(pin int, duty uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched[pin] = struct{}{}
	if err := b.drv.WritePWM(pin, duty); err != nil {
		return fmt.Errorf("pwm GPIO%d: %w", pin, err)
	}
	return nil
}

// AllLow drives every pin written so far, plus extra, low. The first error
// is returned after all pins have been attempted.
func (b *Bus) AllLow(extra ...int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range extra {
		b.touched[p] = struct{}{}
	}
	var first error
	for pin := range b.touched {
		if err := b.drv.WriteDigital(pin, false); err != nil && first == nil {
			first = fmt.Errorf("reset GPIO%d: %w", pin, err)
		}
	}
	return first
}

// Close releases the driver if it holds hardware.
func (b *Bus) Close() error {
	return CloseDriver(b.drv)
}

// CloseDriver closes drv when it implements io.Closer.
func CloseDriver(drv Driver) error {
	if c, ok := drv.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
