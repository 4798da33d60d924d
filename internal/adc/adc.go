// Package adc abstracts the shared analog-to-digital converter that every
// sampler reads through.
package adc

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNoSample is returned when a backend has no reading for a channel yet.
	ErrNoSample = errors.New("adc: no sample available")
	// ErrInvalidChannel is returned for channels outside 0..3.
	ErrInvalidChannel = errors.New("adc: invalid channel")
)

// NumChannels is the number of single-ended inputs on the converter.
const NumChannels = 4

// Source is a multi-channel voltage reader. Implementations need not be
// safe for concurrent use; wrap them in a Bus.
type Source interface {
	ReadVoltage(channel int) (float64, error)
	ChangeActiveChannel(channel int) error
}

// ValidateChannel reports ErrInvalidChannel for out-of-range channels.
func ValidateChannel(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	return nil
}

// Bus serializes access to a Source. The lock is held only for the select
// and read pair, never across a sampler's sleep.
type Bus struct {
	mu  sync.Mutex
	src Source
}

// NewBus wraps src.
func NewBus(src Source) *Bus {
	return &Bus{src: src}
}

// Read switches to channel and reads it as one critical section.
func (b *Bus) Read(channel int) (float64, error) {
	if err := ValidateChannel(channel); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.src.ChangeActiveChannel(channel); err != nil {
		return 0, fmt.Errorf("select channel %d: %w", channel, err)
	}
	v, err := b.src.ReadVoltage(channel)
	if err != nil {
		return 0, fmt.Errorf("read channel %d: %w", channel, err)
	}
	return v, nil
}

// Close closes the underlying source if it supports it.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.src.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
