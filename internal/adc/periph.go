package adc

import (
	"fmt"

	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/experimental/devices/ads1x15"
	"periph.io/x/periph/host"
)

// PeriphOptions configures the ADS1015 backend.
type PeriphOptions struct {
	Bus        string // i2creg bus name, "" for the first bus
	Address    uint16
	FullScale  physic.ElectricPotential
	SampleRate physic.Frequency
}

// DefaultPeriphOptions matches the board wiring: address 0x48, +/-4.096V.
var DefaultPeriphOptions = PeriphOptions{
	Address:    0x48,
	FullScale:  4096 * physic.MilliVolt,
	SampleRate: 3300 * physic.Hertz,
}

var channels = [NumChannels]ads1x15.Channel{
	ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3,
}

// PeriphSource reads an ADS1015 over I2C using periph.io.
type PeriphSource struct {
	bus    i2c.BusCloser
	dev    *ads1x15.Dev
	opts   PeriphOptions
	pins   [NumChannels]ads1x15.PinADC
	active int
}

// OpenPeriph initialises the host drivers and opens the converter.
func OpenPeriph(opts PeriphOptions) (*PeriphSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(opts.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", opts.Bus, err)
	}
	devOpts := ads1x15.DefaultOpts
	if opts.Address != 0 {
		devOpts.I2cAddress = opts.Address
	}
	dev, err := ads1x15.NewADS1015(bus, &devOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("open ads1015 at 0x%02x: %w", devOpts.I2cAddress, err)
	}
	return &PeriphSource{bus: bus, dev: dev, opts: opts, active: -1}, nil
}

// ChangeActiveChannel prepares the pin for channel. Pins are cached so
// rapid switching does not reconfigure the device each time.
func (s *PeriphSource) ChangeActiveChannel(channel int) error {
	if err := ValidateChannel(channel); err != nil {
		return err
	}
	if s.pins[channel] == nil {
		pin, err := s.dev.PinForChannel(channels[channel], s.opts.FullScale, s.opts.SampleRate, ads1x15.BestQuality)
		if err != nil {
			return fmt.Errorf("configure channel %d: %w", channel, err)
		}
		s.pins[channel] = pin
	}
	s.active = channel
	return nil
}

// ReadVoltage performs a single-shot conversion on channel.
func (s *PeriphSource) ReadVoltage(channel int) (float64, error) {
	if channel != s.active {
		if err := s.ChangeActiveChannel(channel); err != nil {
			return 0, err
		}
	}
	sample, err := s.pins[channel].Read()
	if err != nil {
		return 0, err
	}
	return float64(sample.V) / float64(physic.Volt), nil
}

// Close halts configured pins and releases the bus.
func (s *PeriphSource) Close() error {
	for _, p := range s.pins {
		if p != nil {
			_ = p.Halt()
		}
	}
	return s.bus.Close()
}
