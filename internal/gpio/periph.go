package gpio

import (
	"errors"
	"fmt"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/host"
)

// PeriphDriver drives Raspberry Pi header pins through periph.io.
type PeriphDriver struct {
	pwmFreq physic.Frequency
	pins    map[int]gpio.PinIO
}

// OpenPeriph initialises the host drivers. pwmFreq is used for WritePWM.
func OpenPeriph(pwmFreq physic.Frequency) (*PeriphDriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	if pwmFreq == 0 {
		pwmFreq = 1 * physic.KiloHertz
	}
	return &PeriphDriver{pwmFreq: pwmFreq, pins: make(map[int]gpio.PinIO)}, nil
}

func (d *PeriphDriver) pin(n int) (gpio.PinIO, error) {
	if p, ok := d.pins[n]; ok {
		return p, nil
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, fmt.Errorf("no such pin GPIO%d", n)
	}
	d.pins[n] = p
	return p, nil
}

func (d *PeriphDriver) WriteDigital(n int, high bool) error {
	p, err := d.pin(n)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(high))
}

func (d *PeriphDriver) WritePWM(n int, duty uint8) error {
	p, err := d.pin(n)
	if err != nil {
		return err
	}
	return p.PWM(ScaleDuty(duty), d.pwmFreq)
}

// Close drives every pin used so far low and releases it.
func (d *PeriphDriver) Close() error {
	var errs []error
	for n, p := range d.pins {
		if err := p.Out(gpio.Low); err != nil {
			errs = append(errs, fmt.Errorf("GPIO%d: %w", n, err))
		}
		if err := p.Halt(); err != nil {
			errs = append(errs, fmt.Errorf("halt GPIO%d: %w", n, err))
		}
	}
	d.pins = make(map[int]gpio.PinIO)
	return errors.Join(errs...)
}

// ScaleDuty maps 0..255 onto periph's duty range.
func ScaleDuty(duty uint8) gpio.Duty {
	return gpio.Duty(int64(duty) * int64(gpio.DutyMax) / 255)
}
