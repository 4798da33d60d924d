package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/periph/conn/physic"

	"github.com/banshee-data/drowsiness.monitor/internal/adc"
	"github.com/banshee-data/drowsiness.monitor/internal/config"
	"github.com/banshee-data/drowsiness.monitor/internal/engine"
	"github.com/banshee-data/drowsiness.monitor/internal/gpio"
	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/serialmux"
)

// bridgeMaxAge is how old a streamed reading may be before the bridge
// reports it as missing.
const bridgeMaxAge = 250 * time.Millisecond

// devStreamPeriod is how often the emulated bridge emits a full set of
// channel readings.
const devStreamPeriod = 2 * time.Millisecond

// openHardware opens the ADC and GPIO for backend. For the serial and dev
// backends the returned mux is the bridge link, whose admin routes the
// caller may mount.
func openHardware(ctx context.Context, backend string, cfg *config.MonitorConfig) (engine.Hardware, serialmux.SerialMuxInterface, error) {
	switch backend {
	case "periph":
		src, err := adc.OpenPeriph(adc.PeriphOptions{
			Bus:        cfg.GetI2CBus(),
			Address:    uint16(cfg.GetADCAddress()),
			FullScale:  physic.ElectricPotential(cfg.GetFullScaleMillivolts()) * physic.MilliVolt,
			SampleRate: adc.DefaultPeriphOptions.SampleRate,
		})
		if err != nil {
			return engine.Hardware{}, nil, err
		}
		out, err := gpio.OpenPeriph(0)
		if err != nil {
			src.Close()
			return engine.Hardware{}, nil, err
		}
		return engine.Hardware{ADC: src, GPIO: out}, nil, nil

	case "serial":
		mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), serialmux.PortOptions{BaudRate: cfg.GetSerialBaudRate()})
		if err != nil {
			return engine.Hardware{}, nil, fmt.Errorf("open ADC bridge %s: %w", cfg.GetSerialPort(), err)
		}
		out, err := gpio.OpenPeriph(0)
		if err != nil {
			mux.Close()
			return engine.Hardware{}, nil, err
		}
		hw, err := bridgeHardware(ctx, mux, out)
		if err != nil {
			return engine.Hardware{}, nil, err
		}
		return hw, mux, nil

	case "sim":
		return engine.Hardware{ADC: adc.NewSimSource(nil, simChannels(cfg)), GPIO: gpio.NewRecorder()}, nil, nil

	case "dev":
		mux := serialmux.NewSimSerialMux(adc.NewSimSource(nil, simChannels(cfg)), devStreamPeriod)
		hw, err := bridgeHardware(ctx, mux, gpio.NewRecorder())
		if err != nil {
			return engine.Hardware{}, nil, err
		}
		return hw, mux, nil
	}
	return engine.Hardware{}, nil, fmt.Errorf("unknown ADC backend %q", backend)
}

func simChannels(cfg *config.MonitorConfig) adc.SimChannels {
	return adc.SimChannels{
		Pulse:     cfg.GetPulseChannel(),
		Proximity: cfg.GetProximityChannel(),
		Grip:      cfg.GetGripChannel(),
	}
}

// bridgeHardware pairs a started bridge on mux with out. out is released
// if the bridge does not come up.
func bridgeHardware(ctx context.Context, mux serialmux.SerialMuxInterface, out gpio.Driver) (engine.Hardware, error) {
	bridge, err := startBridge(ctx, mux)
	if err != nil {
		if cerr := gpio.CloseDriver(out); cerr != nil {
			monitoring.Logf("adc bridge: release GPIO: %v", cerr)
		}
		return engine.Hardware{}, err
	}
	return engine.Hardware{ADC: bridge, GPIO: out}, nil
}

// startBridge runs the mux reader and the bridge consumer, then puts the
// firmware into streaming mode. Both goroutines end when the engine closes
// the bridge.
func startBridge(ctx context.Context, mux serialmux.SerialMuxInterface) (*serialmux.Bridge, error) {
	bridge := serialmux.NewBridge(mux, nil, bridgeMaxAge)
	go func() {
		if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("adc bridge: monitor: %v", err)
		}
	}()
	go bridge.Run(ctx)
	if err := mux.Initialize(); err != nil {
		mux.Close()
		return nil, fmt.Errorf("initialize ADC bridge: %w", err)
	}
	return bridge, nil
}
