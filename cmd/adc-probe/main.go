// adc-probe reads one converter channel and prints the voltages, for
// checking sensor wiring and calibration without starting the monitor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"periph.io/x/periph/conn/physic"

	"github.com/banshee-data/drowsiness.monitor/internal/adc"
	"github.com/banshee-data/drowsiness.monitor/internal/config"
	"github.com/banshee-data/drowsiness.monitor/internal/serialmux"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

func main() {
	configPath := flag.String("config", "", "Path to monitor JSON config (defaults built in)")
	backend := flag.String("adc", "", "ADC backend: periph, serial or sim (overrides config)")
	channel := flag.Int("channel", 0, "Converter channel to read (0-3)")
	n := flag.Int("n", 20, "Number of readings")
	interval := flag.Duration("interval", 100*time.Millisecond, "Delay between readings")
	flag.Parse()

	cfg := config.DefaultMonitorConfig()
	if *configPath != "" {
		loaded, err := config.LoadMonitorConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *backend != "" {
		cfg.ADCBackend = backend
	}

	src, closeFn, err := openSource(cfg)
	if err != nil {
		log.Fatalf("failed to open %s backend: %v", cfg.GetADCBackend(), err)
	}
	defer closeFn()

	sum, err := Probe(src, timeutil.RealClock{}, *channel, *n, *interval, os.Stdout)
	if err != nil {
		closeFn()
		log.Fatalf("probe failed: %v", err)
	}
	fmt.Printf("samples=%d faults=%d mean=%.4fV stddev=%.4fV min=%.4fV max=%.4fV\n",
		sum.Samples, sum.Faults, sum.Mean, sum.StdDev, sum.Min, sum.Max)
}

func openSource(cfg *config.MonitorConfig) (adc.Source, func() error, error) {
	switch cfg.GetADCBackend() {
	case "periph":
		src, err := adc.OpenPeriph(adc.PeriphOptions{
			Bus:        cfg.GetI2CBus(),
			Address:    uint16(cfg.GetADCAddress()),
			FullScale:  physic.ElectricPotential(cfg.GetFullScaleMillivolts()) * physic.MilliVolt,
			SampleRate: adc.DefaultPeriphOptions.SampleRate,
		})
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil

	case "serial":
		mux, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), serialmux.PortOptions{BaudRate: cfg.GetSerialBaudRate()})
		if err != nil {
			return nil, nil, err
		}
		bridge := serialmux.NewBridge(mux, nil, time.Second)
		go mux.Monitor(context.Background())
		go bridge.Run(context.Background())
		if err := mux.Initialize(); err != nil {
			mux.Close()
			return nil, nil, err
		}
		// let the first full set of readings arrive
		time.Sleep(100 * time.Millisecond)
		return bridge, bridge.Close, nil

	case "sim":
		return adc.NewSimSource(nil, adc.SimChannels{
			Pulse:     cfg.GetPulseChannel(),
			Proximity: cfg.GetProximityChannel(),
			Grip:      cfg.GetGripChannel(),
		}), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown ADC backend %q", cfg.GetADCBackend())
}
