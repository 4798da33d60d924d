package main

import (
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/drowsiness.monitor/internal/adc"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

// Summary describes one probe run.
type Summary struct {
	Samples int
	Faults  int
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64
}

// Probe selects channel and takes n readings interval apart, writing each
// to w. Failed reads are counted and reported but do not stop the run.
func Probe(src adc.Source, clock timeutil.Clock, channel, n int, interval time.Duration, w io.Writer) (Summary, error) {
	if n <= 0 {
		return Summary{}, fmt.Errorf("sample count must be positive, got %d", n)
	}
	if err := src.ChangeActiveChannel(channel); err != nil {
		return Summary{}, fmt.Errorf("select channel %d: %w", channel, err)
	}

	var sum Summary
	volts := make([]float64, 0, n)
	start := clock.Now()
	for i := 0; i < n; i++ {
		if i > 0 {
			clock.Sleep(interval)
		}
		v, err := src.ReadVoltage(channel)
		elapsed := clock.Since(start).Seconds()
		if err != nil {
			sum.Faults++
			fmt.Fprintf(w, "%8.3fs  A%d  error: %v\n", elapsed, channel, err)
			continue
		}
		volts = append(volts, v)
		fmt.Fprintf(w, "%8.3fs  A%d  %.4f V\n", elapsed, channel, v)
	}

	sum.Samples = len(volts)
	if sum.Samples == 0 {
		return sum, fmt.Errorf("no readings from channel %d", channel)
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(volts, nil)
	sum.Min, sum.Max = volts[0], volts[0]
	for _, v := range volts[1:] {
		sum.Min = min(sum.Min, v)
		sum.Max = max(sum.Max, v)
	}
	return sum, nil
}
