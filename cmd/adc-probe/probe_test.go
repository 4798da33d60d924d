package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drowsiness.monitor/internal/adc"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

func TestProbeSummarisesReadings(t *testing.T) {
	src := adc.NewScriptedSource().PushVolts(1, 1.0, 2.0, 3.0)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	var out bytes.Buffer

	sum, err := Probe(src, clock, 1, 3, 50*time.Millisecond, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Samples)
	assert.Zero(t, sum.Faults)
	assert.InDelta(t, 2.0, sum.Mean, 1e-9)
	assert.InDelta(t, 1.0, sum.StdDev, 1e-9)
	assert.Equal(t, 1.0, sum.Min)
	assert.Equal(t, 3.0, sum.Max)

	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.Sleeps())
	assert.Contains(t, out.String(), "A1  3.0000 V")
	assert.Contains(t, out.String(), "0.100s")
}

func TestProbeCountsFaults(t *testing.T) {
	boom := errors.New("i2c nack")
	src := adc.NewScriptedSource().
		Push(0, adc.Reading{Err: boom}).
		PushVolts(0, 2.5)
	var out bytes.Buffer

	sum, err := Probe(src, timeutil.NewMockClock(time.Unix(0, 0)), 0, 3, time.Millisecond, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Faults)
	assert.Equal(t, 2, sum.Samples)
	assert.Contains(t, out.String(), "error: i2c nack")
}

func TestProbeErrors(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	var out bytes.Buffer

	_, err := Probe(adc.NewScriptedSource(), clock, 0, 0, time.Millisecond, &out)
	assert.ErrorContains(t, err, "positive")

	_, err = Probe(adc.NewScriptedSource(), clock, 7, 1, time.Millisecond, &out)
	assert.ErrorIs(t, err, adc.ErrInvalidChannel)

	_, err = Probe(adc.NewScriptedSource(), clock, 0, 2, time.Millisecond, &out)
	assert.ErrorContains(t, err, "no readings")
}
