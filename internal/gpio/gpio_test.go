package gpio

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"
)

func TestBus_RecordsWrites(t *testing.T) {
	rec := NewRecorder()
	bus := NewBus(rec)

	require.NoError(t, bus.WriteDigital(21, true))
	require.NoError(t, bus.WritePWM(16, 128))
	require.NoError(t, bus.WriteDigital(21, false))

	want := []Write{
		{Pin: 21, High: true},
		{Pin: 16, PWM: true, High: true, Duty: 128},
		{Pin: 21},
	}
	if diff := cmp.Diff(want, rec.Writes()); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestBus_AllLowResetsTouchedAndExtraPins(t *testing.T) {
	rec := NewRecorder()
	bus := NewBus(rec)
	require.NoError(t, bus.WriteDigital(21, true))
	require.NoError(t, bus.WritePWM(12, 200))

	require.NoError(t, bus.AllLow(20))
	for _, pin := range []int{12, 20, 21} {
		assert.False(t, rec.Level(pin), "GPIO%d should be low", pin)
	}
}

func TestBus_WrapsDriverErrors(t *testing.T) {
	rec := NewRecorder()
	rec.Err = errors.New("permission denied")
	bus := NewBus(rec)

	err := bus.WriteDigital(20, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, rec.Err)
	assert.Contains(t, err.Error(), "GPIO20")
	assert.Error(t, bus.AllLow())
}

func TestBus_CloseReleasesDriver(t *testing.T) {
	rec := NewRecorder()
	bus := NewBus(rec)
	require.NoError(t, bus.WriteDigital(21, true))
	require.NoError(t, bus.Close())
	assert.True(t, rec.Closed())

	type plain struct{ Driver }
	assert.NoError(t, CloseDriver(plain{rec}))
}

func TestPeriphDriver_CloseWithoutPins(t *testing.T) {
	d := &PeriphDriver{pins: make(map[int]gpio.PinIO)}
	assert.NoError(t, d.Close())
	assert.Empty(t, d.pins)
}

func TestScaleDuty(t *testing.T) {
	assert.Equal(t, gpio.Duty(0), ScaleDuty(0))
	assert.Equal(t, gpio.DutyMax, ScaleDuty(255))
	assert.InDelta(t, float64(gpio.DutyHalf), float64(ScaleDuty(128)), float64(gpio.DutyMax)/255)
}
