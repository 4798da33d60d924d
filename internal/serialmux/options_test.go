package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_NormalizeDefaults(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)
}

func TestPortOptions_NormalizeParity(t *testing.T) {
	for in, want := range map[string]string{"none": "N", "even": "E", " o ": "O", "E": "E"} {
		opts, err := PortOptions{Parity: in}.Normalize()
		require.NoError(t, err, in)
		assert.Equal(t, want, opts.Parity, in)
	}
}

func TestPortOptions_NormalizeErrors(t *testing.T) {
	for name, opts := range map[string]PortOptions{
		"data bits":  {DataBits: 9},
		"stop bits":  {StopBits: 3},
		"parity":     {Parity: "mark"},
		"data bits4": {DataBits: 4},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := opts.Normalize()
			assert.Error(t, err)
			_, err = opts.SerialMode()
			assert.Error(t, err)
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
}
