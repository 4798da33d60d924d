package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSample(t *testing.T) {
	tests := []struct {
		line    string
		want    Sample
		wantErr bool
	}{
		{line: "A0=3012", want: Sample{Channel: 0, Millivolts: 3012}},
		{line: "A2=1499.5\r", want: Sample{Channel: 2, Millivolts: 1499.5}},
		{line: "  A1=0  ", want: Sample{Channel: 1, Millivolts: 0}},
		{line: "A1=-12", want: Sample{Channel: 1, Millivolts: -12}},
		{line: "", wantErr: true},
		{line: "B0=12", wantErr: true},
		{line: "A0", wantErr: true},
		{line: "Ax=12", wantErr: true},
		{line: "A-1=12", wantErr: true},
		{line: "A0=twelve", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseSample(tt.line)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSampleRoundTrip(t *testing.T) {
	s := Sample{Channel: 3, Millivolts: 2048.25}
	assert.Equal(t, "A3=2048.25", FormatSample(s))
	got, err := ParseSample(FormatSample(s))
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.InDelta(t, 2.04825, got.Volts(), 1e-9)
}

func TestFormatSelect(t *testing.T) {
	assert.Equal(t, "C2", FormatSelect(2))
}
