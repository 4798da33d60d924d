package serialmux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Bridge firmware commands.
const (
	CommandStart = "S"
	CommandStop  = "X"
)

// ErrMalformedLine is returned for lines that are not `A<ch>=<mV>` samples.
var ErrMalformedLine = errors.New("malformed sample line")

// Sample is one conversion reported by the bridge.
type Sample struct {
	Channel    int
	Millivolts float64
}

// Volts converts the sample reading.
func (s Sample) Volts() float64 { return s.Millivolts / 1000 }

// FormatSelect returns the command that makes channel the active input.
func FormatSelect(channel int) string {
	return "C" + strconv.Itoa(channel)
}

// FormatSample renders s in the wire form ParseSample accepts.
func FormatSample(s Sample) string {
	return fmt.Sprintf("A%d=%s", s.Channel, strconv.FormatFloat(s.Millivolts, 'f', -1, 64))
}

// ParseSample parses a line of the form `A<ch>=<mV>`. Surrounding
// whitespace is ignored.
func ParseSample(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(line, "A")
	if !ok {
		return Sample{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	ch, mv, ok := strings.Cut(rest, "=")
	if !ok {
		return Sample{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	channel, err := strconv.Atoi(ch)
	if err != nil || channel < 0 {
		return Sample{}, fmt.Errorf("%w: bad channel in %q", ErrMalformedLine, line)
	}
	millivolts, err := strconv.ParseFloat(mv, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: bad reading in %q", ErrMalformedLine, line)
	}
	return Sample{Channel: channel, Millivolts: millivolts}, nil
}
