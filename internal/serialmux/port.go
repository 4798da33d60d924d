package serialmux

import (
	"io"
)

// SerialPorter is the minimal port the mux needs, so tests can run without
// hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortFactory opens serial ports. The daemon uses RealPortFactory; tests
// substitute MockPortFactory.
type PortFactory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}
