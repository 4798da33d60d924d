package blink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
)

// DefaultFIFOPath is where the blink detector creates its named pipe.
const DefaultFIFOPath = "/tmp/blinkDfifo"

const tokenSize = 4

// FIFOSource reads native-endian int32 tokens from a named pipe opened in
// non-blocking mode.
type FIFOSource struct {
	mu     sync.Mutex
	fd     int
	path   string
	buf    []byte
	closed bool
}

// OpenFIFO opens path for non-blocking reads, retrying every retry while the
// pipe does not exist yet. Other open errors are returned immediately.
func OpenFIFO(ctx context.Context, path string, retry time.Duration, clock timeutil.Clock) (*FIFOSource, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if retry <= 0 {
		retry = time.Millisecond
	}
	waited := false
	for {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err == nil {
			if waited {
				monitoring.Logf("blink: %s appeared", path)
			}
			return &FIFOSource{fd: fd, path: path, buf: make([]byte, 0, tokenSize)}, nil
		}
		if !errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("open blink fifo %s: %w", path, err)
		}
		if !waited {
			monitoring.Logf("blink: waiting for %s", path)
			waited = true
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clock.Sleep(retry)
	}
}

// Poll returns at most one token. EAGAIN and EOF mean no data. A token
// split across reads is buffered until complete.
func (f *FIFOSource) Poll() (int32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, false, ErrClosed
	}

	var chunk [tokenSize]byte
	need := tokenSize - len(f.buf)
	n, err := unix.Read(f.fd, chunk[:need])
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read blink fifo: %w", err)
	case n <= 0:
		return 0, false, nil
	}
	f.buf = append(f.buf, chunk[:n]...)
	if len(f.buf) < tokenSize {
		return 0, false, nil
	}
	tok := int32(binary.NativeEndian.Uint32(f.buf))
	f.buf = f.buf[:0]
	return tok, true, nil
}

// Close releases the descriptor.
func (f *FIFOSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return unix.Close(f.fd)
}
