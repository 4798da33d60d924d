package serialmux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/drowsiness.monitor/internal/adc"
)

var errPortClosed = errors.New("serial port closed")

// SimPort emulates the bridge firmware: while streaming it writes one
// `A<ch>=<mV>` line per channel every period, reading values from src.
type SimPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu        sync.Mutex
	src       adc.Source
	streaming bool
	commands  []string
	done      chan struct{}
	closeOnce sync.Once
}

// NewSimSerialMux returns a mux backed by a SimPort that streams src.
func NewSimSerialMux(src adc.Source, period time.Duration) *SerialMux[*SimPort] {
	return NewSerialMux(NewSimPort(src, period))
}

// NewSimPort starts the emulated stream.
func NewSimPort(src adc.Source, period time.Duration) *SimPort {
	r, w := io.Pipe()
	p := &SimPort{r: r, w: w, src: src, done: make(chan struct{})}
	go p.stream(period)
	return p
}

func (p *SimPort) stream(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	var buf bytes.Buffer
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		buf.Reset()
		p.mu.Lock()
		if p.streaming {
			for ch := 0; ch < adc.NumChannels; ch++ {
				v, err := p.src.ReadVoltage(ch)
				if err != nil {
					continue
				}
				buf.WriteString(FormatSample(Sample{Channel: ch, Millivolts: float64(int(v * 1000))}))
				buf.WriteByte('\n')
			}
		}
		p.mu.Unlock()
		if buf.Len() == 0 {
			continue
		}
		if _, err := p.w.Write(buf.Bytes()); err != nil {
			return
		}
	}
}

func (p *SimPort) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write accepts firmware commands.
func (p *SimPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return 0, errPortClosed
	default:
	}
	for _, cmd := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		cmd = strings.TrimSpace(cmd)
		p.commands = append(p.commands, cmd)
		switch {
		case cmd == CommandStart:
			p.streaming = true
		case cmd == CommandStop:
			p.streaming = false
		case strings.HasPrefix(cmd, "C"):
			if ch, err := strconv.Atoi(cmd[1:]); err == nil {
				if err := p.src.ChangeActiveChannel(ch); err != nil {
					return 0, fmt.Errorf("select channel: %w", err)
				}
			}
		}
	}
	return len(b), nil
}

// Commands returns the commands received so far.
func (p *SimPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

func (p *SimPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.w.Close()
	})
	return nil
}

// TestableSerialPort is a SerialPorter with scripted reads and captured
// writes. Reads block until data is added or the port is closed.
type TestableSerialPort struct {
	mu   sync.Mutex
	cond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// WriteError, when set, is returned by the next Write.
	WriteError error
	// ShortWrite makes Write report one byte fewer than requested.
	ShortWrite bool
	// CloseError is returned by Close.
	CloseError error

	closed bool
}

func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && t.readBuf.Len() == 0 {
		t.cond.Wait()
	}
	if t.readBuf.Len() > 0 {
		return t.readBuf.Read(p)
	}
	return 0, io.EOF
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errPortClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		return 0, err
	}
	n, _ := t.writeBuf.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, nil
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.cond.Broadcast()
	return t.CloseError
}

// AddReadData queues data for Read.
func (t *TestableSerialPort) AddReadData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.WriteString(data)
	t.cond.Broadcast()
}

// Written returns everything written so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}

// MockPortFactory records Open calls and returns Port or Err.
type MockPortFactory struct {
	mu    sync.Mutex
	Port  SerialPorter
	Err   error
	Calls []MockOpenCall
}

// MockOpenCall records one Open.
type MockOpenCall struct {
	Path string
	Opts PortOptions
}

func (f *MockPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, MockOpenCall{Path: path, Opts: opts})
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Port, nil
}
