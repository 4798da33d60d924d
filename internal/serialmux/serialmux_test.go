package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest appears to come from loopback so tsweb debug access
// checks pass.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func startMonitor(t *testing.T, mux *SerialMux[*TestableSerialPort]) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	return done
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line, ok := <-ch:
		require.True(t, ok, "channel closed")
		return line
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}

func TestSendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("C1"))
	require.NoError(t, mux.SendCommand("C2\n"))
	assert.Equal(t, "C1\nC2\n", port.Written())

	port.WriteError = errors.New("boom")
	assert.EqualError(t, mux.SendCommand("C0"), "boom")

	port.ShortWrite = true
	assert.ErrorIs(t, mux.SendCommand("C0"), ErrWriteFailed)
}

func TestInitializeStartsStream(t *testing.T) {
	port := NewTestableSerialPort()
	require.NoError(t, NewSerialMux(port).Initialize())
	assert.Equal(t, "X\nS\n", port.Written())

	failing := NewTestableSerialPort()
	failing.WriteError = errors.New("unplugged")
	assert.ErrorContains(t, NewSerialMux(failing).Initialize(), "unplugged")
}

func TestMonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	id1, a := mux.Subscribe()
	_, b := mux.Subscribe()
	done := startMonitor(t, mux)

	port.AddReadData("A0=3000\r\nA1=1200\n")
	assert.Equal(t, "A0=3000", recv(t, a))
	assert.Equal(t, "A1=1200", recv(t, a))
	assert.Equal(t, "A0=3000", recv(t, b))
	assert.Equal(t, "A1=1200", recv(t, b))

	mux.Unsubscribe(id1)
	_, ok := <-a
	assert.False(t, ok)
	assert.Equal(t, 1, mux.subscriberCount())

	require.NoError(t, mux.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not return after close")
	}
	_, ok = <-b
	assert.False(t, ok)
}

func TestMonitorStopsOnCancel(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor ignored cancellation")
	}
	require.NoError(t, mux.Close())
}

func TestSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	require.NoError(t, mux.Close())
	require.NoError(t, mux.Close())
	_, ch := mux.Subscribe()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestAdminCommandRoute(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name   string
		method string
		form   url.Values
		status int
	}{
		{name: "select", method: http.MethodPost, form: url.Values{"command": {"C2"}}, status: http.StatusOK},
		{name: "blank", method: http.MethodPost, form: url.Values{"command": {"  "}}, status: http.StatusBadRequest},
		{name: "get", method: http.MethodGet, status: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := localHostRequest(tt.method, "/debug/adc-command", strings.NewReader(tt.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
	assert.Equal(t, "C2\n", port.Written())

	port.WriteError = errors.New("gone")
	req := localHostRequest(http.MethodPost, "/debug/adc-command", strings.NewReader("command=S"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminTailRoute(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)
	startMonitor(t, mux)

	w := httptest.NewRecorder()
	served := make(chan struct{})
	go func() {
		defer close(served)
		httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/adc-tail", nil))
	}()

	require.Eventually(t, func() bool { return mux.subscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, tail := mux.Subscribe()
	port.AddReadData("A2=3300\n")
	assert.Equal(t, "A2=3300", recv(t, tail))

	require.NoError(t, mux.Close())
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("tail handler did not return")
	}

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), ": ping\n\n")
	assert.Contains(t, w.Body.String(), "data: A2=3300\n\n")
}

func TestOpenWithFactory(t *testing.T) {
	port := NewTestableSerialPort()
	factory := &MockPortFactory{Port: port}

	mux, err := Open(factory, "/dev/ttyACM0", PortOptions{BaudRate: 115200})
	require.NoError(t, err)
	require.NoError(t, mux.SendCommand("S"))
	assert.Equal(t, "S\n", port.Written())
	require.Len(t, factory.Calls, 1)
	assert.Equal(t, "/dev/ttyACM0", factory.Calls[0].Path)

	factory.Err = errors.New("no such device")
	_, err = Open(factory, "/dev/ttyACM1", PortOptions{})
	assert.EqualError(t, err, "no such device")
}

func TestNewRealSerialMuxInvalidPath(t *testing.T) {
	_, err := NewRealSerialMux("/dev/does-not-exist-adc", PortOptions{})
	assert.Error(t, err)

	_, err = NewRealSerialMux("/dev/does-not-exist-adc", PortOptions{Parity: "mark"})
	assert.ErrorContains(t, err, "unsupported parity")
}
