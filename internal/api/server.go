// Package api serves the monitor's read-only HTTP status endpoints.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/drowsiness.monitor/internal/alert"
	"github.com/banshee-data/drowsiness.monitor/internal/blink"
	"github.com/banshee-data/drowsiness.monitor/internal/db"
	"github.com/banshee-data/drowsiness.monitor/internal/fusion"
	"github.com/banshee-data/drowsiness.monitor/internal/httputil"
	"github.com/banshee-data/drowsiness.monitor/internal/monitoring"
	"github.com/banshee-data/drowsiness.monitor/internal/notify"
	"github.com/banshee-data/drowsiness.monitor/internal/pulse"
	"github.com/banshee-data/drowsiness.monitor/internal/sensor"
	"github.com/banshee-data/drowsiness.monitor/internal/timeutil"
	"github.com/banshee-data/drowsiness.monitor/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Arbiter is the fusion state the API reports on.
type Arbiter interface {
	Tick() uint32
	GripState() fusion.GripState
	Counts() map[alert.Source]uint64
	PulseStats() pulse.Stats
	BlinkHistory() [blink.HistorySize]uint32
}

// Buzzer reports actuator activity.
type Buzzer interface {
	Busy() bool
	Pending() int
	Requests() uint64
	Actuations() uint64
}

// AlertStore reads the alert journal.
type AlertStore interface {
	RecentAlerts(limit int) ([]db.AlertRecord, error)
	AlertCounts(since time.Time) (map[alert.Source]int64, error)
}

// Dispatcher reports notification delivery.
type Dispatcher interface {
	Stats() notify.Stats
	Sinks() []string
}

// Options wires a Server. Alerts and Dispatcher may be nil.
type Options struct {
	Arbiter    Arbiter
	State      *sensor.SharedState
	Buzzer     Buzzer
	Alerts     AlertStore
	Dispatcher Dispatcher
	Clock      timeutil.Clock
	SessionID  string
	ADCBackend string
}

type Server struct {
	opts    Options
	started time.Time
}

func NewServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Server{opts: opts, started: opts.Clock.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/alerts", s.listAlerts)
	mux.HandleFunc("/api/pulse", s.showPulse)
	return mux
}

// BuzzerStatus is the actuator section of /api/status.
type BuzzerStatus struct {
	Busy       bool   `json:"busy"`
	Pending    int    `json:"pending"`
	Requests   uint64 `json:"requests"`
	Actuations uint64 `json:"actuations"`
}

// Status is the /api/status body.
type Status struct {
	Version      string                  `json:"version"`
	GitSHA       string                  `json:"git_sha"`
	SessionID    string                  `json:"session_id,omitempty"`
	ADCBackend   string                  `json:"adc_backend,omitempty"`
	UptimeSecs   float64                 `json:"uptime_s"`
	Tick         uint32                  `json:"tick"`
	GripState    string                  `json:"grip_state"`
	Sensors      sensor.Snapshot         `json:"sensors"`
	Buzzer       BuzzerStatus            `json:"buzzer"`
	Alerts       map[alert.Source]uint64 `json:"alerts"`
	Journal24h   map[alert.Source]int64  `json:"journal_24h,omitempty"`
	Sinks        []string                `json:"sinks,omitempty"`
	Notification *notify.Stats           `json:"notifications,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	now := s.opts.Clock.Now()
	st := Status{
		Version:    version.Version,
		GitSHA:     version.GitSHA,
		SessionID:  s.opts.SessionID,
		ADCBackend: s.opts.ADCBackend,
		UptimeSecs: now.Sub(s.started).Seconds(),
		Tick:       s.opts.Arbiter.Tick(),
		GripState:  s.opts.Arbiter.GripState().String(),
		Sensors:    s.opts.State.Snapshot(),
		Alerts:     s.opts.Arbiter.Counts(),
	}
	if b := s.opts.Buzzer; b != nil {
		st.Buzzer = BuzzerStatus{
			Busy:       b.Busy(),
			Pending:    b.Pending(),
			Requests:   b.Requests(),
			Actuations: b.Actuations(),
		}
	}
	if s.opts.Alerts != nil {
		counts, err := s.opts.Alerts.AlertCounts(now.Add(-24 * time.Hour))
		if err != nil {
			monitoring.Logf("status: alert counts: %v", err)
		} else {
			st.Journal24h = counts
		}
	}
	if d := s.opts.Dispatcher; d != nil {
		stats := d.Stats()
		st.Notification = &stats
		st.Sinks = d.Sinks()
	}
	httputil.WriteJSONOK(w, st)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.opts.Alerts == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "alert journal disabled")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	records, err := s.opts.Alerts.RecentAlerts(limit)
	if err != nil {
		monitoring.Logf("alerts: %v", err)
		httputil.InternalServerError(w, "failed to read alert journal")
		return
	}
	if records == nil {
		records = []db.AlertRecord{}
	}
	httputil.WriteJSONOK(w, records)
}

// PulseStatus is the /api/pulse body.
type PulseStatus struct {
	IBIMs          uint32      `json:"ibi_ms"`
	BPM            uint32      `json:"bpm"`
	Beats          uint64      `json:"beats"`
	History        pulse.Stats `json:"history"`
	BlinkIntervals []uint32    `json:"blink_intervals"`
}

func (s *Server) showPulse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	snap := s.opts.State.Snapshot()
	blinks := s.opts.Arbiter.BlinkHistory()
	httputil.WriteJSONOK(w, PulseStatus{
		IBIMs:          snap.PulseIBI,
		BPM:            snap.PulseBPM,
		Beats:          snap.Beats,
		History:        s.opts.Arbiter.PulseStats(),
		BlinkIntervals: blinks[:],
	})
}
