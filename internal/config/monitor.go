package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical monitor defaults file.
const DefaultConfigPath = "config/monitor.defaults.json"

// MonitorConfig is the root configuration document for the drowsiness
// monitor. Every field is optional; the Get* accessors return the built-in
// default for anything the JSON omits, so partial files are safe.
type MonitorConfig struct {
	// Hardware
	ADCBackend     *string `json:"adc_backend,omitempty"` // "periph", "serial" or "sim"
	I2CBus         *string `json:"i2c_bus,omitempty"`
	ADCAddress     *int    `json:"adc_address,omitempty"`
	SerialPort     *string `json:"serial_port,omitempty"`
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty"`

	PulseChannel     *int `json:"pulse_channel,omitempty"`
	ProximityChannel *int `json:"proximity_channel,omitempty"`
	GripChannel      *int `json:"grip_channel,omitempty"`

	PulsePin     *int `json:"pulse_pin,omitempty"`
	ProximityPin *int `json:"proximity_pin,omitempty"`
	GripPin      *int `json:"grip_pin,omitempty"`
	BuzzerPin    *int `json:"buzzer_pin,omitempty"`

	// Calibration, millivolts mapped onto 0..255
	ProximityMinMillivolts *int `json:"proximity_min_mv,omitempty"`
	ProximityMaxMillivolts *int `json:"proximity_max_mv,omitempty"`
	GripMinMillivolts      *int `json:"grip_min_mv,omitempty"`
	GripMaxMillivolts      *int `json:"grip_max_mv,omitempty"`
	FullScaleMillivolts    *int `json:"full_scale_mv,omitempty"`

	// Periods, duration strings like "230ms"
	ProximityPeriod *string `json:"proximity_period,omitempty"`
	GripPeriod      *string `json:"grip_period,omitempty"`
	PulsePeriod     *string `json:"pulse_period,omitempty"`
	FusionPeriod    *string `json:"fusion_period,omitempty"`
	BuzzerDuration  *string `json:"buzzer_duration,omitempty"`
	ShutdownGrace   *string `json:"shutdown_grace,omitempty"`

	// Pulse detector calibration
	PulseBaseline   *int `json:"pulse_baseline,omitempty"`
	PulseDefaultIBI *int `json:"pulse_default_ibi,omitempty"`

	// Fusion thresholds, in scaled units or ticks
	ApproachDelta      *int `json:"approach_delta,omitempty"`
	ApproachCooldown   *int `json:"approach_cooldown_ticks,omitempty"`
	BlinkFastInterval  *int `json:"blink_fast_interval,omitempty"`
	BlinkCooldown      *int `json:"blink_cooldown_ticks,omitempty"`
	BlinkSlowInterval  *int `json:"blink_combined_interval,omitempty"`
	ProximityThreshold *int `json:"proximity_threshold,omitempty"`
	GripThreshold      *int `json:"grip_threshold,omitempty"`
	IBIThreshold       *int `json:"ibi_threshold,omitempty"`
	CombinedCooldown   *int `json:"combined_cooldown_ticks,omitempty"`
	NoGripLevel        *int `json:"no_grip_level,omitempty"`
	NoGripDwell        *int `json:"no_grip_dwell_ticks,omitempty"`
	GripAlertCooldown  *int `json:"grip_alert_cooldown_ticks,omitempty"`

	// Blink channel
	BlinkFIFO       *string `json:"blink_fifo,omitempty"`
	BlinkRetryEvery *string `json:"blink_retry_every,omitempty"`

	// Journal and sinks
	DatabasePath *string `json:"database_path,omitempty"`
	MQTTBroker   *string `json:"mqtt_broker,omitempty"`
	MQTTTopic    *string `json:"mqtt_topic,omitempty"`
	MQTTClientID *string `json:"mqtt_client_id,omitempty"`
	RedisAddr    *string `json:"redis_addr,omitempty"`
	RedisStream  *string `json:"redis_stream,omitempty"`

	// Process
	Listen    *string `json:"listen,omitempty"`
	LogLevel  *string `json:"log_level,omitempty"`
	LogFormat *string `json:"log_format,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyMonitorConfig returns a MonitorConfig with all fields set to nil.
func EmptyMonitorConfig() *MonitorConfig {
	return &MonitorConfig{}
}

// DefaultMonitorConfig returns a config with every field populated from the
// built-in defaults. It is what config/monitor.defaults.json contains.
func DefaultMonitorConfig() *MonitorConfig {
	e := EmptyMonitorConfig()
	return &MonitorConfig{
		ADCBackend:     ptrString(e.GetADCBackend()),
		I2CBus:         ptrString(e.GetI2CBus()),
		ADCAddress:     ptrInt(e.GetADCAddress()),
		SerialPort:     ptrString(e.GetSerialPort()),
		SerialBaudRate: ptrInt(e.GetSerialBaudRate()),

		PulseChannel:     ptrInt(e.GetPulseChannel()),
		ProximityChannel: ptrInt(e.GetProximityChannel()),
		GripChannel:      ptrInt(e.GetGripChannel()),

		PulsePin:     ptrInt(e.GetPulsePin()),
		ProximityPin: ptrInt(e.GetProximityPin()),
		GripPin:      ptrInt(e.GetGripPin()),
		BuzzerPin:    ptrInt(e.GetBuzzerPin()),

		ProximityMinMillivolts: ptrInt(e.GetProximityMinMillivolts()),
		ProximityMaxMillivolts: ptrInt(e.GetProximityMaxMillivolts()),
		GripMinMillivolts:      ptrInt(e.GetGripMinMillivolts()),
		GripMaxMillivolts:      ptrInt(e.GetGripMaxMillivolts()),
		FullScaleMillivolts:    ptrInt(e.GetFullScaleMillivolts()),

		ProximityPeriod: ptrString(e.GetProximityPeriod().String()),
		GripPeriod:      ptrString(e.GetGripPeriod().String()),
		PulsePeriod:     ptrString(e.GetPulsePeriod().String()),
		FusionPeriod:    ptrString(e.GetFusionPeriod().String()),
		BuzzerDuration:  ptrString(e.GetBuzzerDuration().String()),
		ShutdownGrace:   ptrString(e.GetShutdownGrace().String()),

		PulseBaseline:   ptrInt(e.GetPulseBaseline()),
		PulseDefaultIBI: ptrInt(e.GetPulseDefaultIBI()),

		ApproachDelta:      ptrInt(e.GetApproachDelta()),
		ApproachCooldown:   ptrInt(e.GetApproachCooldown()),
		BlinkFastInterval:  ptrInt(e.GetBlinkFastInterval()),
		BlinkCooldown:      ptrInt(e.GetBlinkCooldown()),
		BlinkSlowInterval:  ptrInt(e.GetBlinkSlowInterval()),
		ProximityThreshold: ptrInt(e.GetProximityThreshold()),
		GripThreshold:      ptrInt(e.GetGripThreshold()),
		IBIThreshold:       ptrInt(e.GetIBIThreshold()),
		CombinedCooldown:   ptrInt(e.GetCombinedCooldown()),
		NoGripLevel:        ptrInt(e.GetNoGripLevel()),
		NoGripDwell:        ptrInt(e.GetNoGripDwell()),
		GripAlertCooldown:  ptrInt(e.GetGripAlertCooldown()),

		BlinkFIFO:       ptrString(e.GetBlinkFIFO()),
		BlinkRetryEvery: ptrString(e.GetBlinkRetryEvery().String()),

		DatabasePath: ptrString(e.GetDatabasePath()),
		MQTTBroker:   ptrString(e.GetMQTTBroker()),
		MQTTTopic:    ptrString(e.GetMQTTTopic()),
		MQTTClientID: ptrString(e.GetMQTTClientID()),
		RedisAddr:    ptrString(e.GetRedisAddr()),
		RedisStream:  ptrString(e.GetRedisStream()),

		Listen:    ptrString(e.GetListen()),
		LogLevel:  ptrString(e.GetLogLevel()),
		LogFormat: ptrString(e.GetLogFormat()),
	}
}

// LoadMonitorConfig loads a MonitorConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadMonitorConfig(path string) (*MonitorConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyMonitorConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *MonitorConfig) Validate() error {
	switch c.GetADCBackend() {
	case "periph", "serial", "sim":
	default:
		return fmt.Errorf("adc_backend must be one of periph, serial, sim; got %q", c.GetADCBackend())
	}

	for name, ch := range map[string]int{
		"pulse_channel":     c.GetPulseChannel(),
		"proximity_channel": c.GetProximityChannel(),
		"grip_channel":      c.GetGripChannel(),
	} {
		if ch < 0 || ch > 3 {
			return fmt.Errorf("%s must be between 0 and 3, got %d", name, ch)
		}
	}

	if c.GetProximityMinMillivolts() >= c.GetProximityMaxMillivolts() {
		return fmt.Errorf("proximity_min_mv (%d) must be below proximity_max_mv (%d)",
			c.GetProximityMinMillivolts(), c.GetProximityMaxMillivolts())
	}
	if c.GetGripMinMillivolts() >= c.GetGripMaxMillivolts() {
		return fmt.Errorf("grip_min_mv (%d) must be below grip_max_mv (%d)",
			c.GetGripMinMillivolts(), c.GetGripMaxMillivolts())
	}

	for name, raw := range map[string]*string{
		"proximity_period":  c.ProximityPeriod,
		"grip_period":       c.GripPeriod,
		"pulse_period":      c.PulsePeriod,
		"fusion_period":     c.FusionPeriod,
		"buzzer_duration":   c.BuzzerDuration,
		"shutdown_grace":    c.ShutdownGrace,
		"blink_retry_every": c.BlinkRetryEvery,
	} {
		if raw == nil || *raw == "" {
			continue
		}
		d, err := time.ParseDuration(*raw)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	for name, v := range map[string]int{
		"no_grip_level":       c.GetNoGripLevel(),
		"grip_threshold":      c.GetGripThreshold(),
		"proximity_threshold": c.GetProximityThreshold(),
	} {
		if v < 0 || v > 255 {
			return fmt.Errorf("%s must be within 0..255, got %d", name, v)
		}
	}

	// tick counts and intervals are converted to uint32 by the engine
	for name, v := range map[string]int{
		"approach_delta":            c.GetApproachDelta(),
		"approach_cooldown_ticks":   c.GetApproachCooldown(),
		"blink_fast_interval":       c.GetBlinkFastInterval(),
		"blink_cooldown_ticks":      c.GetBlinkCooldown(),
		"blink_combined_interval":   c.GetBlinkSlowInterval(),
		"ibi_threshold":             c.GetIBIThreshold(),
		"combined_cooldown_ticks":   c.GetCombinedCooldown(),
		"no_grip_dwell_ticks":       c.GetNoGripDwell(),
		"grip_alert_cooldown_ticks": c.GetGripAlertCooldown(),
		"pulse_default_ibi":         c.GetPulseDefaultIBI(),
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	// the beat detector counts time in whole milliseconds
	if p := c.GetPulsePeriod(); p < time.Millisecond || p%time.Millisecond != 0 {
		return fmt.Errorf("pulse_period must be a whole number of milliseconds, got %s", p)
	}

	return nil
}

func getDuration(raw *string, def time.Duration) time.Duration {
	if raw == nil || *raw == "" {
		return def
	}
	d, err := time.ParseDuration(*raw)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getString(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func (c *MonitorConfig) GetADCBackend() string  { return getString(c.ADCBackend, "periph") }
func (c *MonitorConfig) GetI2CBus() string      { return getString(c.I2CBus, "") }
func (c *MonitorConfig) GetADCAddress() int     { return getInt(c.ADCAddress, 0x48) }
func (c *MonitorConfig) GetSerialPort() string  { return getString(c.SerialPort, "/dev/ttyACM0") }
func (c *MonitorConfig) GetSerialBaudRate() int { return getInt(c.SerialBaudRate, 115200) }

func (c *MonitorConfig) GetPulseChannel() int     { return getInt(c.PulseChannel, 0) }
func (c *MonitorConfig) GetProximityChannel() int { return getInt(c.ProximityChannel, 1) }
func (c *MonitorConfig) GetGripChannel() int      { return getInt(c.GripChannel, 2) }

func (c *MonitorConfig) GetPulsePin() int     { return getInt(c.PulsePin, 21) }
func (c *MonitorConfig) GetProximityPin() int { return getInt(c.ProximityPin, 16) }
func (c *MonitorConfig) GetGripPin() int      { return getInt(c.GripPin, 12) }
func (c *MonitorConfig) GetBuzzerPin() int    { return getInt(c.BuzzerPin, 20) }

func (c *MonitorConfig) GetProximityMinMillivolts() int { return getInt(c.ProximityMinMillivolts, 400) }
func (c *MonitorConfig) GetProximityMaxMillivolts() int {
	return getInt(c.ProximityMaxMillivolts, 4096)
}
func (c *MonitorConfig) GetGripMinMillivolts() int { return getInt(c.GripMinMillivolts, 1500) }
func (c *MonitorConfig) GetGripMaxMillivolts() int { return getInt(c.GripMaxMillivolts, 4096) }

// GetFullScaleMillivolts is the ADS1015 PGA range (+/-4.096V); readings
// above it are treated as faults.
func (c *MonitorConfig) GetFullScaleMillivolts() int { return getInt(c.FullScaleMillivolts, 4096) }

func (c *MonitorConfig) GetProximityPeriod() time.Duration {
	return getDuration(c.ProximityPeriod, 100*time.Millisecond)
}
func (c *MonitorConfig) GetGripPeriod() time.Duration {
	return getDuration(c.GripPeriod, 230*time.Millisecond)
}
func (c *MonitorConfig) GetPulsePeriod() time.Duration {
	return getDuration(c.PulsePeriod, 2*time.Millisecond)
}
func (c *MonitorConfig) GetFusionPeriod() time.Duration {
	return getDuration(c.FusionPeriod, 2*time.Millisecond)
}
func (c *MonitorConfig) GetBuzzerDuration() time.Duration {
	return getDuration(c.BuzzerDuration, time.Second)
}
func (c *MonitorConfig) GetShutdownGrace() time.Duration {
	return getDuration(c.ShutdownGrace, 3*time.Second)
}

// GetPulseBaseline returns the threshold/peak/trough seed in millivolts.
// 3500 suits the ADS1015 millivolt signal; the 10-bit Arduino calibration
// used 512.
func (c *MonitorConfig) GetPulseBaseline() int   { return getInt(c.PulseBaseline, 3500) }
func (c *MonitorConfig) GetPulseDefaultIBI() int { return getInt(c.PulseDefaultIBI, 600) }

func (c *MonitorConfig) GetApproachDelta() int      { return getInt(c.ApproachDelta, 130) }
func (c *MonitorConfig) GetApproachCooldown() int   { return getInt(c.ApproachCooldown, 500) }
func (c *MonitorConfig) GetBlinkFastInterval() int  { return getInt(c.BlinkFastInterval, 160) }
func (c *MonitorConfig) GetBlinkCooldown() int      { return getInt(c.BlinkCooldown, 500) }
func (c *MonitorConfig) GetBlinkSlowInterval() int  { return getInt(c.BlinkSlowInterval, 500) }
func (c *MonitorConfig) GetProximityThreshold() int { return getInt(c.ProximityThreshold, 180) }
func (c *MonitorConfig) GetGripThreshold() int      { return getInt(c.GripThreshold, 85) }
func (c *MonitorConfig) GetIBIThreshold() int       { return getInt(c.IBIThreshold, 1000) }
func (c *MonitorConfig) GetCombinedCooldown() int   { return getInt(c.CombinedCooldown, 1500) }
func (c *MonitorConfig) GetNoGripLevel() int        { return getInt(c.NoGripLevel, 60) }
func (c *MonitorConfig) GetNoGripDwell() int        { return getInt(c.NoGripDwell, 1500) }
func (c *MonitorConfig) GetGripAlertCooldown() int  { return getInt(c.GripAlertCooldown, 1000) }

func (c *MonitorConfig) GetBlinkFIFO() string { return getString(c.BlinkFIFO, "/tmp/blinkDfifo") }
func (c *MonitorConfig) GetBlinkRetryEvery() time.Duration {
	return getDuration(c.BlinkRetryEvery, time.Millisecond)
}

func (c *MonitorConfig) GetDatabasePath() string { return getString(c.DatabasePath, "drowsy.db") }
func (c *MonitorConfig) GetMQTTBroker() string   { return getString(c.MQTTBroker, "") }
func (c *MonitorConfig) GetMQTTTopic() string {
	return getString(c.MQTTTopic, "drowsiness/alerts")
}
func (c *MonitorConfig) GetMQTTClientID() string { return getString(c.MQTTClientID, "drowsyd") }
func (c *MonitorConfig) GetRedisAddr() string    { return getString(c.RedisAddr, "") }
func (c *MonitorConfig) GetRedisStream() string {
	return getString(c.RedisStream, "drowsiness:alerts")
}

func (c *MonitorConfig) GetListen() string    { return getString(c.Listen, ":8080") }
func (c *MonitorConfig) GetLogLevel() string  { return getString(c.LogLevel, "info") }
func (c *MonitorConfig) GetLogFormat() string { return getString(c.LogFormat, "json") }
