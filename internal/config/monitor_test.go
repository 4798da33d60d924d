package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	c := EmptyMonitorConfig()

	assert.Equal(t, "periph", c.GetADCBackend())
	assert.Equal(t, 0, c.GetPulseChannel())
	assert.Equal(t, 1, c.GetProximityChannel())
	assert.Equal(t, 2, c.GetGripChannel())
	assert.Equal(t, 20, c.GetBuzzerPin())
	assert.Equal(t, 100*time.Millisecond, c.GetProximityPeriod())
	assert.Equal(t, 230*time.Millisecond, c.GetGripPeriod())
	assert.Equal(t, 2*time.Millisecond, c.GetPulsePeriod())
	assert.Equal(t, time.Second, c.GetBuzzerDuration())
	assert.Equal(t, 3500, c.GetPulseBaseline())
	assert.Equal(t, 600, c.GetPulseDefaultIBI())
	assert.Equal(t, 1500, c.GetCombinedCooldown())
	assert.Equal(t, "/tmp/blinkDfifo", c.GetBlinkFIFO())
	require.NoError(t, c.Validate())
}

func TestDefaultMonitorConfigRoundTripsThroughGetters(t *testing.T) {
	def := DefaultMonitorConfig()
	data, err := json.Marshal(def)
	require.NoError(t, err)

	path := writeConfig(t, "monitor.json", string(data))
	loaded, err := LoadMonitorConfig(path)
	require.NoError(t, err)

	if diff := cmp.Diff(def, loaded); diff != "" {
		t.Errorf("loaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMonitorConfig_PartialOverrides(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"adc_backend":"sim","grip_period":"250ms","grip_threshold":90}`)

	cfg, err := LoadMonitorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.GetADCBackend())
	assert.Equal(t, 250*time.Millisecond, cfg.GetGripPeriod())
	assert.Equal(t, 90, cfg.GetGripThreshold())
	// untouched fields keep their defaults
	assert.Equal(t, 100*time.Millisecond, cfg.GetProximityPeriod())
}

func TestLoadMonitorConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, "must have .json extension"},
		{"bad json", "cfg.json", `{`, "failed to parse config JSON"},
		{"bad backend", "cfg.json", `{"adc_backend":"spi"}`, "adc_backend"},
		{"channel range", "cfg.json", `{"grip_channel":4}`, "grip_channel"},
		{"inverted calibration", "cfg.json", `{"grip_min_mv":4000,"grip_max_mv":1000}`, "grip_min_mv"},
		{"bad duration", "cfg.json", `{"pulse_period":"soon"}`, "pulse_period"},
		{"negative duration", "cfg.json", `{"buzzer_duration":"-1s"}`, "buzzer_duration"},
		{"threshold range", "cfg.json", `{"no_grip_level":300}`, "no_grip_level"},
		{"negative cooldown", "cfg.json", `{"combined_cooldown_ticks":-1}`, "combined_cooldown_ticks"},
		{"zero dwell", "cfg.json", `{"no_grip_dwell_ticks":0}`, "no_grip_dwell_ticks"},
		{"negative approach delta", "cfg.json", `{"approach_delta":-5}`, "approach_delta"},
		{"zero ibi threshold", "cfg.json", `{"ibi_threshold":0}`, "ibi_threshold"},
		{"sub-millisecond pulse period", "cfg.json", `{"pulse_period":"500us"}`, "pulse_period"},
		{"fractional pulse period", "cfg.json", `{"pulse_period":"2500us"}`, "pulse_period"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadMonitorConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMonitorConfig_MissingFile(t *testing.T) {
	_, err := LoadMonitorConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to stat"))
}

func TestLoadMonitorConfig_TooLarge(t *testing.T) {
	big := `{"listen":"` + strings.Repeat("x", 1<<20) + `"}`
	_, err := LoadMonitorConfig(writeConfig(t, "big.json", big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestCheckedInDefaultsMatchBuiltins(t *testing.T) {
	path := filepath.Join("..", "..", DefaultConfigPath)
	if _, err := os.Stat(path); err != nil {
		t.Skipf("defaults file not present: %v", err)
	}
	cfg, err := LoadMonitorConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultMonitorConfig(), cfg); diff != "" {
		t.Errorf("%s drifted from built-in defaults (-want +got):\n%s", DefaultConfigPath, diff)
	}
}
