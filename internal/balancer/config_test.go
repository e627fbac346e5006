package balancer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, 5*time.Second, c.SamplePeriod)
	assert.Equal(t, 30*time.Millisecond, c.EchoTimeout)
	assert.Equal(t, 10.0, c.Balance.Trigger)
	assert.Equal(t, 5.0, c.Balance.Release)
	assert.Equal(t, 2*physic.KiloHertz, c.Balance.PumpFrequency())
	assert.Equal(t, 133.9, c.Thresholds.Full)
	assert.Equal(t, 80.5, c.Thresholds.Half)
}

func TestValidateConfig(t *testing.T) {
	tests := map[string]func(c *Config){
		"no sample period":       func(c *Config) { c.SamplePeriod = 0 },
		"no echo timeout":        func(c *Config) { c.EchoTimeout = 0 },
		"no radius":              func(c *Config) { c.Geometry.RadiusCm = 0 },
		"no sound speed":         func(c *Config) { c.Calibration.SoundSpeed = 0 },
		"thresholds swapped":     func(c *Config) { c.Thresholds.Half, c.Thresholds.Full = 140, 80 },
		"release above trigger":  func(c *Config) { c.Balance.Release = 12 },
		"release equals trigger": func(c *Config) { c.Balance.Release = c.Balance.Trigger },
		"negative release":       func(c *Config) { c.Balance.Release = -1 },
		"duty too high":          func(c *Config) { c.Balance.Duty = 1.5 },
		"no duty":                func(c *Config) { c.Balance.Duty = 0 },
		"no pump frequency":      func(c *Config) { c.Balance.PumpFrequencyHz = 0 },
		"unbounded balancing": func(c *Config) {
			c.Balance.MaxIterations = 0
			c.Balance.MaxDuration = 0
		},
	}
	for name, modify := range tests {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			modify(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := DefaultConfig()
	c.Balance.MaxIterations = 0
	assert.NoError(t, c.Validate(), "a duration limit alone is enough")
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("TANK_MQTT_USERNAME", "pico")
	t.Setenv("TANK_MQTT_PASSWORD", "hunter2")
	t.Setenv("TANK_HTTP_AUTHORIZATION", "Bearer abc")

	s, err := LoadSecrets(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "pico", s.MQTTUsername)
	assert.Equal(t, "hunter2", s.MQTTPassword)
	assert.Equal(t, "Bearer abc", s.HTTPAuthorization)
	assert.Empty(t, s.MQTTBroker)

	c := DefaultConfig()
	c.MQTT.Broker = "tcp://localhost:1883"
	s.Apply(&c)
	assert.Equal(t, "tcp://localhost:1883", c.MQTT.Broker)
	assert.Equal(t, "pico", c.MQTT.Username)
	assert.Equal(t, "hunter2", c.MQTT.Password)
	assert.Equal(t, "Bearer abc", c.HTTP.Authorization)
}

func TestLoadSecretsFromFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "tank-controller.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TANK_MQTT_BROKER=ssl://broker.example.com:8883\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("TANK_MQTT_BROKER") })

	s, err := LoadSecrets(envFile)
	require.NoError(t, err)
	assert.Equal(t, "ssl://broker.example.com:8883", s.MQTTBroker)

	c := DefaultConfig()
	s.Apply(&c)
	assert.True(t, c.MQTT.Enabled())
}

func writeConfigFile(t *testing.T, dir, content string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, goconfig.ConfigFileName), []byte(content), 0644))
}

func TestReloadConfigExitsOnlyOnChange(t *testing.T) {
	var exitCodes []int
	oldExit := exitFn
	exitFn = func(code int) { exitCodes = append(exitCodes, code) }
	t.Cleanup(func() { exitFn = oldExit })

	dir := t.TempDir()
	writeConfigFile(t, dir, "[tank-controller.balance]\ntrigger = 10.0\n")
	conf, err := ParseConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 10.0, conf.Balance.Trigger)

	// Rewriting the same values is not a change.
	writeConfigFile(t, dir, "[tank-controller.balance]\ntrigger = 10.0\n")
	assert.False(t, reloadConfig(conf, dir))
	assert.Empty(t, exitCodes)

	// Neither is an edit to another section.
	writeConfigFile(t, dir, "[tank-controller.balance]\ntrigger = 10.0\n\n[location]\nlatitude = -43.5\n")
	assert.False(t, reloadConfig(conf, dir))
	assert.Empty(t, exitCodes)

	// An invalid config keeps the running one.
	writeConfigFile(t, dir, "[tank-controller.balance]\ntrigger = 3.0\n")
	assert.False(t, reloadConfig(conf, dir))
	assert.Empty(t, exitCodes)

	writeConfigFile(t, dir, "[tank-controller.balance]\ntrigger = 12.0\n")
	assert.True(t, configChanged(conf, dir))
	assert.True(t, reloadConfig(conf, dir))
	assert.Equal(t, []int{0}, exitCodes)
}
