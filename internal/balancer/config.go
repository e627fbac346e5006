package balancer

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/tank-controller/hardware"
	"github.com/TheCacophonyProject/tank-controller/tank"
	"github.com/TheCacophonyProject/tank-controller/telemetry"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"periph.io/x/conn/v3/physic"
)

// ConfigKey is the section of the device config file read by the tank controller.
const ConfigKey = "tank-controller"

// BalanceConfig holds the limits of the pump balancing controller.
type BalanceConfig struct {
	// Trigger is the volume difference that starts a transfer.
	Trigger float64 `mapstructure:"trigger"`
	// Release is the volume difference at which a transfer stops.
	Release         float64       `mapstructure:"release"`
	Duty            float64       `mapstructure:"duty"`
	PumpFrequencyHz int           `mapstructure:"pump-frequency-hz"`
	BlinkHalfPeriod time.Duration `mapstructure:"blink-half-period"`
	MaxIterations   int           `mapstructure:"max-iterations"`
	MaxDuration     time.Duration `mapstructure:"max-duration"`
	FaultCooldown   time.Duration `mapstructure:"fault-cooldown"`
}

func DefaultBalanceConfig() BalanceConfig {
	return BalanceConfig{
		Trigger:         10,
		Release:         5,
		Duty:            1,
		PumpFrequencyHz: 2000,
		BlinkHalfPeriod: 500 * time.Millisecond,
		MaxIterations:   600,
		MaxDuration:     5 * time.Minute,
		FaultCooldown:   10 * time.Minute,
	}
}

func (c BalanceConfig) PumpFrequency() physic.Frequency {
	return physic.Frequency(c.PumpFrequencyHz) * physic.Hertz
}

type Config struct {
	SamplePeriod time.Duration        `mapstructure:"sample-period"`
	EchoTimeout  time.Duration        `mapstructure:"echo-timeout"`
	Geometry     tank.Geometry        `mapstructure:"geometry"`
	Calibration  tank.Calibration     `mapstructure:"calibration"`
	Thresholds   tank.Thresholds      `mapstructure:"thresholds"`
	Balance      BalanceConfig        `mapstructure:"balance"`
	Pins         hardware.Pins        `mapstructure:"pins"`
	MQTT         telemetry.MQTTConfig `mapstructure:"mqtt"`
	HTTP         telemetry.HTTPConfig `mapstructure:"http"`
}

func DefaultConfig() Config {
	return Config{
		SamplePeriod: 5 * time.Second,
		EchoTimeout:  30 * time.Millisecond,
		Geometry:     tank.DefaultGeometry(),
		Calibration:  tank.DefaultCalibration(),
		Thresholds:   tank.DefaultThresholds(),
		Balance:      DefaultBalanceConfig(),
		Pins:         hardware.DefaultPins(),
		MQTT:         telemetry.DefaultMQTTConfig(),
		HTTP:         telemetry.DefaultHTTPConfig(),
	}
}

func (c Config) Validate() error {
	if c.SamplePeriod <= 0 {
		return errors.New("sample period must be positive")
	}
	if c.EchoTimeout <= 0 {
		return errors.New("echo timeout must be positive")
	}
	if c.Geometry.RadiusCm <= 0 || c.Geometry.HeightCm <= 0 {
		return fmt.Errorf("invalid tank geometry %+v", c.Geometry)
	}
	if c.Calibration.SoundSpeed <= 0 {
		return errors.New("sound speed must be positive")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	b := c.Balance
	if b.Release < 0 || b.Release >= b.Trigger {
		return fmt.Errorf("balance release (%.2f) must be between 0 and the trigger (%.2f)", b.Release, b.Trigger)
	}
	if b.Duty <= 0 || b.Duty > 1 {
		return fmt.Errorf("pump duty %.2f is not in (0, 1]", b.Duty)
	}
	if b.PumpFrequencyHz <= 0 {
		return errors.New("pump frequency must be positive")
	}
	if b.MaxIterations <= 0 && b.MaxDuration <= 0 {
		return errors.New("balancing needs an iteration or duration limit")
	}
	return nil
}

// Secrets are read from the environment, optionally loaded from an env file, and never from the
// device config file.
type Secrets struct {
	MQTTBroker        string `envconfig:"MQTT_BROKER"`
	MQTTUsername      string `envconfig:"MQTT_USERNAME"`
	MQTTPassword      string `envconfig:"MQTT_PASSWORD"`
	HTTPAuthorization string `envconfig:"HTTP_AUTHORIZATION"`
}

// LoadSecrets loads envFile if it exists then reads the TANK_ prefixed variables.
func LoadSecrets(envFile string) (Secrets, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Secrets{}, fmt.Errorf("failed to load env file '%s': %w", envFile, err)
		}
	}
	var s Secrets
	if err := envconfig.Process("TANK", &s); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

// Apply copies the secrets into the telemetry config. An empty secret leaves the config as is.
func (s Secrets) Apply(c *Config) {
	if s.MQTTBroker != "" {
		c.MQTT.Broker = s.MQTTBroker
	}
	c.MQTT.Username = s.MQTTUsername
	c.MQTT.Password = s.MQTTPassword
	c.HTTP.Authorization = s.HTTPAuthorization
}

// ParseConfig reads the tank controller section of the config file in configDir.
func ParseConfig(configDir string) (*Config, error) {
	conf, err := config.New(configDir)
	if err != nil {
		return nil, err
	}

	c := DefaultConfig()
	if err := conf.Unmarshal(ConfigKey, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", ConfigKey, err)
	}
	return &c, nil
}
