package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel   string       `yaml:"log_level" default:"info"`
	DeviceName string       `yaml:"device_name" default:"CapSense Bridge"`
	Sensor     SensorConfig `yaml:"sensor"`
	ATT        ATTConfig    `yaml:"att"`
	LED        LEDConfig    `yaml:"led"`
	Notify     NotifyConfig `yaml:"notify"`
	Bearer     BearerConfig `yaml:"bearer"`
}

// SensorConfig describes the touch controller on the bus.
type SensorConfig struct {
	Address      uint16        `yaml:"address" default:"8"`
	FrameSize    int           `yaml:"frame_size" default:"3"`
	ByteTimeout  time.Duration `yaml:"byte_timeout" default:"25ms"`
	PollInterval time.Duration `yaml:"poll_interval" default:"0s"`
}

type ATTConfig struct {
	MaxMTU       int `yaml:"max_mtu" default:"512"`
	BufferBudget int `yaml:"buffer_budget" default:"4096"`
}

type LEDConfig struct {
	UserMaxDuty     uint16 `yaml:"user_max_duty" default:"100"`
	StatusMaxDuty   uint16 `yaml:"status_max_duty" default:"1000"`
	BrightnessScale uint16 `yaml:"brightness_scale" default:"1"`
}

type NotifyConfig struct {
	SettleDelay time.Duration `yaml:"settle_delay" default:"10ms"`
}

type BearerConfig struct {
	ReadCap  int    `yaml:"read_cap" default:"4096"`
	WriteCap int    `yaml:"write_cap" default:"4096"`
	TxQueue  uint32 `yaml:"tx_queue" default:"64"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.Sensor.Address > 0x7f {
		return fmt.Errorf("%w: sensor.address 0x%x is not a 7-bit address", ErrInvalidConfig, c.Sensor.Address)
	}
	if c.Sensor.FrameSize < 3 {
		return fmt.Errorf("%w: sensor.frame_size must be at least 3, got %d", ErrInvalidConfig, c.Sensor.FrameSize)
	}
	if c.ATT.MaxMTU < 23 || c.ATT.MaxMTU > 517 {
		return fmt.Errorf("%w: att.max_mtu must be within [23, 517], got %d", ErrInvalidConfig, c.ATT.MaxMTU)
	}
	if c.ATT.BufferBudget < c.ATT.MaxMTU {
		return fmt.Errorf("%w: att.buffer_budget %d is smaller than att.max_mtu %d", ErrInvalidConfig, c.ATT.BufferBudget, c.ATT.MaxMTU)
	}
	if c.LED.UserMaxDuty == 0 || c.LED.StatusMaxDuty == 0 {
		return fmt.Errorf("%w: led.user_max_duty and led.status_max_duty must be positive", ErrInvalidConfig)
	}
	if c.Bearer.TxQueue == 0 {
		return fmt.Errorf("%w: bearer.tx_queue must be positive", ErrInvalidConfig)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
