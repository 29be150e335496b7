package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Bind string `yaml:"bind"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
	} `yaml:"http"`
	Logging struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"logging"`
	Hardware Hardware `yaml:"hardware"`
	Bridge   Bridge   `yaml:"bridge"`
	Emulator struct {
		URL            string        `yaml:"url"` // ws://host:8080/v1/events
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	} `yaml:"emulator"`
}

type Hardware struct {
	Mode         string        `yaml:"mode"` // auto | physical | mock | emulated
	PollInterval time.Duration `yaml:"poll_interval"`
	// Inputs are wired to ground with pull-ups unless ActiveHigh is set.
	ActiveHigh bool `yaml:"active_high"`
	Pins       Pins `yaml:"pins"`
}

// Pins maps devices to GPIO names as known to the host driver registry.
type Pins struct {
	Buttons map[string]string `yaml:"buttons"`
	LEDs    map[string]string `yaml:"leds"`
	Switch  []string          `yaml:"switch"` // least significant bit first
}

type Bridge struct {
	QueueSize    int           `yaml:"queue_size"`
	MaxOverflows int           `yaml:"max_overflows"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	ReadLimit    int64         `yaml:"read_limit"`
}

// Hardware modes.
const (
	ModeAuto     = "auto"
	ModePhysical = "physical"
	ModeMock     = "mock"
	ModeEmulated = "emulated"
)

// Load reads path and applies defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	h := &c.Hardware
	if h.Mode == "" {
		h.Mode = ModeAuto
	}
	if h.PollInterval == 0 {
		h.PollInterval = 20 * time.Millisecond
	}
	if h.Pins.Buttons == nil {
		h.Pins.Buttons = map[string]string{
			"red": "GPIO5", "yellow": "GPIO6", "green": "GPIO13", "blue": "GPIO19", "main": "GPIO26",
		}
	}
	if h.Pins.LEDs == nil {
		h.Pins.LEDs = map[string]string{
			"red": "GPIO17", "yellow": "GPIO27", "green": "GPIO22", "blue": "GPIO23",
		}
	}
	if h.Pins.Switch == nil {
		h.Pins.Switch = []string{"GPIO4", "GPIO12", "GPIO16", "GPIO20", "GPIO21", "GPIO24", "GPIO25", "GPIO18"}
	}

	br := &c.Bridge
	if br.QueueSize == 0 {
		br.QueueSize = 64
	}
	if br.MaxOverflows == 0 {
		br.MaxOverflows = 3
	}
	if br.WriteTimeout == 0 {
		br.WriteTimeout = 5 * time.Second
	}
	if br.PingInterval == 0 {
		br.PingInterval = 30 * time.Second
	}
	if br.ReadLimit == 0 {
		br.ReadLimit = 4096
	}

	if c.Emulator.URL == "" {
		c.Emulator.URL = fmt.Sprintf("ws://127.0.0.1:%d/v1/events", c.HTTP.Port)
	}
	if c.Emulator.ReconnectDelay == 0 {
		c.Emulator.ReconnectDelay = 2 * time.Second
	}
}

func (c *Config) Validate() error {
	switch c.Hardware.Mode {
	case ModeAuto, ModePhysical, ModeMock, ModeEmulated:
	default:
		return fmt.Errorf("hardware.mode: unknown mode %q", c.Hardware.Mode)
	}
	if n := len(c.Hardware.Pins.Switch); n != 8 {
		return fmt.Errorf("hardware.pins.switch: need 8 pins, got %d", n)
	}
	if c.Bridge.QueueSize < 1 {
		return fmt.Errorf("bridge.queue_size: must be positive")
	}
	return nil
}
