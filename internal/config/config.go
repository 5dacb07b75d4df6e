// Package config loads player settings. Values are layered: built-in
// defaults, then an optional YAML file, then VISTA_* environment variables.
// Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zsiec/vista/internal/decode"
)

// Window holds the initial window geometry.
type Window struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
	VSync  bool   `yaml:"vsync"`
}

// Control holds the control API listeners. Empty addresses disable them.
type Control struct {
	Addr             string `yaml:"addr"`
	H3Addr           string `yaml:"h3_addr"`
	QueueSize        int    `yaml:"queue_size"`
	StatusIntervalMs int    `yaml:"status_interval_ms"`
}

// Playback holds the pacing and end-of-stream settings.
type Playback struct {
	EOS         string `yaml:"eos"` // "freeze" | "loop"
	StepMs      int    `yaml:"step_ms"`
	ToleranceMs int    `yaml:"tolerance_ms"`
	SeekStepS   int    `yaml:"seek_step_s"`
}

type Config struct {
	Window   Window   `yaml:"window"`
	Control  Control  `yaml:"control"`
	Playback Playback `yaml:"playback"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Window: Window{Width: 1280, Height: 720, Title: "vista", VSync: true},
		Control: Control{
			QueueSize:        64,
			StatusIntervalMs: 1000,
		},
		Playback: Playback{
			EOS:         "freeze",
			StepMs:      10,
			ToleranceMs: 10,
			SeekStepS:   10,
		},
	}
}

// Load reads path over the defaults. An empty path or a missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// ApplyEnv overrides settings from VISTA_CONTROL_ADDR, VISTA_H3_ADDR and
// VISTA_EOS. getenv is usually os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	c.Control.Addr = envOr(getenv, "VISTA_CONTROL_ADDR", c.Control.Addr)
	c.Control.H3Addr = envOr(getenv, "VISTA_H3_ADDR", c.Control.H3Addr)
	c.Playback.EOS = envOr(getenv, "VISTA_EOS", c.Playback.EOS)
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		errs = append(errs, fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height))
	}
	if c.Control.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("control queue_size %d must be positive", c.Control.QueueSize))
	}
	if c.Control.StatusIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("control status_interval_ms %d must be positive", c.Control.StatusIntervalMs))
	}
	if _, err := decode.ParseEOSPolicy(c.Playback.EOS); err != nil {
		errs = append(errs, err)
	}
	if c.Playback.StepMs <= 0 {
		errs = append(errs, fmt.Errorf("playback step_ms %d must be positive", c.Playback.StepMs))
	}
	// The clock treats a zero tolerance as unset.
	if c.Playback.ToleranceMs <= 0 {
		errs = append(errs, fmt.Errorf("playback tolerance_ms %d must be positive", c.Playback.ToleranceMs))
	}
	if c.Playback.SeekStepS <= 0 {
		errs = append(errs, fmt.Errorf("playback seek_step_s %d must be positive", c.Playback.SeekStepS))
	}
	return errors.Join(errs...)
}

// EOSPolicy returns the parsed end-of-stream policy. Call Validate first.
func (c *Config) EOSPolicy() decode.EOSPolicy {
	p, _ := decode.ParseEOSPolicy(c.Playback.EOS)
	return p
}

// Step returns the pacing wait step.
func (c *Config) Step() time.Duration { return time.Duration(c.Playback.StepMs) * time.Millisecond }

// Tolerance returns the pacing tolerance.
func (c *Config) Tolerance() time.Duration {
	return time.Duration(c.Playback.ToleranceMs) * time.Millisecond
}

// SeekStep returns the distance of one seek key press.
func (c *Config) SeekStep() time.Duration { return time.Duration(c.Playback.SeekStepS) * time.Second }

// StatusInterval returns the websocket status push interval.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Control.StatusIntervalMs) * time.Millisecond
}
