// Package config loads and persists the ambient JSON settings file for
// cmd/nescore: window geometry, video post-processing, and controller key
// bindings. None of this is reached by the core emulation packages.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all cmd/nescore configuration.
type Config struct {
	Window WindowConfig `json:"window"`
	Video  VideoConfig  `json:"video"`
	Input  InputConfig  `json:"input"`
	Debug  DebugConfig  `json:"debug"`
	Paths  PathsConfig  `json:"paths"`

	configPath string
	loaded     bool
}

// WindowConfig contains window-related configuration.
type WindowConfig struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	Fullscreen bool `json:"fullscreen"`
	Scale      int  `json:"scale"` // NES resolution multiplier
}

// VideoConfig contains video rendering and post-processing configuration.
type VideoConfig struct {
	VSync       bool    `json:"vsync"`
	AspectRatio string  `json:"aspect_ratio"` // "4:3", "stretch"
	Filter      string  `json:"filter"`       // "nearest", "linear"
	Backend     string  `json:"backend"`      // "ebitengine", "headless"
	Brightness  float32 `json:"brightness"`
	Contrast    float32 `json:"contrast"`
	Saturation  float32 `json:"saturation"`
}

// InputConfig contains controller key-binding configuration.
type InputConfig struct {
	Player1Keys KeyMapping `json:"player1_keys"`
	Player2Keys KeyMapping `json:"player2_keys"`
}

// KeyMapping maps NES controller buttons onto keyboard keys.
type KeyMapping struct {
	Up     string `json:"up"`
	Down   string `json:"down"`
	Left   string `json:"left"`
	Right  string `json:"right"`
	A      string `json:"a"`
	B      string `json:"b"`
	Start  string `json:"start"`
	Select string `json:"select"`
}

// DebugConfig contains debugging and development options.
type DebugConfig struct {
	ShowFPS       bool   `json:"show_fps"`
	EnableLogging bool   `json:"enable_logging"`
	LogLevel      string `json:"log_level"` // "DEBUG", "INFO", "WARN", "ERROR"
}

// PathsConfig contains file and directory paths.
type PathsConfig struct {
	ROMs   string `json:"roms"`
	Config string `json:"config"`
}

// New creates a configuration populated with defaults.
func New() *Config {
	return &Config{
		Window: WindowConfig{
			Width:      800,
			Height:     600,
			Fullscreen: false,
			Scale:      2,
		},
		Video: VideoConfig{
			VSync:       true,
			AspectRatio: "4:3",
			Filter:      "nearest",
			Backend:     "ebitengine",
			Brightness:  1.0,
			Contrast:    1.0,
			Saturation:  1.0,
		},
		Input: InputConfig{
			Player1Keys: KeyMapping{
				Up: "W", Down: "S", Left: "A", Right: "D",
				A: "J", B: "K", Start: "Return", Select: "Space",
			},
			Player2Keys: KeyMapping{
				Up: "Up", Down: "Down", Left: "Left", Right: "Right",
				A: "1", B: "2", Start: "3", Select: "4",
			},
		},
		Debug: DebugConfig{
			ShowFPS:       false,
			EnableLogging: false,
			LogLevel:      "INFO",
		},
		Paths: PathsConfig{
			ROMs:   "./roms",
			Config: "./config",
		},
	}
}

// LoadFromFile loads configuration from a JSON file, writing out the default
// configuration first if no file exists at path yet.
func (c *Config) LoadFromFile(path string) error {
	c.configPath = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return c.SaveToFile(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	c.validate()
	c.loaded = true
	return nil
}

// SaveToFile saves configuration to a JSON file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	c.configPath = path
	return nil
}

// validate clamps out-of-range values to their defaults rather than
// rejecting the file outright.
func (c *Config) validate() {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		c.Window.Width, c.Window.Height = 800, 600
	}
	if c.Window.Scale <= 0 {
		c.Window.Scale = 2
	}
	if c.Video.Brightness < 0.1 || c.Video.Brightness > 3.0 {
		c.Video.Brightness = 1.0
	}
	if c.Video.Contrast < 0.1 || c.Video.Contrast > 3.0 {
		c.Video.Contrast = 1.0
	}
	if c.Video.Saturation < 0.0 || c.Video.Saturation > 3.0 {
		c.Video.Saturation = 1.0
	}
}

// GetNESResolution returns the native NES resolution.
func (c *Config) GetNESResolution() (int, int) {
	return 256, 240
}

// GetWindowResolution returns the window resolution implied by Window.Scale.
func (c *Config) GetWindowResolution() (int, int) {
	w, h := c.GetNESResolution()
	return w * c.Window.Scale, h * c.Window.Scale
}

// IsLoaded reports whether the configuration was read from an existing file
// rather than populated with defaults.
func (c *Config) IsLoaded() bool {
	return c.loaded
}

// GetConfigPath returns the path the configuration was loaded from or saved to.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return "./config/nescore.json"
}
