// Package config loads the optional YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mame82/espflash/firmware"
)

const (
	appName        = "espflash"
	configFileName = "config.yaml"

	DefaultAuthURL = "https://esp32-flash-api.minizjp.workers.dev"
)

// Duration is a time.Duration written as "500ms", "2m" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	// Port is used instead of the interactive chooser when set.
	Port     string `yaml:"port,omitempty"`
	Baud     int    `yaml:"baud"`
	LogLevel string `yaml:"log_level"`

	Flash    FlashConfig    `yaml:"flash"`
	Auth     AuthConfig     `yaml:"auth"`
	Firmware FirmwareConfig `yaml:"firmware"`
}

type FlashConfig struct {
	ChunkSize        int      `yaml:"chunk_size"`
	ChunkDelay       Duration `yaml:"chunk_delay"`
	SyncAttempts     int      `yaml:"sync_attempts"`
	SyncTimeout      Duration `yaml:"sync_timeout"`
	CommandTimeout   Duration `yaml:"command_timeout"`
	EraseTimeout     Duration `yaml:"erase_timeout"`
	FlashSize        int      `yaml:"flash_size"`
	Compress         bool     `yaml:"compress"`
	Verify           bool     `yaml:"verify"`
	AllowGenericChip bool     `yaml:"allow_generic_chip"`
}

type AuthConfig struct {
	// Required makes flash ask for a key before writing.
	Required bool   `yaml:"required"`
	URL      string `yaml:"url"`
	// StateDir holds the persisted device id.
	StateDir string `yaml:"state_dir"`
}

type FirmwareConfig struct {
	Repositories []firmware.Repository `yaml:"repositories"`
}

// Default returns the configuration used when no file exists. Values
// missing from a file keep these defaults.
func Default() *Config {
	stateDir := ""
	if dir, err := os.UserConfigDir(); err == nil {
		stateDir = filepath.Join(dir, appName)
	}

	return &Config{
		Baud:     115200,
		LogLevel: "info",
		Flash: FlashConfig{
			ChunkSize:        16 * 1024,
			ChunkDelay:       Duration(5 * time.Millisecond),
			SyncAttempts:     3,
			SyncTimeout:      Duration(500 * time.Millisecond),
			CommandTimeout:   Duration(3 * time.Second),
			EraseTimeout:     Duration(120 * time.Second),
			FlashSize:        4 * 1024 * 1024,
			Compress:         true,
			AllowGenericChip: true,
		},
		Auth: AuthConfig{
			URL:      DefaultAuthURL,
			StateDir: stateDir,
		},
		Firmware: FirmwareConfig{
			Repositories: append([]firmware.Repository(nil), firmware.DefaultRepositories...),
		},
	}
}

// DefaultPath is $XDG_CONFIG_HOME/espflash/config.yaml or the platform
// equivalent.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// Load reads path on top of the defaults. An empty path means DefaultPath,
// which may be missing; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Default(), nil
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Baud <= 0:
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	case c.Flash.ChunkSize < 1024 || c.Flash.ChunkSize > 64*1024:
		return fmt.Errorf("flash.chunk_size must be between 1024 and 65536, got %d", c.Flash.ChunkSize)
	case c.Flash.SyncAttempts < 1:
		return fmt.Errorf("flash.sync_attempts must be at least 1, got %d", c.Flash.SyncAttempts)
	case c.Flash.FlashSize <= 0 || c.Flash.FlashSize%0x1000 != 0:
		return fmt.Errorf("flash.flash_size must be a positive multiple of 4096, got %d", c.Flash.FlashSize)
	}
	seen := make(map[string]bool)
	for _, r := range c.Firmware.Repositories {
		if r.ID == "" || r.Repository == "" {
			return fmt.Errorf("firmware repository needs id and repository: %+v", r)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate firmware repository id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// Save writes the configuration, creating the directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
