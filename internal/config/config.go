package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	appDirName     = "lumin"
	configFileName = "downloads.yaml"

	defaultMaxConcurrentDownloads = 3
	minConcurrentDownloads        = 1
	maxConcurrentDownloads        = 10
)

// Config holds the operator-facing settings of the download subsystem.
type Config struct {
	// MaxConcurrentDownloads is the admission-control cap, clamped to [1,10].
	MaxConcurrentDownloads int `yaml:"maxConcurrentDownloads,omitempty"`

	// DownloadDir overrides the platform default download directory.
	// It is only honored when the directory exists.
	DownloadDir string `yaml:"downloadDir,omitempty"`

	// DataDir is where the registry database lives.
	DataDir string `yaml:"dataDir,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: defaultMaxConcurrentDownloads,
		DataDir:                filepath.Join(xdg.DataHome, appDirName),
	}
}

// Load reads the configuration file from the XDG config home, falling back
// to defaults when the file is absent or fields are unset.
func Load() (*Config, error) {
	defaults := DefaultConfig()

	var cfg Config

	b, err := os.ReadFile(filepath.Join(xdg.ConfigHome, appDirName, configFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if len(b) > 0 {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, err
		}
	}

	conf := Config{
		MaxConcurrentDownloads: zeroOr(cfg.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		DownloadDir:            zeroOr(cfg.DownloadDir, defaults.DownloadDir),
		DataDir:                zeroOr(cfg.DataDir, defaults.DataDir),
	}

	conf.Normalize()

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

// Normalize clamps fields to their valid ranges.
func (c *Config) Normalize() {
	if c.MaxConcurrentDownloads < minConcurrentDownloads {
		c.MaxConcurrentDownloads = minConcurrentDownloads
	}
	if c.MaxConcurrentDownloads > maxConcurrentDownloads {
		c.MaxConcurrentDownloads = maxConcurrentDownloads
	}
}

// DatabasePath returns the location of the registry database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "downloads.db")
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return ErrInvalidConfig
	}

	return nil
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
