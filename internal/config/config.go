package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Library  LibraryConfig  `yaml:"library"`
	Database DatabaseConfig `yaml:"database"`
	Limits   LimitsConfig   `yaml:"limits"`
	Progress ProgressConfig `yaml:"progress"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// MaxUploadSize bounds a multipart upload request.
	MaxUploadSize int64 `yaml:"max_upload_size"`
}

type LibraryConfig struct {
	Name string `yaml:"name"`
	// LinkPaths are directories linked (not copied) at start-up.
	LinkPaths []string `yaml:"link_paths"`
	// Watch re-imports linked directories when files appear in them.
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
	// MaxSizeBytes caps the database; 0 means unlimited.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

type LimitsConfig struct {
	MaxItems       int   `yaml:"max_items"`
	ChunkThreshold int64 `yaml:"chunk_threshold"` // bytes
	ChunkSize      int64 `yaml:"chunk_size"`      // bytes
	BatchSize      int   `yaml:"batch_size"`
	BatchBytes     int64 `yaml:"batch_bytes"`
	SampleWindow   int64 `yaml:"sample_window"` // bytes
}

type ProgressConfig struct {
	// RemoteURL is the progress backend; empty keeps completions locally.
	RemoteURL string        `yaml:"remote_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

type BridgeConfig struct {
	// URL of a remote Bridge to import from.
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// ServeRoot, when set, exposes that directory through the Bridge
	// endpoints of this server.
	ServeRoot string `yaml:"serve_root"`
}

type CacheConfig struct {
	ReferenceCapacity int `yaml:"reference_capacity"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

const mb = 1024 * 1024

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          6540,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  0,
			MaxUploadSize: 4096 * mb,
		},
		Library: LibraryConfig{
			Name:          "Quest Library",
			WatchDebounce: 2 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/library.db",
		},
		Limits: LimitsConfig{
			MaxItems:       5000,
			ChunkThreshold: 100 * mb,
			ChunkSize:      50 * mb,
			BatchSize:      250,
			BatchBytes:     256 * mb,
			SampleWindow:   64 * 1024,
		},
		Progress: ProgressConfig{
			Timeout: 10 * time.Second,
		},
		Bridge: BridgeConfig{
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			ReferenceCapacity: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	l := c.Limits
	if l.MaxItems <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_items must be positive, got %d", l.MaxItems))
	}
	if l.ChunkSize <= 0 || l.ChunkThreshold <= 0 {
		errs = append(errs, errors.New("limits.chunk_size and limits.chunk_threshold must be positive"))
	} else if l.ChunkSize > l.ChunkThreshold {
		errs = append(errs, fmt.Errorf("limits.chunk_size (%d) exceeds limits.chunk_threshold (%d)", l.ChunkSize, l.ChunkThreshold))
	}
	if l.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("limits.batch_size must be positive, got %d", l.BatchSize))
	}
	if l.SampleWindow <= 0 {
		errs = append(errs, fmt.Errorf("limits.sample_window must be positive, got %d", l.SampleWindow))
	}
	if c.Database.MaxSizeBytes < 0 {
		errs = append(errs, errors.New("database.max_size_bytes must not be negative"))
	}
	return errors.Join(errs...)
}
