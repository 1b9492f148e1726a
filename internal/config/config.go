// Package config loads node configuration from an optional YAML file and
// environment variables, and validates it before any component is built.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends understood by the node.
const (
	BackendDisk   = "disk"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Config holds all node configuration.
type Config struct {
	// Identity
	NodeID        string   `yaml:"node_id"`
	AdvertiseAddr string   `yaml:"advertise_addr"`
	Seeds         []string `yaml:"seeds"`

	// Listeners
	BindAddr string `yaml:"bind_addr"`
	HTTPAddr string `yaml:"http_addr"`

	// Storage
	StorageBackend string   `yaml:"storage_backend"`
	StorageRoot    string   `yaml:"storage_root"`
	S3             S3Config `yaml:"s3"`

	// Connection handling
	MaxConnections int           `yaml:"max_connections"`
	MaxFrameSize   int64         `yaml:"max_frame_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	// Peer health
	HealthInterval time.Duration `yaml:"health_interval"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogOutput string `yaml:"log_output"`
}

// S3Config holds S3 connection settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		NodeID:         hostname(),
		BindAddr:       ":7070",
		HTTPAddr:       ":8081",
		StorageBackend: BackendDisk,
		StorageRoot:    "./data",
		MaxConnections: 64,
		MaxFrameSize:   64 << 20,
		IdleTimeout:    2 * time.Minute,
		WriteTimeout:   30 * time.Second,
		HealthInterval: 5 * time.Second,
		LogLevel:       "info",
		LogFormat:      "json",
		S3: S3Config{
			Endpoint: "http://localhost:9000",
			Bucket:   "depot",
			Region:   "us-east-1",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// DEPOT_CONFIG (if set), then environment overrides. The result is validated.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("DEPOT_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges a YAML file into cfg. Keys absent from the file keep their
// current values.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.NodeID = envOr("NODE_ID", c.NodeID)
	c.AdvertiseAddr = envOr("NODE_ADDR", c.AdvertiseAddr)
	c.Seeds = envList("SEED_PEERS", c.Seeds)
	c.BindAddr = envOr("LISTEN_ADDR", c.BindAddr)
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.StorageBackend = strings.ToLower(envOr("STORAGE_BACKEND", c.StorageBackend))
	c.StorageRoot = envOr("STORAGE_PATH", c.StorageRoot)
	c.MaxConnections = envInt("MAX_CONNECTIONS", c.MaxConnections)
	c.MaxFrameSize = envInt64("MAX_FRAME_SIZE", c.MaxFrameSize)
	c.IdleTimeout = envDuration("IDLE_TIMEOUT", c.IdleTimeout)
	c.WriteTimeout = envDuration("WRITE_TIMEOUT", c.WriteTimeout)
	c.HealthInterval = envDuration("HEALTH_INTERVAL", c.HealthInterval)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.LogOutput = envOr("LOG_FILE_PATH", c.LogOutput)
	c.S3.Endpoint = envOr("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Bucket = envOr("S3_BUCKET", c.S3.Bucket)
	c.S3.Prefix = envOr("S3_PREFIX", c.S3.Prefix)
	c.S3.AccessKey = envOr("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = envOr("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Region = envOr("S3_REGION", c.S3.Region)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.NodeID) == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	if strings.TrimSpace(c.BindAddr) == "" {
		errs = append(errs, errors.New("bind_addr is required"))
	}
	switch c.StorageBackend {
	case BackendDisk:
		if strings.TrimSpace(c.StorageRoot) == "" {
			errs = append(errs, errors.New("storage_root is required for the disk backend"))
		}
	case BackendMemory:
	case BackendS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage_backend %q", c.StorageBackend))
	}
	if c.MaxConnections < 1 {
		errs = append(errs, errors.New("max_connections must be at least 1"))
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, errors.New("max_frame_size must be positive"))
	} else if c.MaxFrameSize > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("max_frame_size must be at most %d", uint64(math.MaxUint32)))
	}
	if c.IdleTimeout <= 0 || c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("idle_timeout and write_timeout must be positive"))
	}
	if c.HealthInterval <= 0 {
		errs = append(errs, errors.New("health_interval must be positive"))
	}
	return errors.Join(errs...)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envList splits a comma separated variable, dropping blanks.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
