package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEPOT_CONFIG", "")
	t.Setenv("NODE_ID", "n1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "n1", cfg.NodeID)
	assert.Equal(t, ":7070", cfg.BindAddr)
	assert.Equal(t, BackendDisk, cfg.StorageBackend)
	assert.Equal(t, 64, cfg.MaxConnections)
	assert.Equal(t, int64(64<<20), cfg.MaxFrameSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DEPOT_CONFIG", "")
	t.Setenv("NODE_ID", "n2")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("STORAGE_PATH", "/srv/depot")
	t.Setenv("STORAGE_BACKEND", "MEMORY")
	t.Setenv("MAX_CONNECTIONS", "8")
	t.Setenv("IDLE_TIMEOUT", "5s")
	t.Setenv("SEED_PEERS", "a:7070, ,b:7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.BindAddr)
	assert.Equal(t, "/srv/depot", cfg.StorageRoot)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 8, cfg.MaxConnections)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout)
	assert.Equal(t, []string{"a:7070", "b:7070"}, cfg.Seeds)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "depot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node_id: from-file
bind_addr: ":7171"
storage_root: /var/lib/depot
max_connections: 16
idle_timeout: 45s
seeds: ["p1:7070"]
s3:
  bucket: files
`), 0o644))

	t.Setenv("DEPOT_CONFIG", path)
	t.Setenv("NODE_ID", "")
	t.Setenv("MAX_CONNECTIONS", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.NodeID)
	assert.Equal(t, ":7171", cfg.BindAddr)
	assert.Equal(t, "/var/lib/depot", cfg.StorageRoot)
	assert.Equal(t, 4, cfg.MaxConnections)
	assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
	assert.Equal(t, []string{"p1:7070"}, cfg.Seeds)
	assert.Equal(t, "files", cfg.S3.Bucket)
	assert.Equal(t, "us-east-1", cfg.S3.Region)
}

func TestLoadFileErrors(t *testing.T) {
	t.Setenv("DEPOT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("max_connections: [1"), 0o644))
	t.Setenv("DEPOT_CONFIG", bad)
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) { c.NodeID = "n" }, true},
		{"empty node id", func(c *Config) { c.NodeID = " " }, false},
		{"empty bind addr", func(c *Config) { c.NodeID = "n"; c.BindAddr = "" }, false},
		{"empty root on disk", func(c *Config) { c.NodeID = "n"; c.StorageRoot = "" }, false},
		{"empty root on memory", func(c *Config) { c.NodeID = "n"; c.StorageRoot = ""; c.StorageBackend = BackendMemory }, true},
		{"s3 without bucket", func(c *Config) { c.NodeID = "n"; c.StorageBackend = BackendS3; c.S3.Bucket = "" }, false},
		{"unknown backend", func(c *Config) { c.NodeID = "n"; c.StorageBackend = "tape" }, false},
		{"zero connections", func(c *Config) { c.NodeID = "n"; c.MaxConnections = 0 }, false},
		{"zero frame size", func(c *Config) { c.NodeID = "n"; c.MaxFrameSize = 0 }, false},
		{"frame size above uint32", func(c *Config) { c.NodeID = "n"; c.MaxFrameSize = 1 << 32 }, false},
		{"frame size at uint32 max", func(c *Config) { c.NodeID = "n"; c.MaxFrameSize = 1<<32 - 1 }, true},
		{"zero timeout", func(c *Config) { c.NodeID = "n"; c.WriteTimeout = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
