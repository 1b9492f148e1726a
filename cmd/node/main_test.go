package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/config"
	"github.com/dreamware/depot/internal/logging"
	"github.com/dreamware/depot/internal/protocol"
)

// TestAdvertiseAddr tests how the check address is derived
func TestAdvertiseAddr(t *testing.T) {
	tests := []struct {
		name      string
		advertise string
		httpAddr  string
		expected  string
	}{
		{name: "explicit address wins", advertise: "node-1.internal:8081", httpAddr: ":8081", expected: "node-1.internal:8081"},
		{name: "bare port maps to loopback", httpAddr: ":8081", expected: "127.0.0.1:8081"},
		{name: "host and port kept", httpAddr: "10.0.0.5:9000", expected: "10.0.0.5:9000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.AdvertiseAddr = tt.advertise
			cfg.HTTPAddr = tt.httpAddr
			assert.Equal(t, tt.expected, advertiseAddr(cfg))
		})
	}
}

// TestNewMedium tests backend selection
func TestNewMedium(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		cfg := config.Default()
		cfg.StorageBackend = config.BackendMemory

		m, err := newMedium(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, "memory", m.Type())
	})

	t.Run("disk creates its root", func(t *testing.T) {
		cfg := config.Default()
		cfg.StorageBackend = config.BackendDisk
		cfg.StorageRoot = filepath.Join(t.TempDir(), "nested", "data")

		m, err := newMedium(context.Background(), cfg)
		require.NoError(t, err)
		assert.Equal(t, "disk", m.Type())
		assert.DirExists(t, cfg.StorageRoot)
	})

	t.Run("disk root is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "occupied")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

		cfg := config.Default()
		cfg.StorageRoot = file

		_, err := newMedium(context.Background(), cfg)
		assert.Error(t, err)
	})
}

// TestAnnounce tests joining a running seed and learning its members
func TestAnnounce(t *testing.T) {
	seed := startNode(t, nil)

	local := cluster.NewRegistry()
	require.NoError(t, local.JoinAt("joiner", "127.0.0.1:1", cluster.Active))

	ok := announce(context.Background(), []string{seed.tcp.Addr().String()}, "joiner", "127.0.0.1:1", local)
	require.True(t, ok)

	entry, found := seed.registry.Get("joiner")
	require.True(t, found, "seed should have recorded the joiner")
	assert.Equal(t, "127.0.0.1:1", entry.Addr)

	learned, found := local.Get(seed.cfg.NodeID)
	require.True(t, found, "joiner should have learned the seed")
	assert.Equal(t, cluster.Unknown, learned.Status)

	self, _ := local.Get("joiner")
	assert.Equal(t, cluster.Active, self.Status)
}

// TestAnnounceUnreachable tests that an unreachable seed gives up after the
// configured attempts without calling logFatal
func TestAnnounceUnreachable(t *testing.T) {
	oldAttempts, oldDelay := announceAttempts, announceDelay
	announceAttempts, announceDelay = 2, 10*time.Millisecond
	defer func() { announceAttempts, announceDelay = oldAttempts, oldDelay }()

	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()
	fatalCalled := false
	logFatal = func(format string, args ...any) { fatalCalled = true }

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	ok := announce(context.Background(), []string{addr}, "lonely", "", cluster.NewRegistry())
	assert.False(t, ok)
	assert.False(t, fatalCalled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// TestAnnounceNoSeeds tests that a node without seeds runs standalone
func TestAnnounceNoSeeds(t *testing.T) {
	assert.False(t, announce(context.Background(), nil, "solo", "", cluster.NewRegistry()))
}

// TestAnnounceCancelled tests that announce stops retrying once ctx ends
func TestAnnounceCancelled(t *testing.T) {
	oldAttempts, oldDelay := announceAttempts, announceDelay
	announceAttempts, announceDelay = 100, time.Second
	defer func() { announceAttempts, announceDelay = oldAttempts, oldDelay }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan bool)
	go func() { done <- announce(ctx, []string{"127.0.0.1:1"}, "n", "", cluster.NewRegistry()) }()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("announce ignored cancellation")
	}
}

// TestLearn tests which reported members are copied into the registry
func TestLearn(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logging.Replace(zap.New(core))
	t.Cleanup(func() { logging.Replace(zap.NewNop()) })

	r := cluster.NewRegistry()
	require.NoError(t, r.JoinAt("self", "127.0.0.1:8081", cluster.Active))
	require.NoError(t, r.JoinAt("known", "10.0.0.2:8081", cluster.Inactive))

	learn(r, "self", []protocol.NodeStatus{
		{ID: "self", Addr: "elsewhere", Status: cluster.Inactive},
		{ID: "known", Addr: "10.0.0.9:8081", Status: cluster.Active},
		{ID: "fresh", Addr: "10.0.0.3:8081", Status: cluster.Active},
		{ID: " ", Addr: "10.0.0.4:8081", Status: cluster.Active},
	})

	self, _ := r.Get("self")
	assert.Equal(t, "127.0.0.1:8081", self.Addr)
	assert.Equal(t, cluster.Active, self.Status)

	known, _ := r.Get("known")
	assert.Equal(t, "10.0.0.2:8081", known.Addr)
	assert.Equal(t, cluster.Inactive, known.Status)

	fresh, ok := r.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.3:8081", fresh.Addr)
	assert.Equal(t, cluster.Unknown, fresh.Status)
	assert.Equal(t, 3, r.Len())

	skipped := logs.FilterMessage("ignoring seed member").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, cluster.ErrEmptyNodeID.Error(), skipped[0].ContextMap()["error"])
}

// TestMainInvalidConfig tests that a bad configuration is fatal
func TestMainInvalidConfig(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "tape")

	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()

	var msg string
	logFatal = func(format string, args ...any) { msg = fmt.Sprintf(format, args...) }

	main()

	assert.Contains(t, msg, "invalid configuration")
	assert.Contains(t, msg, "tape")
}

// TestMainStartupFailure tests that an unusable medium is fatal
func TestMainStartupFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	t.Setenv("STORAGE_BACKEND", "disk")
	t.Setenv("STORAGE_PATH", file)
	t.Setenv("LOG_LEVEL", "error")

	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()

	var msg string
	logFatal = func(format string, args ...any) { msg = fmt.Sprintf(format, args...) }

	main()

	assert.Contains(t, msg, "startup failed")
}

// TestMainFunction tests the main function with full lifecycle
func TestMainFunction(t *testing.T) {
	t.Setenv("NODE_ID", "test-node")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:0")
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "error")

	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()

	var mu sync.Mutex
	var fatal []string
	logFatal = func(format string, args ...any) {
		mu.Lock()
		fatal = append(fatal, fmt.Sprintf(format, args...))
		mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		main()
	}()

	// Give main time to install its signal handler
	time.Sleep(300 * time.Millisecond)

	process, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, process.Signal(syscall.SIGTERM))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("main did not shut down within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, fatal)
}

// TestNewNodeRebuildsIndex tests that files on disk survive a restart
func TestNewNodeRebuildsIndex(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(t)
	cfg.StorageBackend = config.BackendDisk
	cfg.StorageRoot = root

	first, err := NewNode(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, first.engine.Store(context.Background(), "example.txt", []byte("Hello World!")))
	require.NoError(t, first.engine.Store(context.Background(), "example.txt", []byte("Hello again")))
	require.NoError(t, first.engine.Medium().Close())

	second, err := NewNode(context.Background(), cfg)
	require.NoError(t, err)
	defer second.engine.Medium().Close()

	assert.Equal(t, []string{"example.txt"}, second.engine.List(context.Background()))
	data, err := second.engine.Retrieve(context.Background(), "example.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello again", string(data))

	self, ok := second.registry.Get(cfg.NodeID)
	require.True(t, ok)
	assert.Equal(t, cluster.Active, self.Status)
}

// TestNewNodeEmptyID tests that the local node must have an id
func TestNewNodeEmptyID(t *testing.T) {
	cfg := testConfig(t)
	cfg.NodeID = ""

	_, err := NewNode(context.Background(), cfg)
	assert.ErrorIs(t, err, cluster.ErrEmptyNodeID)
}
