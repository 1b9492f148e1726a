// Package main implements the depot node service, which stores files on a
// local medium and tracks the peers of its cluster.
//
// The node is responsible for:
//   - Serving the binary command protocol on a TCP port
//   - Serving the same commands over an HTTP gateway
//   - Rebuilding its file index from the medium at startup
//   - Announcing itself to seed peers and probing their health
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                      │
//	├─────────────────────────────────────────┤
//	│  TCP :7070  - command protocol          │
//	│  HTTP :8081 - /files /members /health   │
//	│               /stats /metrics           │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Dispatcher - command routing         │
//	│    Engine     - index + medium          │
//	│    Registry   - cluster membership      │
//	│    Monitor    - peer health checks      │
//	└─────────────────────────────────────────┘
//
// Configuration (environment, or a YAML file named by DEPOT_CONFIG):
//   - NODE_ID: Unique node identifier (default: hostname)
//   - LISTEN_ADDR: Command port (default: ":7070")
//   - HTTP_ADDR: Gateway port (default: ":8081")
//   - NODE_ADDR: Gateway address peers use to check this node
//   - SEED_PEERS: Comma separated command addresses of peers to join
//   - STORAGE_BACKEND: disk, memory or s3 (default: disk)
//   - STORAGE_PATH: Root directory for the disk backend (default: "./data")
//
// Example usage:
//
//	NODE_ID=node-1 STORAGE_PATH=/var/lib/depot ./node
//
//	# Store a file over HTTP
//	curl -X PUT --data-binary @report.pdf localhost:8081/files/report.pdf
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/depot/internal/client"
	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/config"
	"github.com/dreamware/depot/internal/logging"
	"github.com/dreamware/depot/internal/node"
	"github.com/dreamware/depot/internal/protocol"
	"github.com/dreamware/depot/internal/storage"
)

// logFatal is a variable to allow mocking fatal exits in tests.
// This indirection enables test code to intercept fatal errors
// without actually terminating the test process.
var logFatal = func(format string, args ...any) {
	logging.S().Fatalf(format, args...)
}

// Announce retry policy. Variables so tests can shorten them.
var (
	announceAttempts = 10
	announceDelay    = 400 * time.Millisecond
)

// Node wires the storage engine, the membership registry and both
// transports into one runnable service.
//
// Lifecycle:
//   - NewNode builds the medium and rebuilds the index; nothing listens yet
//   - Run binds both ports, announces to seeds and serves until ctx ends
//   - On return every listener is closed and the medium is released
type Node struct {
	cfg        *config.Config
	engine     *storage.Engine
	registry   *cluster.Registry
	dispatcher *node.Dispatcher
	tcp        *node.Server
	http       *http.Server
	monitor    *cluster.Monitor

	// ready is closed once both listeners are bound; httpAddr is set by then.
	ready    chan struct{}
	httpAddr net.Addr
}

// NewNode builds a node from cfg. An unusable medium is a startup failure
// and is returned as an error.
//
// Parameters:
//   - ctx: Bounds medium setup and the initial reindex
//   - cfg: Validated configuration
//
// Returns:
//   - *Node: Ready to Run
//   - error: Medium construction or reindex failure
func NewNode(ctx context.Context, cfg *config.Config) (*Node, error) {
	medium, err := newMedium(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage medium: %w", err)
	}

	engine := storage.NewEngine(medium)
	files, err := engine.Reindex(ctx)
	if err != nil {
		medium.Close()
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	logging.Info("storage ready",
		zap.String("backend", medium.Type()),
		zap.Int("files", files))

	registry := cluster.NewRegistry()
	if err := registry.JoinAt(cfg.NodeID, advertiseAddr(cfg), cluster.Active); err != nil {
		medium.Close()
		return nil, err
	}

	dispatcher := node.NewDispatcher(engine, registry)
	maxFile := protocol.MaxFileSize(cfg.MaxFrameSize)
	dispatcher.SetMaxFileSize(maxFile)

	n := &Node{
		cfg:        cfg,
		engine:     engine,
		registry:   registry,
		dispatcher: dispatcher,
		monitor:    cluster.NewMonitor(registry, cfg.NodeID, cfg.HealthInterval),
		ready:      make(chan struct{}),
	}
	n.tcp = node.NewServer(node.ServerConfig{
		Addr:           cfg.BindAddr,
		MaxConnections: cfg.MaxConnections,
		MaxFrameSize:   cfg.MaxFrameSize,
		IdleTimeout:    cfg.IdleTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, dispatcher)
	n.http = &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: node.NewHTTPHandler(node.HTTPConfig{
			NodeID:      cfg.NodeID,
			MaxBodySize: maxFile,
			Stats:       engine.Stats,
		}, dispatcher),
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}
	n.monitor.SetOnInactive(func(id string) {
		logging.Warn("peer unreachable", zap.String("node_id", id))
	})
	return n, nil
}

// newMedium builds the configured storage backend.
func newMedium(ctx context.Context, cfg *config.Config) (storage.Medium, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return storage.NewMemoryMedium(), nil
	case config.BackendS3:
		return storage.NewS3Medium(ctx, storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
		})
	default:
		return storage.NewDiskMedium(storage.DiskConfig{Root: cfg.StorageRoot, CreateDirs: true})
	}
}

// advertiseAddr is the gateway address peers should check. Without an
// explicit NODE_ADDR a bare ":port" listen address maps to loopback.
func advertiseAddr(cfg *config.Config) string {
	if cfg.AdvertiseAddr != "" {
		return cfg.AdvertiseAddr
	}
	if strings.HasPrefix(cfg.HTTPAddr, ":") {
		return "127.0.0.1" + cfg.HTTPAddr
	}
	return cfg.HTTPAddr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (n *Node) Run(ctx context.Context) error {
	defer n.engine.Medium().Close()

	if err := n.tcp.Listen(); err != nil {
		return fmt.Errorf("listen %s: %w", n.cfg.BindAddr, err)
	}
	httpLn, err := net.Listen("tcp", n.cfg.HTTPAddr)
	if err != nil {
		n.tcp.Close()
		return fmt.Errorf("listen %s: %w", n.cfg.HTTPAddr, err)
	}
	n.httpAddr = httpLn.Addr()
	close(n.ready)

	logging.Info("node started",
		zap.String("node_id", n.cfg.NodeID),
		zap.String("command_addr", n.tcp.Addr().String()),
		zap.String("http_addr", n.httpAddr.String()))

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if err := n.tcp.Serve(serveCtx); err != nil {
			errCh <- fmt.Errorf("command server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := n.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		n.monitor.Start(serveCtx)
	}()

	go func() {
		defer wg.Done()
		announce(serveCtx, n.cfg.Seeds, n.cfg.NodeID, advertiseAddr(n.cfg), n.registry)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	logging.Info("node stopping")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()

	n.monitor.Stop()
	if err := n.http.Shutdown(shutdownCtx); err != nil {
		logging.Warn("http shutdown", zap.Error(err))
	}
	if err := n.tcp.Shutdown(shutdownCtx); err != nil {
		logging.Warn("command server shutdown", zap.Error(err))
	}
	cancel()
	wg.Wait()

	logging.Info("node stopped")
	return runErr
}

// announce joins this node to every seed and learns the seeds' members,
// retrying until at least one seed answers.
//
// Retry strategy:
//   - announceAttempts rounds, announceDelay apart
//   - A round succeeds when any seed accepts the Join
//   - Persistent failure is logged; the node keeps serving on its own
func announce(ctx context.Context, seeds []string, selfID, selfAddr string, registry *cluster.Registry) bool {
	if len(seeds) == 0 {
		return false
	}

	var lastErr error
	for i := 0; i < announceAttempts; i++ {
		joined := 0
		for _, seed := range seeds {
			if err := joinSeed(ctx, seed, selfID, selfAddr, registry); err != nil {
				lastErr = err
				continue
			}
			joined++
		}
		if joined > 0 {
			logging.Info("joined cluster", zap.Int("seeds", joined), zap.Int("members", registry.Len()))
			return true
		}

		logging.Debug("announce retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(announceDelay):
		}
	}

	logging.Warn("no seed peer reachable, running standalone", zap.Error(lastErr))
	return false
}

// joinSeed sends Join to one seed and copies its membership table.
func joinSeed(ctx context.Context, seed, selfID, selfAddr string, registry *cluster.Registry) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	c, err := client.Dial(ctx, seed, client.Options{DialTimeout: time.Second})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Join(ctx, selfID, selfAddr, cluster.Active); err != nil {
		return fmt.Errorf("join %s: %w", seed, err)
	}

	members, err := c.Members(ctx)
	if err != nil {
		return fmt.Errorf("members %s: %w", seed, err)
	}
	learn(registry, selfID, members)
	return nil
}

// learn records peers reported by a seed. Their status stays Unknown until
// the monitor checks them; the local node's own entry is left alone.
func learn(registry *cluster.Registry, selfID string, members []protocol.NodeStatus) {
	for _, m := range members {
		if m.ID == selfID {
			continue
		}
		if _, known := registry.Get(m.ID); known {
			continue
		}
		if err := registry.JoinAt(m.ID, m.Addr, cluster.Unknown); err != nil {
			logging.Debug("ignoring seed member", zap.String("node_id", m.ID), zap.Error(err))
		}
	}
}

// main loads configuration, builds the node and serves until SIGINT or
// SIGTERM.
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Invalid configuration, unusable storage medium or listen failure
func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("invalid configuration: %v", err)
		return
	}

	if err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputPath: cfg.LogOutput,
	}); err != nil {
		logFatal("init logging: %v", err)
		return
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := NewNode(ctx, cfg)
	if err != nil {
		logFatal("startup failed: %v", err)
		return
	}
	if err := n.Run(ctx); err != nil {
		logFatal("node failed: %v", err)
	}
}
