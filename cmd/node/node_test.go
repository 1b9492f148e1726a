package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/depot/internal/client"
	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/config"
	"github.com/dreamware/depot/internal/storage"
)

// testConfig returns a memory-backed configuration on ephemeral loopback
// ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.NodeID = "node-" + t.Name()
	cfg.BindAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.StorageBackend = config.BackendMemory
	cfg.HealthInterval = 50 * time.Millisecond
	cfg.IdleTimeout = 5 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	return cfg
}

// startNode runs a node until the test ends.
func startNode(t *testing.T, mutate func(*config.Config)) *Node {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}

	n, err := NewNode(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	select {
	case <-n.ready:
	case err := <-done:
		cancel()
		t.Fatalf("node exited during startup: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("node did not start")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("node did not stop")
		}
	})
	return n
}

func dialNode(t *testing.T, n *Node) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, n.tcp.Addr().String(), client.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func httpURL(n *Node, path string) string {
	return "http://" + n.httpAddr.String() + path
}

// TestNodeServesBothTransports tests that a file stored over TCP is visible
// over HTTP and the other way round
func TestNodeServesBothTransports(t *testing.T) {
	n := startNode(t, nil)
	c := dialNode(t, n)
	ctx := context.Background()

	require.NoError(t, c.Upload(ctx, "example.txt", []byte("Hello World!")))

	resp, err := http.Get(httpURL(n, "/files/example.txt"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello World!", string(body))

	req, err := http.NewRequest(http.MethodPut, httpURL(n, "/files/other.txt"), bytes.NewReader([]byte("via http")))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	data, err := c.Download(ctx, "other.txt")
	require.NoError(t, err)
	assert.Equal(t, "via http", string(data))

	names, err := c.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"example.txt", "other.txt"}, names)
}

// TestNodeHealthAndStats tests the operational routes
func TestNodeHealthAndStats(t *testing.T) {
	n := startNode(t, nil)
	require.NoError(t, n.engine.Store(context.Background(), "a.bin", []byte("12345")))

	resp, err := http.Get(httpURL(n, "/health"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(httpURL(n, "/stats"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		NodeID  string        `json:"node_id"`
		Storage storage.Stats `json:"storage"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, n.cfg.NodeID, stats.NodeID)
	assert.Equal(t, 1, stats.Storage.Files)
}

// TestNodeMembership tests that the node lists itself and accepts joins
func TestNodeMembership(t *testing.T) {
	n := startNode(t, nil)
	c := dialNode(t, n)
	ctx := context.Background()

	members, err := c.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, n.cfg.NodeID, members[0].ID)
	assert.Equal(t, cluster.Active, members[0].Status)

	require.NoError(t, c.Join(ctx, "peer", "", cluster.Active))
	members, err = c.Members(ctx)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, c.Leave(ctx, "peer"))
	_, ok := n.registry.Get("peer")
	assert.False(t, ok)
}

// TestNodeSeedsJoin tests that a node started with a seed announces itself
func TestNodeSeedsJoin(t *testing.T) {
	seed := startNode(t, func(cfg *config.Config) { cfg.NodeID = "seed" })
	joiner := startNode(t, func(cfg *config.Config) {
		cfg.NodeID = "joiner"
		cfg.Seeds = []string{seed.tcp.Addr().String()}
	})

	require.Eventually(t, func() bool {
		_, onSeed := seed.registry.Get("joiner")
		_, onJoiner := joiner.registry.Get("seed")
		return onSeed && onJoiner
	}, 5*time.Second, 20*time.Millisecond)
}

// TestNodeMonitorMarksUnreachablePeer tests that the running monitor checks
// registered peers
func TestNodeMonitorMarksUnreachablePeer(t *testing.T) {
	n := startNode(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	ln.Close()

	require.NoError(t, n.registry.JoinAt("gone", dead, cluster.Active))

	require.Eventually(t, func() bool {
		s, _ := n.registry.StatusOf("gone")
		return s == cluster.Inactive
	}, 5*time.Second, 20*time.Millisecond)
}

// TestNodeRunStops tests that cancelling ctx closes both listeners
func TestNodeRunStops(t *testing.T) {
	n, err := NewNode(context.Background(), testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	<-n.ready

	tcpAddr := n.tcp.Addr().String()
	httpAddr := n.httpAddr.String()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}

	for _, addr := range []string{tcpAddr, httpAddr} {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			t.Errorf("%s still accepting after shutdown", addr)
		}
	}
}

// TestNodeRunListenFailure tests that a taken port is reported by Run
func TestNodeRunListenFailure(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig(t)
	cfg.HTTPAddr = taken.Addr().String()

	n, err := NewNode(context.Background(), cfg)
	require.NoError(t, err)

	err = n.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), cfg.HTTPAddr)
}
