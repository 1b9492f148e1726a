package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/node"
	"github.com/dreamware/depot/internal/protocol"
	"github.com/dreamware/depot/internal/storage"
)

func startNode(t *testing.T) string {
	t.Helper()
	d := node.NewDispatcher(storage.NewEngine(storage.NewMemoryMedium()), cluster.NewRegistry())
	srv := node.NewServer(node.ServerConfig{Addr: "127.0.0.1:0", MaxConnections: 4, WriteTimeout: time.Second}, d)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv.Addr().String()
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	c, err := Dial(ctx, startNode(t), Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Upload(ctx, "example.txt", []byte("Hello World!")))
	require.NoError(t, c.Upload(ctx, "other.txt", []byte("x")))

	names, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.txt", "other.txt"}, names)

	names, err = c.Search(ctx, "examp")
	require.NoError(t, err)
	assert.Equal(t, []string{"example.txt"}, names)

	data, err := c.Download(ctx, "example.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", string(data))

	require.NoError(t, c.Delete(ctx, "example.txt"))
	_, err = c.Download(ctx, "example.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, "example.txt"), storage.ErrNotFound)
	assert.ErrorIs(t, c.Upload(ctx, "a/b", nil), storage.ErrInvalidName)
}

func TestClientMembership(t *testing.T) {
	ctx := context.Background()
	c, err := Dial(ctx, startNode(t), Options{})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Join(ctx, "n1", "h:1", cluster.Active))
	members, err := c.Members(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, cluster.Active, members[0].Status)

	assert.ErrorIs(t, c.Join(ctx, "", "", cluster.Active), protocol.ErrInvalidRequest)
	require.NoError(t, c.Leave(ctx, "n1"))
	require.NoError(t, c.Leave(ctx, "n1"))
}

func TestClientContextDeadline(t *testing.T) {
	// A listener that accepts but never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(2 * time.Second)
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), Options{})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = c.List(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", Options{DialTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}

func TestDoNilCommand(t *testing.T) {
	addr := startNode(t)
	c, err := Dial(context.Background(), addr, Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.NotPanics(t, func() {
		_, err = c.Do(context.Background(), nil)
	})
	assert.ErrorIs(t, err, ErrNilCommand)

	_, err = c.List(context.Background())
	assert.NoError(t, err)
}
