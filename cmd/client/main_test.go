package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/node"
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

// cli runs one invocation against addr and returns exit code, stdout and
// stderr.
func cli(t *testing.T, addr string, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"-addr", addr}, args...), strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestFileCommands(t *testing.T) {
	addr := startNode(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "example.txt")
	require.NoError(t, os.WriteFile(src, []byte("Hello World!"), 0o644))

	code, out, _ := cli(t, addr, "", "upload", "example.txt", src)
	require.Equal(t, 0, code)
	assert.Equal(t, "ok\n", out)

	code, _, _ = cli(t, addr, "from stdin", "upload", "other.txt", "-")
	require.Equal(t, 0, code)

	code, out, _ = cli(t, addr, "", "list")
	require.Equal(t, 0, code)
	assert.Equal(t, "example.txt\nother.txt\n", out)

	code, out, _ = cli(t, addr, "", "search", "examp")
	require.Equal(t, 0, code)
	assert.Equal(t, "example.txt\n", out)

	code, out, _ = cli(t, addr, "", "download", "other.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "from stdin", out)

	dst := filepath.Join(dir, "copy.txt")
	code, _, _ = cli(t, addr, "", "download", "example.txt", dst)
	require.Equal(t, 0, code)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", string(got))

	code, out, _ = cli(t, addr, "", "delete", "example.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "ok\n", out)

	code, _, errOut := cli(t, addr, "", "download", "example.txt")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "not_found")
}

func TestMemberCommands(t *testing.T) {
	addr := startNode(t)

	code, _, _ := cli(t, addr, "", "join", "node-2", "10.0.0.2:8081")
	require.Equal(t, 0, code)
	code, _, _ = cli(t, addr, "", "join", "node-3", "10.0.0.3:8081", "inactive")
	require.Equal(t, 0, code)

	code, out, _ := cli(t, addr, "", "members")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[1], "node-2")
	assert.Contains(t, lines[1], "active")
	assert.Contains(t, lines[2], "inactive")

	code, _, _ = cli(t, addr, "", "leave", "node-2")
	require.Equal(t, 0, code)
	_, out, _ = cli(t, addr, "", "members")
	assert.NotContains(t, out, "node-2")
}

func TestUsageErrors(t *testing.T) {
	addr := startNode(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "no command", args: nil, want: "usage"},
		{name: "unknown command", args: []string{"rename"}, want: "unknown command"},
		{name: "missing argument", args: []string{"upload", "only-name"}, want: "upload takes 2 to 2 arguments"},
		{name: "extra argument", args: []string{"list", "x"}, want: "list takes 0 to 0 arguments"},
		{name: "bad status", args: []string{"join", "n", "a", "sleepy"}, want: "unknown node status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := cli(t, addr, "", tt.args...)
			assert.Equal(t, 2, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestServerErrors(t *testing.T) {
	addr := startNode(t)

	code, _, errOut := cli(t, addr, "", "upload", "../escape", "-")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "invalid_name")

	code, _, errOut = cli(t, addr, "", "upload", "x.txt", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "missing")
}

func TestDialFailure(t *testing.T) {
	code, _, errOut := cli(t, "127.0.0.1:1", "", "-timeout", "500ms", "list")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "dial")
}
