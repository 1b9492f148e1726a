// Package client is a Go client for the depot command protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/protocol"
)

// Options configures a Client.
type Options struct {
	DialTimeout  time.Duration // Default 5s
	MaxFrameSize int64         // Default protocol.DefaultMaxFrameSize
}

// ErrNilCommand is returned by Do when no command is given.
var ErrNilCommand = errors.New("nil command")

// Client holds one connection to a node. Requests are serialized, so a
// Client may be shared between goroutines.
type Client struct {
	conn  net.Conn
	codec *protocol.Codec
	mu    sync.Mutex
}

// Dial connects to the node command port at addr.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, codec: protocol.NewCodec(opts.MaxFrameSize)}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends cmd and waits for its response. The context deadline, if any,
// bounds the whole exchange. A returned error means the transport failed
// and the client should be discarded; failure responses are not errors
// here, see Response.Err.
func (c *Client) Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	if cmd == nil {
		return protocol.Response{}, ErrNilCommand
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return protocol.Response{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.codec.WriteCommand(c.conn, cmd); err != nil {
		return protocol.Response{}, c.ctxErr(ctx, fmt.Errorf("send %s: %w", cmd.Kind(), err))
	}
	resp, err := c.codec.ReadResponse(c.conn)
	if err != nil {
		return protocol.Response{}, c.ctxErr(ctx, fmt.Errorf("receive %s: %w", cmd.Kind(), err))
	}
	return resp, nil
}

// ctxErr prefers the context's error when it caused the failure. The conn
// deadline can fire just before the context's own timer does.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// call runs Do and folds a failure response into the error.
func (c *Client) call(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	resp, err := c.Do(ctx, cmd)
	if err != nil {
		return resp, err
	}
	return resp, resp.Err()
}

// List returns every stored name.
func (c *Client) List(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, protocol.ListFiles{})
	return resp.Names, err
}

// Upload stores data under name.
func (c *Client) Upload(ctx context.Context, name string, data []byte) error {
	_, err := c.call(ctx, protocol.Upload{Name: name, Data: data})
	return err
}

// Download returns the content stored under name. A missing name yields an
// error matching storage.ErrNotFound.
func (c *Client) Download(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.call(ctx, protocol.Download{Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Delete removes name.
func (c *Client) Delete(ctx context.Context, name string) error {
	_, err := c.call(ctx, protocol.Delete{Name: name})
	return err
}

// Search returns the stored names containing substr.
func (c *Client) Search(ctx context.Context, substr string) ([]string, error) {
	resp, err := c.call(ctx, protocol.Search{Substring: substr})
	return resp.Names, err
}

// Join registers id at addr with status on the node.
func (c *Client) Join(ctx context.Context, id, addr string, status cluster.Status) error {
	_, err := c.call(ctx, protocol.Join{NodeID: id, Addr: addr, Status: status})
	return err
}

// Leave removes id from the node's membership table.
func (c *Client) Leave(ctx context.Context, id string) error {
	_, err := c.call(ctx, protocol.Leave{NodeID: id})
	return err
}

// Members returns the node's membership table.
func (c *Client) Members(ctx context.Context) ([]protocol.NodeStatus, error) {
	resp, err := c.call(ctx, protocol.Members{})
	return resp.Nodes, err
}
