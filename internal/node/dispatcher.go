package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/logging"
	"github.com/dreamware/depot/internal/metrics"
	"github.com/dreamware/depot/internal/protocol"
	"github.com/dreamware/depot/internal/storage"
)

// Files is the file store the dispatcher routes to. *storage.Engine
// implements it.
type Files interface {
	Store(ctx context.Context, name string, data []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) []string
	Search(ctx context.Context, substr string) []string
}

// Members is the membership table the dispatcher routes to.
// *cluster.Registry implements it.
type Members interface {
	JoinAt(id, addr string, status cluster.Status) error
	Leave(id string)
	Entries() []cluster.NodeEntry
}

// Dispatcher turns one decoded command into exactly one response.
// It does no I/O of its own; every side effect goes through Files or
// Members, so it can be tested with fakes.
type Dispatcher struct {
	files       Files
	members     Members
	maxFileSize int64 // 0 means unlimited
}

// NewDispatcher creates a dispatcher over files and members.
func NewDispatcher(files Files, members Members) *Dispatcher {
	return &Dispatcher{files: files, members: members}
}

// SetMaxFileSize bounds the files Upload accepts and Download returns.
// Use protocol.MaxFileSize so every stored file can be downloaded in one
// frame. Call it before the dispatcher is shared.
func (d *Dispatcher) SetMaxFileSize(n int64) {
	d.maxFileSize = n
}

func (d *Dispatcher) tooLarge(size int) (protocol.Response, bool) {
	if d.maxFileSize <= 0 || int64(size) <= d.maxFileSize {
		return protocol.Response{}, false
	}
	return protocol.Failure(protocol.CodeInvalidRequest, fmt.Sprintf("file exceeds %d bytes", d.maxFileSize)), true
}

// Handle executes cmd and returns its response. Failures are reported as
// response codes, never as panics or connection errors.
func (d *Dispatcher) Handle(ctx context.Context, cmd protocol.Command) protocol.Response {
	start := time.Now()
	resp := d.handle(ctx, cmd)

	kind := "unknown"
	if cmd != nil {
		kind = cmd.Kind().String()
	}
	metrics.RecordCommand(kind, string(resp.Code()), time.Since(start))
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, cmd protocol.Command) protocol.Response {
	switch c := cmd.(type) {
	case protocol.ListFiles:
		return protocol.Response{Message: string(protocol.CodeOK), Names: d.files.List(ctx)}

	case protocol.Upload:
		if resp, ok := d.tooLarge(len(c.Data)); ok {
			return resp
		}
		if err := d.files.Store(ctx, c.Name, c.Data); err != nil {
			return failure(ctx, "upload", c.Name, err)
		}
		metrics.RecordUpload(len(c.Data))
		return protocol.OK()

	case protocol.Download:
		data, err := d.files.Retrieve(ctx, c.Name)
		if err != nil {
			return failure(ctx, "download", c.Name, err)
		}
		if resp, ok := d.tooLarge(len(data)); ok {
			return resp
		}
		if data == nil {
			data = []byte{}
		}
		metrics.RecordDownload(len(data))
		return protocol.Response{Message: string(protocol.CodeOK), Data: data}

	case protocol.Delete:
		if err := d.files.Delete(ctx, c.Name); err != nil {
			return failure(ctx, "delete", c.Name, err)
		}
		return protocol.OK()

	case protocol.Search:
		return protocol.Response{Message: string(protocol.CodeOK), Names: d.files.Search(ctx, c.Substring)}

	case protocol.Join:
		if err := d.members.JoinAt(c.NodeID, c.Addr, c.Status); err != nil {
			return protocol.Failure(protocol.CodeInvalidRequest, err.Error())
		}
		logging.Info("member joined",
			logging.String("node_id", c.NodeID),
			logging.String("addr", c.Addr),
			logging.String("status", c.Status.String()))
		return protocol.OK()

	case protocol.Leave:
		d.members.Leave(c.NodeID)
		logging.Info("member left", logging.String("node_id", c.NodeID))
		return protocol.OK()

	case protocol.Members:
		entries := d.members.Entries()
		nodes := make([]protocol.NodeStatus, 0, len(entries))
		for _, e := range entries {
			nodes = append(nodes, protocol.NodeStatus{ID: e.ID, Addr: e.Addr, Status: e.Status, Version: e.Version})
		}
		return protocol.Response{Message: string(protocol.CodeOK), Nodes: nodes}
	}

	return protocol.Failure(protocol.CodeInvalidRequest, "unsupported command")
}

// failure maps a storage error to a response. Medium failures are logged
// here with their cause and answered with a generic message that carries
// the request id, when there is one, so the log entry can be found.
func failure(ctx context.Context, op, name string, err error) protocol.Response {
	switch {
	case errors.Is(err, storage.ErrInvalidName):
		return protocol.Failure(protocol.CodeInvalidName, name)
	case errors.Is(err, storage.ErrNotFound):
		return protocol.Failure(protocol.CodeNotFound, "")
	}

	id := logging.GetRequestID(ctx)
	logging.Error("storage operation failed",
		logging.String("op", op),
		logging.String("name", name),
		logging.String("request_id", id),
		logging.Err(err))
	if id != "" {
		return protocol.Failure(protocol.CodeMediumError, "request "+id)
	}
	return protocol.Failure(protocol.CodeMediumError, "")
}
