package node

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dreamware/depot/internal/cluster"
	"github.com/dreamware/depot/internal/logging"
	"github.com/dreamware/depot/internal/metrics"
	"github.com/dreamware/depot/internal/protocol"
	"github.com/dreamware/depot/internal/storage"
)

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	NodeID      string
	MaxBodySize int64                // Upload limit, normally the frame size
	Stats       func() storage.Stats // Source for GET /stats, optional
}

// NewHTTPHandler exposes the command set over HTTP. Every file and member
// route builds the same protocol.Command a TCP client would send and
// hands it to h, so both transports behave identically.
//
// Routes:
//
//	GET    /health          liveness check
//	GET    /metrics         prometheus metrics
//	GET    /log/level       current log level
//	PUT    /log/level       change it, body {"level": "debug"}
//	GET    /stats           storage statistics
//	GET    /files           list names (?search=<s> filters)
//	PUT    /files/{name}    upload the request body
//	GET    /files/{name}    download
//	DELETE /files/{name}    delete
//	GET    /members         membership table
//	PUT    /members/{id}    join, body {"addr": "...", "status": "active"}
//	DELETE /members/{id}    leave
func NewHTTPHandler(cfg HTTPConfig, h Handler) http.Handler {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = protocol.MaxFileSize(protocol.DefaultMaxFrameSize)
	}
	g := &gateway{cfg: cfg, handler: h}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/log/level", logging.LevelHandler())
	mux.HandleFunc("/stats", g.handleStats)
	mux.HandleFunc("/files", g.handleFiles)
	mux.HandleFunc("/files/", g.handleFile)
	mux.HandleFunc("/members", g.handleMembers)
	mux.HandleFunc("/members/", g.handleMember)

	return logging.Middleware(metrics.Middleware(mux))
}

type gateway struct {
	cfg     HTTPConfig
	handler Handler
}

// memberJSON is the HTTP view of a membership row.
type memberJSON struct {
	ID      string         `json:"id"`
	Addr    string         `json:"addr,omitempty"`
	Status  cluster.Status `json:"status"`
	Version uint64         `json:"version"`
}

// joinRequest is the body of PUT /members/{id}.
type joinRequest struct {
	Addr   string         `json:"addr"`
	Status cluster.Status `json:"status"`
}

func (g *gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node_id": g.cfg.NodeID})
}

func (g *gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.cfg.Stats == nil {
		http.Error(w, "stats unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		NodeID  string        `json:"node_id"`
		Storage storage.Stats `json:"storage"`
	}{
		NodeID:  g.cfg.NodeID,
		Storage: g.cfg.Stats(),
	})
}

// handleFiles serves GET /files and GET /files?search=<s>.
func (g *gateway) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cmd protocol.Command = protocol.ListFiles{}
	if q := r.URL.Query(); q.Has("search") {
		cmd = protocol.Search{Substring: q.Get("search")}
	}

	resp := g.handler.Handle(r.Context(), cmd)
	if resp.Code() != protocol.CodeOK {
		writeFailure(w, resp)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Names []string `json:"names"`
		Count int      `json:"count"`
	}{
		Names: resp.Names,
		Count: len(resp.Names),
	})
}

// handleFile serves PUT, GET and DELETE on /files/{name}.
func (g *gateway) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/files/")

	var cmd protocol.Command
	switch r.Method {
	case http.MethodGet:
		cmd = protocol.Download{Name: name}
	case http.MethodDelete:
		cmd = protocol.Delete{Name: name}
	case http.MethodPut:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxBodySize))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
				return
			}
			// A client that goes away mid-upload never reaches storage.
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		cmd = protocol.Upload{Name: name, Data: data}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := g.handler.Handle(r.Context(), cmd)
	if resp.Code() != protocol.CodeOK {
		writeFailure(w, resp)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(resp.Data); err != nil {
		logging.WithContext(r.Context()).Debug("download write failed", logging.Err(err))
	}
}

func (g *gateway) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := g.handler.Handle(r.Context(), protocol.Members{})
	if resp.Code() != protocol.CodeOK {
		writeFailure(w, resp)
		return
	}
	members := make([]memberJSON, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		members = append(members, memberJSON{ID: n.ID, Addr: n.Addr, Status: n.Status, Version: n.Version})
	}
	writeJSON(w, http.StatusOK, struct {
		Members []memberJSON `json:"members"`
		Count   int          `json:"count"`
	}{
		Members: members,
		Count:   len(members),
	})
}

// handleMember serves PUT and DELETE on /members/{id}.
func (g *gateway) handleMember(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/members/")

	var cmd protocol.Command
	switch r.Method {
	case http.MethodPut:
		var req joinRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid_request: "+err.Error(), http.StatusBadRequest)
			return
		}
		cmd = protocol.Join{NodeID: id, Addr: req.Addr, Status: req.Status}
	case http.MethodDelete:
		cmd = protocol.Leave{NodeID: id}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := g.handler.Handle(r.Context(), cmd)
	if resp.Code() != protocol.CodeOK {
		writeFailure(w, resp)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps a response code to an HTTP status.
func statusFor(code protocol.Code) int {
	switch code {
	case protocol.CodeOK:
		return http.StatusOK
	case protocol.CodeInvalidName, protocol.CodeInvalidRequest, protocol.CodeProtocolError:
		return http.StatusBadRequest
	case protocol.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeFailure(w http.ResponseWriter, resp protocol.Response) {
	http.Error(w, resp.Message, statusFor(resp.Code()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
