package node

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/depot/internal/logging"
	"github.com/dreamware/depot/internal/metrics"
	"github.com/dreamware/depot/internal/protocol"
)

// Handler answers one command. *Dispatcher implements it.
type Handler interface {
	Handle(ctx context.Context, cmd protocol.Command) protocol.Response
}

// ServerConfig holds the TCP command server settings.
type ServerConfig struct {
	Addr           string        // Listen address, e.g. ":7070"
	MaxConnections int           // Connections served at once; further ones wait
	MaxFrameSize   int64         // Largest accepted message body
	IdleTimeout    time.Duration // How long to wait for the next command
	WriteTimeout   time.Duration // How long a response write may take
}

// Server accepts TCP connections and serves the command protocol on each,
// one goroutine per connection.
//
// At most MaxConnections connections are served concurrently. When all
// slots are taken the accept loop stops accepting until one frees up, so
// excess clients queue in the listen backlog instead of consuming memory.
type Server struct {
	cfg     ServerConfig
	handler Handler
	codec   *protocol.Codec

	ln    net.Listener
	slots chan struct{}

	mu      sync.Mutex
	conns   map[*serverConn]struct{}
	closing atomic.Bool
	wg      sync.WaitGroup
}

// serverConn is a tracked connection. busy is set while a command is
// being handled, so Shutdown can tell idle connections apart.
type serverConn struct {
	net.Conn
	writeTimeout time.Duration
	busy         atomic.Bool
}

// Write bounds every write, including the protocol_error reply that
// protocol.Conn sends on its own.
func (sc *serverConn) Write(p []byte) (int, error) {
	if sc.writeTimeout > 0 {
		sc.SetWriteDeadline(time.Now().Add(sc.writeTimeout))
	}
	return sc.Conn.Write(p)
}

// NewServer creates a server. Call Listen and then Serve.
func NewServer(cfg ServerConfig, handler Handler) *Server {
	if cfg.MaxConnections < 1 {
		cfg.MaxConnections = 1
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		codec:   protocol.NewCodec(cfg.MaxFrameSize),
		slots:   make(chan struct{}, cfg.MaxConnections),
		conns:   make(map[*serverConn]struct{}),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the server is
// closed. It returns nil on a clean stop.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	logging.Info("command server listening",
		logging.String("addr", s.ln.Addr().String()),
		logging.Int("max_connections", s.cfg.MaxConnections))

	for {
		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		c, err := s.ln.Accept()
		if err != nil {
			<-s.slots
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Warn("accept failed", logging.Err(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		sc := &serverConn{Conn: c, writeTimeout: s.cfg.WriteTimeout}
		if !s.track(sc) {
			c.Close()
			<-s.slots
			return nil
		}
		go s.serveConn(ctx, sc)
	}
}

// track registers sc, refusing once the server is closing.
func (s *Server) track(sc *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Load() {
		return false
	}
	s.conns[sc] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sc *serverConn) {
	s.mu.Lock()
	delete(s.conns, sc)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) serveConn(ctx context.Context, sc *serverConn) {
	metrics.ConnectionOpened()
	defer func() {
		metrics.ConnectionClosed()
		<-s.slots
		s.untrack(sc)
	}()

	ctx = logging.WithRequestID(ctx, logging.NewRequestID())
	log := logging.WithContext(ctx).With(zap.String("remote", sc.RemoteAddr().String()))
	log.Debug("connection opened")

	conn := protocol.NewConn(sc, s.codec)
	defer conn.Close()

	for {
		if s.closing.Load() {
			return
		}
		if s.cfg.IdleTimeout > 0 {
			sc.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		cmd, err := conn.Next()
		if err != nil {
			s.logReadError(log, err)
			return
		}

		sc.busy.Store(true)
		resp := s.handler.Handle(ctx, cmd)

		err = conn.Reply(resp)
		sc.busy.Store(false)
		if err != nil {
			log.Debug("reply failed", zap.String("kind", cmd.Kind().String()), zap.Error(err))
			return
		}
	}
}

func (s *Server) logReadError(log *zap.Logger, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, protocol.ErrProtocol):
		metrics.RecordProtocolError()
		log.Warn("protocol error, closing connection", zap.Error(err))
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		log.Debug("connection closed by peer")
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Debug("connection idle timeout")
	default:
		log.Warn("connection read failed", zap.Error(err))
	}
}

// Shutdown stops accepting, then waits for in-flight commands to be
// answered before closing their connections. Idle connections are closed
// at once. If ctx expires first, remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeListener()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.closeIdle() {
			s.wg.Wait()
			return nil
		}
		select {
		case <-ctx.Done():
			s.closeAll()
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops the server and closes every connection immediately.
func (s *Server) Close() error {
	err := s.closeListener()
	s.closeAll()
	s.wg.Wait()
	return err
}

func (s *Server) closeListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.Swap(true) || s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// closeIdle closes connections not handling a command and reports whether
// none are left.
func (s *Server) closeIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc := range s.conns {
		if !sc.busy.Load() {
			sc.Close()
		}
	}
	for sc := range s.conns {
		if sc.busy.Load() {
			return false
		}
	}
	return true
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc := range s.conns {
		sc.Close()
	}
}
