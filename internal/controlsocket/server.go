package controlsocket

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/wormhole-dev/wormhole/internal/registry"
)

// Server answers one request per connection on a Unix domain socket,
// delegating every operation to a Registry. It owns no session state
// of its own.
type Server struct {
	path     string
	registry *registry.Registry
	logger   *log.Logger
	port     int

	listener net.Listener
}

// Config collects Server's constructor dependencies.
type Config struct {
	Path     string
	Registry *registry.Registry
	Logger   *log.Logger
	Port     int
}

func New(cfg Config) *Server {
	return &Server{
		path:     cfg.Path,
		registry: cfg.Registry,
		logger:   cfg.Logger,
		port:     cfg.Port,
	}
}

// Listen creates the socket file, clearing any stale one left behind
// by a previous, uncleanly-terminated daemon, and restricts it to the
// owner, matching crab-gateway's admin socket setup.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("controlsocket: create socket directory: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("controlsocket: remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("controlsocket: listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("controlsocket: chmod socket: %w", err)
	}
	s.listener = listener
	return nil
}

// Serve accepts connections until the listener is closed. Each
// connection is handled on its own goroutine and carries exactly one
// request/response exchange before being closed, mirroring the
// original control client's open-write-read-close usage.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("controlsocket: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Close shuts the listener down and removes the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) {
		s.logf("controlsocket: remove socket on close: %v", rmErr)
	}
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 1<<20)
	line, err := reader.ReadString('\n')
	if err != nil && len(strings.TrimSpace(line)) == 0 {
		return
	}

	resp := s.dispatch(context.Background(), []byte(strings.TrimSpace(line)))
	data, err := json.Marshal(resp)
	if err != nil {
		s.logf("controlsocket: marshal response: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logf("controlsocket: write response: %v", err)
	}
}

func (s *Server) dispatch(ctx context.Context, raw []byte) any {
	req, err := DecodeRequest(raw)
	if err != nil {
		return newError("INVALID_MESSAGE", err.Error())
	}

	switch r := req.(type) {
	case OpenSessionRequest:
		return s.handleOpen(ctx, r)
	case CloseSessionRequest:
		return s.handleClose(r)
	case ListSessionsRequest:
		return s.handleList()
	case GetStatusRequest:
		return s.handleStatus()
	case ResolveAttachRequest:
		return s.handleResolveAttach(r)
	default:
		return newError("INVALID_MESSAGE", fmt.Sprintf("unhandled request %T", req))
	}
}

func (s *Server) handleOpen(ctx context.Context, req OpenSessionRequest) any {
	sess, err := s.registry.Open(ctx, req.Name, req.Directory, req.Options)
	if err != nil {
		if errors.Is(err, registry.ErrSessionExists) {
			return newError("SESSION_EXISTS", fmt.Sprintf("a session already exists for name %q or directory %q", req.Name, req.Directory))
		}
		return newError("DRIVER_ERROR", err.Error())
	}
	return SuccessResponse{Type: TypeSuccess, Data: map[string]any{"name": sess.Name()}}
}

func (s *Server) handleClose(req CloseSessionRequest) any {
	if err := s.registry.Close(req.Name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return newError("SESSION_NOT_FOUND", fmt.Sprintf("no session named %q", req.Name))
		}
		return newError("DRIVER_ERROR", err.Error())
	}
	return SuccessResponse{Type: TypeSuccess}
}

func (s *Server) handleList() any {
	snapshots := s.registry.List()
	sessions := make([]SessionInfo, 0, len(snapshots))
	for _, snap := range snapshots {
		sessions = append(sessions, SessionInfo{
			Name:            snap.Name,
			Directory:       snap.Directory,
			State:           snap.State,
			DriverSessionID: snap.DriverSessionID,
			CostUSD:         snap.CostUSD,
		})
	}
	return SessionListResponse{Type: TypeSessionList, Sessions: sessions}
}

func (s *Server) handleStatus() any {
	return StatusResponse{
		Type:     TypeStatus,
		Port:     s.port,
		PID:      os.Getpid(),
		Version:  s.registry.ServerVersion(),
		Sessions: s.registry.Count(),
	}
}

func (s *Server) handleResolveAttach(req ResolveAttachRequest) any {
	sess, ok := s.registry.Get(req.Name)
	if !ok {
		return newError("SESSION_NOT_FOUND", fmt.Sprintf("no session named %q", req.Name))
	}
	snap := sess.Snapshot()
	if snap.DriverSessionID == nil {
		return newError("DRIVER_ERROR", fmt.Sprintf("session %q has not yet produced a driver session id", req.Name))
	}
	return ResolveAttachResponse{Type: TypeResolveResult, DriverSessionID: *snap.DriverSessionID}
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
