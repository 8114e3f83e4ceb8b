// Package wsapi implements the Client Endpoint (C6): the public
// WebSocket surface a phone or other client dials into. One connection
// serves one client for its lifetime; the handshake, dispatch loop, and
// write pump below mirror the hello/upgrade/fan-out shape crab-gateway
// uses for its own pairing WebSocket in internal/httpapi, adapted from
// a one-shot pairing exchange to a long-lived session stream.
package wsapi

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wormhole-dev/wormhole/internal/hub"
	"github.com/wormhole-dev/wormhole/internal/ids"
	"github.com/wormhole-dev/wormhole/internal/permission"
	"github.com/wormhole-dev/wormhole/internal/protocol"
	"github.com/wormhole-dev/wormhole/internal/registry"
)

const (
	defaultReadLimit = 1 << 20
	writeWait        = 10 * time.Second
)

// Server answers /healthz and /v1/session over plain HTTP and
// WebSocket, respectively.
type Server struct {
	logger        *log.Logger
	registry      *registry.Registry
	hub           *hub.Hub
	broker        *permission.Broker
	serverVersion string
	machineName   string
	upgrader      websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// Config collects Server's constructor dependencies.
type Config struct {
	Logger        *log.Logger
	Registry      *registry.Registry
	Hub           *hub.Hub
	Broker        *permission.Broker
	ServerVersion string
	MachineName   string
}

func New(cfg Config) *Server {
	s := &Server{
		logger:        cfg.Logger,
		registry:      cfg.Registry,
		hub:           cfg.Hub,
		broker:        cfg.Broker,
		serverVersion: cfg.ServerVersion,
		machineName:   cfg.MachineName,
		upgrader:      websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed},
		conns:         make(map[string]*websocket.Conn),
	}
	return s
}

// Handler returns the mux backing both routes, for use with
// httptest.NewServer in tests or wrapped in a custom *http.Server in
// production, the same split crab-gateway's httpapi package draws
// between constructing its mux and binding it to an address.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/session", s.handleSession)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("wsapi: upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(defaultReadLimit)

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	frame, decodeErr := protocol.DecodeClientFrame(raw)
	hello, ok := frame.(protocol.Hello)
	if decodeErr != nil || !ok {
		s.writeDirect(conn, protocol.NewError(protocol.ErrInvalidMessage, "first frame must be hello", ""))
		return
	}

	clientID := ids.New()
	client := s.hub.AddClient(clientID, hello.DeviceName, hello.ClientVersion)
	s.registerConn(clientID, conn)
	defer func() {
		s.unregisterConn(clientID)
		s.hub.RemoveClient(clientID)
	}()

	done := make(chan struct{})
	go s.writePump(conn, client, done)
	defer close(done)

	welcome := protocol.NewWelcome(s.serverVersion, s.machineName, s.registry.List())
	if !s.sendDirect(client, welcome) {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(client, raw)
	}
}

func (s *Server) writePump(conn *websocket.Conn, client *hub.Client, done <-chan struct{}) {
	for {
		select {
		case frame, ok := <-client.Outbound():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// dispatch routes one client->daemon frame to the Hub, a Session, or
// the Broker, per spec.md §4.1's dispatch loop. Decode or routing
// failures answer with an error frame; they never close the
// connection, since framing itself is intact.
func (s *Server) dispatch(client *hub.Client, raw []byte) {
	frame, err := protocol.DecodeClientFrame(raw)
	if err != nil {
		s.sendDirect(client, protocol.NewError(protocol.ErrInvalidMessage, err.Error(), ""))
		return
	}

	switch msg := frame.(type) {
	case protocol.Hello:
		s.sendDirect(client, protocol.NewError(protocol.ErrInvalidMessage, "hello may only be sent once, as the first frame", ""))
	case protocol.Subscribe:
		if err := s.hub.Subscribe(client.ID, msg.Sessions); err != nil {
			s.sendDirect(client, protocol.NewError(protocol.ErrInvalidMessage, err.Error(), ""))
		}
	case protocol.Input:
		s.handleInput(client, msg)
	case protocol.Control:
		s.handleControl(client, msg)
	case protocol.PermissionResponse:
		s.handlePermissionResponse(client, msg)
	case protocol.Sync:
		s.handleSync(client, msg)
	default:
		s.sendDirect(client, protocol.NewError(protocol.ErrInvalidMessage, "unhandled frame", ""))
	}
}

func (s *Server) handleInput(client *hub.Client, msg protocol.Input) {
	sess, ok := s.registry.Get(msg.Session)
	if !ok {
		s.sendDirect(client, protocol.NewError(protocol.ErrSessionNotFound, "no session named "+msg.Session, msg.Session))
		return
	}
	if err := sess.Query(msg.Text); err != nil {
		s.sendDirect(client, protocol.NewError(protocol.ErrDriverError, err.Error(), msg.Session))
	}
}

func (s *Server) handleControl(client *hub.Client, msg protocol.Control) {
	sess, ok := s.registry.Get(msg.Session)
	if !ok {
		s.sendDirect(client, protocol.NewError(protocol.ErrSessionNotFound, "no session named "+msg.Session, msg.Session))
		return
	}
	if err := sess.Control(msg.Action); err != nil {
		s.sendDirect(client, protocol.NewError(protocol.ErrDriverError, err.Error(), msg.Session))
	}
}

func (s *Server) handlePermissionResponse(client *hub.Client, msg protocol.PermissionResponse) {
	decision := permission.Deny
	if msg.Decision == protocol.DecisionAllow {
		decision = permission.Allow
	}
	if err := s.broker.ResolveAny(msg.RequestID, decision); err != nil {
		s.sendDirect(client, protocol.NewError(protocol.ErrInvalidMessage, "unknown or already-resolved request_id", ""))
	}
}

func (s *Server) handleSync(client *hub.Client, msg protocol.Sync) {
	sess, ok := s.registry.Get(msg.Session)
	if !ok {
		s.sendDirect(client, protocol.NewError(protocol.ErrSessionNotFound, "no session named "+msg.Session, msg.Session))
		return
	}
	if !client.IsSubscribedTo(msg.Session) {
		s.sendDirect(client, protocol.NewError(protocol.ErrNotSubscribed, "sync requires an active subscription to this session", msg.Session))
		return
	}
	pending := sess.Snapshot().PendingPermissions
	resp := s.hub.BuildSyncResponse(msg.Session, sess.Ring(), msg.LastSeenSequence, pending)
	s.sendDirect(client, resp)
}

func (s *Server) sendDirect(client *hub.Client, frame any) bool {
	data, err := protocol.EncodeServerFrame(frame)
	if err != nil {
		s.logf("wsapi: encode frame: %v", err)
		return false
	}
	return client.Send(data)
}

func (s *Server) writeDirect(conn *websocket.Conn, frame any) {
	data, err := protocol.EncodeServerFrame(frame)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Server) registerConn(clientID string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[clientID] = conn
}

func (s *Server) unregisterConn(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, clientID)
}

// CloseConn forcibly closes a client's underlying connection, wired as
// the Hub's onOverflow callback so a backpressured client's read loop
// unblocks instead of waiting on a peer that will never speak again.
func (s *Server) CloseConn(clientID string) {
	s.mu.Lock()
	conn := s.conns[clientID]
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
