// Package registry implements the Daemon Registry (C7): the global,
// process-singleton session table keyed independently by name and by
// absolute directory path, consumed by the control socket and the
// client endpoint's dispatch loop.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/wormhole-dev/wormhole/internal/driver"
	"github.com/wormhole-dev/wormhole/internal/hub"
	"github.com/wormhole-dev/wormhole/internal/ids"
	"github.com/wormhole-dev/wormhole/internal/permission"
	"github.com/wormhole-dev/wormhole/internal/protocol"
	"github.com/wormhole-dev/wormhole/internal/session"
)

// ErrSessionExists is returned by Open when either the requested name
// or directory is already bound to a session.
var ErrSessionExists = errors.New("registry: session already exists")

// ErrNotFound is returned by Close and Get for an unknown name.
var ErrNotFound = errors.New("registry: session not found")

// DriverFactory constructs a fresh, unstarted Driver for a session
// about to be opened. Production wiring passes one backed by
// driver.NewPTYDriver; tests pass one backed by driver.NewFakeDriver.
type DriverFactory func(name, directory string) (driver.Driver, error)

// Status is a summary of daemon status. The control socket's status
// RPC does not use it; it answers with controlsocket.StatusResponse
// (port, pid, version and session count).
type Status struct {
	Port          int
	PID           int
	Version       string
	MachineName   string
	SessionCount  int
	ConnectedAt   time.Time
}

// Registry is safe for concurrent use. Mutations hold mu; List holds
// the same mutex only long enough to copy the session set, then builds
// its snapshot outside the lock.
type Registry struct {
	mu          sync.Mutex
	byName      map[string]*session.Session
	byDirectory map[string]*session.Session

	broker        *permission.Broker
	hub           *hub.Hub
	logger        *log.Logger
	ringCapacity  int
	newDriver     DriverFactory
	serverVersion string
	machineName   string
	startedAt     time.Time
}

// Config collects Registry's constructor dependencies.
type Config struct {
	Broker        *permission.Broker
	Hub           *hub.Hub
	Logger        *log.Logger
	RingCapacity  int
	NewDriver     DriverFactory
	ServerVersion string
	MachineName   string
}

func New(cfg Config) *Registry {
	return &Registry{
		byName:        make(map[string]*session.Session),
		byDirectory:   make(map[string]*session.Session),
		broker:        cfg.Broker,
		hub:           cfg.Hub,
		logger:        cfg.Logger,
		ringCapacity:  cfg.RingCapacity,
		newDriver:     cfg.NewDriver,
		serverVersion: cfg.ServerVersion,
		machineName:   cfg.MachineName,
		startedAt:     time.Now(),
	}
}

// Open creates and starts a new Session bound to directory. If name is
// empty, one is auto-generated as `<basename(dir)>-<4 hex chars>`,
// retried on collision. Either key already being taken fails the whole
// call with ErrSessionExists before any driver is constructed.
func (r *Registry) Open(ctx context.Context, name, directory string, options map[string]string) (*session.Session, error) {
	directory, err := filepath.Abs(directory)
	if err != nil {
		return nil, fmt.Errorf("registry: resolve directory: %w", err)
	}

	r.mu.Lock()
	if name == "" {
		name = r.generateNameLocked(directory)
	} else if _, taken := r.byName[name]; taken {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	if _, taken := r.byDirectory[directory]; taken {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.mu.Unlock()

	d, err := r.newDriver(name, directory)
	if err != nil {
		return nil, fmt.Errorf("registry: construct driver: %w", err)
	}

	s := session.New(name, directory, d, r.broker, r.hub, r.ringCapacity, options, r.logger)
	if err := s.Start(ctx); err != nil {
		return nil, fmt.Errorf("registry: start session: %w", err)
	}

	r.mu.Lock()
	if _, taken := r.byName[name]; taken {
		r.mu.Unlock()
		_ = s.Close()
		return nil, ErrSessionExists
	}
	if _, taken := r.byDirectory[directory]; taken {
		r.mu.Unlock()
		_ = s.Close()
		return nil, ErrSessionExists
	}
	r.byName[name] = s
	r.byDirectory[directory] = s
	r.mu.Unlock()

	return s, nil
}

// generateNameLocked must be called with mu held.
func (r *Registry) generateNameLocked(directory string) string {
	base := filepath.Base(directory)
	for {
		candidate := fmt.Sprintf("%s-%s", base, ids.ShortHex(4))
		if _, taken := r.byName[candidate]; !taken {
			return candidate
		}
	}
}

// Close tears a session down and removes it from both indexes.
func (r *Registry) Close(name string) error {
	r.mu.Lock()
	s, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.byName, name)
	delete(r.byDirectory, s.Directory())
	r.mu.Unlock()

	return s.Close()
}

// Get returns the session registered under name.
func (r *Registry) Get(name string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[name]
	return s, ok
}

// List returns a snapshot of every open session's SessionSnapshot, in
// no particular order.
func (r *Registry) List() []protocol.SessionSnapshot {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.byName))
	for _, s := range r.byName {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]protocol.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Count returns the number of currently open sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// CloseAll tears down every open session, used during daemon shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.byName))
	for _, s := range r.byName {
		sessions = append(sessions, s)
	}
	r.byName = make(map[string]*session.Session)
	r.byDirectory = make(map[string]*session.Session)
	r.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil && r.logger != nil {
			r.logger.Printf("registry: close session %s: %v", s.Name(), err)
		}
	}
}

// MachineName, ServerVersion and StartedAt are fixed at construction
// time. ServerVersion backs the control socket's status RPC; the
// welcome frame takes its version and machine name from wsapi.Config.
func (r *Registry) MachineName() string   { return r.machineName }
func (r *Registry) ServerVersion() string { return r.serverVersion }
func (r *Registry) StartedAt() time.Time  { return r.startedAt }
