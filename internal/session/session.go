// Package session implements the Session component (C4): one per
// working directory, owning a driver instance, the state machine
// described in SPEC_FULL.md §4.4, an Event Ring, and the session's
// pending-permissions set (held by the shared Permission Broker, keyed
// by this session's name).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/wormhole-dev/wormhole/internal/driver"
	"github.com/wormhole-dev/wormhole/internal/permission"
	"github.com/wormhole-dev/wormhole/internal/protocol"
	"github.com/wormhole-dev/wormhole/internal/ring"
)

// State is one of the four session states from SPEC_FULL.md §4.4.
type State string

const (
	StateIdle             State = "idle"
	StateWorking          State = "working"
	StateAwaitingApproval State = "awaiting_approval"
	StateError            State = "error"
)

var (
	// ErrBusy is returned by Query/Control when a turn is already in
	// flight; at most one driver call may be in flight per session.
	ErrBusy = errors.New("session: busy")
	// ErrClosed is returned by any operation on a torn-down session.
	ErrClosed = errors.New("session: closed")
	// ErrQueueFull is returned when the inbound task queue has no
	// room, mirroring crab-gateway's scheduler queue-full signal.
	ErrQueueFull = errors.New("session: queue full")
)

// Notifier is the Session's view of the Subscription Hub. Session
// depends on this narrow interface rather than the hub package itself
// so the two packages never import one another.
type Notifier interface {
	NotifyEvent(sessionName string, event protocol.Event)
	NotifyPermissionRequest(sessionName string, info protocol.PermissionInfo)
	NotifyError(sessionName string, code, message string)
}

// Session is safe for concurrent use. State transitions are guarded by
// mu; event append uses the Ring's own internal locking and needs no
// additional synchronization here.
type Session struct {
	name      string
	directory string

	driver  driver.Driver
	broker  *permission.Broker
	hub     Notifier
	logger  *log.Logger
	ring    *ring.Ring

	startupOptions map[string]string

	mu              sync.Mutex
	state           State
	driverSessionID *string
	costUSD         float64
	lastActivity    time.Time
	closed          bool

	tasks chan func()
	done  chan struct{}
}

// New constructs a Session. The session is not yet running a driver;
// call Start to launch it.
func New(name, directory string, d driver.Driver, broker *permission.Broker, hub Notifier, ringCapacity int, startupOptions map[string]string, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Session{
		name:           name,
		directory:      directory,
		driver:         d,
		broker:         broker,
		hub:            hub,
		logger:         logger,
		ring:           ring.New(ringCapacity),
		startupOptions: startupOptions,
		state:          StateIdle,
		tasks:          make(chan func(), 32),
		done:           make(chan struct{}),
	}
}

func (s *Session) Name() string      { return s.name }
func (s *Session) Directory() string { return s.directory }
func (s *Session) Ring() *ring.Ring  { return s.ring }

// Start launches the driver and the session's two goroutines: one
// serializing inbound queries/control from tasks, one draining the
// driver's outbound message stream. It returns once the driver has
// accepted the launch; it does not wait for the driver's init message.
func (s *Session) Start(ctx context.Context) error {
	if err := s.driver.Start(ctx, s.directory, s.startupOptions, s.permissionCallback); err != nil {
		return fmt.Errorf("session %s: driver start: %w", s.name, err)
	}
	go s.drainMessages(ctx)
	go s.runWorker()
	return nil
}

// runWorker is the per-session worker goroutine: one goroutine, one
// buffered channel, lazily nothing — created once at Start and run
// until the session is closed, the same shape as a single key's worker
// in a per-key scheduler.
func (s *Session) runWorker() {
	for {
		select {
		case task, ok := <-s.tasks:
			if !ok {
				return
			}
			task()
		case <-s.done:
			return
		}
	}
}

func (s *Session) enqueue(task func()) error {
	select {
	case s.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Query submits user text as the next turn. It requires the session to
// currently be idle; spec.md's single-flight rule means a turn already
// in progress (working or awaiting_approval) rejects new input.
func (s *Session) Query(text string) error {
	return s.submitTurn(text)
}

// Control dispatches one of the synthetic control actions. interrupt is
// handled specially (safe from any state, including idle, as a no-op);
// plan/compact/clear are delivered as synthetic input text through the
// same channel as Query.
func (s *Session) Control(action string) error {
	switch action {
	case protocol.ActionInterrupt:
		return s.enqueue(func() {
			s.mu.Lock()
			state := s.state
			s.mu.Unlock()
			if state == StateIdle {
				return
			}
			if err := s.driver.Interrupt(); err != nil {
				s.logger.Printf("session %s: interrupt: %v", s.name, err)
			}
		})
	case protocol.ActionCompact:
		return s.submitTurn("/compact")
	case protocol.ActionClear:
		return s.submitTurn("/clear")
	case protocol.ActionPlan:
		return s.submitTurn("/plan")
	default:
		return fmt.Errorf("session: unknown control action %q", action)
	}
}

func (s *Session) submitTurn(text string) error {
	resultCh := make(chan error, 1)
	err := s.enqueue(func() {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			resultCh <- ErrClosed
			return
		}
		if s.state != StateIdle {
			s.mu.Unlock()
			resultCh <- ErrBusy
			return
		}
		s.state = StateWorking
		s.lastActivity = time.Now()
		s.mu.Unlock()

		if err := s.driver.Query(text); err != nil {
			s.mu.Lock()
			s.state = StateIdle
			s.mu.Unlock()
			resultCh <- fmt.Errorf("session %s: query: %w", s.name, err)
			return
		}
		resultCh <- nil
	})
	if err != nil {
		return err
	}
	// The task may already be sitting in s.tasks when Close runs
	// concurrently and closes s.done; runWorker's select can then take
	// the done branch instead of draining it, so resultCh would never
	// receive. Select on s.done here too rather than blocking forever.
	select {
	case err := <-resultCh:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// permissionCallback is passed to the driver as its PermissionCallback.
// It is invoked synchronously on the driver's own message-reading
// goroutine (never on the worker goroutine), so a suspended approval
// never stalls Query/Control intake for a different, already-completed
// turn and never stalls event ingestion for other sessions.
func (s *Session) permissionCallback(ctx context.Context, toolName string, toolInput json.RawMessage) driver.Decision {
	requestID, waiter, pending := s.broker.Open(s.name, toolName, toolInput)

	s.mu.Lock()
	s.state = StateAwaitingApproval
	s.mu.Unlock()

	s.hub.NotifyPermissionRequest(s.name, protocol.PermissionInfo{
		RequestID:   requestID,
		ToolName:    pending.ToolName,
		ToolInput:   toolInput,
		SessionName: s.name,
		CreatedAt:   protocol.NewTime(pending.CreatedAt),
	})

	decision := waiter.Wait()

	s.mu.Lock()
	if s.state == StateAwaitingApproval && len(s.broker.Pendings(s.name)) == 0 {
		s.state = StateWorking
	}
	s.mu.Unlock()

	if decision == permission.Deny {
		return driver.Decision{Behavior: driver.BehaviorDeny, Message: "User denied", Interrupt: false}
	}
	return driver.Decision{Behavior: driver.BehaviorAllow, UpdatedInput: toolInput}
}

type messagePeek struct {
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	SessionID    string   `json:"session_id"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
}

// drainMessages is the second per-session goroutine: it owns the
// driver's outbound stream for the session's entire lifetime, wrapping
// every message into the Ring and notifying the Hub, and only exits
// when the driver's Messages channel closes (clean close or fatal
// driver failure).
func (s *Session) drainMessages(ctx context.Context) {
	for msg := range s.driver.Messages() {
		s.ingest(msg.Raw)
	}
	if err := s.driver.Err(); err != nil {
		s.fail(err)
	}
}

func (s *Session) ingest(raw json.RawMessage) {
	now := time.Now()
	seq := s.ring.Append(now, raw)

	var peek messagePeek
	_ = json.Unmarshal(raw, &peek)

	s.mu.Lock()
	s.lastActivity = now
	switch {
	case peek.Type == "system" && peek.Subtype == "init" && peek.SessionID != "":
		id := peek.SessionID
		s.driverSessionID = &id
	case peek.Type == "result":
		if peek.TotalCostUSD != nil {
			s.costUSD += *peek.TotalCostUSD
		}
		if s.state == StateWorking {
			s.state = StateIdle
		}
	}
	s.mu.Unlock()

	s.hub.NotifyEvent(s.name, protocol.NewEvent(s.name, seq, protocol.NewTime(now), raw))
}

// fail transitions the session to error state on an unrecoverable
// driver exception: pending permissions are denied, further driver
// operations are rejected, and an error frame is fanned out.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateError
	s.mu.Unlock()

	s.broker.FailAll(s.name)
	s.logger.Printf("session %s: driver failed: %v", s.name, err)
	s.hub.NotifyError(s.name, protocol.ErrDriverError, err.Error())
}

// Close tears the session down: stops the worker, closes the driver,
// and denies every pending permission. The Ring is released with the
// Session; callers (the Registry) are responsible for dropping their
// own reference.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.driver.Close(); err != nil {
		s.logger.Printf("session %s: driver close: %v", s.name, err)
	}
	s.broker.FailAll(s.name)
	return nil
}

// Snapshot returns the session's current SessionSnapshot for inclusion
// in welcome and sync_response frames, including any pending
// permissions per SPEC_FULL.md §9's resolution of that open question.
func (s *Session) Snapshot() protocol.SessionSnapshot {
	s.mu.Lock()
	state := s.state
	driverSessionID := s.driverSessionID
	cost := s.costUSD
	lastActivity := s.lastActivity
	s.mu.Unlock()

	var lastActivityPtr *protocol.Time
	if !lastActivity.IsZero() {
		t := protocol.NewTime(lastActivity)
		lastActivityPtr = &t
	}

	pending := s.broker.Pendings(s.name)
	infos := make([]protocol.PermissionInfo, 0, len(pending))
	for _, p := range pending {
		infos = append(infos, protocol.PermissionInfo{
			RequestID:   p.RequestID,
			ToolName:    p.ToolName,
			ToolInput:   p.ToolInput,
			SessionName: p.SessionName,
			CreatedAt:   protocol.NewTime(p.CreatedAt),
		})
	}

	return protocol.SessionSnapshot{
		Name:               s.name,
		Directory:          s.directory,
		State:              string(state),
		DriverSessionID:    driverSessionID,
		CostUSD:            cost,
		LastActivity:       lastActivityPtr,
		PendingPermissions: infos,
	}
}
