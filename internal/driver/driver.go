// Package driver defines the boundary between a Session and the AI-agent
// engine it supervises. The engine itself is an external collaborator;
// this package only specifies the interface a Session drives and ships
// two concrete implementations so the daemon is runnable end to end: a
// pty-attached subprocess driver for the real agent CLI, and an
// in-memory fake for tests and local demos.
package driver

import (
	"context"
	"encoding/json"
)

// Decision is the outcome a PermissionCallback must produce, mirroring
// the driver interface's allow/deny result shape.
type Decision struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
	Message      string          `json:"message,omitempty"`
	Interrupt    bool            `json:"interrupt"`
}

const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// PermissionCallback is invoked synchronously by a running driver
// whenever a tool use requires human approval. Implementations publish
// a pending permission and block until a decision arrives; the driver
// is suspended for exactly that long.
type PermissionCallback func(ctx context.Context, toolName string, toolInput json.RawMessage) Decision

// Message is one opaque, driver-produced line of the agent conversation.
// Session wraps each in an Event unchanged; it never interprets the
// payload beyond peeking at a handful of well-known fields (type,
// subtype, session_id, total_cost_usd) needed to drive its state
// machine.
type Message struct {
	Raw json.RawMessage
}

// Driver is the opaque AI-agent engine a Session owns. Exactly one of
// Start's goroutines delivers to the Messages channel; Query and
// Interrupt may be called concurrently with that delivery but the
// driver itself is responsible for serializing its own internal state.
type Driver interface {
	// Start begins the agent run in workingDir with the given
	// driver-specific options, wiring callback as the permission
	// gate. It returns once the underlying process/engine has been
	// launched; messages begin arriving on Messages() afterward.
	Start(ctx context.Context, workingDir string, options map[string]string, callback PermissionCallback) error

	// Query submits one user turn. It must not be called again for
	// the same driver until a terminal result message has been
	// observed for the previous turn (the Session enforces this).
	Query(text string) error

	// Interrupt cancels the current turn. Safe to call in any state,
	// including when no turn is in flight.
	Interrupt() error

	// Close releases all resources associated with the driver. After
	// Close, Messages() is drained and closed.
	Close() error

	// Messages returns the channel of driver-produced lines. It is
	// closed when the driver exits, whether cleanly or on fatal
	// error; Err returns the reason after closure.
	Messages() <-chan Message

	// Err returns the error that caused Messages() to close, or nil
	// if the driver was closed deliberately via Close.
	Err() error
}
