// Package protocol implements the wormhole wire protocol: tagged JSON
// frames exchanged between a client (typically a phone) and the daemon
// over a WebSocket connection. Every frame is a single JSON object keyed
// by "type"; fields use snake_case on the wire.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client -> daemon frame type tags.
const (
	TypeHello               = "hello"
	TypeSubscribe           = "subscribe"
	TypeInput               = "input"
	TypePermissionResponse  = "permission_response"
	TypeControl             = "control"
	TypeSync                = "sync"
)

// Daemon -> client frame type tags.
const (
	TypeWelcome           = "welcome"
	TypeEvent             = "event"
	TypePermissionRequest = "permission_request"
	TypeSyncResponse      = "sync_response"
	TypeError             = "error"
)

// Error codes, exact strings per spec.md §6.2.
const (
	ErrSessionExists      = "SESSION_EXISTS"
	ErrSessionNotFound    = "SESSION_NOT_FOUND"
	ErrDriverError        = "DRIVER_ERROR"
	ErrPermissionTimeout  = "PERMISSION_TIMEOUT"
	ErrWebSocketError     = "WEBSOCKET_ERROR"
	ErrInvalidMessage     = "INVALID_MESSAGE"
	ErrNotSubscribed      = "NOT_SUBSCRIBED"
	ErrBackpressure       = "BACKPRESSURE"
)

// SessionSelector is either the wildcard "*" or a concrete list of
// session names; it decodes from either a JSON string or a JSON array.
type SessionSelector struct {
	All   bool
	Names []string
}

func (s SessionSelector) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal("*")
	}
	return json.Marshal(s.Names)
}

func (s *SessionSelector) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != "*" {
			return fmt.Errorf("protocol: invalid sessions selector %q", asString)
		}
		s.All = true
		s.Names = nil
		return nil
	}
	var asList []string
	if err := json.Unmarshal(data, &asList); err != nil {
		return fmt.Errorf("protocol: invalid sessions selector: %w", err)
	}
	s.All = false
	s.Names = asList
	return nil
}

// Decision values accepted by PermissionResponse.decision.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Control actions accepted by Control.action.
const (
	ActionInterrupt = "interrupt"
	ActionCompact   = "compact"
	ActionClear     = "clear"
	ActionPlan      = "plan"
)

// --- Client -> daemon frames ---

type Hello struct {
	Type          string `json:"type"`
	ClientVersion string `json:"client_version"`
	DeviceName    string `json:"device_name"`
}

type Subscribe struct {
	Type     string          `json:"type"`
	Sessions SessionSelector `json:"sessions"`
}

type Input struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Text    string `json:"text"`
}

type PermissionResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
}

type Control struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Action  string `json:"action"`
}

type Sync struct {
	Type             string `json:"type"`
	Session          string `json:"session"`
	LastSeenSequence int64  `json:"last_seen_sequence"`
}

// --- Daemon -> client frames ---

// SessionSnapshot's wire field for the driver-assigned session id is
// named claude_session_id, not driver_session_id, per spec.md's literal
// welcome wire contract — see DESIGN.md.
type SessionSnapshot struct {
	Name               string           `json:"name"`
	Directory          string           `json:"directory"`
	State              string           `json:"state"`
	DriverSessionID    *string          `json:"claude_session_id"`
	CostUSD            float64          `json:"cost_usd"`
	LastActivity       *Time            `json:"last_activity,omitempty"`
	PendingPermissions []PermissionInfo `json:"pending_permissions,omitempty"`
}

type PermissionInfo struct {
	RequestID   string          `json:"request_id"`
	ToolName    string          `json:"tool_name"`
	ToolInput   json.RawMessage `json:"tool_input"`
	SessionName string          `json:"session_name"`
	CreatedAt   Time            `json:"created_at"`
}

type Welcome struct {
	Type          string            `json:"type"`
	ServerVersion string            `json:"server_version"`
	MachineName   string            `json:"machine_name"`
	Sessions      []SessionSnapshot `json:"sessions"`
}

type Event struct {
	Type     string          `json:"type"`
	Session  string          `json:"session"`
	Sequence int64           `json:"sequence"`
	Timestamp Time           `json:"timestamp"`
	Message  json.RawMessage `json:"message"`
}

type PermissionRequest struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"request_id"`
	ToolName    string          `json:"tool_name"`
	ToolInput   json.RawMessage `json:"tool_input"`
	SessionName string          `json:"session_name"`
}

type SyncResponse struct {
	Type               string           `json:"type"`
	Session            string           `json:"session"`
	Events             []Event          `json:"events"`
	Truncated          bool             `json:"truncated,omitempty"`
	PendingPermissions []PermissionInfo `json:"pending_permissions,omitempty"`
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Session string `json:"session,omitempty"`
}

func NewError(code, message, session string) Error {
	return Error{Type: TypeError, Code: code, Message: message, Session: session}
}

func NewWelcome(serverVersion, machineName string, sessions []SessionSnapshot) Welcome {
	return Welcome{Type: TypeWelcome, ServerVersion: serverVersion, MachineName: machineName, Sessions: sessions}
}

func NewEvent(session string, sequence int64, timestamp Time, message json.RawMessage) Event {
	return Event{Type: TypeEvent, Session: session, Sequence: sequence, Timestamp: timestamp, Message: message}
}

func NewPermissionRequest(requestID, toolName string, toolInput json.RawMessage, sessionName string) PermissionRequest {
	return PermissionRequest{Type: TypePermissionRequest, RequestID: requestID, ToolName: toolName, ToolInput: toolInput, SessionName: sessionName}
}

func NewSyncResponse(session string, events []Event, truncated bool, pending []PermissionInfo) SyncResponse {
	return SyncResponse{Type: TypeSyncResponse, Session: session, Events: events, Truncated: truncated, PendingPermissions: pending}
}
