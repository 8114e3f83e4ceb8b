// Package controlsocket implements the Control Socket (C9): a local,
// owner-only Unix domain socket carrying one newline-delimited JSON
// request and one newline-delimited JSON response per connection, the
// same framing wormhole's original control client used. Requests are
// tagged by a top-level "type" field; so are success responses. Errors
// are reported as {"error": {"code", "message"}}, per spec.md §6.4,
// rather than the tagged envelope the request side uses, so a client
// can distinguish failure without first switching on "type".
package controlsocket

import (
	"encoding/json"
	"fmt"
)

// Request type tags.
const (
	TypeOpenSession   = "open_session"
	TypeCloseSession  = "close_session"
	TypeListSessions  = "list_sessions"
	TypeGetStatus     = "get_status"
	TypeResolveAttach = "resolve_attach"
)

// Response type tags for the success path. Failures use ErrorEnvelope
// instead of one of these.
const (
	TypeSuccess       = "success"
	TypeSessionList   = "session_list"
	TypeStatus        = "status"
	TypeResolveResult = "resolve_attach_result"
)

type OpenSessionRequest struct {
	Type      string            `json:"type"`
	Name      string            `json:"name,omitempty"`
	Directory string            `json:"directory"`
	Options   map[string]string `json:"options,omitempty"`
}

type CloseSessionRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type ListSessionsRequest struct {
	Type string `json:"type"`
}

type GetStatusRequest struct {
	Type string `json:"type"`
}

// ResolveAttachRequest has no counterpart in the original control
// client; it exists because spec.md §6.4 requires a resolve_attach
// method the rest of this wire format does not otherwise carry. See
// DESIGN.md for why it is grounded directly in spec.md rather than a
// retrieved reference implementation.
type ResolveAttachRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// SessionInfo is one entry of a session_list response. Its wire field
// for the driver-assigned session id is claude_session_id, matching
// the original control client's SessionInfoResponse and the welcome
// frame's SessionSnapshot — see DESIGN.md.
type SessionInfo struct {
	Name            string  `json:"name"`
	Directory       string  `json:"directory"`
	State           string  `json:"state"`
	DriverSessionID *string `json:"claude_session_id"`
	CostUSD         float64 `json:"cost_usd"`
}

type SuccessResponse struct {
	Type    string         `json:"type"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

type SessionListResponse struct {
	Type     string        `json:"type"`
	Sessions []SessionInfo `json:"sessions"`
}

// StatusResponse mirrors spec.md §6.4's status() result exactly:
// {port, pid, version, sessions}.
type StatusResponse struct {
	Type     string `json:"type"`
	Port     int    `json:"port"`
	PID      int    `json:"pid"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// ResolveAttachResponse's wire field is driver_session_id, not
// claude_session_id, unlike SessionInfo and SessionSnapshot above —
// spec.md's §6.4 gives resolve_attach's response shape literally as
// {driver_session_id}, and resolve_attach itself has no counterpart in
// the original control client to resolve the naming against, so this
// one RPC keeps the name spec.md actually specifies. See DESIGN.md.
type ResolveAttachResponse struct {
	Type            string `json:"type"`
	DriverSessionID string `json:"driver_session_id"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func newError(code, message string) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorBody{Code: code, Message: message}}
}

// typeTag peeks at a request's "type" field before deciding which
// concrete struct to decode into, the same dispatch-by-tag approach
// protocol.DecodeClientFrame uses for the WebSocket wire format.
type typeTag struct {
	Type string `json:"type"`
}

// DecodeRequest dispatches raw to one of the Request types by its
// "type" field.
func DecodeRequest(raw []byte) (any, error) {
	var tag typeTag
	if err := json.Unmarshal(raw, &tag); err != nil {
		return nil, fmt.Errorf("controlsocket: decode request envelope: %w", err)
	}
	switch tag.Type {
	case TypeOpenSession:
		var req OpenSessionRequest
		err := json.Unmarshal(raw, &req)
		return req, err
	case TypeCloseSession:
		var req CloseSessionRequest
		err := json.Unmarshal(raw, &req)
		return req, err
	case TypeListSessions:
		var req ListSessionsRequest
		err := json.Unmarshal(raw, &req)
		return req, err
	case TypeGetStatus:
		var req GetStatusRequest
		err := json.Unmarshal(raw, &req)
		return req, err
	case TypeResolveAttach:
		var req ResolveAttachRequest
		err := json.Unmarshal(raw, &req)
		return req, err
	default:
		return nil, fmt.Errorf("controlsocket: unknown request type %q", tag.Type)
	}
}
