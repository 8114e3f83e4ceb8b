// Package hub implements the Subscription Hub (C5): it tracks each
// connected client's subscribed-session set, fans out session events
// and permission requests to interested clients, and answers catch-up
// queries against a session's Event Ring. It implements
// session.Notifier, so every Session reports through this package
// without either package importing the other's types beyond the
// shared protocol and ring packages.
package hub

import (
	"log"
	"sync"

	"github.com/wormhole-dev/wormhole/internal/protocol"
	"github.com/wormhole-dev/wormhole/internal/ring"
)

// DefaultHighWaterMark is the per-client outbound queue depth from
// SPEC_FULL.md §5's resource bounds; exceeding it drops the client.
const DefaultHighWaterMark = 4096

// Hub is safe for concurrent use.
type Hub struct {
	logger        *log.Logger
	highWaterMark int

	mu      sync.RWMutex
	clients map[string]*Client

	onOverflow func(clientID string)
}

// New constructs a Hub. onOverflow is invoked (outside any Hub lock)
// when a client exceeds its high-water mark, after the client has been
// removed and a BACKPRESSURE frame has been offered to its queue. That
// queue is full at that moment, so the frame is dropped unless the
// writer has freed a slot in between; its delivery is not guaranteed.
// The Client Endpoint wires onOverflow to close the underlying
// transport.
func New(highWaterMark int, logger *log.Logger, onOverflow func(clientID string)) *Hub {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &Hub{
		logger:        logger,
		highWaterMark: highWaterMark,
		clients:       make(map[string]*Client),
		onOverflow:    onOverflow,
	}
}

// AddClient registers a newly connected endpoint and returns its
// handle. The client starts with no subscriptions.
func (h *Hub) AddClient(id, deviceName, clientVersion string) *Client {
	c := newClient(id, deviceName, clientVersion, h.highWaterMark)
	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	return c
}

// ClientCount returns the number of currently connected clients. The
// control socket's status RPC does not report it.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RemoveClient drops a client's subscriptions on disconnect. Per
// SPEC_FULL.md §4.6, this does not cancel any pending permission the
// client had displayed — other clients may still resolve it, or
// session teardown denies it.
func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Subscribe replaces a client's subscription set.
func (h *Hub) Subscribe(clientID string, selector protocol.SessionSelector) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	c.setSubscription(selector)
	return nil
}

// NotifyEvent implements session.Notifier. It fans event out to every
// client currently subscribed to sessionName.
func (h *Hub) NotifyEvent(sessionName string, event protocol.Event) {
	frame, err := protocol.EncodeServerFrame(event)
	if err != nil {
		h.logf("hub: encode event for session %s: %v", sessionName, err)
		return
	}
	h.broadcastTo(sessionName, frame)
}

// NotifyPermissionRequest implements session.Notifier. Per
// SPEC_FULL.md §5's ordering guarantee, this is called by the Session
// before any later event is appended for the same permission, so a
// subscribed client always observes the request ahead of later events.
func (h *Hub) NotifyPermissionRequest(sessionName string, info protocol.PermissionInfo) {
	frame, err := protocol.EncodeServerFrame(protocol.NewPermissionRequest(info.RequestID, info.ToolName, info.ToolInput, info.SessionName))
	if err != nil {
		h.logf("hub: encode permission_request for session %s: %v", sessionName, err)
		return
	}
	h.broadcastTo(sessionName, frame)
}

// NotifyError implements session.Notifier. An error frame is fanned
// out to every client subscribed to the failing session.
func (h *Hub) NotifyError(sessionName string, code, message string) {
	frame, err := protocol.EncodeServerFrame(protocol.NewError(code, message, sessionName))
	if err != nil {
		h.logf("hub: encode error for session %s: %v", sessionName, err)
		return
	}
	h.broadcastTo(sessionName, frame)
}

func (h *Hub) broadcastTo(sessionName string, frame []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.isSubscribedTo(sessionName) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.enqueue(frame) {
			continue
		}
		h.dropForBackpressure(c, sessionName)
	}
}

// dropForBackpressure best-effort-queues a BACKPRESSURE error frame
// (which may itself be dropped if the queue is still full — the client
// is being disconnected regardless) and signals the endpoint to close
// the transport. A slow client must never stall other clients or the
// Session, so this path never blocks.
func (h *Hub) dropForBackpressure(c *Client, sessionName string) {
	if frame, err := protocol.EncodeServerFrame(protocol.NewError(protocol.ErrBackpressure, "client outbound queue exceeded the high-water mark", sessionName)); err == nil {
		c.enqueue(frame)
	}
	h.RemoveClient(c.ID)
	if h.onOverflow != nil {
		h.onOverflow(c.ID)
	}
}

// BuildSyncResponse answers a sync(session, last_seen_sequence) query
// using the session's Ring and currently pending permissions, per
// SPEC_FULL.md §4.5 and §9's resolution to include pending permissions.
func (h *Hub) BuildSyncResponse(sessionName string, r *ring.Ring, lastSeenSequence int64, pending []protocol.PermissionInfo) protocol.SyncResponse {
	raw, truncated := r.SinceWithTruncation(lastSeenSequence)
	events := make([]protocol.Event, 0, len(raw))
	for _, e := range raw {
		events = append(events, protocol.NewEvent(sessionName, e.Sequence, protocol.NewTime(e.Timestamp), e.Payload))
	}
	return protocol.NewSyncResponse(sessionName, events, truncated, pending)
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
