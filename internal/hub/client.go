package hub

import (
	"sync"
	"time"

	"github.com/wormhole-dev/wormhole/internal/protocol"
)

// Client is the Hub's handle on one connected endpoint: its
// subscription set and its single outbound queue. All frames destined
// for this client, regardless of which session produced them, flow
// through Outbound, guaranteeing per-client delivery ordering.
type Client struct {
	ID            string
	DeviceName    string
	ClientVersion string
	ConnectedAt   time.Time

	outbound chan []byte

	mu           sync.Mutex
	subscribeAll bool
	subscribed   map[string]struct{}
}

func newClient(id, deviceName, clientVersion string, highWaterMark int) *Client {
	return &Client{
		ID:            id,
		DeviceName:    deviceName,
		ClientVersion: clientVersion,
		ConnectedAt:   time.Now(),
		outbound:      make(chan []byte, highWaterMark),
		subscribed:    make(map[string]struct{}),
	}
}

// Outbound is drained by the Client Endpoint's write goroutine.
func (c *Client) Outbound() <-chan []byte {
	return c.outbound
}

// Send queues a frame meant for this client alone — the welcome frame
// on connect, or a targeted error — bypassing the Hub's per-session
// subscription fan-out. It reports false when the client's queue is
// already full.
func (c *Client) Send(frame []byte) bool {
	return c.enqueue(frame)
}

// enqueue attempts a non-blocking send. It reports false when the
// client's queue is already at its high-water mark.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.outbound <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) setSubscription(selector protocol.SessionSelector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if selector.All {
		c.subscribeAll = true
		c.subscribed = make(map[string]struct{})
		return
	}
	c.subscribeAll = false
	c.subscribed = make(map[string]struct{}, len(selector.Names))
	for _, name := range selector.Names {
		c.subscribed[name] = struct{}{}
	}
}

func (c *Client) isSubscribedTo(session string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeAll {
		return true
	}
	_, ok := c.subscribed[session]
	return ok
}

// IsSubscribedTo reports whether this client's current subscription
// covers session. The Client Endpoint uses it to reject sync() calls
// for sessions the client never subscribed to, per spec.md §4.1.
func (c *Client) IsSubscribedTo(session string) bool {
	return c.isSubscribedTo(session)
}
