package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/wormhole-dev/wormhole/internal/protocol"
	"github.com/wormhole-dev/wormhole/internal/ring"
)

func drainOne(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func decodeTag(t *testing.T, frame []byte) string {
	t.Helper()
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &tag); err != nil {
		t.Fatalf("decode tag: %v", err)
	}
	return tag.Type
}

func TestWildcardSubscriberReceivesEvent(t *testing.T) {
	h := New(0, nil, nil)
	c := h.AddClient("c1", "phone-a", "1.0.0")
	if err := h.Subscribe("c1", protocol.SessionSelector{All: true}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.NotifyEvent("demo", protocol.NewEvent("demo", 1, protocol.NewTime(time.Now()), json.RawMessage(`{}`)))

	frame := drainOne(t, c)
	if decodeTag(t, frame) != protocol.TypeEvent {
		t.Fatalf("unexpected frame: %s", frame)
	}
}

func TestUnsubscribedClientReceivesNothing(t *testing.T) {
	h := New(0, nil, nil)
	c := h.AddClient("c1", "phone-a", "1.0.0")
	if err := h.Subscribe("c1", protocol.SessionSelector{Names: []string{"other"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.NotifyEvent("demo", protocol.NewEvent("demo", 1, protocol.NewTime(time.Now()), json.RawMessage(`{}`)))

	select {
	case frame := <-c.Outbound():
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNamedSubscriptionReceivesMatchingSessionOnly(t *testing.T) {
	h := New(0, nil, nil)
	c := h.AddClient("c1", "phone-a", "1.0.0")
	if err := h.Subscribe("c1", protocol.SessionSelector{Names: []string{"demo"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.NotifyEvent("other", protocol.NewEvent("other", 1, protocol.NewTime(time.Now()), json.RawMessage(`{}`)))
	h.NotifyEvent("demo", protocol.NewEvent("demo", 1, protocol.NewTime(time.Now()), json.RawMessage(`{}`)))

	frame := drainOne(t, c)
	var decoded protocol.Event
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Session != "demo" {
		t.Fatalf("expected demo, got %s", decoded.Session)
	}
}

func TestBackpressureDropsClientAndSignalsOverflow(t *testing.T) {
	var overflowedID string
	h := New(1, nil, func(clientID string) { overflowedID = clientID })
	_ = h.AddClient("c1", "phone-a", "1.0.0")
	if err := h.Subscribe("c1", protocol.SessionSelector{All: true}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// High-water mark is 1: the first NotifyEvent fills the queue,
	// the second overflows it.
	h.NotifyEvent("demo", protocol.NewEvent("demo", 1, protocol.NewTime(time.Now()), json.RawMessage(`{}`)))
	h.NotifyEvent("demo", protocol.NewEvent("demo", 2, protocol.NewTime(time.Now()), json.RawMessage(`{}`)))

	if overflowedID != "c1" {
		t.Fatalf("expected overflow callback for c1, got %q", overflowedID)
	}

	if err := h.Subscribe("c1", protocol.SessionSelector{All: true}); err != ErrUnknownClient {
		t.Fatalf("expected client to have been removed, got %v", err)
	}
}

func TestPermissionRequestIsDeliveredBeforeLaterEvents(t *testing.T) {
	h := New(0, nil, nil)
	c := h.AddClient("c1", "phone-a", "1.0.0")
	if err := h.Subscribe("c1", protocol.SessionSelector{All: true}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	h.NotifyPermissionRequest("demo", protocol.PermissionInfo{RequestID: "R1", ToolName: "Write", SessionName: "demo"})
	h.NotifyEvent("demo", protocol.NewEvent("demo", 5, protocol.NewTime(time.Now()), json.RawMessage(`{}`)))

	first := decodeTag(t, drainOne(t, c))
	second := decodeTag(t, drainOne(t, c))
	if first != protocol.TypePermissionRequest || second != protocol.TypeEvent {
		t.Fatalf("unexpected order: %s then %s", first, second)
	}
}

func TestBuildSyncResponseReflectsTruncation(t *testing.T) {
	h := New(0, nil, nil)
	r := ring.New(3)
	for i := 0; i < 5; i++ {
		r.Append(time.Now(), json.RawMessage(`{}`))
	}

	resp := h.BuildSyncResponse("demo", r, 0, nil)
	if !resp.Truncated {
		t.Fatalf("expected truncated response")
	}
	if len(resp.Events) != 3 || resp.Events[0].Sequence != 3 {
		t.Fatalf("unexpected events: %+v", resp.Events)
	}
}

func TestBuildSyncResponseIncludesPendingPermissions(t *testing.T) {
	h := New(0, nil, nil)
	r := ring.New(10)
	pending := []protocol.PermissionInfo{{RequestID: "R1", ToolName: "Write", SessionName: "demo"}}

	resp := h.BuildSyncResponse("demo", r, 0, pending)
	if len(resp.PendingPermissions) != 1 || resp.PendingPermissions[0].RequestID != "R1" {
		t.Fatalf("unexpected pending permissions: %+v", resp.PendingPermissions)
	}
}

func TestRemoveClientStopsFutureDelivery(t *testing.T) {
	h := New(0, nil, nil)
	c := h.AddClient("c1", "phone-a", "1.0.0")
	_ = h.Subscribe("c1", protocol.SessionSelector{All: true})
	h.RemoveClient("c1")

	h.NotifyEvent("demo", protocol.NewEvent("demo", 1, protocol.NewTime(time.Now()), json.RawMessage(`{}`)))

	select {
	case frame := <-c.Outbound():
		t.Fatalf("unexpected frame after removal: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}
