package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// FakeDriver is a scriptable in-memory Driver, grounded in the pack's
// pattern of a mock adapter behind the same interface as the real
// engine. Tests call Push to deliver a message as if the agent had
// produced it, and TriggerPermission to simulate a tool-use gate and
// observe the resulting Decision.
type FakeDriver struct {
	mu       sync.Mutex
	started  bool
	closed   bool
	callback PermissionCallback
	messages chan Message
	err      error

	queries    []string
	interrupts int
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{messages: make(chan Message, 64)}
}

func (d *FakeDriver) Start(ctx context.Context, workingDir string, options map[string]string, callback PermissionCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return fmt.Errorf("driver: already started")
	}
	d.started = true
	d.callback = callback
	return nil
}

func (d *FakeDriver) Query(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.closed {
		return fmt.Errorf("driver: not running")
	}
	d.queries = append(d.queries, text)
	return nil
}

func (d *FakeDriver) Interrupt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interrupts++
	return nil
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.messages)
	return nil
}

func (d *FakeDriver) Messages() <-chan Message {
	return d.messages
}

func (d *FakeDriver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Push delivers raw as the next message on Messages(). It panics if
// called after Close, matching the contract that the real driver never
// sends after its process has exited.
func (d *FakeDriver) Push(raw json.RawMessage) {
	d.messages <- Message{Raw: raw}
}

// Fail closes Messages() and records err as the reason, simulating a
// fatal driver exception.
func (d *FakeDriver) Fail(err error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.err = err
	d.mu.Unlock()
	close(d.messages)
}

// TriggerPermission invokes the driver's registered permission callback
// on the calling goroutine, exactly as the real driver would call it
// synchronously from its own message-reading loop. It returns the
// resulting Decision once the callback unblocks.
func (d *FakeDriver) TriggerPermission(ctx context.Context, toolName string, toolInput json.RawMessage) Decision {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	if cb == nil {
		panic("driver: TriggerPermission called before Start")
	}
	return cb(ctx, toolName, toolInput)
}

// Queries returns every string passed to Query so far, in order.
func (d *FakeDriver) Queries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.queries))
	copy(out, d.queries)
	return out
}

// InterruptCount returns how many times Interrupt has been called.
func (d *FakeDriver) InterruptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interrupts
}
