package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// DefaultCommand is the agent CLI invocation wormhole shells out to when
// no override is configured, matching the real Claude Agent SDK's
// stdio permission-prompt convention: the subprocess writes a
// distinguished control-request line to stdout and blocks on stdin for
// the matching control-response line before continuing.
var DefaultCommand = []string{
	"claude",
	"--print",
	"--output-format", "stream-json",
	"--input-format", "stream-json",
	"--permission-prompt-tool", "stdio",
}

// controlRequestEnvelope is the shape of the one distinguished line the
// subprocess emits in place of a normal message when it needs a
// permission decision.
type controlRequestEnvelope struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

type controlResponseEnvelope struct {
	Type      string   `json:"type"`
	RequestID string   `json:"request_id"`
	Decision  Decision `json:"decision"`
}

// PTYDriver runs the agent CLI attached to a pseudo-terminal, speaking
// newline-delimited JSON over that pty in both directions. Each message
// line is forwarded verbatim on Messages(); a control_request line
// invokes the permission callback synchronously on the driver's own
// read-loop goroutine, suspending delivery of subsequent messages until
// the callback returns and the matching control_response line has been
// written back.
type PTYDriver struct {
	command []string
	logger  *log.Logger

	mu   sync.Mutex
	ptmx *os.File
	cmd  *exec.Cmd

	messages chan Message
	err      error
	errOnce  sync.Once
}

// NewPTYDriver constructs a PTYDriver. A nil or empty command falls
// back to DefaultCommand. logger may be nil.
func NewPTYDriver(command []string, logger *log.Logger) *PTYDriver {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &PTYDriver{
		command:  command,
		logger:   logger,
		messages: make(chan Message, 64),
	}
}

func (d *PTYDriver) Start(ctx context.Context, workingDir string, options map[string]string, callback PermissionCallback) error {
	args := append([]string{}, d.command[1:]...)
	for k, v := range options {
		args = append(args, "--"+k, v)
	}
	cmd := exec.Command(d.command[0], args...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("driver: pty start: %w", err)
	}

	d.mu.Lock()
	d.ptmx = ptmx
	d.cmd = cmd
	d.mu.Unlock()

	go d.readLoop(ctx, ptmx, callback)
	return nil
}

func (d *PTYDriver) readLoop(ctx context.Context, r io.Reader, callback PermissionCallback) {
	defer close(d.messages)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe controlRequestEnvelope
		if err := json.Unmarshal(line, &probe); err == nil && probe.Type == "control_request" && probe.Subtype == "can_use_tool" {
			decision := callback(ctx, probe.ToolName, probe.ToolInput)
			if err := d.writeControlResponse(probe.RequestID, decision); err != nil {
				d.fail(fmt.Errorf("driver: write control response: %w", err))
				return
			}
			continue
		}

		cp := make(json.RawMessage, len(line))
		copy(cp, line)
		d.messages <- Message{Raw: cp}
	}
	if err := scanner.Err(); err != nil {
		d.fail(fmt.Errorf("driver: read: %w", err))
		return
	}
	d.fail(nil)
}

func (d *PTYDriver) writeControlResponse(requestID string, decision Decision) error {
	resp := controlResponseEnvelope{Type: "control_response", RequestID: requestID, Decision: decision}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	d.mu.Lock()
	ptmx := d.ptmx
	d.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("driver: pty not started")
	}
	_, err = ptmx.Write(data)
	return err
}

func (d *PTYDriver) fail(err error) {
	d.errOnce.Do(func() {
		d.err = err
	})
}

func (d *PTYDriver) Query(text string) error {
	line, err := json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "user_input", Text: text})
	if err != nil {
		return fmt.Errorf("driver: encode query: %w", err)
	}
	return d.writeLine(line)
}

func (d *PTYDriver) Interrupt() error {
	line, err := json.Marshal(struct {
		Type string `json:"type"`
	}{Type: "interrupt"})
	if err != nil {
		return fmt.Errorf("driver: encode interrupt: %w", err)
	}
	return d.writeLine(line)
}

func (d *PTYDriver) writeLine(line []byte) error {
	d.mu.Lock()
	ptmx := d.ptmx
	d.mu.Unlock()
	if ptmx == nil {
		return fmt.Errorf("driver: not started")
	}
	line = append(line, '\n')
	_, err := ptmx.Write(line)
	return err
}

func (d *PTYDriver) Close() error {
	// Record a nil error first so the read error that closing the pty
	// causes in readLoop is not reported by Err as a driver failure.
	d.fail(nil)

	d.mu.Lock()
	ptmx := d.ptmx
	cmd := d.cmd
	d.mu.Unlock()

	if ptmx != nil {
		_ = ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}

func (d *PTYDriver) Messages() <-chan Message {
	return d.messages
}

func (d *PTYDriver) Err() error {
	return d.err
}
