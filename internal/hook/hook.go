// Package hook adapts the host tool's lifecycle callbacks to the daemon's
// event protocol. A hook process is short-lived: read one JSON payload from
// stdin, build one event, send it, exit. Transport failures propagate to the
// caller; writing any local fallback would fork the source of truth.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"focusd/internal/ipc"
	"focusd/internal/protocol"
)

// Payload is the JSON the host tool pipes to hook processes. Only the fields
// the event mapping needs are decoded; unknown fields are ignored.
type Payload struct {
	HookEventName    string `json:"hook_event_name"`
	SessionID        string `json:"session_id"`
	Cwd              string `json:"cwd"`
	ToolName         string `json:"tool_name"`
	Trigger          string `json:"trigger"`
	NotificationType string `json:"notification_type"`
	Matcher          string `json:"matcher"`
	StopHookActive   bool   `json:"stop_hook_active"`
	ToolInput        struct {
		FilePath string `json:"file_path"`
	} `json:"tool_input"`
}

// hookEventNames maps the host tool's event names to protocol event types.
var hookEventNames = map[string]protocol.EventType{
	"SessionStart":      protocol.EventSessionStart,
	"UserPromptSubmit":  protocol.EventUserPromptSubmit,
	"PreToolUse":        protocol.EventPreToolUse,
	"PostToolUse":       protocol.EventPostToolUse,
	"PermissionRequest": protocol.EventPermissionRequest,
	"PreCompact":        protocol.EventPreCompact,
	"Notification":      protocol.EventNotification,
	"Stop":              protocol.EventStop,
	"SessionEnd":        protocol.EventSessionEnd,
}

// ReadPayload decodes one hook payload from r.
func ReadPayload(r io.Reader) (*Payload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("hook: read payload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("hook: empty payload")
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("hook: parse payload: %w", err)
	}
	return &p, nil
}

// BuildEvent turns a payload into a wire event. pid is the agent process
// (the hook's parent), cwd overrides the payload cwd when non-empty.
func BuildEvent(p *Payload, pid int, cwd string) (*protocol.Event, error) {
	et, ok := hookEventNames[p.HookEventName]
	if !ok {
		return nil, fmt.Errorf("hook: unhandled event %q", p.HookEventName)
	}
	if cwd == "" {
		cwd = p.Cwd
	}
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	ev := &protocol.Event{
		EventID:    uuid.NewString(),
		RecordedAt: time.Now(),
		EventType:  et,
		SessionID:  p.SessionID,
		PID:        pid,
		Cwd:        cwd,
	}

	switch et {
	case protocol.EventPreCompact:
		ev.Trigger = strings.ToLower(p.Trigger)
	case protocol.EventNotification:
		ev.NotificationType = p.NotificationType
		if ev.NotificationType == "" {
			ev.NotificationType = p.Matcher
		}
	case protocol.EventStop:
		ev.StopHookActive = p.StopHookActive
	case protocol.EventPreToolUse, protocol.EventPostToolUse:
		ev.Tool = p.ToolName
		ev.FilePath = p.ToolInput.FilePath
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Run is the whole hook process: payload in, one event out. The error
// return is deliberate; the caller decides the exit code, and the host tool
// sees transport failures instead of silent drops.
func Run(ctx context.Context, socketPath string, stdin io.Reader) error {
	p, err := ReadPayload(stdin)
	if err != nil {
		return err
	}
	ev, err := BuildEvent(p, os.Getppid(), "")
	if err != nil {
		return err
	}
	client := ipc.NewClient(socketPath)
	if _, err := client.SendEvent(ctx, ev); err != nil {
		return fmt.Errorf("hook: send %s: %w", ev.EventType, err)
	}
	return nil
}
