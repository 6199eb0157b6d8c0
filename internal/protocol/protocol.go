// Package protocol defines the wire contract between focusd and its one-shot
// callers (hook processes, shell probes, read-only clients). Each connection
// carries exactly one newline-terminated JSON request and receives exactly
// one JSON response.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Version is the single supported protocol version. Mismatches are rejected
// before any state mutation.
const Version = 1

// Method names accepted by the daemon.
const (
	MethodGetHealth          = "get_health"
	MethodGetShellState      = "get_shell_state"
	MethodGetProcessLiveness = "get_process_liveness"
	MethodGetSessions        = "get_sessions"
	MethodGetProjectStates   = "get_project_states"
	MethodGetActivity        = "get_activity"
	MethodGetTombstones      = "get_tombstones"
	MethodEvent              = "event"
)

// methods is the closed request vocabulary.
var methods = map[string]bool{
	MethodGetHealth:          true,
	MethodGetShellState:      true,
	MethodGetProcessLiveness: true,
	MethodGetSessions:        true,
	MethodGetProjectStates:   true,
	MethodGetActivity:        true,
	MethodGetTombstones:      true,
	MethodEvent:              true,
}

// KnownMethod reports whether name is part of the request vocabulary.
func KnownMethod(name string) bool { return methods[name] }

// Request is the envelope every caller sends.
type Request struct {
	ProtocolVersion int             `json:"protocol_version"`
	Method          string          `json:"method"`
	ID              string          `json:"id"`
	Params          json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope every caller receives.
type Response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// Error codes, one per failure class. Callers can branch on the code without
// parsing the message.
const (
	ErrCodeProtocol    = "protocol_error"    // bad version, unknown method, malformed envelope
	ErrCodeValidation  = "validation_error"  // event missing required fields for its type
	ErrCodePersistence = "persistence_error" // durable write failed after bounded retry
	ErrCodeInternal    = "internal_error"
)

// ErrorBody is the structured error payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorBody) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EventType is the closed set of lifecycle event types.
type EventType string

const (
	EventSessionStart      EventType = "session-start"
	EventUserPromptSubmit  EventType = "user-prompt-submit"
	EventPreToolUse        EventType = "pre-tool-use"
	EventPostToolUse       EventType = "post-tool-use"
	EventPermissionRequest EventType = "permission-request"
	EventPreCompact        EventType = "pre-compact"
	EventNotification      EventType = "notification"
	EventStop              EventType = "stop"
	EventSessionEnd        EventType = "session-end"
	EventShellCwdChanged   EventType = "shell-cwd-changed"
)

// Compact trigger values for pre-compact events.
const (
	TriggerAuto   = "auto"
	TriggerManual = "manual"
)

var eventTypes = map[EventType]bool{
	EventSessionStart:      true,
	EventUserPromptSubmit:  true,
	EventPreToolUse:        true,
	EventPostToolUse:       true,
	EventPermissionRequest: true,
	EventPreCompact:        true,
	EventNotification:      true,
	EventStop:              true,
	EventSessionEnd:        true,
	EventShellCwdChanged:   true,
}

// KnownEventType reports whether t is part of the closed event set.
func KnownEventType(t EventType) bool { return eventTypes[t] }

// SessionScoped reports whether t requires session_id/pid/cwd.
func SessionScoped(t EventType) bool {
	return t != EventShellCwdChanged && eventTypes[t]
}

// Event is the tagged union carried by the "event" method. Which fields are
// required depends on EventType; Validate enforces the per-type shape so
// nothing ill-formed reaches the reducer.
type Event struct {
	EventID    string    `json:"event_id"`
	RecordedAt time.Time `json:"recorded_at"`
	EventType  EventType `json:"event_type"`

	// Session-scoped fields.
	SessionID string `json:"session_id,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Cwd       string `json:"cwd,omitempty"`

	// pre-compact
	Trigger string `json:"trigger,omitempty"`

	// notification
	NotificationType string `json:"notification_type,omitempty"`

	// stop
	StopHookActive bool `json:"stop_hook_active,omitempty"`

	// pre-tool-use / post-tool-use
	Tool     string `json:"tool,omitempty"`
	FilePath string `json:"file_path,omitempty"`

	// shell-cwd-changed
	TTY                string `json:"tty,omitempty"`
	ParentApp          string `json:"parent_app,omitempty"`
	MultiplexerSession string `json:"multiplexer_session,omitempty"`
}

// ValidationError describes a rejected event. It maps to ErrCodeValidation on
// the wire.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: invalid event: %s %s", e.Field, e.Reason)
}

// Validate checks the per-type required fields. A nil return means the event
// is safe to hand to the reducer.
func (ev *Event) Validate() error {
	if strings.TrimSpace(ev.EventID) == "" {
		return &ValidationError{Field: "event_id", Reason: "is required"}
	}
	if ev.RecordedAt.IsZero() {
		return &ValidationError{Field: "recorded_at", Reason: "is required"}
	}
	if !KnownEventType(ev.EventType) {
		return &ValidationError{Field: "event_type", Reason: fmt.Sprintf("%q is not supported", ev.EventType)}
	}

	if ev.EventType == EventShellCwdChanged {
		if ev.PID <= 0 {
			return &ValidationError{Field: "pid", Reason: "must be positive"}
		}
		if ev.Cwd == "" {
			return &ValidationError{Field: "cwd", Reason: "is required"}
		}
		if ev.TTY == "" {
			return &ValidationError{Field: "tty", Reason: "is required"}
		}
		return nil
	}

	if strings.TrimSpace(ev.SessionID) == "" {
		return &ValidationError{Field: "session_id", Reason: "is required"}
	}
	if ev.PID <= 0 {
		return &ValidationError{Field: "pid", Reason: "must be positive"}
	}
	if ev.Cwd == "" {
		return &ValidationError{Field: "cwd", Reason: "is required"}
	}

	switch ev.EventType {
	case EventPreCompact:
		if ev.Trigger != TriggerAuto && ev.Trigger != TriggerManual {
			return &ValidationError{Field: "trigger", Reason: "must be auto or manual"}
		}
	case EventNotification:
		if ev.NotificationType == "" {
			return &ValidationError{Field: "notification_type", Reason: "is required"}
		}
	case EventPreToolUse, EventPostToolUse:
		if ev.Tool == "" {
			return &ValidationError{Field: "tool", Reason: "is required"}
		}
	}
	return nil
}

// ParseRequest decodes and checks one request line. Envelope problems return
// an ErrorBody with ErrCodeProtocol.
func ParseRequest(line []byte) (*Request, *ErrorBody) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, &ErrorBody{Code: ErrCodeProtocol, Message: "malformed request envelope"}
	}
	if req.ProtocolVersion != Version {
		return nil, &ErrorBody{
			Code:    ErrCodeProtocol,
			Message: fmt.Sprintf("unsupported protocol_version %d (want %d)", req.ProtocolVersion, Version),
		}
	}
	if !KnownMethod(req.Method) {
		return nil, &ErrorBody{Code: ErrCodeProtocol, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
	return &req, nil
}

// OKResponse builds a success response for id with the given result payload.
func OKResponse(id string, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal result: %w", err)
	}
	return &Response{ID: id, OK: true, Result: raw}, nil
}

// ErrResponse builds an error response for id.
func ErrResponse(id, code, message string) *Response {
	return &Response{ID: id, OK: false, Error: &ErrorBody{Code: code, Message: message}}
}
