package protocol

import "time"

// SessionState is the reducer-owned state of one agent session.
type SessionState string

const (
	StateWorking    SessionState = "working"
	StateReady      SessionState = "ready"
	StateIdle       SessionState = "idle"
	StateCompacting SessionState = "compacting"
	StateWaiting    SessionState = "waiting"
)

// SessionInfo is the wire form of one session record.
type SessionInfo struct {
	SessionID      string       `json:"session_id"`
	ProjectPath    string       `json:"project_path"`
	PID            int          `json:"pid"`
	State          SessionState `json:"state"`
	StateChangedAt time.Time    `json:"state_changed_at"`
	LastEvent      string       `json:"last_event"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	ToolsInFlight  int          `json:"tools_in_flight"`
	ReadyReason    string       `json:"ready_reason,omitempty"`
	Alive          bool         `json:"alive"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ProjectStateInfo is the derived per-project aggregate.
type ProjectStateInfo struct {
	ProjectPath      string       `json:"project_path"`
	State            SessionState `json:"state"`
	HasActiveSession bool         `json:"has_active_session"`
	StateChangedAt   time.Time    `json:"state_changed_at"`
	SessionCount     int          `json:"session_count"`
	// Source tells which signal produced the aggregate: "sessions",
	// "activity" (fallback), or "none".
	Source string `json:"source"`
}

// ShellInfo is the wire form of one live shell entry.
type ShellInfo struct {
	PID                int       `json:"pid"`
	Cwd                string    `json:"cwd"`
	TTY                string    `json:"tty"`
	ParentApp          string    `json:"parent_app,omitempty"`
	MultiplexerSession string    `json:"multiplexer_session,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// TombstoneInfo marks a retired session.
type TombstoneInfo struct {
	SessionID string    `json:"session_id"`
	EndedAt   time.Time `json:"ended_at"`
	Reason    string    `json:"reason"`
}

// ActivityInfo is the wire form of one recorded file touch.
type ActivityInfo struct {
	SessionID   string    `json:"session_id"`
	ProjectPath string    `json:"project_path"`
	FilePath    string    `json:"file_path"`
	Tool        string    `json:"tool"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthInfo answers get_health.
type HealthInfo struct {
	Status        string    `json:"status"`
	PID           int       `json:"pid"`
	Version       string    `json:"version"`
	StartedAt     time.Time `json:"started_at"`
	SessionCount  int       `json:"session_count"`
	ShellCount    int       `json:"shell_count"`
	EventsApplied int64     `json:"events_applied"`
	LastModified  time.Time `json:"last_modified"`
}

// LivenessParams selects the pid for get_process_liveness.
type LivenessParams struct {
	PID int `json:"pid"`
}

// LivenessInfo answers get_process_liveness.
type LivenessInfo struct {
	PID   int  `json:"pid"`
	Alive bool `json:"alive"`
}

// ProjectStatesParams optionally narrows get_project_states to one path.
type ProjectStatesParams struct {
	Path string `json:"path,omitempty"`
}

// ActivityParams bounds a get_activity query.
type ActivityParams struct {
	Path          string `json:"path,omitempty"`
	WithinMinutes int    `json:"within_minutes,omitempty"`
}

// EventResult acknowledges an applied event.
type EventResult struct {
	EventID   string `json:"event_id"`
	Applied   bool   `json:"applied"`
	Duplicate bool   `json:"duplicate,omitempty"`
}
