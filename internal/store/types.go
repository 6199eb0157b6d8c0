// Package store owns the daemon's session state: an event-sourced reducer
// over lifecycle events, a tombstone set that keeps retired session ids from
// resurrecting, live shell entries, and read-time liveness and idle
// derivation. Memory is authoritative while the daemon runs; sqlite mirrors
// it so a restart resumes where it left off.
package store

import (
	"time"

	"focusd/internal/protocol"
)

// SessionRecord is the reducer-owned state of one agent session.
type SessionRecord struct {
	SessionID      string
	ProjectPath    string
	PID            int
	State          protocol.SessionState
	StateChangedAt time.Time
	LastEvent      string
	LastActivityAt time.Time
	ToolsInFlight  int
	ReadyReason    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a copy safe to mutate.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Tombstone marks a session id as retired. Events for a tombstoned id are
// dropped (except session-start, which clears the tombstone and begins a
// fresh record) so a reused pid cannot revive a dead session.
type Tombstone struct {
	SessionID string
	EndedAt   time.Time
	Reason    string
}

// Tombstone reasons.
const (
	TombstoneSessionEnd = "session-end"
	TombstoneLiveness   = "liveness"
)

// ShellEntry is the latest known cwd of one interactive shell.
type ShellEntry struct {
	PID                int
	Cwd                string
	TTY                string
	ParentApp          string
	MultiplexerSession string
	UpdatedAt          time.Time
}
