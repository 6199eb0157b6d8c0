package store

import (
	"time"

	"focusd/internal/config"
	"focusd/internal/protocol"
)

// Rules is the data-driven part of the transition function. Which events
// park a session in Waiting varies between host tool versions, so the
// mapping comes from configuration rather than a switch arm.
type Rules struct {
	waitingEvents        map[protocol.EventType]bool
	waitingNotifications map[string]bool
	readyNotifications   map[string]bool
}

// RulesFrom builds reducer rules from config.
func RulesFrom(ts config.TransitionSettings) Rules {
	r := Rules{
		waitingEvents:        make(map[protocol.EventType]bool, len(ts.WaitingEvents)),
		waitingNotifications: make(map[string]bool, len(ts.WaitingNotifications)),
		readyNotifications:   make(map[string]bool, len(ts.ReadyNotifications)),
	}
	for _, e := range ts.WaitingEvents {
		r.waitingEvents[protocol.EventType(e)] = true
	}
	for _, n := range ts.WaitingNotifications {
		r.waitingNotifications[n] = true
	}
	for _, n := range ts.ReadyNotifications {
		r.readyNotifications[n] = true
	}
	return r
}

// Reduce applies one validated session-scoped event to prev and returns the
// next record. It is total: every (record, event) pair yields a defined
// result, nil prev included. ended is true when the session should be
// retired (the caller tombstones it). The caller decides whether a nil prev
// is allowed to open a record at all; for every type but session-start it is
// not.
//
// Reduce never touches the clock or any I/O; timestamps come from the event.
func Reduce(prev *SessionRecord, ev *protocol.Event, rules Rules) (next *SessionRecord, ended bool) {
	now := ev.RecordedAt

	rec := prev.Clone()
	if rec == nil {
		rec = &SessionRecord{
			SessionID:      ev.SessionID,
			State:          protocol.StateReady,
			StateChangedAt: now,
			CreatedAt:      now,
		}
	}

	// Identity fields track the latest event unconditionally. A session that
	// restarts under a new pid or moves directories keeps its id.
	rec.PID = ev.PID
	rec.ProjectPath = ev.Cwd
	rec.LastEvent = string(ev.EventType)
	rec.LastActivityAt = now
	rec.UpdatedAt = now

	setState := func(s protocol.SessionState) {
		if rec.State != s {
			rec.State = s
			rec.StateChangedAt = now
		}
	}

	if rules.waitingEvents[ev.EventType] {
		setState(protocol.StateWaiting)
		rec.ReadyReason = ""
		return rec, false
	}

	switch ev.EventType {
	case protocol.EventSessionStart:
		setState(protocol.StateReady)
		rec.ToolsInFlight = 0
		rec.ReadyReason = ""

	case protocol.EventUserPromptSubmit:
		setState(protocol.StateWorking)
		rec.ToolsInFlight = 0
		rec.ReadyReason = ""

	case protocol.EventPreToolUse:
		rec.ToolsInFlight++

	case protocol.EventPostToolUse:
		if rec.ToolsInFlight > 0 {
			rec.ToolsInFlight--
		}
		// A tool finishing while compacting means compaction is over and
		// the agent resumed.
		if rec.State == protocol.StateCompacting {
			setState(protocol.StateWorking)
		}

	case protocol.EventPermissionRequest:
		setState(protocol.StateWaiting)
		rec.ReadyReason = ""

	case protocol.EventPreCompact:
		rec.LastEvent = string(ev.EventType) + ":" + ev.Trigger
		// Manual compaction is user-driven housekeeping, not a state the
		// user needs surfaced.
		if ev.Trigger == protocol.TriggerAuto {
			setState(protocol.StateCompacting)
			rec.ReadyReason = ""
		}

	case protocol.EventNotification:
		switch {
		case rules.waitingNotifications[ev.NotificationType]:
			setState(protocol.StateWaiting)
			rec.ReadyReason = ""
		case rules.readyNotifications[ev.NotificationType]:
			setState(protocol.StateReady)
			rec.ReadyReason = ev.NotificationType
		default:
			// Informational only; activity fields already advanced.
		}

	case protocol.EventStop:
		if ev.StopHookActive {
			// A stop hook is re-entering the agent; the turn is not over.
			// Treating this as Ready would flap the state once per hook.
			break
		}
		setState(protocol.StateReady)
		rec.ReadyReason = "stop"

	case protocol.EventSessionEnd:
		return rec, true
	}

	return rec, false
}

// DeriveState maps a stored state to the reported one: a Ready record whose
// last activity is older than idleAfter reads as Idle. Idle is never
// persisted, so a stale database can never pin a session there.
func DeriveState(rec *SessionRecord, idleAfter time.Duration, now time.Time) protocol.SessionState {
	if rec.State == protocol.StateReady && now.Sub(rec.LastActivityAt) >= idleAfter {
		return protocol.StateIdle
	}
	return rec.State
}
