package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/config"
	"focusd/internal/protocol"
)

var testRules = RulesFrom(config.Default().Transition)

func sessionEvent(t protocol.EventType, at time.Time) *protocol.Event {
	return &protocol.Event{
		EventID:    "ev-" + string(t) + at.String(),
		RecordedAt: at,
		EventType:  t,
		SessionID:  "sess-1",
		PID:        4242,
		Cwd:        "/home/dev/proj",
	}
}

func TestReduceSessionStart(t *testing.T) {
	now := time.Now()
	rec, ended := Reduce(nil, sessionEvent(protocol.EventSessionStart, now), testRules)
	require.False(t, ended)
	require.NotNil(t, rec)
	assert.Equal(t, protocol.StateReady, rec.State)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, 4242, rec.PID)
	assert.Equal(t, "/home/dev/proj", rec.ProjectPath)
	assert.Equal(t, 0, rec.ToolsInFlight)
	assert.Equal(t, now, rec.CreatedAt)
}

func TestReducePromptResetsTools(t *testing.T) {
	now := time.Now()
	rec, _ := Reduce(nil, sessionEvent(protocol.EventSessionStart, now), testRules)
	rec.ToolsInFlight = 3

	rec, ended := Reduce(rec, sessionEvent(protocol.EventUserPromptSubmit, now.Add(time.Second)), testRules)
	require.False(t, ended)
	assert.Equal(t, protocol.StateWorking, rec.State)
	assert.Equal(t, 0, rec.ToolsInFlight)
}

func TestReduceToolCounting(t *testing.T) {
	now := time.Now()
	rec, _ := Reduce(nil, sessionEvent(protocol.EventSessionStart, now), testRules)
	rec, _ = Reduce(rec, sessionEvent(protocol.EventUserPromptSubmit, now.Add(time.Second)), testRules)

	rec, _ = Reduce(rec, sessionEvent(protocol.EventPreToolUse, now.Add(2*time.Second)), testRules)
	rec, _ = Reduce(rec, sessionEvent(protocol.EventPreToolUse, now.Add(3*time.Second)), testRules)
	assert.Equal(t, 2, rec.ToolsInFlight)

	rec, _ = Reduce(rec, sessionEvent(protocol.EventPostToolUse, now.Add(4*time.Second)), testRules)
	assert.Equal(t, 1, rec.ToolsInFlight)

	// Floor at zero even with unbalanced post events.
	rec, _ = Reduce(rec, sessionEvent(protocol.EventPostToolUse, now.Add(5*time.Second)), testRules)
	rec, _ = Reduce(rec, sessionEvent(protocol.EventPostToolUse, now.Add(6*time.Second)), testRules)
	assert.Equal(t, 0, rec.ToolsInFlight)
}

func TestReduceCompaction(t *testing.T) {
	now := time.Now()
	rec, _ := Reduce(nil, sessionEvent(protocol.EventSessionStart, now), testRules)

	manual := sessionEvent(protocol.EventPreCompact, now.Add(time.Second))
	manual.Trigger = protocol.TriggerManual
	rec, _ = Reduce(rec, manual, testRules)
	assert.Equal(t, protocol.StateReady, rec.State, "manual compaction must not change state")

	auto := sessionEvent(protocol.EventPreCompact, now.Add(2*time.Second))
	auto.Trigger = protocol.TriggerAuto
	rec, _ = Reduce(rec, auto, testRules)
	assert.Equal(t, protocol.StateCompacting, rec.State)

	// The next tool completion signals compaction finished.
	rec, _ = Reduce(rec, sessionEvent(protocol.EventPostToolUse, now.Add(3*time.Second)), testRules)
	assert.Equal(t, protocol.StateWorking, rec.State)
}

func TestReduceStopGuard(t *testing.T) {
	now := time.Now()
	rec, _ := Reduce(nil, sessionEvent(protocol.EventSessionStart, now), testRules)
	rec, _ = Reduce(rec, sessionEvent(protocol.EventUserPromptSubmit, now.Add(time.Second)), testRules)
	require.Equal(t, protocol.StateWorking, rec.State)

	reentrant := sessionEvent(protocol.EventStop, now.Add(2*time.Second))
	reentrant.StopHookActive = true
	rec, _ = Reduce(rec, reentrant, testRules)
	assert.Equal(t, protocol.StateWorking, rec.State, "reentrant stop must not flip state")
	assert.Empty(t, rec.ReadyReason)

	final := sessionEvent(protocol.EventStop, now.Add(3*time.Second))
	rec, _ = Reduce(rec, final, testRules)
	assert.Equal(t, protocol.StateReady, rec.State)
	assert.Equal(t, "stop", rec.ReadyReason)
}

func TestReduceWaiting(t *testing.T) {
	now := time.Now()
	rec, _ := Reduce(nil, sessionEvent(protocol.EventSessionStart, now), testRules)

	rec, _ = Reduce(rec, sessionEvent(protocol.EventPermissionRequest, now.Add(time.Second)), testRules)
	assert.Equal(t, protocol.StateWaiting, rec.State)

	rec, _ = Reduce(rec, sessionEvent(protocol.EventUserPromptSubmit, now.Add(2*time.Second)), testRules)
	require.Equal(t, protocol.StateWorking, rec.State)

	notif := sessionEvent(protocol.EventNotification, now.Add(3*time.Second))
	notif.NotificationType = "permission_prompt"
	rec, _ = Reduce(rec, notif, testRules)
	assert.Equal(t, protocol.StateWaiting, rec.State)
}

func TestReduceNotifications(t *testing.T) {
	now := time.Now()
	rec, _ := Reduce(nil, sessionEvent(protocol.EventSessionStart, now), testRules)
	rec, _ = Reduce(rec, sessionEvent(protocol.EventUserPromptSubmit, now.Add(time.Second)), testRules)

	info := sessionEvent(protocol.EventNotification, now.Add(2*time.Second))
	info.NotificationType = "progress_update"
	rec, _ = Reduce(rec, info, testRules)
	assert.Equal(t, protocol.StateWorking, rec.State, "informational notifications change nothing")

	idle := sessionEvent(protocol.EventNotification, now.Add(3*time.Second))
	idle.NotificationType = "idle_prompt"
	rec, _ = Reduce(rec, idle, testRules)
	assert.Equal(t, protocol.StateReady, rec.State)
	assert.Equal(t, "idle_prompt", rec.ReadyReason)
}

func TestReduceSessionEnd(t *testing.T) {
	now := time.Now()
	rec, _ := Reduce(nil, sessionEvent(protocol.EventSessionStart, now), testRules)
	_, ended := Reduce(rec, sessionEvent(protocol.EventSessionEnd, now.Add(time.Second)), testRules)
	assert.True(t, ended)
}

// TestReduceTotality feeds every event type into every reachable state and
// requires a defined, non-panicking result each time.
func TestReduceTotality(t *testing.T) {
	now := time.Now()
	states := []protocol.SessionState{
		protocol.StateWorking, protocol.StateReady, protocol.StateIdle,
		protocol.StateCompacting, protocol.StateWaiting,
	}
	types := []protocol.EventType{
		protocol.EventSessionStart, protocol.EventUserPromptSubmit,
		protocol.EventPreToolUse, protocol.EventPostToolUse,
		protocol.EventPermissionRequest, protocol.EventPreCompact,
		protocol.EventNotification, protocol.EventStop, protocol.EventSessionEnd,
	}

	for _, st := range states {
		for _, et := range types {
			prev := &SessionRecord{
				SessionID:      "sess-1",
				State:          st,
				StateChangedAt: now,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			ev := sessionEvent(et, now.Add(time.Second))
			if et == protocol.EventPreCompact {
				ev.Trigger = protocol.TriggerAuto
			}
			next, ended := Reduce(prev, ev, testRules)
			require.NotNil(t, next, "state %s event %s", st, et)
			if !ended {
				assert.GreaterOrEqual(t, next.ToolsInFlight, 0, "state %s event %s", st, et)
				assert.False(t, next.UpdatedAt.Before(prev.UpdatedAt))
			}
		}

		// Nil previous record is part of the domain too.
		for _, et := range types {
			ev := sessionEvent(et, now)
			if et == protocol.EventPreCompact {
				ev.Trigger = protocol.TriggerManual
			}
			next, ended := Reduce(nil, ev, testRules)
			if !ended {
				require.NotNil(t, next)
			}
		}
	}
}

func TestDeriveStateIdle(t *testing.T) {
	now := time.Now()
	rec := &SessionRecord{
		State:          protocol.StateReady,
		LastActivityAt: now.Add(-45 * time.Minute),
	}
	assert.Equal(t, protocol.StateIdle, DeriveState(rec, 30*time.Minute, now))

	rec.LastActivityAt = now.Add(-5 * time.Minute)
	assert.Equal(t, protocol.StateReady, DeriveState(rec, 30*time.Minute, now))

	// Only Ready decays; a stalled Working session stays Working.
	rec.State = protocol.StateWorking
	rec.LastActivityAt = now.Add(-45 * time.Minute)
	assert.Equal(t, protocol.StateWorking, DeriveState(rec, 30*time.Minute, now))
}
