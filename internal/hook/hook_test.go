package hook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focusd/internal/protocol"
)

func TestReadPayload(t *testing.T) {
	p, err := ReadPayload(strings.NewReader(`{
		"hook_event_name": "PostToolUse",
		"session_id": "s1",
		"cwd": "/home/dev/proj",
		"tool_name": "Edit",
		"tool_input": {"file_path": "/home/dev/proj/main.go"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "PostToolUse", p.HookEventName)
	assert.Equal(t, "Edit", p.ToolName)
	assert.Equal(t, "/home/dev/proj/main.go", p.ToolInput.FilePath)
}

func TestReadPayloadEmpty(t *testing.T) {
	_, err := ReadPayload(strings.NewReader(""))
	assert.Error(t, err)
}

func TestBuildEventMapping(t *testing.T) {
	cases := []struct {
		hookEvent string
		want      protocol.EventType
	}{
		{"SessionStart", protocol.EventSessionStart},
		{"UserPromptSubmit", protocol.EventUserPromptSubmit},
		{"PreToolUse", protocol.EventPreToolUse},
		{"PostToolUse", protocol.EventPostToolUse},
		{"PermissionRequest", protocol.EventPermissionRequest},
		{"PreCompact", protocol.EventPreCompact},
		{"Notification", protocol.EventNotification},
		{"Stop", protocol.EventStop},
		{"SessionEnd", protocol.EventSessionEnd},
	}
	for _, tc := range cases {
		p := &Payload{
			HookEventName: tc.hookEvent,
			SessionID:     "s1",
			Cwd:           "/home/dev/proj",
		}
		switch tc.want {
		case protocol.EventPreCompact:
			p.Trigger = "Auto"
		case protocol.EventNotification:
			p.NotificationType = "permission_prompt"
		case protocol.EventPreToolUse, protocol.EventPostToolUse:
			p.ToolName = "Edit"
		}
		ev, err := BuildEvent(p, 4242, "")
		require.NoError(t, err, tc.hookEvent)
		assert.Equal(t, tc.want, ev.EventType)
		assert.Equal(t, 4242, ev.PID)
		assert.NotEmpty(t, ev.EventID)
	}
}

func TestBuildEventNormalizesTrigger(t *testing.T) {
	p := &Payload{HookEventName: "PreCompact", SessionID: "s1", Cwd: "/p", Trigger: "MANUAL"}
	ev, err := BuildEvent(p, 1, "")
	require.NoError(t, err)
	assert.Equal(t, protocol.TriggerManual, ev.Trigger)
}

func TestBuildEventNotificationFallsBackToMatcher(t *testing.T) {
	p := &Payload{HookEventName: "Notification", SessionID: "s1", Cwd: "/p", Matcher: "permission_prompt"}
	ev, err := BuildEvent(p, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "permission_prompt", ev.NotificationType)
}

func TestBuildEventStopHookActive(t *testing.T) {
	p := &Payload{HookEventName: "Stop", SessionID: "s1", Cwd: "/p", StopHookActive: true}
	ev, err := BuildEvent(p, 1, "")
	require.NoError(t, err)
	assert.True(t, ev.StopHookActive)
}

func TestBuildEventUnknown(t *testing.T) {
	p := &Payload{HookEventName: "SubagentStop", SessionID: "s1", Cwd: "/p"}
	_, err := BuildEvent(p, 1, "")
	assert.Error(t, err)
}

func TestBuildEventCwdOverride(t *testing.T) {
	p := &Payload{HookEventName: "SessionStart", SessionID: "s1", Cwd: "/from/payload"}
	ev, err := BuildEvent(p, 1, "/override")
	require.NoError(t, err)
	assert.Equal(t, "/override", ev.Cwd)
}
