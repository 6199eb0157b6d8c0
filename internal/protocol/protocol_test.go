package protocol

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent(et EventType) *Event {
	ev := &Event{
		EventID:    "ev-1",
		RecordedAt: time.Now(),
		EventType:  et,
		SessionID:  "s1",
		PID:        100,
		Cwd:        "/home/dev/proj",
	}
	switch et {
	case EventPreCompact:
		ev.Trigger = TriggerAuto
	case EventNotification:
		ev.NotificationType = "permission_prompt"
	case EventPreToolUse, EventPostToolUse:
		ev.Tool = "Edit"
	case EventShellCwdChanged:
		ev.SessionID = ""
		ev.TTY = "/dev/pts/0"
	}
	return ev
}

func TestValidateAllTypes(t *testing.T) {
	for et := range eventTypes {
		assert.NoError(t, validEvent(et).Validate(), "type %s", et)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	ev := validEvent(EventUserPromptSubmit)
	ev.EventID = " "
	assert.Error(t, ev.Validate())

	ev = validEvent(EventUserPromptSubmit)
	ev.RecordedAt = time.Time{}
	assert.Error(t, ev.Validate())

	ev = validEvent(EventUserPromptSubmit)
	ev.SessionID = ""
	assert.Error(t, ev.Validate())

	ev = validEvent(EventUserPromptSubmit)
	ev.PID = 0
	assert.Error(t, ev.Validate())

	ev = validEvent(EventUserPromptSubmit)
	ev.Cwd = ""
	assert.Error(t, ev.Validate())

	ev = validEvent(EventUserPromptSubmit)
	ev.EventType = "made-up"
	assert.Error(t, ev.Validate())
}

func TestValidatePerTypeShape(t *testing.T) {
	ev := validEvent(EventPreCompact)
	ev.Trigger = "sometimes"
	assert.Error(t, ev.Validate(), "trigger must be auto or manual")

	ev = validEvent(EventNotification)
	ev.NotificationType = ""
	assert.Error(t, ev.Validate())

	ev = validEvent(EventPreToolUse)
	ev.Tool = ""
	assert.Error(t, ev.Validate())

	ev = validEvent(EventShellCwdChanged)
	ev.TTY = ""
	assert.Error(t, ev.Validate())

	// shell-cwd-changed never needs a session id.
	ev = validEvent(EventShellCwdChanged)
	assert.NoError(t, ev.Validate())
}

func TestParseRequest(t *testing.T) {
	req, errBody := ParseRequest([]byte(`{"protocol_version":1,"method":"get_health","id":"r1"}`))
	require.Nil(t, errBody)
	assert.Equal(t, "get_health", req.Method)
	assert.Equal(t, "r1", req.ID)

	_, errBody = ParseRequest([]byte(`{not json`))
	require.NotNil(t, errBody)
	assert.Equal(t, ErrCodeProtocol, errBody.Code)

	_, errBody = ParseRequest([]byte(`{"protocol_version":2,"method":"get_health","id":"r1"}`))
	require.NotNil(t, errBody)
	assert.Equal(t, ErrCodeProtocol, errBody.Code)

	_, errBody = ParseRequest([]byte(fmt.Sprintf(`{"protocol_version":%d,"method":"restart","id":"r1"}`, Version)))
	require.NotNil(t, errBody)
	assert.Equal(t, ErrCodeProtocol, errBody.Code)
}

func TestResponses(t *testing.T) {
	resp, err := OKResponse("r1", map[string]int{"n": 1})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"n":1}`, string(resp.Result))

	resp = ErrResponse("r2", ErrCodeValidation, "bad")
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
}
