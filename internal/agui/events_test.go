package agui

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventWireFormat(t *testing.T) {
	data, err := json.Marshal(TextMessageContent{
		Type:      EventTextMessageContent,
		MessageID: "m1",
		Delta:     "hi",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"TEXT_MESSAGE_CONTENT","messageId":"m1","delta":"hi"}`, string(data))
}

func TestToolCallStartOmitsNilParent(t *testing.T) {
	data, err := json.Marshal(ToolCallStart{Type: EventToolCallStart, ToolCallID: "tu_1", ToolCallName: "Bash"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "parentMessageId")

	parent := "msg_1"
	data, err = json.Marshal(ToolCallStart{Type: EventToolCallStart, ToolCallID: "tu_1", ToolCallName: "Bash", ParentMessageID: &parent})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"parentMessageId":"msg_1"`)
}

func TestParseEventRoundTrip(t *testing.T) {
	events := []Event{
		RunStarted{Type: EventRunStarted, ThreadID: "t1", RunID: "r1"},
		RunError{Type: EventRunError, ThreadID: "t1", RunID: "r1", Message: "boom"},
		ToolCallArgs{Type: EventToolCallArgs, ToolCallID: "tu_1", Delta: `{"a":1}`},
		StateSnapshot{Type: EventStateSnapshot, Snapshot: map[string]any{"model": "m"}},
		Custom{Type: EventCustom, Name: "tool_approval_request", Value: map[string]any{"requestId": "req_1"}},
	}

	for _, ev := range events {
		data, err := json.Marshal(ev)
		require.NoError(t, err)

		parsed, err := ParseEvent(data)
		require.NoError(t, err)
		assert.Equal(t, ev.Kind(), parsed.Kind())
	}
}

func TestParseEventUnknownType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"type":"NOT_A_THING"}`))
	require.Error(t, err)
}
