package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageInit(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"abc123","model":"claude-sonnet-4","tools":["Bash","Edit"],"cwd":"/work","permissionMode":"acceptEdits"}`

	msg, err := ParseMessage([]byte(line))
	require.NoError(t, err)

	sys, ok := msg.(SystemMessage)
	require.True(t, ok)
	assert.True(t, sys.IsInit())
	assert.Equal(t, "abc123", sys.SessionID)
	assert.Equal(t, "claude-sonnet-4", sys.Model)
	assert.Equal(t, "acceptEdits", sys.PermissionMode)
	assert.Equal(t, []string{"Bash", "Edit"}, sys.Tools)
}

func TestParseMessageAssistant(t *testing.T) {
	line := `{"type":"assistant","message":{"id":"msg_1","role":"assistant","content":[{"type":"text","text":"hi"},{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}}],"usage":{"input_tokens":10,"output_tokens":4}}}`

	msg, err := ParseMessage([]byte(line))
	require.NoError(t, err)

	am, ok := msg.(AssistantMessage)
	require.True(t, ok)
	require.Len(t, am.Message.Content, 2)
	assert.Equal(t, BlockTypeText, am.Message.Content[0].Type)
	assert.Equal(t, "hi", am.Message.Content[0].Text)
	assert.Equal(t, BlockTypeToolUse, am.Message.Content[1].Type)
	assert.Equal(t, "tu_1", am.Message.Content[1].ID)
	require.NotNil(t, am.Message.Usage)
	assert.Equal(t, int64(10), am.Message.Usage.InputTokens)
}

func TestParseMessageResult(t *testing.T) {
	line := `{"type":"result","subtype":"success","duration_ms":1234,"num_turns":2,"total_cost_usd":0.05,"result":"done"}`

	msg, err := ParseMessage([]byte(line))
	require.NoError(t, err)

	rm, ok := msg.(ResultMessage)
	require.True(t, ok)
	assert.Equal(t, int64(1234), rm.DurationMs)
	assert.Equal(t, 2, rm.NumTurns)
	assert.InDelta(t, 0.05, rm.TotalCostUSD, 1e-9)
	assert.False(t, rm.IsError)
}

func TestParseMessageStreamEvent(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind string
	}{
		{
			name: "block start",
			line: `{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tu_9","name":"Read"}}}`,
			kind: StreamContentBlockStart,
		},
		{
			name: "text delta",
			line: `{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hel"}}}`,
			kind: StreamContentBlockDelta,
		},
		{
			name: "block stop",
			line: `{"type":"stream_event","event":{"type":"content_block_stop","index":0}}`,
			kind: StreamContentBlockStop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.line))
			require.NoError(t, err)
			se, ok := msg.(StreamEventMessage)
			require.True(t, ok)
			assert.Equal(t, tt.kind, se.Event.Type)
		})
	}
}

func TestParseMessageControlRequest(t *testing.T) {
	line := `{"type":"control_request","request":{"subtype":"can_use_tool","request_id":"req_1","tool_name":"Bash","input":{"command":"rm -rf /"}}}`

	msg, err := ParseMessage([]byte(line))
	require.NoError(t, err)

	cr, ok := msg.(ControlRequestMessage)
	require.True(t, ok)
	assert.Equal(t, ControlSubtypeCanUseTool, cr.Request.Subtype)
	assert.Equal(t, "req_1", cr.Request.RequestID)
	assert.Equal(t, "Bash", cr.Request.ToolName)
}

func TestParseMessagePassthrough(t *testing.T) {
	tests := []struct {
		name string
		line string
		typ  MessageType
	}{
		{name: "keep alive", line: `{"type":"keep_alive"}`, typ: MessageTypeKeepAlive},
		{name: "tool progress", line: `{"type":"tool_progress","tool_use_id":"tu_1"}`, typ: MessageTypeToolProgress},
		{name: "user echo", line: `{"type":"user","message":{"role":"user","content":"hi"}}`, typ: MessageTypeUser},
		{name: "future tag", line: `{"type":"telemetry_v2","data":{}}`, typ: MessageType("telemetry_v2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.line))
			require.NoError(t, err)
			gm, ok := msg.(GenericMessage)
			require.True(t, ok)
			assert.Equal(t, tt.typ, gm.MsgType())
			assert.JSONEq(t, tt.line, string(gm.Raw))
		})
	}
}

func TestParseMessageMalformed(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":`))
	require.Error(t, err)
}

func TestOutboundUserLine(t *testing.T) {
	line, err := NewOutboundUser("do the thing", "resume-1").Line()
	require.NoError(t, err)
	require.True(t, line[len(line)-1] == '\n')

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "user", decoded["type"])
	assert.Equal(t, "resume-1", decoded["session_id"])
	msg := decoded["message"].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "do the thing", msg["content"])
	// The CLI expects the key present even when null.
	_, hasParent := decoded["parent_tool_use_id"]
	assert.True(t, hasParent)
}

func TestAllowResponseDefaultsUpdatedInput(t *testing.T) {
	line, err := NewAllowResponse("req_1", nil).Line()
	require.NoError(t, err)

	var decoded struct {
		Type     string `json:"type"`
		Response struct {
			Subtype   string `json:"subtype"`
			RequestID string `json:"request_id"`
			Response  struct {
				Behavior     string          `json:"behavior"`
				UpdatedInput json.RawMessage `json:"updatedInput"`
			} `json:"response"`
		} `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "control_response", decoded.Type)
	assert.Equal(t, "success", decoded.Response.Subtype)
	assert.Equal(t, "req_1", decoded.Response.RequestID)
	assert.Equal(t, "allow", decoded.Response.Response.Behavior)
	assert.JSONEq(t, `{}`, string(decoded.Response.Response.UpdatedInput))
}

func TestAllowResponseKeepsUpdatedInput(t *testing.T) {
	line, err := NewAllowResponse("req_2", json.RawMessage(`{"command":"ls"}`)).Line()
	require.NoError(t, err)
	assert.Contains(t, line, `"updatedInput":{"command":"ls"}`)
}

func TestDenyResponseOmitsUpdatedInput(t *testing.T) {
	line, err := NewDenyResponse("req_3").Line()
	require.NoError(t, err)
	assert.Contains(t, line, `"behavior":"deny"`)
	assert.NotContains(t, line, "updatedInput")
}

func TestInterruptRequestLine(t *testing.T) {
	line, err := NewInterruptRequest("req_9").Line()
	require.NoError(t, err)
	assert.Contains(t, line, `"type":"control_request"`)
	assert.Contains(t, line, `"request_id":"req_9"`)
	assert.Contains(t, line, `"subtype":"interrupt"`)
}
