package protocol

import (
	"encoding/json"

	"github.com/agent-command/bridged/internal/usage"
)

// MessageType discriminates inbound agent messages by their wire tag.
type MessageType string

const (
	MessageTypeSystem         MessageType = "system"
	MessageTypeAssistant      MessageType = "assistant"
	MessageTypeResult         MessageType = "result"
	MessageTypeStreamEvent    MessageType = "stream_event"
	MessageTypeControlRequest MessageType = "control_request"
	MessageTypeToolProgress   MessageType = "tool_progress"
	MessageTypeKeepAlive      MessageType = "keep_alive"
	MessageTypeUser           MessageType = "user"
	MessageTypeAuthStatus     MessageType = "auth_status"
)

// Message is implemented by every parsed inbound message.
type Message interface {
	MsgType() MessageType
}

// SystemMessage carries session lifecycle events. Subtype "init" announces a
// fresh CLI connection with the agent-assigned session id.
type SystemMessage struct {
	Type           MessageType `json:"type"`
	Subtype        string      `json:"subtype"`
	SessionID      string      `json:"session_id,omitempty"`
	Tools          []string    `json:"tools,omitempty"`
	Model          string      `json:"model,omitempty"`
	CWD            string      `json:"cwd,omitempty"`
	PermissionMode string      `json:"permissionMode,omitempty"`
}

func (m SystemMessage) MsgType() MessageType { return MessageTypeSystem }

// IsInit reports whether this is the connection handshake message.
func (m SystemMessage) IsInit() bool { return m.Subtype == "init" }

// ContentBlock is one unit of assistant message content. The Type field
// selects which of the remaining fields are populated.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// AssistantContent is the inner message of an assistant frame.
type AssistantContent struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Model      string         `json:"model,omitempty"`
	Content    []ContentBlock `json:"content"`
	StopReason *string        `json:"stop_reason"`
	Usage      *usage.Usage   `json:"usage,omitempty"`
}

// AssistantMessage is the final complete message for a turn, arriving after
// the corresponding stream events.
type AssistantMessage struct {
	Type      MessageType      `json:"type"`
	SessionID string           `json:"session_id,omitempty"`
	Message   AssistantContent `json:"message"`
}

func (m AssistantMessage) MsgType() MessageType { return MessageTypeAssistant }

// ResultMessage marks turn completion and carries turn-level metrics.
type ResultMessage struct {
	Type         MessageType  `json:"type"`
	Subtype      string       `json:"subtype,omitempty"`
	SessionID    string       `json:"session_id,omitempty"`
	Result       string       `json:"result,omitempty"`
	IsError      bool         `json:"is_error,omitempty"`
	DurationMs   int64        `json:"duration_ms,omitempty"`
	NumTurns     int          `json:"num_turns,omitempty"`
	TotalCostUSD float64      `json:"total_cost_usd,omitempty"`
	Usage        *usage.Usage `json:"usage,omitempty"`
}

func (m ResultMessage) MsgType() MessageType { return MessageTypeResult }

// Stream event types nested inside a stream_event frame.
const (
	StreamContentBlockStart = "content_block_start"
	StreamContentBlockDelta = "content_block_delta"
	StreamContentBlockStop  = "content_block_stop"
)

// StreamContentBlock is the content_block payload of a content_block_start.
type StreamContentBlock struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Delta subtype tags inside a content_block_delta.
const (
	DeltaTypeText      = "text_delta"
	DeltaTypeInputJSON = "input_json_delta"
)

// StreamDelta is the delta payload of a content_block_delta.
type StreamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// StreamEventPayload is the nested event of a stream_event frame.
type StreamEventPayload struct {
	Type         string              `json:"type"`
	Index        int                 `json:"index,omitempty"`
	ContentBlock *StreamContentBlock `json:"content_block,omitempty"`
	Delta        *StreamDelta        `json:"delta,omitempty"`
}

// StreamEventMessage wraps token-by-token streaming updates.
type StreamEventMessage struct {
	Type      MessageType        `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Event     StreamEventPayload `json:"event"`
}

func (m StreamEventMessage) MsgType() MessageType { return MessageTypeStreamEvent }

// ControlRequestBody is the inner request of a control_request frame.
type ControlRequestBody struct {
	Subtype   string          `json:"subtype"`
	RequestID string          `json:"request_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// ControlRequestMessage is a control-plane request from the agent, most
// notably subtype "can_use_tool" asking for tool approval.
type ControlRequestMessage struct {
	Type    MessageType        `json:"type"`
	Request ControlRequestBody `json:"request"`
}

func (m ControlRequestMessage) MsgType() MessageType { return MessageTypeControlRequest }

// ControlSubtypeCanUseTool is the tool-approval request subtype.
const ControlSubtypeCanUseTool = "can_use_tool"

// GenericMessage holds messages the bridge passes through without
// interpreting: tool_progress, keep_alive, echoed user input, auth_status,
// and any tag this build does not recognize.
type GenericMessage struct {
	Type MessageType
	Raw  json.RawMessage
}

func (m GenericMessage) MsgType() MessageType { return m.Type }

// ParseMessage parses one NDJSON line into a typed message. Unrecognized
// type tags parse into a GenericMessage rather than failing, so newer CLI
// versions degrade gracefully.
func ParseMessage(line []byte) (Message, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, err
	}

	switch probe.Type {
	case MessageTypeSystem:
		var m SystemMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeAssistant:
		var m AssistantMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeResult:
		var m ResultMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeStreamEvent:
		var m StreamEventMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MessageTypeControlRequest:
		var m ControlRequestMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		return GenericMessage{Type: probe.Type, Raw: raw}, nil
	}
}
