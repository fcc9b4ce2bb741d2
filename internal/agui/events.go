// Package agui defines the normalized event protocol streamed to UI clients
// and the translation from raw agent messages into it. Event type tags are
// SCREAMING_SNAKE_CASE and field names camelCase, matching what AG-UI
// frontends expect.
package agui

import (
	"encoding/json"
	"fmt"
)

// EventType tags a normalized event on the wire.
type EventType string

const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventRunFinished        EventType = "RUN_FINISHED"
	EventRunError           EventType = "RUN_ERROR"
	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"
	EventToolCallStart      EventType = "TOOL_CALL_START"
	EventToolCallArgs       EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd        EventType = "TOOL_CALL_END"
	EventStateSnapshot      EventType = "STATE_SNAPSHOT"
	EventCustom             EventType = "CUSTOM"
)

// Event is implemented by every normalized event.
type Event interface {
	Kind() EventType
}

// RunStarted opens a run.
type RunStarted struct {
	Type     EventType `json:"type"`
	ThreadID string    `json:"threadId"`
	RunID    string    `json:"runId"`
}

func (e RunStarted) Kind() EventType { return EventRunStarted }

// RunFinished closes a run. Exactly one is emitted per run.
type RunFinished struct {
	Type     EventType `json:"type"`
	ThreadID string    `json:"threadId"`
	RunID    string    `json:"runId"`
}

func (e RunFinished) Kind() EventType { return EventRunFinished }

// RunError closes a run with an error.
type RunError struct {
	Type     EventType `json:"type"`
	ThreadID string    `json:"threadId"`
	RunID    string    `json:"runId"`
	Message  string    `json:"message"`
}

func (e RunError) Kind() EventType { return EventRunError }

// TextMessageStart opens a streamed assistant message.
type TextMessageStart struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId"`
	Role      string    `json:"role"`
}

func (e TextMessageStart) Kind() EventType { return EventTextMessageStart }

// TextMessageContent carries one text delta.
type TextMessageContent struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId"`
	Delta     string    `json:"delta"`
}

func (e TextMessageContent) Kind() EventType { return EventTextMessageContent }

// TextMessageEnd closes a streamed assistant message.
type TextMessageEnd struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId"`
}

func (e TextMessageEnd) Kind() EventType { return EventTextMessageEnd }

// ToolCallStart opens a tool invocation.
type ToolCallStart struct {
	Type            EventType `json:"type"`
	ToolCallID      string    `json:"toolCallId"`
	ToolCallName    string    `json:"toolCallName"`
	ParentMessageID *string   `json:"parentMessageId,omitempty"`
}

func (e ToolCallStart) Kind() EventType { return EventToolCallStart }

// ToolCallArgs carries a partial-JSON argument delta.
type ToolCallArgs struct {
	Type       EventType `json:"type"`
	ToolCallID string    `json:"toolCallId"`
	Delta      string    `json:"delta"`
}

func (e ToolCallArgs) Kind() EventType { return EventToolCallArgs }

// ToolCallEnd closes a tool invocation.
type ToolCallEnd struct {
	Type       EventType `json:"type"`
	ToolCallID string    `json:"toolCallId"`
}

func (e ToolCallEnd) Kind() EventType { return EventToolCallEnd }

// StateSnapshot publishes arbitrary agent metadata to the client.
type StateSnapshot struct {
	Type     EventType      `json:"type"`
	Snapshot map[string]any `json:"snapshot"`
}

func (e StateSnapshot) Kind() EventType { return EventStateSnapshot }

// Custom is a named extension event; the bridge uses it for approval prompts.
type Custom struct {
	Type  EventType      `json:"type"`
	Name  string         `json:"name"`
	Value map[string]any `json:"value"`
}

func (e Custom) Kind() EventType { return EventCustom }

// ParseEvent decodes a serialized event back into its concrete type. This is
// what a conforming client does with each stream line.
func ParseEvent(data []byte) (Event, error) {
	var probe struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}

	var target Event
	switch probe.Type {
	case EventRunStarted:
		target = &RunStarted{}
	case EventRunFinished:
		target = &RunFinished{}
	case EventRunError:
		target = &RunError{}
	case EventTextMessageStart:
		target = &TextMessageStart{}
	case EventTextMessageContent:
		target = &TextMessageContent{}
	case EventTextMessageEnd:
		target = &TextMessageEnd{}
	case EventToolCallStart:
		target = &ToolCallStart{}
	case EventToolCallArgs:
		target = &ToolCallArgs{}
	case EventToolCallEnd:
		target = &ToolCallEnd{}
	case EventStateSnapshot:
		target = &StateSnapshot{}
	case EventCustom:
		target = &Custom{}
	default:
		return nil, fmt.Errorf("unknown event type %q", probe.Type)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, err
	}
	return target, nil
}
