package agui

import (
	"encoding/json"
	"fmt"

	"github.com/agent-command/bridged/internal/protocol"
)

// RunState tracks what has already been streamed within one run. It is
// created by the run handler, owned exclusively by it, and discarded when
// the run ends.
//
// The agent emits content twice: block-by-block stream events during
// generation, then one final complete assistant message. RunState is what
// lets Translate stream blocks live and still skip them when they reappear
// in the final message.
type RunState struct {
	blockKinds      map[int]string
	blockToolIDs    map[int]string
	streamedToolIDs map[string]struct{}
	textStreamed    bool
}

// NewRunState creates empty per-run translation state.
func NewRunState() *RunState {
	return &RunState{
		blockKinds:      make(map[int]string),
		blockToolIDs:    make(map[int]string),
		streamedToolIDs: make(map[string]struct{}),
	}
}

func messageID(runID string, index int) string {
	return fmt.Sprintf("%s-msg-%d", runID, index)
}

func fallbackToolID(runID string, index int) string {
	return fmt.Sprintf("%s-tool-%d", runID, index)
}

// Translate converts one agent message into zero or more normalized events,
// in emission order. It never fails: messages it does not understand produce
// no events.
func Translate(msg protocol.Message, threadID, runID string, st *RunState) []Event {
	switch m := msg.(type) {
	case protocol.SystemMessage:
		if !m.IsInit() {
			return nil
		}
		return []Event{StateSnapshot{
			Type: EventStateSnapshot,
			Snapshot: map[string]any{
				"model":     m.Model,
				"tools":     m.Tools,
				"sessionId": m.SessionID,
				"cwd":       m.CWD,
			},
		}}

	case protocol.StreamEventMessage:
		return translateStreamEvent(m.Event, runID, st)

	case protocol.AssistantMessage:
		return translateFinalMessage(m, st)

	case protocol.ControlRequestMessage:
		if m.Request.Subtype != protocol.ControlSubtypeCanUseTool {
			return nil
		}
		var input any
		if len(m.Request.Input) > 0 {
			input = json.RawMessage(m.Request.Input)
		}
		return []Event{Custom{
			Type: EventCustom,
			Name: "tool_approval_request",
			Value: map[string]any{
				"requestId": m.Request.RequestID,
				"toolName":  m.Request.ToolName,
				"toolInput": input,
				"toolUseId": m.Request.ToolUseID,
			},
		}}

	case protocol.ResultMessage:
		return []Event{RunFinished{Type: EventRunFinished, ThreadID: threadID, RunID: runID}}

	default:
		return nil
	}
}

func translateStreamEvent(ev protocol.StreamEventPayload, runID string, st *RunState) []Event {
	switch ev.Type {
	case protocol.StreamContentBlockStart:
		kind := protocol.BlockTypeText
		if ev.ContentBlock != nil && ev.ContentBlock.Type != "" {
			kind = ev.ContentBlock.Type
		}
		st.blockKinds[ev.Index] = kind

		switch kind {
		case protocol.BlockTypeText:
			st.textStreamed = true
			return []Event{TextMessageStart{
				Type:      EventTextMessageStart,
				MessageID: messageID(runID, ev.Index),
				Role:      "assistant",
			}}
		case protocol.BlockTypeToolUse:
			toolID, toolName := "unknown", "unknown"
			if ev.ContentBlock != nil {
				if ev.ContentBlock.ID != "" {
					toolID = ev.ContentBlock.ID
				}
				if ev.ContentBlock.Name != "" {
					toolName = ev.ContentBlock.Name
				}
			}
			st.blockToolIDs[ev.Index] = toolID
			st.streamedToolIDs[toolID] = struct{}{}
			return []Event{ToolCallStart{
				Type:         EventToolCallStart,
				ToolCallID:   toolID,
				ToolCallName: toolName,
			}}
		}
		return nil

	case protocol.StreamContentBlockDelta:
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case protocol.DeltaTypeText:
			return []Event{TextMessageContent{
				Type:      EventTextMessageContent,
				MessageID: messageID(runID, ev.Index),
				Delta:     ev.Delta.Text,
			}}
		case protocol.DeltaTypeInputJSON:
			toolID, ok := st.blockToolIDs[ev.Index]
			if !ok {
				toolID = fallbackToolID(runID, ev.Index)
			}
			return []Event{ToolCallArgs{
				Type:       EventToolCallArgs,
				ToolCallID: toolID,
				Delta:      ev.Delta.PartialJSON,
			}}
		}
		return nil

	case protocol.StreamContentBlockStop:
		switch st.blockKinds[ev.Index] {
		case protocol.BlockTypeToolUse:
			toolID, ok := st.blockToolIDs[ev.Index]
			if !ok {
				toolID = fallbackToolID(runID, ev.Index)
			}
			return []Event{ToolCallEnd{Type: EventToolCallEnd, ToolCallID: toolID}}
		default:
			// Covers text blocks and stops whose start was never seen.
			return []Event{TextMessageEnd{
				Type:      EventTextMessageEnd,
				MessageID: messageID(runID, ev.Index),
			}}
		}
	}
	return nil
}

// translateFinalMessage handles the complete assistant message that arrives
// after streaming. Only content that was never streamed produces events:
// text blocks are gated by the run-wide textStreamed flag, tool blocks by
// their individual ids.
func translateFinalMessage(m protocol.AssistantMessage, st *RunState) []Event {
	var events []Event
	for _, block := range m.Message.Content {
		switch block.Type {
		case protocol.BlockTypeText:
			if st.textStreamed {
				continue
			}
			msgID := m.Message.ID
			events = append(events,
				TextMessageStart{Type: EventTextMessageStart, MessageID: msgID, Role: "assistant"},
				TextMessageContent{Type: EventTextMessageContent, MessageID: msgID, Delta: block.Text},
				TextMessageEnd{Type: EventTextMessageEnd, MessageID: msgID},
			)
		case protocol.BlockTypeToolUse:
			if _, streamed := st.streamedToolIDs[block.ID]; streamed {
				continue
			}
			parent := m.Message.ID
			events = append(events,
				ToolCallStart{
					Type:            EventToolCallStart,
					ToolCallID:      block.ID,
					ToolCallName:    block.Name,
					ParentMessageID: &parent,
				},
				ToolCallArgs{Type: EventToolCallArgs, ToolCallID: block.ID, Delta: string(block.Input)},
				ToolCallEnd{Type: EventToolCallEnd, ToolCallID: block.ID},
			)
		}
	}
	return events
}
