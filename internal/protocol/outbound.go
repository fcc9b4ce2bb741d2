package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound messages are written to the agent connection as single NDJSON
// lines. Each type has a Line method producing the newline-terminated frame.

// UserContent is the role+content body of an outbound user message.
type UserContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OutboundUser delivers a user turn to the agent. SessionID is the
// agent-assigned (resume) id, not the bridge session id.
type OutboundUser struct {
	Type            string      `json:"type"`
	Message         UserContent `json:"message"`
	ParentToolUseID *string     `json:"parent_tool_use_id"`
	SessionID       string      `json:"session_id"`
}

// NewOutboundUser builds a user message frame for the given resume id.
func NewOutboundUser(content, resumeID string) OutboundUser {
	return OutboundUser{
		Type:      "user",
		Message:   UserContent{Role: "user", Content: content},
		SessionID: resumeID,
	}
}

// Line serializes the message as one NDJSON line.
func (m OutboundUser) Line() (string, error) { return encodeLine(m) }

// PermissionResponse is the behavior payload of a control response. Allow
// responses always carry an updatedInput object, possibly empty; deny
// responses carry none.
type PermissionResponse struct {
	Behavior     string          `json:"behavior"`
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
}

// ControlResponseBody pairs a permission response with its request id.
type ControlResponseBody struct {
	Subtype   string             `json:"subtype"`
	RequestID string             `json:"request_id"`
	Response  PermissionResponse `json:"response"`
}

// OutboundControlResponse answers a control_request on the same connection
// that delivered it.
type OutboundControlResponse struct {
	Type     string              `json:"type"`
	Response ControlResponseBody `json:"response"`
}

// NewAllowResponse builds an allow control response. updatedInput falls back
// to an empty object when nil.
func NewAllowResponse(requestID string, updatedInput json.RawMessage) OutboundControlResponse {
	if len(updatedInput) == 0 {
		updatedInput = json.RawMessage(`{}`)
	}
	return OutboundControlResponse{
		Type: "control_response",
		Response: ControlResponseBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  PermissionResponse{Behavior: "allow", UpdatedInput: updatedInput},
		},
	}
}

// NewDenyResponse builds a deny control response.
func NewDenyResponse(requestID string) OutboundControlResponse {
	return OutboundControlResponse{
		Type: "control_response",
		Response: ControlResponseBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  PermissionResponse{Behavior: "deny"},
		},
	}
}

// Line serializes the response as one NDJSON line.
func (m OutboundControlResponse) Line() (string, error) { return encodeLine(m) }

// OutboundControlRequest sends a control request to the agent, e.g. an
// interrupt for the current turn.
type OutboundControlRequest struct {
	Type      string                `json:"type"`
	RequestID string                `json:"request_id"`
	Request   ControlRequestPayload `json:"request"`
}

// ControlRequestPayload is the subtype body of an outbound control request.
type ControlRequestPayload struct {
	Subtype string `json:"subtype"`
}

// NewInterruptRequest builds an interrupt control request.
func NewInterruptRequest(requestID string) OutboundControlRequest {
	return OutboundControlRequest{
		Type:      "control_request",
		RequestID: requestID,
		Request:   ControlRequestPayload{Subtype: "interrupt"},
	}
}

// Line serializes the request as one NDJSON line.
func (m OutboundControlRequest) Line() (string, error) { return encodeLine(m) }

// KeepAliveLine is the outbound keep-alive frame.
const KeepAliveLine = `{"type":"keep_alive"}` + "\n"

func encodeLine(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal outbound message: %w", err)
	}
	return string(data) + "\n", nil
}
