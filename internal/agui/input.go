package agui

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RunAgentInput is the body of a client run request. Most payloads are kept
// opaque; only the fields the bridge actually consumes are extracted.
type RunAgentInput struct {
	ThreadID       string            `json:"threadId,omitempty"`
	RunID          string            `json:"runId,omitempty"`
	Messages       []json.RawMessage `json:"messages,omitempty"`
	Tools          []json.RawMessage `json:"tools,omitempty"`
	State          json.RawMessage   `json:"state,omitempty"`
	Context        []json.RawMessage `json:"context,omitempty"`
	ForwardedProps json.RawMessage   `json:"forwardedProps,omitempty"`
}

// LastUserMessage returns the content of the most recent user-role message,
// which becomes the turn input.
func (in RunAgentInput) LastUserMessage() string {
	for i := len(in.Messages) - 1; i >= 0; i-- {
		var msg struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(in.Messages[i], &msg); err != nil {
			continue
		}
		if msg.Role == "user" {
			return msg.Content
		}
	}
	return ""
}

// SessionHint extracts an explicit session-routing hint from forwardedProps.
func (in RunAgentInput) SessionHint() string {
	if len(in.ForwardedProps) == 0 {
		return ""
	}
	var props struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(in.ForwardedProps, &props); err != nil {
		return ""
	}
	return props.SessionID
}

// ActionCatalog renders the client's declared frontend actions as a textual
// catalog merged into the outgoing prompt, so the agent can invoke them as
// tool_use blocks.
func (in RunAgentInput) ActionCatalog() string {
	var lines []string
	for _, raw := range in.Tools {
		var tool struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			JSONSchema  json.RawMessage `json:"jsonSchema"`
			Parameters  json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal(raw, &tool); err != nil || tool.Name == "" {
			continue
		}
		desc := tool.Description
		if desc == "" {
			desc = "No description"
		}
		schema := tool.JSONSchema
		if len(schema) == 0 {
			schema = tool.Parameters
		}
		schemaText := "none"
		if len(schema) > 0 {
			schemaText = string(schema)
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s\n  Parameters: %s", tool.Name, desc, schemaText))
	}
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf(
		"\n\n[AVAILABLE UI ACTIONS - You can call these as tool_use to render rich UI components in the chat for the user:]\n%s\n\nTo use an action, output a tool_use block with the action name and parameters.\n\n",
		strings.Join(lines, "\n"))
}

// ContextBlock renders the client's free-form context entries as a textual
// block merged into the outgoing prompt.
func (in RunAgentInput) ContextBlock() string {
	var lines []string
	for _, raw := range in.Context {
		var entry struct {
			Description string          `json:"description"`
			Value       json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		value := strings.Trim(string(entry.Value), `"`)
		if entry.Description == "" && value == "" {
			continue
		}
		if entry.Description != "" {
			lines = append(lines, fmt.Sprintf("- %s: %s", entry.Description, value))
		} else {
			lines = append(lines, "- "+value)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return fmt.Sprintf("\n\n[CONTEXT]\n%s\n\n", strings.Join(lines, "\n"))
}

// ComposePrompt merges the action catalog and context block with the user
// message into the full outgoing prompt.
func (in RunAgentInput) ComposePrompt(userMessage string) string {
	return in.ActionCatalog() + in.ContextBlock() + userMessage
}
