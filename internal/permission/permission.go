// Package permission decides tool-approval requests from the session's
// permission mode, without involving the UI for modes that resolve
// automatically.
package permission

// Mode mirrors the agent CLI's permission modes.
type Mode string

const (
	ModeDefault     Mode = "default"
	ModeAcceptEdits Mode = "acceptEdits"
	ModePlan        Mode = "plan"
	ModeBypass      Mode = "bypassPermissions"
)

// Decision is the outcome for one tool-approval request.
type Decision int

const (
	// Ask forwards the request to a human-facing channel unchanged.
	Ask Decision = iota
	Allow
	Deny
)

// String returns the decision name for logs.
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "ask"
	}
}

// Tools auto-approved under acceptEdits. The CLI's own edit/write tools plus
// the names used by common MCP file servers.
var defaultEditTools = []string{
	"Edit",
	"Write",
	"MultiEdit",
	"write_to_file",
	"edit_file",
	"create_file",
}

// Resolver evaluates the mode table for tool-approval requests.
type Resolver struct {
	editTools map[string]struct{}
}

// NewResolver builds a resolver. extraEditTools extends the built-in
// acceptEdits allow-list.
func NewResolver(extraEditTools []string) *Resolver {
	tools := make(map[string]struct{}, len(defaultEditTools)+len(extraEditTools))
	for _, t := range defaultEditTools {
		tools[t] = struct{}{}
	}
	for _, t := range extraEditTools {
		if t != "" {
			tools[t] = struct{}{}
		}
	}
	return &Resolver{editTools: tools}
}

// Resolve applies the mode table:
//
//	bypassPermissions  allow, always
//	plan               deny, always
//	acceptEdits        allow iff the tool is an edit/write tool, else ask
//	anything else      ask
func (r *Resolver) Resolve(mode Mode, toolName string) Decision {
	switch mode {
	case ModeBypass:
		return Allow
	case ModePlan:
		return Deny
	case ModeAcceptEdits:
		if _, ok := r.editTools[toolName]; ok {
			return Allow
		}
		return Ask
	default:
		return Ask
	}
}
