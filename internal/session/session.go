package session

import (
	"encoding/json"
	"time"

	"github.com/agent-command/bridged/internal/usage"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusConnected    Status = "connected"
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusTerminated   Status = "terminated"
)

// Sender delivers NDJSON lines back to the agent connection that owns a
// session. Send returns an error once the connection is gone.
type Sender interface {
	Send(line string) error
}

// session is the store-internal state for one agent process. It is only ever
// touched under the store lock; callers see Snapshot copies.
type session struct {
	id             string
	status         Status
	workingDir     string
	sender         Sender
	resumeID       string
	model          string
	permissionMode string
	history        []json.RawMessage
	totals         usage.Totals
	createdAt      time.Time
}

// Snapshot is a consistent copy of one session's state.
type Snapshot struct {
	ID             string            `json:"id"`
	Status         Status            `json:"status"`
	WorkingDir     string            `json:"working_dir"`
	Connected      bool              `json:"connected"`
	ResumeID       string            `json:"resume_id,omitempty"`
	Model          string            `json:"model,omitempty"`
	PermissionMode string            `json:"permission_mode,omitempty"`
	History        []json.RawMessage `json:"history,omitempty"`
	Usage          usage.Totals      `json:"usage"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (s *session) snapshot(withHistory bool) Snapshot {
	snap := Snapshot{
		ID:             s.id,
		Status:         s.status,
		WorkingDir:     s.workingDir,
		Connected:      s.sender != nil,
		ResumeID:       s.resumeID,
		Model:          s.model,
		PermissionMode: s.permissionMode,
		Usage:          s.totals,
		CreatedAt:      s.createdAt,
	}
	if withHistory {
		snap.History = make([]json.RawMessage, len(s.history))
		copy(snap.History, s.history)
	}
	return snap
}
