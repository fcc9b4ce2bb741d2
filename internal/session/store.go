package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agent-command/bridged/internal/usage"
)

// ErrNotFound is returned for operations on unknown session ids.
var ErrNotFound = errors.New("session not found")

// ErrNoChannel is returned when a session has no live agent connection.
var ErrNoChannel = errors.New("session has no agent connection")

// Store owns every session. All mutations happen under one lock so readers
// never observe a partially updated session.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session
	order    []string
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*session)}
}

// Create registers a new session in the Starting state.
func (s *Store) Create(id, workingDir, permissionMode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return fmt.Errorf("session %s already exists", id)
	}
	s.sessions[id] = &session{
		id:             id,
		status:         StatusStarting,
		workingDir:     workingDir,
		permissionMode: permissionMode,
		createdAt:      time.Now(),
	}
	s.order = append(s.order, id)
	return nil
}

// Remove deletes a session.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a snapshot of one session, without history.
func (s *Store) Get(id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return sess.snapshot(false), nil
}

// List returns snapshots of every session in creation order, with history.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.order))
	for _, id := range s.order {
		if sess, ok := s.sessions[id]; ok {
			out = append(out, sess.snapshot(true))
		}
	}
	return out
}

// Connect binds an agent connection to a session and records the init
// metadata. The newest connection always supersedes any previous one.
// Transitions Starting to Connected.
func (s *Store) Connect(id string, sender Sender, resumeID, model, permissionMode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.sender = sender
	sess.status = StatusConnected
	if resumeID != "" {
		sess.resumeID = resumeID
	}
	if model != "" {
		sess.model = model
	}
	if permissionMode != "" {
		sess.permissionMode = permissionMode
	}
	return nil
}

// AttachSender replaces the session's outbound connection without touching
// the rest of the state. Used when a connection identifies its session from
// transport metadata before the init message arrives.
func (s *Store) AttachSender(id string, sender Sender) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.sender = sender
	return nil
}

// Disconnect clears the outbound connection and marks the session
// disconnected, but only if the departing connection is still the live one.
// Safe to call repeatedly for the same connection.
func (s *Store) Disconnect(id string, sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.sender != sender {
		return
	}
	sess.sender = nil
	sess.status = StatusDisconnected
}

// Activate transitions Connected or Idle sessions to Active. Other states
// are left alone.
func (s *Store) Activate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		if sess.status == StatusConnected || sess.status == StatusIdle {
			sess.status = StatusActive
		}
	}
}

// SetStatus forces a session into the given status.
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.status = status
	return nil
}

// AppendHistory appends one raw message to the session's ordered history.
func (s *Store) AppendHistory(id string, entry json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	stored := make(json.RawMessage, len(entry))
	copy(stored, entry)
	sess.history = append(sess.history, stored)
	return nil
}

// AddUsage folds message-level token usage into the session totals.
func (s *Store) AddUsage(id string, u usage.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.totals.Add(u)
	return nil
}

// AddResultMetrics folds turn-level cost and duration into the totals.
func (s *Store) AddResultMetrics(id string, costUSD float64, turns int, durationMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.totals.AddResult(costUSD, turns, durationMs)
	return nil
}

// Sender returns the session's live outbound connection.
func (s *Store) Sender(id string) (Sender, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.sender == nil {
		return nil, ErrNoChannel
	}
	return sess.sender, nil
}

// FirstLive returns the id of the oldest session that has a live agent
// connection.
func (s *Store) FirstLive() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if sess, ok := s.sessions[id]; ok && sess.sender != nil {
			return id, true
		}
	}
	return "", false
}

// Len returns the number of sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
