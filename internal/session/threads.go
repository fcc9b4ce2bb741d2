package session

import "sync"

// ThreadMap pins UI thread ids to sessions. Bindings are created lazily on
// the first successful run resolution for a thread and persist across runs,
// so later runs on the same thread keep talking to the same session even
// after other sessions connect.
type ThreadMap struct {
	mu              sync.RWMutex
	threadToSession map[string]string
	sessionToThread map[string]string
}

// NewThreadMap creates an empty binding map.
func NewThreadMap() *ThreadMap {
	return &ThreadMap{
		threadToSession: make(map[string]string),
		sessionToThread: make(map[string]string),
	}
}

// Bind records a thread↔session binding in both directions.
func (m *ThreadMap) Bind(threadID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threadToSession[threadID] = sessionID
	m.sessionToThread[sessionID] = threadID
}

// SessionFor returns the session bound to a thread.
func (m *ThreadMap) SessionFor(threadID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.threadToSession[threadID]
	return id, ok
}

// ThreadFor returns the thread bound to a session.
func (m *ThreadMap) ThreadFor(sessionID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessionToThread[sessionID]
	return id, ok
}

// UnbindSession drops the binding for a removed session.
func (m *ThreadMap) UnbindSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if threadID, ok := m.sessionToThread[sessionID]; ok {
		delete(m.threadToSession, threadID)
		delete(m.sessionToThread, sessionID)
	}
}
