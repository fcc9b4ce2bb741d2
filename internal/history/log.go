// Package history persists session transcripts as one JSONL file per
// session, so clients can recover a conversation after the bridge restarts.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Log is the on-disk transcript store.
type Log struct {
	dir        string
	maxEntries int

	mu      sync.Mutex
	appends map[string]*os.File
	counts  map[string]int
}

// NewLog opens a transcript store under dir. Each session keeps at most
// maxEntries lines on disk; older lines are dropped during compaction.
func NewLog(dir string, maxEntries int) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Log{
		dir:        dir,
		maxEntries: maxEntries,
		appends:    make(map[string]*os.File),
		counts:     make(map[string]int),
	}, nil
}

func (l *Log) path(sessionID string) string {
	// Session ids are UUIDs, but never trust them as path components.
	return filepath.Join(l.dir, filepath.Base(sessionID)+".jsonl")
}

// Append writes one transcript line for a session.
func (l *Log) Append(sessionID string, entry json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := l.openAppend(sessionID)
	if err != nil {
		return err
	}
	if _, err := file.Write(entry); err != nil {
		return err
	}
	if _, err := file.WriteString("\n"); err != nil {
		return err
	}

	l.counts[sessionID]++
	if l.counts[sessionID] > 2*l.maxEntries {
		return l.compact(sessionID)
	}
	return nil
}

// Load reads a session's transcript back, newest maxEntries lines at most.
// A missing file is an empty transcript, not an error.
func (l *Log) Load(sessionID string) ([]json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(sessionID)
}

func (l *Log) loadLocked(sessionID string) ([]json.RawMessage, error) {
	file, err := os.Open(l.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var entries []json.RawMessage
	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		if !json.Valid(scanner.Bytes()) {
			continue // Skip invalid lines
		}
		entry := make(json.RawMessage, len(scanner.Bytes()))
		copy(entry, scanner.Bytes())
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(entries) > l.maxEntries {
		entries = entries[len(entries)-l.maxEntries:]
	}
	return entries, nil
}

// Remove deletes a session's transcript.
func (l *Log) Remove(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closeLocked(sessionID)
	err := os.Remove(l.path(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close releases every open file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id := range l.appends {
		l.closeLocked(id)
	}
	return nil
}

func (l *Log) openAppend(sessionID string) (*os.File, error) {
	if file, ok := l.appends[sessionID]; ok {
		return file, nil
	}
	file, err := os.OpenFile(l.path(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file for append: %w", err)
	}
	l.appends[sessionID] = file

	if _, ok := l.counts[sessionID]; !ok {
		entries, err := l.loadLocked(sessionID)
		if err != nil {
			l.counts[sessionID] = 0
		} else {
			l.counts[sessionID] = len(entries)
		}
	}
	return file, nil
}

// compact rewrites a transcript keeping only the newest maxEntries lines.
func (l *Log) compact(sessionID string) error {
	entries, err := l.loadLocked(sessionID)
	if err != nil {
		return err
	}

	tmpPath := l.path(sessionID) + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	for _, entry := range entries {
		if _, err := file.Write(entry); err != nil {
			file.Close()
			return err
		}
		if _, err := file.WriteString("\n"); err != nil {
			file.Close()
			return err
		}
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, l.path(sessionID)); err != nil {
		return err
	}

	l.closeLocked(sessionID)
	l.counts[sessionID] = len(entries)
	return nil
}

func (l *Log) closeLocked(sessionID string) {
	if file, ok := l.appends[sessionID]; ok {
		_ = file.Close()
		delete(l.appends, sessionID)
	}
	delete(l.counts, sessionID)
}
