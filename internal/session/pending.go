package session

import "sync"

// PendingQueue is a FIFO of session ids awaiting their first agent
// connection. It is the fallback pairing mechanism for connections that
// cannot identify their session from transport metadata: ids are pushed in
// spawn order and popped when an unidentified connection sends init.
type PendingQueue struct {
	mu  sync.Mutex
	ids []string
}

// NewPendingQueue creates an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Push appends a session id.
func (q *PendingQueue) Push(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

// Pop removes and returns the oldest pending id.
func (q *PendingQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

// Remove deletes an id wherever it sits in the queue. Used once a session
// pairs through transport metadata instead of the queue.
func (q *PendingQueue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, pending := range q.ids {
		if pending == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending ids.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
