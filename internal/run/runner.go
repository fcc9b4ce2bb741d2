// Package run executes client turns: it resolves the target session, sends
// the prompt, and streams the session's translated events back until the
// turn completes.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agent-command/bridged/internal/agui"
	"github.com/agent-command/bridged/internal/bus"
	"github.com/agent-command/bridged/internal/history"
	"github.com/agent-command/bridged/internal/metrics"
	"github.com/agent-command/bridged/internal/protocol"
	"github.com/agent-command/bridged/internal/session"
)

// Runner drives runs against live sessions.
type Runner struct {
	store        *session.Store
	threads      *session.ThreadMap
	bus          *bus.Bus
	metrics      *metrics.Metrics
	history      *history.Log
	waitAttempts int
	waitInterval time.Duration
}

// NewRunner creates a runner. waitAttempts and waitInterval bound how long a
// run waits for an agent session to appear before giving up. hist may be nil.
func NewRunner(store *session.Store, threads *session.ThreadMap, eventBus *bus.Bus, m *metrics.Metrics, hist *history.Log, waitAttempts int, waitInterval time.Duration) *Runner {
	if waitAttempts <= 0 {
		waitAttempts = 30
	}
	if waitInterval <= 0 {
		waitInterval = 500 * time.Millisecond
	}
	return &Runner{
		store:        store,
		threads:      threads,
		bus:          eventBus,
		metrics:      m,
		history:      hist,
		waitAttempts: waitAttempts,
		waitInterval: waitInterval,
	}
}

// Run executes one turn. Events are delivered to emit in order; the first is
// always RUN_STARTED and the last is RUN_FINISHED or RUN_ERROR. Run returns
// when the turn terminates or ctx is done.
func (r *Runner) Run(ctx context.Context, input agui.RunAgentInput, emit func(agui.Event) error) error {
	threadID := input.ThreadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	runID := input.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	r.metrics.RunsStarted.Inc()
	if err := emit(agui.RunStarted{Type: agui.EventRunStarted, ThreadID: threadID, RunID: runID}); err != nil {
		return err
	}

	userMessage := input.LastUserMessage()
	if userMessage == "" {
		return r.fail(emit, threadID, runID, "no user message in run input")
	}

	// Subscribe before sending anything so the agent's first reply cannot
	// slip past us.
	sub := r.bus.Subscribe()
	defer sub.Close()

	sessionID, err := r.resolveSession(ctx, threadID, input)
	if err != nil {
		return r.fail(emit, threadID, runID, err.Error())
	}
	r.threads.Bind(threadID, sessionID)

	snap, err := r.store.Get(sessionID)
	if err != nil {
		return r.fail(emit, threadID, runID, fmt.Sprintf("session %s: %v", sessionID, err))
	}
	sender, err := r.store.Sender(sessionID)
	if err != nil {
		return r.fail(emit, threadID, runID, fmt.Sprintf("session %s: %v", sessionID, err))
	}

	r.recordUserTurn(sessionID, userMessage)

	outbound := protocol.NewOutboundUser(input.ComposePrompt(userMessage), snap.ResumeID)
	line, err := outbound.Line()
	if err != nil {
		return r.fail(emit, threadID, runID, err.Error())
	}
	if err := sender.Send(line); err != nil {
		return r.fail(emit, threadID, runID, fmt.Sprintf("send to session %s: %v", sessionID, err))
	}
	log.Printf("Run %s started (thread %s, session %s)", runID, threadID, sessionID)

	st := agui.NewRunState()
	for {
		select {
		case <-ctx.Done():
			log.Printf("Run %s canceled by client", runID)
			return ctx.Err()

		case ev, ok := <-sub.Events():
			if !ok {
				return r.fail(emit, threadID, runID, "event bus closed")
			}
			if ev.SessionID != sessionID {
				continue
			}

			for _, out := range agui.Translate(ev.Message, threadID, runID, st) {
				if err := emit(out); err != nil {
					return err
				}
				if out.Kind() == agui.EventRunFinished {
					r.metrics.RunsFinished.Inc()
					log.Printf("Run %s finished", runID)
					return nil
				}
			}
		}
	}
}

// Interrupt asks a session's agent to abort its current turn.
func (r *Runner) Interrupt(sessionID string) error {
	sender, err := r.store.Sender(sessionID)
	if err != nil {
		return err
	}
	line, err := protocol.NewInterruptRequest(uuid.New().String()).Line()
	if err != nil {
		return err
	}
	return sender.Send(line)
}

// resolveSession picks the session a run targets. Priority: existing thread
// binding, then an explicit sessionId hint in forwardedProps, then the
// oldest live session, polling up to the configured bound for one to appear.
func (r *Runner) resolveSession(ctx context.Context, threadID string, input agui.RunAgentInput) (string, error) {
	if id, ok := r.threads.SessionFor(threadID); ok {
		return id, nil
	}
	if hint := input.SessionHint(); hint != "" {
		if _, err := r.store.Get(hint); err == nil {
			return hint, nil
		}
		log.Printf("Run: ignoring unknown session hint %q", hint)
	}

	for attempt := 0; attempt < r.waitAttempts; attempt++ {
		if id, ok := r.store.FirstLive(); ok {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.waitInterval):
		}
	}
	return "", fmt.Errorf("no agent session available after %v",
		time.Duration(r.waitAttempts)*r.waitInterval)
}

// recordUserTurn appends the user's prompt to session history so later
// clients can reconstruct the conversation.
func (r *Runner) recordUserTurn(sessionID, content string) {
	entry, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]string{
			"role":    "user",
			"content": content,
		},
	})
	if err != nil {
		return
	}
	if err := r.store.AppendHistory(sessionID, entry); err != nil {
		log.Printf("Run: history append for session %s: %v", sessionID, err)
	}
	if r.history != nil {
		if err := r.history.Append(sessionID, entry); err != nil {
			log.Printf("Run: persist history for session %s: %v", sessionID, err)
		}
	}
}

func (r *Runner) fail(emit func(agui.Event) error, threadID, runID, message string) error {
	r.metrics.RunsErrored.Inc()
	log.Printf("Run %s error: %s", runID, message)
	return emit(agui.RunError{Type: agui.EventRunError, ThreadID: threadID, RunID: runID, Message: message})
}
