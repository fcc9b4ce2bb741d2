// Package spawn launches agent CLI processes under a pty and registers the
// sessions they will occupy. The agent dials back into the ingress endpoint
// over the --sdk-url the spawner appends.
package spawn

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/agent-command/bridged/internal/config"
	"github.com/agent-command/bridged/internal/metrics"
	"github.com/agent-command/bridged/internal/session"
)

// Spawner starts and tracks agent processes.
type Spawner struct {
	store       *session.Store
	pending     *session.PendingQueue
	threads     *session.ThreadMap
	metrics     *metrics.Metrics
	cfg         config.SpawnConfig
	ingressAddr string

	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

// New creates a spawner. ingressAddr is the host:port agents dial back to.
func New(store *session.Store, pending *session.PendingQueue, threads *session.ThreadMap, m *metrics.Metrics, cfg config.SpawnConfig, ingressAddr string) *Spawner {
	return &Spawner{
		store:       store,
		pending:     pending,
		threads:     threads,
		metrics:     m,
		cfg:         cfg,
		ingressAddr: ingressAddr,
		procs:       make(map[string]*exec.Cmd),
	}
}

// Launch starts one agent process and registers its session in the Starting
// state. The session id is minted here and embedded in the --sdk-url so the
// connection pairs itself; the pending queue covers CLIs that ignore the
// path.
func (s *Spawner) Launch(workingDir, permissionMode string) (string, error) {
	id := uuid.New().String()
	dir := workingDir
	if dir == "" {
		dir = s.cfg.WorkingDir
	}

	sdkURL := fmt.Sprintf("ws://%s/ws/cli/%s", s.ingressAddr, id)
	args := append(append([]string{}, s.cfg.Args...), "--sdk-url", sdkURL)
	cmd := exec.Command(s.cfg.Bin, args...)
	cmd.Dir = dir

	if err := s.store.Create(id, dir, permissionMode); err != nil {
		return "", err
	}

	// The CLI expects a terminal; a plain pipe makes it fall back to
	// non-interactive mode.
	tty, err := pty.Start(cmd)
	if err != nil {
		_ = s.store.Remove(id)
		return "", fmt.Errorf("start %s: %w", s.cfg.Bin, err)
	}

	s.metrics.SessionsActive.Inc()
	s.pending.Push(id)
	s.mu.Lock()
	s.procs[id] = cmd
	s.mu.Unlock()

	go s.reap(id, cmd, tty)

	log.Printf("Spawned %s (session %s, pid %d, dir %s)", s.cfg.Bin, id, cmd.Process.Pid, dir)
	return id, nil
}

// Terminate kills a spawned agent process. Session cleanup happens in the
// reaper once the process exits.
func (s *Spawner) Terminate(id string) error {
	s.mu.Lock()
	cmd := s.procs[id]
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return session.ErrNotFound
	}
	return cmd.Process.Kill()
}

// reap drains the pty until the process exits, then retires the session.
// Draining matters: a full terminal buffer would block the child.
func (s *Spawner) reap(id string, cmd *exec.Cmd, tty *os.File) {
	_, _ = io.Copy(io.Discard, tty)
	err := cmd.Wait()
	_ = tty.Close()

	if err != nil {
		log.Printf("Session %s agent exited: %v", id, err)
	} else {
		log.Printf("Session %s agent exited", id)
	}

	_ = s.store.SetStatus(id, session.StatusTerminated)
	s.metrics.SessionsActive.Dec()
	s.pending.Remove(id)
	s.threads.UnbindSession(id)

	s.mu.Lock()
	delete(s.procs, id)
	s.mu.Unlock()
}
