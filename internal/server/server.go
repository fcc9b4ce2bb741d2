// Package server is the HTTP surface UI clients talk to: run execution over
// SSE, session management, discovery and health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"

	"github.com/agent-command/bridged/internal/agui"
	"github.com/agent-command/bridged/internal/bus"
	"github.com/agent-command/bridged/internal/history"
	"github.com/agent-command/bridged/internal/metrics"
	"github.com/agent-command/bridged/internal/run"
	"github.com/agent-command/bridged/internal/session"
	"github.com/agent-command/bridged/internal/spawn"
)

// Version is reported on the discovery endpoint.
const Version = "0.2.0"

// Server is the client-facing HTTP server.
type Server struct {
	runner  *run.Runner
	store   *session.Store
	bus     *bus.Bus
	spawner *spawn.Spawner
	metrics *metrics.Metrics
	history *history.Log

	httpSrv  *http.Server
	listener net.Listener
}

// New creates the server around its collaborators. hist may be nil.
func New(runner *run.Runner, store *session.Store, eventBus *bus.Bus, spawner *spawn.Spawner, m *metrics.Metrics, hist *history.Log) *Server {
	return &Server{
		runner:  runner,
		store:   store,
		bus:     eventBus,
		spawner: spawner,
		metrics: m,
		history: hist,
	}
}

// Start listens and serves in the background.
func (s *Server) Start(listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	s.listener = ln

	s.httpSrv = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()
	log.Printf("HTTP listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/copilotkit", s.handleRun(""))
	mux.HandleFunc("POST /agent/{id}/run", func(w http.ResponseWriter, r *http.Request) {
		s.handleRun(r.PathValue("id"))(w, r)
	})
	mux.HandleFunc("GET /agent/{id}/connect", s.handleConnect)

	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /sessions", s.handleSpawn)
	mux.HandleFunc("GET /sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleTerminate)
	mux.HandleFunc("POST /sessions/{id}/interrupt", s.handleInterrupt)

	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return withCORS(mux)
}

// handleRun streams one run as SSE. A non-empty sessionID pins the run to
// that session, overriding any hint in the request body.
func (s *Server) handleRun(sessionID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input agui.RunAgentInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			http.Error(w, fmt.Sprintf("decode run input: %v", err), http.StatusBadRequest)
			return
		}
		if sessionID != "" {
			input.ForwardedProps = json.RawMessage(fmt.Sprintf(`{"sessionId":%q}`, sessionID))
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		setSSEHeaders(w)

		err := s.runner.Run(r.Context(), input, func(ev agui.Event) error {
			return writeSSE(w, flusher, ev)
		})
		if err != nil && r.Context().Err() == nil {
			log.Printf("Run stream ended: %v", err)
		}
	}
}

// handleConnect streams a session's raw agent messages as SSE, outside any
// run. Monitoring clients use it to follow a session passively.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := s.store.Get(sessionID); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	setSSEHeaders(w)

	sub := s.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.SessionID != sessionID {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", ev.Raw); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "bridged",
		"version": Version,
		"endpoints": map[string]string{
			"run":      "/api/copilotkit",
			"sessions": "/sessions",
			"metrics":  "/metrics",
		},
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.store.List()})
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	if s.spawner == nil {
		http.Error(w, "spawning disabled", http.StatusNotImplemented)
		return
	}
	var req struct {
		WorkingDir     string `json:"working_dir"`
		PermissionMode string `json:"permission_mode"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	id, err := s.spawner.Launch(req.WorkingDir, req.PermissionMode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleHistory serves a session's transcript. Live sessions answer from
// memory; sessions lost to a restart fall back to the on-disk log.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	for _, snap := range s.store.List() {
		if snap.ID == id {
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "history": snap.History})
			return
		}
	}

	if s.history != nil {
		entries, err := s.history.Load(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if entries != nil {
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "history": entries})
			return
		}
	}
	http.Error(w, "unknown session", http.StatusNotFound)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.spawner != nil {
		if err := s.spawner.Terminate(id); err != nil && err != session.ErrNotFound {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if err := s.store.Remove(id); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if s.history != nil {
		_ = s.history.Remove(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.runner.Interrupt(id); err != nil {
		status := http.StatusInternalServerError
		if err == session.ErrNotFound || err == session.ErrNoChannel {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func setSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev agui.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// withCORS allows browser UIs served from any origin to reach the bridge.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
