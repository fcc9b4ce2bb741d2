// Package ingress accepts one WebSocket connection per agent process,
// pairs each connection with its session, and feeds parsed NDJSON frames
// into the session store and the event bus.
package ingress

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-command/bridged/internal/bus"
	"github.com/agent-command/bridged/internal/history"
	"github.com/agent-command/bridged/internal/metrics"
	"github.com/agent-command/bridged/internal/permission"
	"github.com/agent-command/bridged/internal/protocol"
	"github.com/agent-command/bridged/internal/session"
)

// Server is the agent-facing WebSocket endpoint. Agents connect at
// /ws/cli/{sessionID}; connections that omit the id are paired through the
// pending queue when their init message arrives.
type Server struct {
	store        *session.Store
	pending      *session.PendingQueue
	bus          *bus.Bus
	metrics      *metrics.Metrics
	history      *history.Log
	resolver     atomic.Pointer[permission.Resolver]
	writeTimeout time.Duration

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener
}

// New creates an ingress server. The resolver may be swapped at runtime via
// SetResolver (config reload). hist may be nil to disable transcript
// persistence.
func New(store *session.Store, pending *session.PendingQueue, eventBus *bus.Bus, m *metrics.Metrics, hist *history.Log, resolver *permission.Resolver, writeTimeout time.Duration) *Server {
	s := &Server{
		store:        store,
		pending:      pending,
		bus:          eventBus,
		metrics:      m,
		history:      hist,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			// Local bridge; the CLI sends no Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.resolver.Store(resolver)
	return s
}

// SetResolver replaces the permission resolver used for new requests.
func (s *Server) SetResolver(r *permission.Resolver) {
	s.resolver.Store(r)
}

// Start listens on the given address and serves connections in the
// background. Use Addr to discover the bound address when listening on
// port 0.
func (s *Server) Start(listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/cli/", s.handleWS)

	s.httpSrv = &http.Server{Handler: mux}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("Ingress server error: %v", err)
		}
	}()
	log.Printf("Ingress listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// sessionIDFromPath extracts the session id from /ws/cli/{sessionID}.
func sessionIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/ws/cli/")
	if rest == path {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromPath(r.URL.Path)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Ingress handshake failed: %v", err)
		return
	}

	c := &conn{ws: ws, writeTimeout: s.writeTimeout}
	defer c.close()

	// A session id in the path pairs the connection immediately, before the
	// agent even speaks.
	if sessionID != "" {
		if err := s.store.AttachSender(sessionID, c); err != nil {
			log.Printf("Ingress: path session %s unknown: %v", sessionID, err)
		} else {
			s.pending.Remove(sessionID)
			log.Printf("Session %s agent connected (from path)", sessionID)
		}
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Ingress read error (session %s): %v", sessionID, err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		// One frame may carry several newline-delimited JSON objects.
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			s.processLine(&sessionID, c, []byte(line))
		}
	}

	log.Printf("Ingress connection closed (session %s)", sessionID)
	if sessionID != "" {
		s.store.Disconnect(sessionID, c)
	}
}

// processLine handles one NDJSON line from the agent. Malformed lines are
// logged and skipped; the connection stays up.
func (s *Server) processLine(sessionID *string, c *conn, line []byte) {
	msg, err := protocol.ParseMessage(line)
	if err != nil {
		preview := line
		if len(preview) > 200 {
			preview = preview[:200]
		}
		log.Printf("Ingress: skipping malformed line: %v | %s", err, preview)
		s.metrics.IngressParseError.Inc()
		return
	}
	s.metrics.IngressMessages.Inc()

	switch m := msg.(type) {
	case protocol.SystemMessage:
		if m.IsInit() {
			s.handleInit(sessionID, c, m)
		}

	case protocol.AssistantMessage:
		s.store.Activate(*sessionID)
		if m.Message.Usage != nil {
			if err := s.store.AddUsage(*sessionID, *m.Message.Usage); err != nil && *sessionID != "" {
				log.Printf("Ingress: usage for unknown session %s", *sessionID)
			}
		}

	case protocol.StreamEventMessage:
		s.store.Activate(*sessionID)

	case protocol.ControlRequestMessage:
		if m.Request.Subtype == protocol.ControlSubtypeCanUseTool {
			if s.autoResolve(*sessionID, c, m) {
				// Answered on this connection; the UI never sees it.
				return
			}
		}

	case protocol.ResultMessage:
		_ = s.store.SetStatus(*sessionID, session.StatusIdle)
		_ = s.store.AddResultMetrics(*sessionID, m.TotalCostUSD, m.NumTurns, m.DurationMs)
	}

	if keepInHistory(msg.MsgType()) {
		_ = s.store.AppendHistory(*sessionID, line)
		if s.history != nil && *sessionID != "" {
			if err := s.history.Append(*sessionID, line); err != nil {
				log.Printf("Ingress: persist history for session %s: %v", *sessionID, err)
			}
		}
	}

	s.bus.Publish(bus.Event{SessionID: *sessionID, Message: msg, Raw: line})
	s.metrics.BusPublished.Inc()
}

// handleInit binds the connection to its session once the agent announces
// itself. Resolution order: id from the connection path, then the oldest
// pending spawn, then the agent's own id.
func (s *Server) handleInit(sessionID *string, c *conn, m protocol.SystemMessage) {
	if *sessionID == "" {
		if id, ok := s.pending.Pop(); ok {
			*sessionID = id
		} else if m.SessionID != "" {
			*sessionID = m.SessionID
		}
	}

	if err := s.store.Connect(*sessionID, c, m.SessionID, m.Model, m.PermissionMode); err != nil {
		log.Printf("Ingress: init for unknown session %q", *sessionID)
		return
	}
	log.Printf("Session %s connected (agent session %s, model %s, permissionMode %s)",
		*sessionID, m.SessionID, m.Model, m.PermissionMode)
}

// autoResolve answers a tool-approval request directly on the agent
// connection when the session's permission mode decides it. Returns false
// when the request must be deferred to a human.
func (s *Server) autoResolve(sessionID string, c *conn, m protocol.ControlRequestMessage) bool {
	mode := permission.ModeDefault
	if snap, err := s.store.Get(sessionID); err == nil && snap.PermissionMode != "" {
		mode = permission.Mode(snap.PermissionMode)
	}

	decision := s.resolver.Load().Resolve(mode, m.Request.ToolName)
	if decision == permission.Ask {
		return false
	}
	if m.Request.RequestID == "" {
		return false
	}

	var resp protocol.OutboundControlResponse
	if decision == permission.Allow {
		resp = protocol.NewAllowResponse(m.Request.RequestID, nil)
	} else {
		resp = protocol.NewDenyResponse(m.Request.RequestID)
	}
	line, err := resp.Line()
	if err != nil {
		log.Printf("Ingress: encode control response: %v", err)
		return false
	}
	if err := c.Send(line); err != nil {
		log.Printf("Ingress: send control response: %v", err)
		return true
	}

	s.metrics.AutoApprovals.WithLabelValues(decision.String()).Inc()
	log.Printf("Auto-%s tool %s (session %s, mode %s)", decision, m.Request.ToolName, sessionID, mode)
	return true
}

// keepInHistory reports whether a message type belongs in session history.
// Echoed user input, lifecycle system messages, keep-alives and auth status
// are not chat content.
func keepInHistory(t protocol.MessageType) bool {
	switch t {
	case protocol.MessageTypeUser, protocol.MessageTypeSystem,
		protocol.MessageTypeKeepAlive, protocol.MessageTypeAuthStatus:
		return false
	}
	return true
}

// conn is one agent connection. Writes are serialized under a mutex because
// the ingress loop, permission resolver and run handlers all send on it.
type conn struct {
	ws           *websocket.Conn
	mu           sync.Mutex
	writeTimeout time.Duration
	closed       bool
}

// Send writes one NDJSON line to the agent. Implements session.Sender.
func (c *conn) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	_ = c.ws.Close()
}
