package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-command/bridged/internal/agui"
	"github.com/agent-command/bridged/internal/bus"
	"github.com/agent-command/bridged/internal/history"
	"github.com/agent-command/bridged/internal/metrics"
	"github.com/agent-command/bridged/internal/protocol"
	"github.com/agent-command/bridged/internal/run"
	"github.com/agent-command/bridged/internal/session"
)

// echoSender answers any user message with a canned reply script.
type echoSender struct {
	bus       *bus.Bus
	sessionID string
	replies   []string
	sent      []string
}

func (s *echoSender) Send(line string) error {
	s.sent = append(s.sent, line)
	if !strings.Contains(line, `"type":"user"`) {
		return nil
	}
	for _, reply := range s.replies {
		msg, err := protocol.ParseMessage([]byte(reply))
		if err != nil {
			continue
		}
		s.bus.Publish(bus.Event{SessionID: s.sessionID, Message: msg, Raw: json.RawMessage(reply)})
	}
	return nil
}

type fixture struct {
	store *session.Store
	bus   *bus.Bus
	hist  *history.Log
	ts    *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: session.NewStore(),
		bus:   bus.New(64),
	}
	var err error
	f.hist, err = history.NewLog(t.TempDir(), 100)
	require.NoError(t, err)
	t.Cleanup(func() { f.hist.Close() })

	threads := session.NewThreadMap()
	m := metrics.New()
	runner := run.NewRunner(f.store, threads, f.bus, m, f.hist, 2, 5*time.Millisecond)
	srv := New(runner, f.store, f.bus, nil, m, f.hist)

	f.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) connect(t *testing.T, id string, replies ...string) *echoSender {
	t.Helper()
	require.NoError(t, f.store.Create(id, "", ""))
	sender := &echoSender{bus: f.bus, sessionID: id, replies: replies}
	require.NoError(t, f.store.Connect(id, sender, "", "", ""))
	return sender
}

func readSSE(t *testing.T, body *bufio.Reader) []agui.Event {
	t.Helper()
	var events []agui.Event
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			return events
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		ev, err := agui.ParseEvent([]byte(strings.TrimPrefix(line, "data: ")))
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestRunEndpointStreamsSSE(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "s1",
		`{"type":"stream_event","event":{"type":"content_block_start","index":0,"content_block":{"type":"text"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hey"}}}`,
		`{"type":"stream_event","event":{"type":"content_block_stop","index":0}}`,
		`{"type":"result","subtype":"success"}`,
	)

	input := `{"threadId":"t1","runId":"r1","messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(f.ts.URL+"/api/copilotkit", "application/json", strings.NewReader(input))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, bufio.NewReader(resp.Body))
	require.NotEmpty(t, events)
	assert.Equal(t, agui.EventRunStarted, events[0].Kind())
	assert.Equal(t, agui.EventRunFinished, events[len(events)-1].Kind())

	var sawContent bool
	for _, ev := range events {
		if content, ok := ev.(*agui.TextMessageContent); ok {
			sawContent = true
			assert.Equal(t, "hey", content.Delta)
		}
	}
	assert.True(t, sawContent)
}

func TestAgentRunEndpointPinsSession(t *testing.T) {
	f := newFixture(t)
	result := `{"type":"result","subtype":"success"}`
	s1 := f.connect(t, "s1", result)
	s2 := f.connect(t, "s2", result)

	input := `{"threadId":"t-pin","runId":"r1","messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(f.ts.URL+"/agent/s2/run", "application/json", strings.NewReader(input))
	require.NoError(t, err)
	defer resp.Body.Close()
	readSSE(t, bufio.NewReader(resp.Body))

	assert.Empty(t, s1.sent)
	assert.Len(t, s2.sent, 1)
}

func TestRunEndpointRejectsBadBody(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/api/copilotkit", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInfoAndHealth(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.ts.URL + "/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "bridged", info["name"])
	assert.Equal(t, Version, info["version"])
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "s1")

	resp, err := http.Get(f.ts.URL + "/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var data struct {
		Sessions []session.Snapshot `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	require.Len(t, data.Sessions, 1)
	assert.Equal(t, "s1", data.Sessions[0].ID)
	assert.True(t, data.Sessions[0].Connected)
}

func TestHistoryEndpointFallsBackToDisk(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hist.Append("gone", json.RawMessage(`{"type":"assistant"}`)))

	resp, err := http.Get(f.ts.URL + "/sessions/gone/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		History []json.RawMessage `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&data))
	require.Len(t, data.History, 1)

	resp, err = http.Get(f.ts.URL + "/sessions/never-existed/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInterruptEndpoint(t *testing.T) {
	f := newFixture(t)
	sender := f.connect(t, "s1")

	resp, err := http.Post(f.ts.URL+"/sessions/s1/interrupt", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], `"subtype":"interrupt"`)

	resp, err = http.Post(f.ts.URL+"/sessions/missing/interrupt", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTerminateEndpoint(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "s1")

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/sessions/s1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.store.Len())

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSpawnDisabledWithoutSpawner(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/sessions", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/copilotkit", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
