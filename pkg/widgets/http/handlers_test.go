package widgetshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/widgetbridge/pkg/notebook"
	"github.com/go-go-golems/widgetbridge/pkg/plotstore"
	"github.com/go-go-golems/widgetbridge/pkg/session/memory"
	"github.com/go-go-golems/widgetbridge/pkg/widgets"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/messaging"
)

type testServer struct {
	srv      *httptest.Server
	sessions *memory.Service
	editors  *notebook.MemoryEditorService
	hub      *messaging.WebSocketHub
	registry *widgets.Registry
	plots    *plotstore.InMemoryStore
}

func newTestServer(t *testing.T, debug bool) *testServer {
	t.Helper()
	ts := &testServer{
		sessions: memory.NewService(),
		editors:  notebook.NewMemoryEditorService(),
		hub:      messaging.NewWebSocketHub(messaging.WebSocketHubOptions{WriteTimeout: time.Second}),
		plots:    plotstore.NewInMemoryStore(0),
	}
	reg, err := widgets.NewRegistry(widgets.RegistryConfig{
		Sessions:  ts.sessions,
		Editors:   ts.editors,
		Renderers: notebook.StaticRendererResolver{Default: "test-renderer"},
		Channels:  ts.hub,
	})
	require.NoError(t, err)
	ts.registry = reg
	reg.OnDidCreatePlot(func(p *widgets.PlotClient) {
		md := p.Metadata()
		_ = ts.plots.Save(context.Background(), plotstore.Record{
			ID: md.ID, ParentID: md.ParentID, SessionID: md.SessionID, Code: md.Code, CreatedAtMs: md.Created,
		})
	})

	h, err := NewHandler(Options{
		Registry:    reg,
		Hub:         ts.hub,
		Plots:       ts.plots,
		DebugRoutes: debug,
		Sessions:    ts.sessions,
		Editors:     ts.editors,
	})
	require.NoError(t, err)
	ts.srv = httptest.NewServer(h)
	t.Cleanup(func() {
		ts.srv.Close()
		_ = reg.Close()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestRegister_Validation(t *testing.T) {
	require.Error(t, Register(nil, Options{}))
	require.Error(t, Register(http.NewServeMux(), Options{}))
}

func TestDebugRoutes_DisabledByDefault(t *testing.T) {
	ts := newTestServer(t, false)
	resp, _ := ts.do(t, http.MethodPost, "/api/debug/sessions", map[string]any{})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_UnknownInstance(t *testing.T) {
	ts := newTestServer(t, true)
	resp, _ := ts.do(t, http.MethodGet, "/ws/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNotebookFlow_OverHTTP(t *testing.T) {
	ts := newTestServer(t, true)

	resp, _ := ts.do(t, http.MethodPost, "/api/debug/editors", map[string]any{"editor_id": "e1", "uri": "file:///nb.ipynb"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/debug/editors", map[string]any{"editor_id": "e1", "uri": "file:///nb.ipynb"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/debug/sessions", map[string]any{
		"session_id": "s1", "mode": "notebook", "notebook_uri": "file:///nb.ipynb",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "s1", body["session_id"])
	require.True(t, ts.registry.HasInstance("s1"))

	resp, body = ts.do(t, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "s1", items[0].(map[string]any)["instance_id"])

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.srv.URL, "http")+"/ws/s1", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return ts.hub.ConnectionCount("s1") == 1 }, time.Second, 10*time.Millisecond)

	readJSON := func() map[string]any {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"initialize"}`)))
	require.Equal(t, map[string]any{"type": "initialize_result"}, readJSON())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"get_preferred_renderer","msg_id":"m1","mime_type":"text/x"}`)))
	require.Equal(t, map[string]any{
		"type":        "get_preferred_renderer_result",
		"parent_id":   "m1",
		"renderer_id": "test-renderer",
	}, readJSON())

	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions/s1/comms", map[string]any{
		"comm_id": "c1", "target_name": "jupyter.widget",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, map[string]any{
		"type":        "comm_open",
		"comm_id":     "c1",
		"target_name": "jupyter.widget",
		"data":        map[string]any{},
		"metadata":    map[string]any{},
	}, readJSON())

	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions/s1/messages", map[string]any{
		"type": "stream", "parent_id": "p1", "name": "stdout", "text": "hello",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, map[string]any{
		"type":      "kernel_message",
		"parent_id": "p1",
		"content":   map[string]any{"type": "stream", "name": "stdout", "text": "hello"},
	}, readJSON())

	resp, _ = ts.do(t, http.MethodPost, "/api/debug/editors/e1/model", map[string]any{"uri": "file:///other.ipynb"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, ts.registry.HasInstance("s1"))
	require.Empty(t, ts.hub.ChannelIDs())

	resp, _ = ts.do(t, http.MethodDelete, "/api/debug/sessions/s1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/api/debug/sessions/s1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsoleFlow_RecordsPlots(t *testing.T) {
	ts := newTestServer(t, true)

	resp, body := ts.do(t, http.MethodPost, "/api/debug/sessions", map[string]any{"session_id": "console"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "interactive", body["mode"])

	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions/console/messages", map[string]any{
		"type": "input", "parent_id": "exec-1", "code": "IntSlider()",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, body = ts.do(t, http.MethodPost, "/api/debug/sessions/console/messages", map[string]any{
		"type": "result", "id": "out-1", "parent_id": "exec-1", "kind": "ipywidget",
		"data": map[string]any{"application/vnd.jupyter.widget-view+json": map[string]any{}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "out-1", body["id"])
	require.True(t, ts.registry.HasInstance("out-1"))

	resp, body = ts.do(t, http.MethodGet, "/api/plots?session_id=console", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	plot := items[0].(map[string]any)
	require.Equal(t, "out-1", plot["id"])
	require.Equal(t, "IntSlider()", plot["code"])

	resp, body = ts.do(t, http.MethodGet, "/api/plots/out-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "exec-1", body["parent_id"])

	resp, _ = ts.do(t, http.MethodGet, "/api/plots/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/plots?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDebugRoutes_RejectBadInput(t *testing.T) {
	ts := newTestServer(t, true)

	resp, _ := ts.do(t, http.MethodPost, "/api/debug/sessions", map[string]any{"mode": "batch"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions", map[string]any{"mode": "notebook"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions", map[string]any{"bogus": true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions/missing/messages", map[string]any{"type": "stream"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions", map[string]any{"session_id": "s1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions/s1/messages", map[string]any{"type": "prompt"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions/s1/comms", map[string]any{"comm_id": "c1", "target_name": "jupyter.widget"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions/s1/comms", map[string]any{"comm_id": "c1", "target_name": "jupyter.widget"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/api/debug/sessions/s1/comms/c1/messages", map[string]any{"data": map[string]any{"x": 1}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/api/debug/sessions/s1/comms/c1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/api/debug/sessions/s1/comms/c1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/debug/editors/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
