// Package widgetshttp exposes the widget bridge over HTTP: renderer
// websocket attachment, read-only inspection endpoints, and optional debug
// routes that drive the in-memory session and editor services.
package widgetshttp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/widgetbridge/pkg/notebook"
	"github.com/go-go-golems/widgetbridge/pkg/plotstore"
	"github.com/go-go-golems/widgetbridge/pkg/session/memory"
	"github.com/go-go-golems/widgetbridge/pkg/widgets"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/messaging"
)

type Options struct {
	Registry *widgets.Registry
	// Hub is nil when renderers are reached through a watermill backend; the
	// websocket route then answers 503.
	Hub   *messaging.WebSocketHub
	Plots plotstore.Store

	// DebugRoutes mounts /api/debug/*; Sessions and Editors are required then.
	DebugRoutes bool
	Sessions    *memory.Service
	Editors     *notebook.MemoryEditorService

	Upgrader *websocket.Upgrader
	Logger   *zerolog.Logger
}

type handlers struct {
	opts     Options
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler returns a mux serving every bridge route.
func NewHandler(opts Options) (http.Handler, error) {
	mux := http.NewServeMux()
	if err := Register(mux, opts); err != nil {
		return nil, err
	}
	return mux, nil
}

// Register mounts the bridge routes on mux.
func Register(mux *http.ServeMux, opts Options) error {
	if mux == nil {
		return errors.New("mux is nil")
	}
	if opts.Registry == nil {
		return errors.New("widget registry is nil")
	}
	if opts.DebugRoutes && (opts.Sessions == nil || opts.Editors == nil) {
		return errors.New("debug routes require the in-memory session and editor services")
	}
	logger := log.With().Str("component", "widgetshttp").Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "widgetshttp").Logger()
	}
	h := &handlers{
		opts:     opts,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
	}
	if opts.Upgrader != nil {
		h.upgrader = *opts.Upgrader
	}

	mux.HandleFunc("GET /ws/{instance_id}", h.handleWebSocket)
	mux.HandleFunc("GET /api/instances", h.handleListInstances)
	mux.HandleFunc("GET /api/plots", h.handleListPlots)
	mux.HandleFunc("GET /api/plots/{plot_id}", h.handleGetPlot)
	if opts.DebugRoutes {
		h.registerDebugRoutes(mux)
	}
	return nil
}

func (h *handlers) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	if h.opts.Hub == nil {
		http.Error(w, "websocket transport not enabled", http.StatusServiceUnavailable)
		return
	}
	instanceID := strings.TrimSpace(req.PathValue("instance_id"))
	if instanceID == "" {
		http.Error(w, "missing instance id", http.StatusBadRequest)
		return
	}
	if !h.opts.Registry.HasInstance(instanceID) {
		http.Error(w, "unknown widget instance", http.StatusNotFound)
		return
	}
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	if err := h.opts.Hub.Attach(instanceID, conn); err != nil {
		h.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("failed to attach renderer websocket")
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"failed to attach websocket"}`))
		_ = conn.Close()
		return
	}
	h.logger.Debug().Str("instance_id", instanceID).Str("remote", req.RemoteAddr).Msg("renderer attached")
}

type instanceSummary struct {
	InstanceID  string   `json:"instance_id"`
	SessionID   string   `json:"session_id"`
	Clients     []string `json:"clients"`
	Connections int      `json:"connections"`
}

func (h *handlers) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	ids := h.opts.Registry.InstanceIDs()
	items := make([]instanceSummary, 0, len(ids))
	for _, id := range ids {
		inst, ok := h.opts.Registry.Instance(id)
		if !ok {
			continue
		}
		item := instanceSummary{
			InstanceID: id,
			SessionID:  inst.SessionID(),
			Clients:    inst.ClientIDs(),
		}
		if h.opts.Hub != nil {
			item.Connections = h.opts.Hub.ConnectionCount(id)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handlers) handleListPlots(w http.ResponseWriter, req *http.Request) {
	if h.opts.Plots == nil {
		http.Error(w, "plot store not initialized", http.StatusServiceUnavailable)
		return
	}
	q := req.URL.Query()
	opts := plotstore.ListOptions{SessionID: q.Get("session_id")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = n
	}
	if s := q.Get("since_ms"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid since_ms", http.StatusBadRequest)
			return
		}
		opts.SinceMs = n
	}
	records, err := h.opts.Plots.List(req.Context(), opts)
	if err != nil {
		h.logger.Warn().Err(err).Msg("list plots failed")
		http.Error(w, "list plots failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (h *handlers) handleGetPlot(w http.ResponseWriter, req *http.Request) {
	if h.opts.Plots == nil {
		http.Error(w, "plot store not initialized", http.StatusServiceUnavailable)
		return
	}
	record, ok, err := h.opts.Plots.Get(req.Context(), req.PathValue("plot_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ok {
		http.Error(w, "plot not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(req *http.Request, v any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}
