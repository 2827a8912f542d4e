package widgetshttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/widgetbridge/pkg/notebook"
	"github.com/go-go-golems/widgetbridge/pkg/session"
	"github.com/go-go-golems/widgetbridge/pkg/session/memory"
)

func (h *handlers) registerDebugRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/debug/sessions", h.handleStartSession)
	mux.HandleFunc("DELETE /api/debug/sessions/{session_id}", h.handleEndSession)
	mux.HandleFunc("POST /api/debug/sessions/{session_id}/messages", h.handleRuntimeMessage)
	mux.HandleFunc("POST /api/debug/sessions/{session_id}/comms", h.handleOpenComm)
	mux.HandleFunc("POST /api/debug/sessions/{session_id}/comms/{comm_id}/messages", h.handleCommData)
	mux.HandleFunc("DELETE /api/debug/sessions/{session_id}/comms/{comm_id}", h.handleCloseComm)
	mux.HandleFunc("POST /api/debug/editors", h.handleAddEditor)
	mux.HandleFunc("POST /api/debug/editors/{editor_id}/model", h.handleChangeModel)
	mux.HandleFunc("DELETE /api/debug/editors/{editor_id}", h.handleRemoveEditor)
}

type startSessionRequest struct {
	SessionID   string `json:"session_id"`
	Mode        string `json:"mode"`
	NotebookURI string `json:"notebook_uri"`
}

func (h *handlers) handleStartSession(w http.ResponseWriter, req *http.Request) {
	var body startSessionRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode := session.Mode(strings.TrimSpace(body.Mode))
	switch mode {
	case "", session.ModeInteractive, session.ModeNotebook:
	default:
		http.Error(w, "mode must be interactive or notebook", http.StatusBadRequest)
		return
	}
	sess, err := h.opts.Sessions.StartSession(req.Context(), session.Metadata{
		SessionID:   body.SessionID,
		Mode:        mode,
		NotebookURI: body.NotebookURI,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	md := sess.Metadata()
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":   md.SessionID,
		"mode":         md.Mode,
		"notebook_uri": md.NotebookURI,
	})
}

func (h *handlers) handleEndSession(w http.ResponseWriter, req *http.Request) {
	if err := h.opts.Sessions.EndSession(req.PathValue("session_id"), "ended via debug api"); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runtimeMessageRequest carries the union of the fields of every runtime
// message type; Type selects which apply.
type runtimeMessageRequest struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	Name      string         `json:"name"`
	Text      string         `json:"text"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Traceback []string       `json:"traceback"`
	Wait      bool           `json:"wait"`
}

func (r runtimeMessageRequest) toMessage() (session.Message, error) {
	h := session.Header{ID: r.ID, ParentID: r.ParentID}
	kind := session.OutputKind(r.Kind)
	if kind == "" {
		kind = session.OutputKindUnknown
	}
	switch session.MessageType(r.Type) {
	case session.MessageTypeOutput:
		return session.OutputMessage{Header: h, Kind: kind, Data: r.Data, Metadata: r.Metadata}, nil
	case session.MessageTypeResult:
		return session.ResultMessage{Header: h, Kind: kind, Data: r.Data, Metadata: r.Metadata}, nil
	case session.MessageTypeStream:
		name := session.StreamName(r.Name)
		if name == "" {
			name = session.StreamStdout
		}
		return session.StreamMessage{Header: h, Name: name, Text: r.Text}, nil
	case session.MessageTypeInput:
		return session.InputMessage{Header: h, Code: r.Code}, nil
	case session.MessageTypeError:
		return session.ErrorMessage{Header: h, Name: r.Name, Message: r.Message, Traceback: r.Traceback}, nil
	case session.MessageTypeClearOutput:
		return session.ClearOutputMessage{Header: h, Wait: r.Wait}, nil
	default:
		return nil, errors.Errorf("unsupported runtime message type %q", r.Type)
	}
}

func (h *handlers) lookupSession(w http.ResponseWriter, req *http.Request) (*memory.Session, bool) {
	id := req.PathValue("session_id")
	sess, ok := h.opts.Sessions.Session(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (h *handlers) handleRuntimeMessage(w http.ResponseWriter, req *http.Request) {
	sess, ok := h.lookupSession(w, req)
	if !ok {
		return
	}
	var body runtimeMessageRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg, err := body.toMessage()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg = sess.Receive(msg)
	hdr := msg.MessageHeader()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":        hdr.ID,
		"parent_id": hdr.ParentID,
		"when":      hdr.When.Format(time.RFC3339Nano),
	})
}

type openCommRequest struct {
	CommID     string         `json:"comm_id"`
	TargetName string         `json:"target_name"`
	Data       map[string]any `json:"data"`
	Metadata   map[string]any `json:"metadata"`
}

func (h *handlers) handleOpenComm(w http.ResponseWriter, req *http.Request) {
	sess, ok := h.lookupSession(w, req)
	if !ok {
		return
	}
	var body openCommRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.TargetName) == "" {
		http.Error(w, "missing target_name", http.StatusBadRequest)
		return
	}
	client, err := sess.OpenClientFromRuntime(session.ClientType(body.TargetName), body.CommID, body.Data, body.Metadata)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrDuplicateComm) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comm_id": client.ID(), "target_name": client.Type()})
}

type commDataRequest struct {
	ID       string         `json:"id"`
	ParentID string         `json:"parent_id"`
	Data     map[string]any `json:"data"`
}

func (h *handlers) handleCommData(w http.ResponseWriter, req *http.Request) {
	sess, ok := h.lookupSession(w, req)
	if !ok {
		return
	}
	client, ok := sess.Client(req.PathValue("comm_id"))
	if !ok {
		http.Error(w, "comm not found", http.StatusNotFound)
		return
	}
	var body commDataRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	client.ReceiveData(session.CommMessage{ID: body.ID, ParentID: body.ParentID, Data: body.Data})
	w.WriteHeader(http.StatusAccepted)
}

func (h *handlers) handleCloseComm(w http.ResponseWriter, req *http.Request) {
	sess, ok := h.lookupSession(w, req)
	if !ok {
		return
	}
	client, ok := sess.Client(req.PathValue("comm_id"))
	if !ok {
		http.Error(w, "comm not found", http.StatusNotFound)
		return
	}
	_ = client.Close()
	w.WriteHeader(http.StatusNoContent)
}

type editorRequest struct {
	EditorID string `json:"editor_id"`
	URI      string `json:"uri"`
}

func (h *handlers) handleAddEditor(w http.ResponseWriter, req *http.Request) {
	var body editorRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body.EditorID = strings.TrimSpace(body.EditorID)
	if body.EditorID == "" {
		http.Error(w, "missing editor_id", http.StatusBadRequest)
		return
	}
	if _, exists := h.opts.Editors.Editor(body.EditorID); exists {
		http.Error(w, "editor already exists", http.StatusConflict)
		return
	}
	h.opts.Editors.AddEditor(notebook.NewMemoryEditor(body.EditorID, body.URI))
	writeJSON(w, http.StatusCreated, body)
}

func (h *handlers) handleChangeModel(w http.ResponseWriter, req *http.Request) {
	e, ok := h.opts.Editors.Editor(req.PathValue("editor_id"))
	if !ok {
		http.Error(w, "editor not found", http.StatusNotFound)
		return
	}
	editor, ok := e.(*notebook.MemoryEditor)
	if !ok {
		http.Error(w, "editor does not support model changes", http.StatusConflict)
		return
	}
	var body editorRequest
	if err := decodeJSON(req, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	editor.ChangeModel(body.URI)
	writeJSON(w, http.StatusOK, editorRequest{EditorID: editor.ID(), URI: editor.DocumentURI()})
}

func (h *handlers) handleRemoveEditor(w http.ResponseWriter, req *http.Request) {
	e, ok := h.opts.Editors.Editor(req.PathValue("editor_id"))
	if !ok {
		http.Error(w, "editor not found", http.StatusNotFound)
		return
	}
	h.opts.Editors.RemoveEditor(e)
	w.WriteHeader(http.StatusNoContent)
}
