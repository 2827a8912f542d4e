// Package widgets bridges the widget comm clients of running sessions to the
// renderers that display them.
//
// A Registry watches the session service and creates one Instance per
// rendering surface: one per notebook session while an editor shows the
// session's document, and one per widget-bearing console output. Each Instance
// relays the typed protocol between its session and a messaging.Channel.
package widgets

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/notebook"
	"github.com/go-go-golems/widgetbridge/pkg/session"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/messaging"
)

type RegistryConfig struct {
	Sessions  session.Service
	Editors   notebook.EditorService
	Renderers notebook.RendererResolver
	// Channels builds the channel of every new instance. Instances own the
	// channels they are given.
	Channels messaging.Factory
	Logger   *zerolog.Logger
	BaseCtx  context.Context
}

// watchedSession is the registry's bookkeeping for one live session.
type watchedSession struct {
	sess session.Session
	subs *events.DisposableStore

	// notebook mode
	editorID string
	attached bool

	// console mode
	inputs    map[string]string
	inputIDs  []string
	instances []string
}

// maxRecordedInputs bounds the console input sources kept per session. Widget
// output follows its execution's input closely, so only recent ones matter.
const maxRecordedInputs = 16

func (w *watchedSession) recordInput(parentID, code string) {
	if _, ok := w.inputs[parentID]; !ok {
		w.inputIDs = append(w.inputIDs, parentID)
	}
	w.inputs[parentID] = code
	for len(w.inputIDs) > maxRecordedInputs {
		delete(w.inputs, w.inputIDs[0])
		w.inputIDs = w.inputIDs[1:]
	}
}

// Registry owns every live Instance, keyed by instance id.
type Registry struct {
	sessions  session.Service
	editors   notebook.EditorService
	renderers notebook.RendererResolver
	channels  messaging.Factory
	logger    zerolog.Logger
	baseCtx   context.Context

	mu         sync.Mutex
	closed     bool
	instances  map[string]*Instance
	watched    map[string]*watchedSession
	editorSubs map[string]events.Subscription

	onPlot *events.Emitter[*PlotClient]
	subs   *events.DisposableStore
}

// NewRegistry subscribes to the session and editor services and attaches the
// sessions that are already running.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("widget registry session service is nil")
	}
	if cfg.Editors == nil {
		return nil, errors.New("widget registry editor service is nil")
	}
	if cfg.Renderers == nil {
		return nil, errors.New("widget registry renderer resolver is nil")
	}
	if cfg.Channels == nil {
		return nil, errors.New("widget registry channel factory is nil")
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	r := &Registry{
		sessions:   cfg.Sessions,
		editors:    cfg.Editors,
		renderers:  cfg.Renderers,
		channels:   cfg.Channels,
		logger:     logger.With().Str("component", "widget-registry").Logger(),
		baseCtx:    baseCtx,
		instances:  map[string]*Instance{},
		watched:    map[string]*watchedSession{},
		editorSubs: map[string]events.Subscription{},
		onPlot:     events.NewEmitter[*PlotClient](),
		subs:       events.NewDisposableStore(),
	}

	r.subs.Add(cfg.Editors.OnDidAddEditor(r.handleEditorAdded))
	r.subs.Add(cfg.Editors.OnDidRemoveEditor(r.handleEditorRemoved))
	for _, e := range cfg.Editors.ListEditors() {
		r.watchEditor(e)
	}
	r.subs.Add(cfg.Sessions.OnDidStartRuntime(r.attachSession))
	for _, s := range cfg.Sessions.ActiveSessions() {
		r.attachSession(s)
	}
	return r, nil
}

// HasInstance reports whether an instance with id is live.
func (r *Registry) HasInstance(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.instances[id]
	return ok
}

func (r *Registry) Instance(id string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

func (r *Registry) InstanceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnDidCreatePlot fires synchronously whenever a console output creates a
// new plot instance.
func (r *Registry) OnDidCreatePlot(fn func(*PlotClient)) events.Subscription {
	return r.onPlot.Subscribe(fn)
}

func (r *Registry) attachSession(s session.Session) {
	if s == nil {
		return
	}
	md := s.Metadata()
	w := &watchedSession{sess: s, subs: events.NewDisposableStore(), inputs: map[string]string{}}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, ok := r.watched[s.ID()]; ok {
		r.mu.Unlock()
		return
	}
	r.watched[s.ID()] = w
	r.mu.Unlock()

	logger := r.logger.With().Str("session_id", s.ID()).Str("mode", string(md.Mode)).Logger()
	logger.Debug().Msg("watching session")

	w.subs.Add(s.OnDidEndSession(func(session.Exit) { r.endSession(s.ID()) }))

	switch md.Mode {
	case session.ModeNotebook:
		w.subs.Add(s.OnDidChangeRuntimeState(func(state session.State) {
			if state.IsRunning() {
				r.tryAttachNotebook(s.ID())
			}
		}))
		if s.State().IsRunning() {
			r.tryAttachNotebook(s.ID())
		}
	default:
		w.subs.Add(s.OnDidReceiveRuntimeMessage(func(msg session.Message) {
			r.handleConsoleMessage(s.ID(), msg)
		}))
	}
}

// endSession disposes every instance the session backs and stops watching it.
func (r *Registry) endSession(id string) {
	r.mu.Lock()
	w, ok := r.watched[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.watched, id)
	var doomed []*Instance
	ids := append([]string{id}, w.instances...)
	for _, instanceID := range ids {
		if inst, ok := r.instances[instanceID]; ok && inst.SessionID() == id {
			delete(r.instances, instanceID)
			doomed = append(doomed, inst)
		}
	}
	r.mu.Unlock()

	for _, inst := range doomed {
		inst.Dispose()
	}
	w.subs.Dispose()
	r.logger.Debug().Str("session_id", id).Int("instances", len(doomed)).Msg("session ended")
}

func (r *Registry) handleConsoleMessage(sessionID string, msg session.Message) {
	switch m := msg.(type) {
	case session.InputMessage:
		r.mu.Lock()
		if w, ok := r.watched[sessionID]; ok && m.ParentID != "" {
			w.recordInput(m.ParentID, m.Code)
		}
		r.mu.Unlock()
	case session.OutputMessage:
		if m.Kind == session.OutputKindWidget {
			r.createPlot(sessionID, m.Header)
		}
	case session.ResultMessage:
		if m.Kind == session.OutputKindWidget {
			r.createPlot(sessionID, m.Header)
		}
	}
}

// createPlot backs a widget output with a new instance keyed by the output's
// message id. Reused ids are ignored.
func (r *Registry) createPlot(sessionID string, h session.Header) {
	if h.ID == "" {
		r.logger.Warn().Str("session_id", sessionID).Msg("ignoring widget output without message id")
		return
	}
	r.mu.Lock()
	w, ok := r.watched[sessionID]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	if _, exists := r.instances[h.ID]; exists {
		r.mu.Unlock()
		return
	}
	code := w.inputs[h.ParentID]
	r.mu.Unlock()

	inst, err := r.newInstance(h.ID, w.sess)
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Str("message_id", h.ID).Msg("failed to create plot instance")
		return
	}

	r.mu.Lock()
	_, stillWatched := r.watched[sessionID]
	_, exists := r.instances[h.ID]
	if !stillWatched || exists || r.closed {
		r.mu.Unlock()
		inst.Dispose()
		return
	}
	r.instances[h.ID] = inst
	w.instances = append(w.instances, h.ID)
	r.mu.Unlock()

	plot := newPlotClient(PlotMetadata{
		ID:        h.ID,
		ParentID:  h.ParentID,
		Created:   h.When.UnixMilli(),
		SessionID: sessionID,
		Code:      code,
	}, inst)
	r.logger.Info().Str("session_id", sessionID).Str("instance_id", h.ID).Msg("plot instance created")
	r.onPlot.Fire(plot)
}

// tryAttachNotebook creates the notebook instance if the session is not yet
// attached and an editor shows its document. Otherwise the session stays
// pending until an editor shows up.
func (r *Registry) tryAttachNotebook(sessionID string) {
	r.tryAttachNotebookExcept(sessionID, "")
}

func (r *Registry) tryAttachNotebookExcept(sessionID, skipEditorID string) {
	r.mu.Lock()
	w, ok := r.watched[sessionID]
	if !ok || r.closed || w.attached {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	uri := w.sess.Metadata().NotebookURI
	var editor notebook.Editor
	for _, e := range r.editors.ListEditors() {
		if e.ID() != skipEditorID && e.DocumentURI() == uri {
			editor = e
			break
		}
	}
	if editor == nil {
		r.logger.Debug().Str("session_id", sessionID).Str("notebook_uri", uri).Msg("no editor shows notebook, deferring instance")
		return
	}

	inst, err := r.newInstance(sessionID, w.sess)
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to create notebook instance")
		return
	}

	r.mu.Lock()
	current, stillWatched := r.watched[sessionID]
	if !stillWatched || current != w || w.attached || r.closed {
		r.mu.Unlock()
		inst.Dispose()
		return
	}
	r.instances[sessionID] = inst
	w.attached = true
	w.editorID = editor.ID()
	r.mu.Unlock()

	r.logger.Info().Str("session_id", sessionID).Str("editor_id", editor.ID()).Msg("notebook instance created")
}

// detachEditor disposes the notebook instances attached to editorID. The
// sessions go back to pending and are re-attached when another editor still
// shows their document.
func (r *Registry) detachEditor(editorID string, keep func(*watchedSession) bool) {
	r.mu.Lock()
	var doomed []*Instance
	var sessionIDs []string
	for id, w := range r.watched {
		if !w.attached || w.editorID != editorID {
			continue
		}
		if keep != nil && keep(w) {
			continue
		}
		w.attached = false
		w.editorID = ""
		if inst, ok := r.instances[id]; ok {
			delete(r.instances, id)
			doomed = append(doomed, inst)
		}
		sessionIDs = append(sessionIDs, id)
	}
	r.mu.Unlock()

	for _, inst := range doomed {
		inst.Dispose()
		r.logger.Info().Str("session_id", inst.SessionID()).Str("editor_id", editorID).Msg("notebook instance detached")
	}
	sort.Strings(sessionIDs)
	for _, id := range sessionIDs {
		r.tryAttachNotebookExcept(id, editorID)
	}
}

// attachPending retries every pending notebook session showing uri.
func (r *Registry) attachPending(uri string) {
	if uri == "" {
		return
	}
	r.mu.Lock()
	var ids []string
	for id, w := range r.watched {
		if w.sess.Metadata().Mode == session.ModeNotebook && !w.attached && w.sess.Metadata().NotebookURI == uri {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(ids)
	for _, id := range ids {
		r.tryAttachNotebook(id)
	}
}

func (r *Registry) watchEditor(e notebook.Editor) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if _, ok := r.editorSubs[e.ID()]; ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	editorID := e.ID()
	sub := e.OnDidChangeModel(func(uri string) { r.handleModelChange(editorID, uri) })

	r.mu.Lock()
	if _, ok := r.editorSubs[editorID]; ok || r.closed {
		r.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	r.editorSubs[editorID] = sub
	r.mu.Unlock()
}

func (r *Registry) handleEditorAdded(e notebook.Editor) {
	if e == nil {
		return
	}
	r.watchEditor(e)
	r.attachPending(e.DocumentURI())
}

func (r *Registry) handleEditorRemoved(e notebook.Editor) {
	if e == nil {
		return
	}
	r.mu.Lock()
	sub, ok := r.editorSubs[e.ID()]
	delete(r.editorSubs, e.ID())
	r.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
	r.detachEditor(e.ID(), nil)
}

func (r *Registry) handleModelChange(editorID, uri string) {
	r.detachEditor(editorID, func(w *watchedSession) bool {
		return w.sess.Metadata().NotebookURI == uri
	})
	r.attachPending(uri)
}

func (r *Registry) newInstance(id string, s session.Session) (*Instance, error) {
	ch, err := r.channels.NewChannel(id)
	if err != nil {
		return nil, errors.Wrapf(err, "create channel for instance %s", id)
	}
	inst, err := NewInstance(InstanceConfig{
		ID:          id,
		Session:     s,
		Channel:     ch,
		Renderers:   r.renderers,
		Logger:      &r.logger,
		BaseCtx:     r.baseCtx,
		OwnsChannel: true,
	})
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return inst, nil
}

// Close disposes every instance and releases all subscriptions held by the
// registry. Safe to call repeatedly.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	instances := r.instances
	watched := r.watched
	editorSubs := r.editorSubs
	r.instances = map[string]*Instance{}
	r.watched = map[string]*watchedSession{}
	r.editorSubs = map[string]events.Subscription{}
	r.mu.Unlock()

	r.subs.Dispose()
	for _, sub := range editorSubs {
		sub.Unsubscribe()
	}
	for _, w := range watched {
		w.subs.Dispose()
	}
	for _, inst := range instances {
		inst.Dispose()
	}
	r.onPlot.Dispose()
	return nil
}
