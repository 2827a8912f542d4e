// Package notebook holds the editor-attachment and renderer-preference
// collaborators the widget registry consumes.
package notebook

import (
	"sort"
	"strings"
	"sync"

	"github.com/go-go-golems/widgetbridge/pkg/events"
)

// Editor is a notebook editor showing at most one document at a time.
type Editor interface {
	ID() string
	// DocumentURI is the uri of the document currently shown, or "".
	DocumentURI() string
	// OnDidChangeModel fires with the new document uri ("" when detached).
	OnDidChangeModel(func(uri string)) events.Subscription
}

// EditorService is the registry of open notebook editors.
type EditorService interface {
	ListEditors() []Editor
	OnDidAddEditor(func(Editor)) events.Subscription
	OnDidRemoveEditor(func(Editor)) events.Subscription
}

// MemoryEditor is an in-process Editor.
type MemoryEditor struct {
	id string

	mu  sync.Mutex
	uri string

	onChange *events.Emitter[string]
}

var _ Editor = &MemoryEditor{}

func NewMemoryEditor(id, uri string) *MemoryEditor {
	return &MemoryEditor{id: id, uri: uri, onChange: events.NewEmitter[string]()}
}

func (e *MemoryEditor) ID() string { return e.id }

func (e *MemoryEditor) DocumentURI() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uri
}

func (e *MemoryEditor) OnDidChangeModel(fn func(string)) events.Subscription {
	return e.onChange.Subscribe(fn)
}

// ChangeModel swaps the shown document and fires OnDidChangeModel.
func (e *MemoryEditor) ChangeModel(uri string) {
	e.mu.Lock()
	e.uri = uri
	e.mu.Unlock()
	e.onChange.Fire(uri)
}

func (e *MemoryEditor) ListenerCount() int {
	return e.onChange.ListenerCount()
}

// MemoryEditorService is an in-process EditorService.
type MemoryEditorService struct {
	mu      sync.Mutex
	editors map[string]Editor

	onAdd    *events.Emitter[Editor]
	onRemove *events.Emitter[Editor]
}

var _ EditorService = &MemoryEditorService{}

func NewMemoryEditorService() *MemoryEditorService {
	return &MemoryEditorService{
		editors:  map[string]Editor{},
		onAdd:    events.NewEmitter[Editor](),
		onRemove: events.NewEmitter[Editor](),
	}
}

// AddEditor registers e; re-adding an id that is already present is a no-op.
func (s *MemoryEditorService) AddEditor(e Editor) {
	if e == nil || strings.TrimSpace(e.ID()) == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.editors[e.ID()]; ok {
		s.mu.Unlock()
		return
	}
	s.editors[e.ID()] = e
	s.mu.Unlock()
	s.onAdd.Fire(e)
}

// RemoveEditor unregisters e and fires OnDidRemoveEditor if it was present.
func (s *MemoryEditorService) RemoveEditor(e Editor) {
	if e == nil {
		return
	}
	s.mu.Lock()
	current, ok := s.editors[e.ID()]
	if ok {
		delete(s.editors, e.ID())
	}
	s.mu.Unlock()
	if ok {
		s.onRemove.Fire(current)
	}
}

func (s *MemoryEditorService) Editor(id string) (Editor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.editors[id]
	return e, ok
}

func (s *MemoryEditorService) ListEditors() []Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Editor, 0, len(s.editors))
	for _, e := range s.editors {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *MemoryEditorService) OnDidAddEditor(fn func(Editor)) events.Subscription {
	return s.onAdd.Subscribe(fn)
}

func (s *MemoryEditorService) OnDidRemoveEditor(fn func(Editor)) events.Subscription {
	return s.onRemove.Subscribe(fn)
}

func (s *MemoryEditorService) ListenerCount() int {
	return s.onAdd.ListenerCount() + s.onRemove.ListenerCount()
}
