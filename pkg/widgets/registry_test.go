package widgets

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/widgetbridge/pkg/notebook"
	"github.com/go-go-golems/widgetbridge/pkg/session"
	"github.com/go-go-golems/widgetbridge/pkg/session/memory"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/messaging"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/protocol"
)

const testNotebookURI = "file:///notebook.ipynb"

type registryFixture struct {
	sessions *memory.Service
	editors  *notebook.MemoryEditorService
	channels *messaging.MemoryFactory
	registry *Registry
	plots    []*PlotClient
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{
		sessions: memory.NewService(memory.WithClock(func() time.Time {
			return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		})),
		editors:  notebook.NewMemoryEditorService(),
		channels: messaging.NewMemoryFactory(),
	}
	f.registry = f.newRegistry(t)
	sub := f.registry.OnDidCreatePlot(func(p *PlotClient) { f.plots = append(f.plots, p) })
	t.Cleanup(sub.Unsubscribe)
	return f
}

func (f *registryFixture) newRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryConfig{
		Sessions:  f.sessions,
		Editors:   f.editors,
		Renderers: notebook.StaticRendererResolver{Default: testRendererID},
		Channels:  f.channels,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func (f *registryFixture) startConsole(t *testing.T) *memory.Session {
	t.Helper()
	s, err := f.sessions.StartSession(context.Background(), session.Metadata{Mode: session.ModeInteractive})
	require.NoError(t, err)
	return s
}

func (f *registryFixture) startNotebook(t *testing.T, uri string) *memory.Session {
	t.Helper()
	s, err := f.sessions.StartSession(context.Background(), session.Metadata{Mode: session.ModeNotebook, NotebookURI: uri})
	require.NoError(t, err)
	return s
}

func widgetResult(parentID string) session.ResultMessage {
	return session.ResultMessage{
		Header: session.Header{ParentID: parentID},
		Kind:   session.OutputKindWidget,
		Data:   map[string]any{session.WidgetViewMimeType: map[string]any{}},
	}
}

// endAndCountListeners ends s and returns how many other listeners were
// still attached once the end event reached a handler subscribed last. The
// session tears its streams down only after that, so leaks stay visible.
func endAndCountListeners(s *memory.Session) int {
	remaining := -1
	s.OnDidEndSession(func(session.Exit) { remaining = s.ListenerCount() - 1 })
	s.EndSession("test")
	return remaining
}

func (r *Registry) isWatching(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watched[sessionID]
	return ok
}

func (f *registryFixture) createConsoleInstance(t *testing.T) (*memory.Session, *PlotClient) {
	t.Helper()
	s := f.startConsole(t)
	msg := s.ReceiveResultMessage(widgetResult(""))

	require.True(t, f.registry.HasInstance(msg.ID))
	require.Len(t, f.plots, 1)
	plot := f.plots[0]
	require.Equal(t, msg.ID, plot.ID())
	require.Equal(t, PlotMetadata{
		ID:        msg.ID,
		ParentID:  msg.ParentID,
		Created:   msg.When.UnixMilli(),
		SessionID: s.ID(),
		Code:      "",
	}, plot.Metadata())
	return s, plot
}

func TestNewRegistry_RequiresCollaborators(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{})
	require.Error(t, err)
}

func TestRegistry_ConsoleCreateAndEndSession(t *testing.T) {
	f := newRegistryFixture(t)
	s, plot := f.createConsoleInstance(t)

	require.Equal(t, plot.ID(), plot.Instance().ID())
	require.Equal(t, []string{plot.ID()}, f.registry.InstanceIDs())

	require.Equal(t, 0, endAndCountListeners(s))

	require.False(t, f.registry.HasInstance(plot.ID()))
	require.True(t, plot.Instance().IsDisposed())
	require.False(t, f.registry.isWatching(s.ID()))
	ch, ok := f.channels.Channel(plot.ID())
	require.True(t, ok)
	require.True(t, ch.IsClosed())
}

func TestRegistry_ConsoleResultMessageCreatesInstance(t *testing.T) {
	f := newRegistryFixture(t)
	s, _ := f.createConsoleInstance(t)

	msg := s.ReceiveResultMessage(widgetResult(""))

	require.True(t, f.registry.HasInstance(msg.ID))
	require.Len(t, f.plots, 2)
}

func TestRegistry_ConsoleOutputMessageCreatesInstance(t *testing.T) {
	f := newRegistryFixture(t)
	s := f.startConsole(t)

	msg := s.ReceiveOutputMessage(session.OutputMessage{
		Kind: session.OutputKindWidget,
		Data: map[string]any{session.WidgetViewMimeType: map[string]any{}},
	})

	require.True(t, f.registry.HasInstance(msg.ID))
	require.Len(t, f.plots, 1)
}

func TestRegistry_ConsoleReusedMessageIDCreatesOneInstance(t *testing.T) {
	f := newRegistryFixture(t)
	s := f.startConsole(t)

	msg := widgetResult("")
	msg.ID = "fixed-id"
	s.ReceiveResultMessage(msg)
	s.ReceiveResultMessage(msg)

	require.Equal(t, []string{"fixed-id"}, f.registry.InstanceIDs())
	require.Len(t, f.plots, 1)
}

func TestRegistry_ConsoleNonWidgetOutputIgnored(t *testing.T) {
	f := newRegistryFixture(t)
	s := f.startConsole(t)

	s.ReceiveOutputMessage(session.OutputMessage{Kind: session.OutputKindText, Data: map[string]any{"text/plain": "1"}})
	s.Receive(session.StreamMessage{Name: session.StreamStdout, Text: "hi"})

	require.Empty(t, f.registry.InstanceIDs())
	require.Empty(t, f.plots)
}

func TestRegistry_ConsolePlotCarriesInputCode(t *testing.T) {
	f := newRegistryFixture(t)
	s := f.startConsole(t)

	s.Receive(session.InputMessage{Header: session.Header{ParentID: "exec-1"}, Code: "slider = IntSlider()"})
	s.ReceiveResultMessage(widgetResult("exec-1"))

	require.Len(t, f.plots, 1)
	md := f.plots[0].Metadata()
	require.Equal(t, "exec-1", md.ParentID)
	require.Equal(t, "slider = IntSlider()", md.Code)
	require.True(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).Equal(md.CreatedAt()))
}

func TestRegistry_ConsoleKeepsOnlyRecentInputs(t *testing.T) {
	f := newRegistryFixture(t)
	s := f.startConsole(t)

	for i := 0; i < 1000; i++ {
		s.Receive(session.InputMessage{
			Header: session.Header{ParentID: fmt.Sprintf("exec-%d", i)},
			Code:   fmt.Sprintf("cell %d", i),
		})
	}
	require.Equal(t, maxRecordedInputs, f.registry.recordedInputs(s.ID()))

	s.ReceiveResultMessage(widgetResult("exec-999"))
	s.ReceiveResultMessage(widgetResult("exec-0"))

	require.Len(t, f.plots, 2)
	require.Equal(t, "cell 999", f.plots[0].Metadata().Code)
	require.Equal(t, "", f.plots[1].Metadata().Code)
}

func (r *Registry) recordedInputs(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watched[sessionID]
	if !ok {
		return 0
	}
	return len(w.inputs)
}

func TestRegistry_ConsoleHasInstanceInsidePlotHandler(t *testing.T) {
	f := newRegistryFixture(t)
	var seen bool
	sub := f.registry.OnDidCreatePlot(func(p *PlotClient) {
		seen = f.registry.HasInstance(p.ID())
	})
	defer sub.Unsubscribe()

	s := f.startConsole(t)
	s.ReceiveResultMessage(widgetResult(""))

	require.True(t, seen)
}

func TestRegistry_ConsoleInstanceSendsInitializeResult(t *testing.T) {
	f := newRegistryFixture(t)
	_, plot := f.createConsoleInstance(t)

	ch, ok := f.channels.Channel(plot.ID())
	require.True(t, ok)
	require.Equal(t, []protocol.ToWebview{protocol.InitializeResult{}}, ch.Sent())
}

func (f *registryFixture) createNotebookInstance(t *testing.T) (*memory.Session, *notebook.MemoryEditor) {
	t.Helper()
	editor := notebook.NewMemoryEditor("test-notebook-editor-id", testNotebookURI)
	f.editors.AddEditor(editor)

	s := f.startNotebook(t, testNotebookURI)
	require.True(t, f.registry.HasInstance(s.ID()))
	return s, editor
}

func TestRegistry_NotebookCreateAndEndSession(t *testing.T) {
	f := newRegistryFixture(t)
	s, _ := f.createNotebookInstance(t)
	inst, ok := f.registry.Instance(s.ID())
	require.True(t, ok)

	require.Equal(t, 0, endAndCountListeners(s))

	require.False(t, f.registry.HasInstance(s.ID()))
	require.True(t, inst.IsDisposed())
	require.False(t, f.registry.isWatching(s.ID()))
	require.Empty(t, f.plots)
}

func TestRegistry_NotebookChangeModelRemovesInstance(t *testing.T) {
	f := newRegistryFixture(t)
	s, editor := f.createNotebookInstance(t)

	editor.ChangeModel("file:///other.ipynb")
	require.False(t, f.registry.HasInstance(s.ID()))

	editor.ChangeModel("file:///third.ipynb")
	require.False(t, f.registry.HasInstance(s.ID()))
}

func TestRegistry_NotebookChangeModelBackReattaches(t *testing.T) {
	f := newRegistryFixture(t)
	s, editor := f.createNotebookInstance(t)

	editor.ChangeModel("file:///other.ipynb")
	require.False(t, f.registry.HasInstance(s.ID()))

	editor.ChangeModel(testNotebookURI)
	require.True(t, f.registry.HasInstance(s.ID()))
}

func TestRegistry_NotebookRemoveEditorRemovesInstance(t *testing.T) {
	f := newRegistryFixture(t)
	s, editor := f.createNotebookInstance(t)
	inst, _ := f.registry.Instance(s.ID())

	f.editors.RemoveEditor(editor)
	require.False(t, f.registry.HasInstance(s.ID()))
	require.True(t, inst.IsDisposed())
	require.Equal(t, 0, editor.ListenerCount())

	f.editors.RemoveEditor(editor)
	require.False(t, f.registry.HasInstance(s.ID()))
}

func TestRegistry_NotebookRemoveEditorFallsBackToOtherEditor(t *testing.T) {
	f := newRegistryFixture(t)
	s, editor := f.createNotebookInstance(t)
	f.editors.AddEditor(notebook.NewMemoryEditor("second-editor", testNotebookURI))

	f.editors.RemoveEditor(editor)

	require.True(t, f.registry.HasInstance(s.ID()))
}

func TestRegistry_NotebookDeferredUntilEditorAttaches(t *testing.T) {
	f := newRegistryFixture(t)
	s := f.startNotebook(t, testNotebookURI)
	require.False(t, f.registry.HasInstance(s.ID()))

	editor := notebook.NewMemoryEditor("late-editor", "file:///other.ipynb")
	f.editors.AddEditor(editor)
	require.False(t, f.registry.HasInstance(s.ID()))

	editor.ChangeModel(testNotebookURI)
	require.True(t, f.registry.HasInstance(s.ID()))
}

func TestRegistry_NotebookDeferredUntilEditorAdded(t *testing.T) {
	f := newRegistryFixture(t)
	s := f.startNotebook(t, testNotebookURI)
	require.False(t, f.registry.HasInstance(s.ID()))

	f.editors.AddEditor(notebook.NewMemoryEditor("late-editor", testNotebookURI))
	require.True(t, f.registry.HasInstance(s.ID()))
}

func TestRegistry_NotebookWidgetOutputDoesNotCreatePlot(t *testing.T) {
	f := newRegistryFixture(t)
	s, _ := f.createNotebookInstance(t)

	s.ReceiveResultMessage(widgetResult(""))

	require.Equal(t, []string{s.ID()}, f.registry.InstanceIDs())
	require.Empty(t, f.plots)
}

func TestRegistry_AttachesSessionsStartedBeforeConstruction(t *testing.T) {
	f := newRegistryFixture(t)
	f.editors.AddEditor(notebook.NewMemoryEditor("editor", testNotebookURI))
	nb := f.startNotebook(t, testNotebookURI)
	console := f.startConsole(t)

	late := f.newRegistry(t)
	require.True(t, late.HasInstance(nb.ID()))

	msg := console.ReceiveResultMessage(widgetResult(""))
	require.True(t, late.HasInstance(msg.ID))
}

func TestRegistry_CloseReleasesAllListeners(t *testing.T) {
	f := newRegistryFixture(t)
	nb, editor := f.createNotebookInstance(t)
	console, plot := f.createConsoleInstance(t)

	require.NoError(t, f.registry.Close())
	require.NoError(t, f.registry.Close())

	require.Empty(t, f.registry.InstanceIDs())
	require.True(t, plot.Instance().IsDisposed())
	require.Equal(t, 0, nb.ListenerCount())
	require.Equal(t, 0, console.ListenerCount())
	require.Equal(t, 0, editor.ListenerCount())
	require.Equal(t, 0, f.editors.ListenerCount())
	require.Equal(t, 0, f.sessions.ListenerCount())

	// Nothing is created after close.
	console.ReceiveResultMessage(widgetResult(""))
	require.Empty(t, f.registry.InstanceIDs())
}
