package notebook

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryEditorService_AddRemove(t *testing.T) {
	svc := NewMemoryEditorService()
	var added, removed []string
	addSub := svc.OnDidAddEditor(func(e Editor) { added = append(added, e.ID()) })
	removeSub := svc.OnDidRemoveEditor(func(e Editor) { removed = append(removed, e.ID()) })
	defer addSub.Unsubscribe()
	defer removeSub.Unsubscribe()

	ed := NewMemoryEditor("ed-1", "file:///a.ipynb")
	svc.AddEditor(ed)
	svc.AddEditor(ed)
	require.Len(t, svc.ListEditors(), 1)

	svc.RemoveEditor(ed)
	svc.RemoveEditor(ed)
	require.Empty(t, svc.ListEditors())
	require.Equal(t, []string{"ed-1"}, added)
	require.Equal(t, []string{"ed-1"}, removed)
}

func TestMemoryEditor_ChangeModel(t *testing.T) {
	ed := NewMemoryEditor("ed-1", "file:///a.ipynb")
	var got []string
	sub := ed.OnDidChangeModel(func(uri string) { got = append(got, uri) })

	ed.ChangeModel("file:///b.ipynb")
	require.Equal(t, "file:///b.ipynb", ed.DocumentURI())
	require.Equal(t, []string{"file:///b.ipynb"}, got)

	sub.Unsubscribe()
	require.Equal(t, 0, ed.ListenerCount())
}

func TestStaticRendererResolver(t *testing.T) {
	r := StaticRendererResolver{
		Default: "widget-renderer",
		ByMime:  map[string]string{"text/html": "html-renderer"},
	}
	id, err := r.PreferredRenderer(" TEXT/HTML ")
	require.NoError(t, err)
	require.Equal(t, "html-renderer", id)

	id, err = r.PreferredRenderer("text/x")
	require.NoError(t, err)
	require.Equal(t, "widget-renderer", id)

	_, err = StaticRendererResolver{}.PreferredRenderer("text/x")
	require.True(t, errors.Is(err, ErrNoRenderer))
}
