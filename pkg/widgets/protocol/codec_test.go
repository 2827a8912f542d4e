package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncode_AddsTypeDiscriminator(t *testing.T) {
	b, err := Encode(InitializeResult{})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"initialize_result"}`, string(b))

	b, err = Encode(GetPreferredRendererResult{ParentID: "m1", RendererID: "r1"})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"get_preferred_renderer_result","parent_id":"m1","renderer_id":"r1"}`, string(b))
}

func TestEncode_KernelMessageTagsContent(t *testing.T) {
	b, err := Encode(KernelMessage{
		ParentID: "p1",
		Content:  Error{Name: "ValueError", Message: "bad", Traceback: []string{"l1"}},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "kernel_message",
		"parent_id": "p1",
		"content": {"type": "error", "name": "ValueError", "message": "bad", "traceback": ["l1"]}
	}`, string(b))

	b, err = Encode(KernelMessage{ParentID: "p2", Content: ClearOutput{Wait: true}})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"kernel_message","parent_id":"p2","content":{"type":"clear_output","wait":true}}`, string(b))
}

func TestEncode_CommOpen(t *testing.T) {
	b, err := Encode(CommOpen{CommID: "c1", TargetName: "jupyter.widget", Data: map[string]any{}, Metadata: map[string]any{}})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"comm_open","comm_id":"c1","target_name":"jupyter.widget","data":{},"metadata":{}}`, string(b))
}

func TestDecodeFromWebview_KnownTypes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want FromWebview
	}{
		{"initialize", `{"type":"initialize"}`, Initialize{}},
		{"comm_open", `{"type":"comm_open","comm_id":"c1","target_name":"jupyter.widget.control","data":{"a":1},"metadata":{}}`,
			CommOpen{CommID: "c1", TargetName: "jupyter.widget.control", Data: map[string]any{"a": float64(1)}, Metadata: map[string]any{}}},
		{"comm_close", `{"type":"comm_close","comm_id":"c1"}`, CommClose{CommID: "c1"}},
		{"comm_msg", `{"type":"comm_msg","comm_id":"c1","msg_id":"m1","data":{"method":"update"}}`,
			CommMsg{CommID: "c1", MsgID: "m1", Data: map[string]any{"method": "update"}}},
		{"get_preferred_renderer", `{"type":"get_preferred_renderer","msg_id":"m1","mime_type":"text/x"}`,
			GetPreferredRenderer{MsgID: "m1", MimeType: "text/x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeFromWebview([]byte(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeFromWebview_UnknownType(t *testing.T) {
	got, err := DecodeFromWebview([]byte(`{"type":"bogus","x":1}`))
	require.NoError(t, err)
	u, ok := got.(Unknown)
	require.True(t, ok)
	require.Equal(t, "bogus", u.MessageType())
}

func TestDecodeFromWebview_Malformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{}`,
		`{"type":""}`,
		`{"type":"comm_open","target_name":"jupyter.widget"}`,
		`{"type":"comm_close"}`,
		`{"type":"get_preferred_renderer","mime_type":"text/x"}`,
		`{"type":"comm_msg","comm_id":5}`,
	} {
		_, err := DecodeFromWebview([]byte(raw))
		require.Error(t, err, raw)
		require.True(t, errors.Is(err, ErrMalformedMessage), raw)
	}
}

func TestDecodeToWebview_InvertsEncode(t *testing.T) {
	msgs := []ToWebview{
		InitializeResult{},
		CommClose{CommID: "c1"},
		GetPreferredRendererResult{ParentID: "m1", RendererID: "r"},
		KernelMessage{ParentID: "p", Content: Stream{Name: "stdout", Text: "hi"}},
	}
	for _, m := range msgs {
		b, err := Encode(m)
		require.NoError(t, err)
		got, err := DecodeToWebview(b)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestEncodeFromWebview_RoundTripsThroughDecoder(t *testing.T) {
	b, err := EncodeFromWebview(GetPreferredRenderer{MsgID: "m1", MimeType: "text/x"})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	require.Equal(t, "get_preferred_renderer", raw["type"])

	got, err := DecodeFromWebview(b)
	require.NoError(t, err)
	require.Equal(t, GetPreferredRenderer{MsgID: "m1", MimeType: "text/x"}, got)
}
