package protocol

import (
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/pkg/errors"
)

var ErrMalformedMessage = stderrors.New("malformed widget message")

// Encode serializes m as a JSON object with its "type" discriminator.
func Encode(m ToWebview) ([]byte, error) {
	if m == nil {
		return nil, errors.Wrap(ErrMalformedMessage, "nil message")
	}
	return withType(m.MessageType(), m)
}

// EncodeFromWebview serializes a renderer message. Used by renderer-side
// transports and tests.
func EncodeFromWebview(m FromWebview) ([]byte, error) {
	if m == nil {
		return nil, errors.Wrap(ErrMalformedMessage, "nil message")
	}
	if u, ok := m.(Unknown); ok {
		return append([]byte(nil), u.Raw...), nil
	}
	return withType(m.MessageType(), m)
}

// MarshalJSON tags the content with its own "type" field.
func (m KernelMessage) MarshalJSON() ([]byte, error) {
	content := json.RawMessage("null")
	if m.Content != nil {
		b, err := withType(m.Content.ContentType(), m.Content)
		if err != nil {
			return nil, err
		}
		content = b
	}
	return json.Marshal(struct {
		ParentID string          `json:"parent_id"`
		Content  json.RawMessage `json:"content"`
	}{ParentID: m.ParentID, Content: content})
}

func withType(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", typ)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, errors.Wrapf(ErrMalformedMessage, "%s does not encode to an object", typ)
	}
	tag, err := json.Marshal(typ)
	if err != nil {
		return nil, errors.Wrapf(err, "marshal type %s", typ)
	}
	out := make([]byte, 0, len(body)+len(tag)+9)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	out = append(out, body[1:]...)
	return out, nil
}

type envelopeHead struct {
	Type string `json:"type"`
}

func peekType(b []byte) (string, error) {
	var head envelopeHead
	if err := json.Unmarshal(b, &head); err != nil {
		return "", errors.Wrap(ErrMalformedMessage, err.Error())
	}
	typ := strings.TrimSpace(head.Type)
	if typ == "" {
		return "", errors.Wrap(ErrMalformedMessage, "missing type")
	}
	return typ, nil
}

// DecodeFromWebview parses a renderer message. Unrecognized types decode to
// Unknown; invalid JSON or missing required fields return an error wrapping
// ErrMalformedMessage.
func DecodeFromWebview(b []byte) (FromWebview, error) {
	typ, err := peekType(b)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeInitialize:
		return Initialize{}, nil
	case TypeCommOpen:
		var m CommOpen
		if err := decodeInto(b, &m, typ); err != nil {
			return nil, err
		}
		if m.CommID == "" || m.TargetName == "" {
			return nil, errors.Wrapf(ErrMalformedMessage, "%s requires comm_id and target_name", typ)
		}
		return m, nil
	case TypeCommClose:
		var m CommClose
		if err := decodeInto(b, &m, typ); err != nil {
			return nil, err
		}
		if m.CommID == "" {
			return nil, errors.Wrapf(ErrMalformedMessage, "%s requires comm_id", typ)
		}
		return m, nil
	case TypeCommMsg:
		var m CommMsg
		if err := decodeInto(b, &m, typ); err != nil {
			return nil, err
		}
		if m.CommID == "" {
			return nil, errors.Wrapf(ErrMalformedMessage, "%s requires comm_id", typ)
		}
		return m, nil
	case TypeGetPreferredRenderer:
		var m GetPreferredRenderer
		if err := decodeInto(b, &m, typ); err != nil {
			return nil, err
		}
		if m.MsgID == "" {
			return nil, errors.Wrapf(ErrMalformedMessage, "%s requires msg_id", typ)
		}
		return m, nil
	default:
		return Unknown{Type: typ, Raw: append([]byte(nil), b...)}, nil
	}
}

// DecodeToWebview parses a bridge message. It is the inverse of Encode.
func DecodeToWebview(b []byte) (ToWebview, error) {
	typ, err := peekType(b)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeInitializeResult:
		return InitializeResult{}, nil
	case TypeCommOpen:
		var m CommOpen
		err := decodeInto(b, &m, typ)
		return m, err
	case TypeCommClose:
		var m CommClose
		err := decodeInto(b, &m, typ)
		return m, err
	case TypeCommMsg:
		var m CommMsg
		err := decodeInto(b, &m, typ)
		return m, err
	case TypeGetPreferredRendererResult:
		var m GetPreferredRendererResult
		err := decodeInto(b, &m, typ)
		return m, err
	case TypeKernelMessage:
		var raw struct {
			ParentID string          `json:"parent_id"`
			Content  json.RawMessage `json:"content"`
		}
		if err := decodeInto(b, &raw, typ); err != nil {
			return nil, err
		}
		content, err := decodeContent(raw.Content)
		if err != nil {
			return nil, err
		}
		return KernelMessage{ParentID: raw.ParentID, Content: content}, nil
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "unknown message type %q", typ)
	}
}

func decodeContent(b []byte) (KernelContent, error) {
	typ, err := peekType(b)
	if err != nil {
		return nil, err
	}
	switch typ {
	case ContentDisplayData:
		var c DisplayData
		err := decodeInto(b, &c, typ)
		return c, err
	case ContentExecuteResult:
		var c ExecuteResult
		err := decodeInto(b, &c, typ)
		return c, err
	case ContentStream:
		var c Stream
		err := decodeInto(b, &c, typ)
		return c, err
	case ContentError:
		var c Error
		err := decodeInto(b, &c, typ)
		return c, err
	case ContentClearOutput:
		var c ClearOutput
		err := decodeInto(b, &c, typ)
		return c, err
	default:
		return nil, errors.Wrapf(ErrMalformedMessage, "unknown content type %q", typ)
	}
}

func decodeInto(b []byte, v any, typ string) error {
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrapf(ErrMalformedMessage, "decode %s: %v", typ, err)
	}
	return nil
}
