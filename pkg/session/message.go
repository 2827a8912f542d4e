package session

import "time"

// MessageType is the runtime-level type of a message emitted by a session.
type MessageType string

const (
	MessageTypeOutput      MessageType = "output"
	MessageTypeResult      MessageType = "result"
	MessageTypeStream      MessageType = "stream"
	MessageTypeInput       MessageType = "input"
	MessageTypeError       MessageType = "error"
	MessageTypePrompt      MessageType = "prompt"
	MessageTypeState       MessageType = "state"
	MessageTypeClearOutput MessageType = "clear_output"
)

// OutputKind classifies output and result payloads.
type OutputKind string

const (
	OutputKindUnknown    OutputKind = "unknown"
	OutputKindText       OutputKind = "text"
	OutputKindPlot       OutputKind = "plot"
	OutputKindHTML       OutputKind = "inline_html"
	OutputKindViewer     OutputKind = "viewer"
	OutputKindWidget     OutputKind = "ipywidget"
	OutputKindWebview    OutputKind = "webview"
	OutputKindDataViewer OutputKind = "data_viewer"
)

// WidgetViewMimeType is the mime type carrying a widget view reference.
const WidgetViewMimeType = "application/vnd.jupyter.widget-view+json"

type StreamName string

const (
	StreamStdout StreamName = "stdout"
	StreamStderr StreamName = "stderr"
)

// Message is the closed set of runtime messages. Concrete types are
// OutputMessage, ResultMessage, StreamMessage, InputMessage, ErrorMessage,
// PromptMessage, StateMessage and ClearOutputMessage.
type Message interface {
	MessageHeader() Header
	isMessage()
}

type Header struct {
	ID       string
	ParentID string
	When     time.Time
	Type     MessageType
}

func (h Header) MessageHeader() Header { return h }
func (Header) isMessage()              {}

type OutputMessage struct {
	Header
	Kind     OutputKind
	Data     map[string]any
	Metadata map[string]any
}

type ResultMessage struct {
	Header
	Kind     OutputKind
	Data     map[string]any
	Metadata map[string]any
}

type StreamMessage struct {
	Header
	Name StreamName
	Text string
}

type InputMessage struct {
	Header
	Code           string
	ExecutionCount int
}

type ErrorMessage struct {
	Header
	Name      string
	Message   string
	Traceback []string
}

type PromptMessage struct {
	Header
	Prompt   string
	Password bool
}

type StateMessage struct {
	Header
	State State
}

type ClearOutputMessage struct {
	Header
	Wait bool
}
