// Package protocol defines the JSON messages exchanged between the widget
// bridge and a rendering webview.
//
// Each direction is a closed set: FromWebview for renderer-originated
// messages, ToWebview for bridge-originated ones. Messages are JSON objects
// with a "type" discriminator. Payload fields such as data and metadata are
// routed as opaque maps and never inspected.
package protocol

const (
	TypeInitialize                 = "initialize"
	TypeInitializeResult           = "initialize_result"
	TypeCommOpen                   = "comm_open"
	TypeCommClose                  = "comm_close"
	TypeCommMsg                    = "comm_msg"
	TypeGetPreferredRenderer       = "get_preferred_renderer"
	TypeGetPreferredRendererResult = "get_preferred_renderer_result"
	TypeKernelMessage              = "kernel_message"
)

// FromWebview is a message sent by the renderer. Concrete types: Initialize,
// CommOpen, CommClose, CommMsg, GetPreferredRenderer, Unknown.
type FromWebview interface {
	MessageType() string
	fromWebview()
}

// ToWebview is a message sent to the renderer. Concrete types:
// InitializeResult, CommOpen, CommClose, CommMsg,
// GetPreferredRendererResult, KernelMessage.
type ToWebview interface {
	MessageType() string
	toWebview()
}

type Initialize struct{}

func (Initialize) MessageType() string { return TypeInitialize }
func (Initialize) fromWebview()        {}

type InitializeResult struct{}

func (InitializeResult) MessageType() string { return TypeInitializeResult }
func (InitializeResult) toWebview()          {}

// CommOpen announces a comm in either direction.
type CommOpen struct {
	CommID     string         `json:"comm_id"`
	TargetName string         `json:"target_name"`
	Data       map[string]any `json:"data"`
	Metadata   map[string]any `json:"metadata"`
}

func (CommOpen) MessageType() string { return TypeCommOpen }
func (CommOpen) fromWebview()        {}
func (CommOpen) toWebview()          {}

type CommClose struct {
	CommID string `json:"comm_id"`
}

func (CommClose) MessageType() string { return TypeCommClose }
func (CommClose) fromWebview()        {}
func (CommClose) toWebview()          {}

// CommMsg carries comm data. MsgID is set on renderer messages, ParentID on
// bridge messages.
type CommMsg struct {
	CommID   string         `json:"comm_id"`
	MsgID    string         `json:"msg_id,omitempty"`
	ParentID string         `json:"parent_id,omitempty"`
	Data     map[string]any `json:"data"`
	Buffers  [][]byte       `json:"buffers,omitempty"`
}

func (CommMsg) MessageType() string { return TypeCommMsg }
func (CommMsg) fromWebview()        {}
func (CommMsg) toWebview()          {}

type GetPreferredRenderer struct {
	MsgID    string `json:"msg_id"`
	MimeType string `json:"mime_type"`
}

func (GetPreferredRenderer) MessageType() string { return TypeGetPreferredRenderer }
func (GetPreferredRenderer) fromWebview()        {}

type GetPreferredRendererResult struct {
	ParentID   string `json:"parent_id"`
	RendererID string `json:"renderer_id"`
}

func (GetPreferredRendererResult) MessageType() string { return TypeGetPreferredRendererResult }
func (GetPreferredRendererResult) toWebview()          {}

// Unknown is a well-formed renderer message whose type is not recognized.
type Unknown struct {
	Type string
	Raw  []byte
}

func (u Unknown) MessageType() string { return u.Type }
func (Unknown) fromWebview()          {}

// KernelMessage relays a runtime output to the renderer.
type KernelMessage struct {
	ParentID string        `json:"parent_id"`
	Content  KernelContent `json:"content"`
}

func (KernelMessage) MessageType() string { return TypeKernelMessage }
func (KernelMessage) toWebview()          {}
