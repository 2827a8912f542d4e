package session

import (
	"context"

	"github.com/go-go-golems/widgetbridge/pkg/events"
)

// ClientType is the comm target name of a client.
type ClientType string

const (
	ClientTypeWidget        ClientType = "jupyter.widget"
	ClientTypeWidgetControl ClientType = "jupyter.widget.control"
	ClientTypePlot          ClientType = "plot"
	ClientTypeVariables     ClientType = "variables"
	ClientTypeLSP           ClientType = "lsp"
	ClientTypeDAP           ClientType = "dap"
	ClientTypeDataExplorer  ClientType = "data_explorer"
	ClientTypeHelp          ClientType = "help"
	ClientTypeUI            ClientType = "ui"
	ClientTypeConnection    ClientType = "connection"
)

// WidgetClientTypes are the client types a widget instance tracks.
var WidgetClientTypes = []ClientType{ClientTypeWidget, ClientTypeWidgetControl}

func (t ClientType) IsWidget() bool {
	return t == ClientTypeWidget || t == ClientTypeWidgetControl
}

type ClientState string

const (
	ClientStateUninitialized ClientState = "uninitialized"
	ClientStateOpening       ClientState = "opening"
	ClientStateOpen          ClientState = "open"
	ClientStateClosing       ClientState = "closing"
	ClientStateClosed        ClientState = "closed"
)

// CommMessage is a data message delivered to or from a comm client.
type CommMessage struct {
	ID       string
	ParentID string
	Data     map[string]any
	Buffers  [][]byte
}

type Client interface {
	ID() string
	Type() ClientType
	State() ClientState

	OnDidChangeClientState(func(ClientState)) events.Subscription
	// OnDidReceiveData fires for comm messages sent by the runtime.
	OnDidReceiveData(func(CommMessage)) events.Subscription

	// SendMessage delivers a frontend comm message to the runtime.
	SendMessage(ctx context.Context, msgID string, data map[string]any, buffers [][]byte) error
	// Close closes the comm from the frontend side.
	Close() error
}
