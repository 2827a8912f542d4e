// Package session defines the contracts of the language-runtime session layer
// the widget bridge observes: sessions, their runtime message stream, and the
// comm clients they own.
//
// The bridge never mutates a session. It subscribes to lifecycle and message
// streams and asks the session to create or close comm clients.
package session

import (
	"context"
	"time"

	"github.com/go-go-golems/widgetbridge/pkg/events"
)

// Mode distinguishes console sessions from notebook-attached sessions.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeNotebook    Mode = "notebook"
)

// State is the runtime lifecycle state reported by a session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateReady         State = "ready"
	StateIdle          State = "idle"
	StateBusy          State = "busy"
	StateExiting       State = "exiting"
	StateExited        State = "exited"
)

// IsRunning reports whether the runtime has become ready and not yet begun
// to exit.
func (s State) IsRunning() bool {
	switch s {
	case StateReady, StateIdle, StateBusy:
		return true
	default:
		return false
	}
}

type Metadata struct {
	SessionID   string
	Mode        Mode
	NotebookURI string
	CreatedAt   time.Time
}

// Exit describes how a session ended.
type Exit struct {
	SessionID string
	ExitCode  int
	Reason    string
}

// ClientCreatedEvent is emitted when the runtime opens a comm client.
type ClientCreatedEvent struct {
	Client   Client
	Data     map[string]any
	Metadata map[string]any
}

type Session interface {
	ID() string
	Metadata() Metadata
	State() State

	OnDidChangeRuntimeState(func(State)) events.Subscription
	OnDidEndSession(func(Exit)) events.Subscription
	OnDidReceiveRuntimeMessage(func(Message)) events.Subscription
	// OnDidCreateClientInstance fires for clients opened by the runtime side only.
	OnDidCreateClientInstance(func(ClientCreatedEvent)) events.Subscription

	// CreateClient opens a frontend-initiated comm with the given id.
	CreateClient(ctx context.Context, typ ClientType, data, metadata map[string]any, id string) (Client, error)
	// ListClients returns live clients, optionally filtered by type.
	ListClients(types ...ClientType) []Client
}

// Service is the session manager the widget registry listens to.
type Service interface {
	ActiveSessions() []Session
	// OnDidStartRuntime fires once per session when it becomes ready.
	OnDidStartRuntime(func(Session)) events.Subscription
}
