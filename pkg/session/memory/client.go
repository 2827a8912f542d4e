package memory

import (
	"context"
	"sync"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/session"
)

// Client is an in-memory comm client.
type Client struct {
	id  string
	typ session.ClientType

	mu    sync.Mutex
	state session.ClientState
	sent  []session.CommMessage

	onState *events.Emitter[session.ClientState]
	onData  *events.Emitter[session.CommMessage]

	owner *Session
}

var _ session.Client = &Client{}

func newClient(owner *Session, id string, typ session.ClientType) *Client {
	return &Client{
		id:      id,
		typ:     typ,
		state:   session.ClientStateOpening,
		onState: events.NewEmitter[session.ClientState](),
		onData:  events.NewEmitter[session.CommMessage](),
		owner:   owner,
	}
}

func (c *Client) ID() string               { return c.id }
func (c *Client) Type() session.ClientType { return c.typ }

func (c *Client) State() session.ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) OnDidChangeClientState(fn func(session.ClientState)) events.Subscription {
	return c.onState.Subscribe(fn)
}

func (c *Client) OnDidReceiveData(fn func(session.CommMessage)) events.Subscription {
	return c.onData.Subscribe(fn)
}

// SetClientState moves the client to state and notifies listeners.
// Closed is terminal; transitions out of it are ignored.
func (c *Client) SetClientState(state session.ClientState) {
	c.mu.Lock()
	if c.state == state || c.state == session.ClientStateClosed {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.onState.Fire(state)
	if state == session.ClientStateClosed {
		if c.owner != nil {
			c.owner.forgetClient(c.id)
		}
		c.onState.Dispose()
		c.onData.Dispose()
	}
}

// ReceiveData simulates the runtime sending msg on this comm.
func (c *Client) ReceiveData(msg session.CommMessage) {
	if c.State() == session.ClientStateClosed {
		return
	}
	c.onData.Fire(msg)
}

func (c *Client) SendMessage(_ context.Context, msgID string, data map[string]any, buffers [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == session.ClientStateClosed {
		return session.ErrClientClosed
	}
	c.sent = append(c.sent, session.CommMessage{ID: msgID, Data: data, Buffers: buffers})
	return nil
}

// SentMessages returns the frontend messages delivered so far.
func (c *Client) SentMessages() []session.CommMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.CommMessage(nil), c.sent...)
}

func (c *Client) Close() error {
	c.SetClientState(session.ClientStateClosed)
	return nil
}

// ListenerCount reports the number of listeners attached to the client.
func (c *Client) ListenerCount() int {
	return c.onState.ListenerCount() + c.onData.ListenerCount()
}
