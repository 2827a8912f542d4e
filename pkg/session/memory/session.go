package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/session"
)

// Session is an in-memory language runtime session. Runtime-side behavior
// (emitting messages, opening comms) is driven by the caller.
type Session struct {
	md session.Metadata

	mu      sync.Mutex
	state   session.State
	clients map[string]*Client
	ended   bool

	onState   *events.Emitter[session.State]
	onEnd     *events.Emitter[session.Exit]
	onMessage *events.Emitter[session.Message]
	onClient  *events.Emitter[session.ClientCreatedEvent]

	service *Service
	now     func() time.Time
}

var _ session.Session = &Session{}

func newSession(service *Service, md session.Metadata, now func() time.Time) *Session {
	return &Session{
		md:        md,
		state:     session.StateUninitialized,
		clients:   map[string]*Client{},
		onState:   events.NewEmitter[session.State](),
		onEnd:     events.NewEmitter[session.Exit](),
		onMessage: events.NewEmitter[session.Message](),
		onClient:  events.NewEmitter[session.ClientCreatedEvent](),
		service:   service,
		now:       now,
	}
}

func (s *Session) ID() string                 { return s.md.SessionID }
func (s *Session) Metadata() session.Metadata { return s.md }

func (s *Session) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) OnDidChangeRuntimeState(fn func(session.State)) events.Subscription {
	return s.onState.Subscribe(fn)
}

func (s *Session) OnDidEndSession(fn func(session.Exit)) events.Subscription {
	return s.onEnd.Subscribe(fn)
}

func (s *Session) OnDidReceiveRuntimeMessage(fn func(session.Message)) events.Subscription {
	return s.onMessage.Subscribe(fn)
}

func (s *Session) OnDidCreateClientInstance(fn func(session.ClientCreatedEvent)) events.Subscription {
	return s.onClient.Subscribe(fn)
}

// SetState updates the runtime state and notifies listeners.
func (s *Session) SetState(state session.State) {
	s.mu.Lock()
	if s.ended || s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.onState.Fire(state)
}

func (s *Session) CreateClient(_ context.Context, typ session.ClientType, _, _ map[string]any, id string) (session.Client, error) {
	c, err := s.addClient(typ, id)
	if err != nil {
		return nil, err
	}
	c.SetClientState(session.ClientStateOpen)
	return c, nil
}

// OpenClientFromRuntime simulates the runtime opening a comm. Listeners of
// OnDidCreateClientInstance see the client while it is still opening; it
// then transitions to open.
func (s *Session) OpenClientFromRuntime(typ session.ClientType, id string, data, metadata map[string]any) (*Client, error) {
	c, err := s.addClient(typ, id)
	if err != nil {
		return nil, err
	}
	s.onClient.Fire(session.ClientCreatedEvent{Client: c, Data: data, Metadata: metadata})
	c.SetClientState(session.ClientStateOpen)
	return c, nil
}

func (s *Session) addClient(typ session.ClientType, id string) (*Client, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil, session.ErrSessionEnded
	}
	if _, ok := s.clients[id]; ok {
		return nil, errors.Wrapf(session.ErrDuplicateComm, "comm %s", id)
	}
	c := newClient(s, id, typ)
	s.clients[id] = c
	return c, nil
}

func (s *Session) forgetClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// Client returns the live client with the given id.
func (s *Session) Client(id string) (*Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	return c, ok
}

func (s *Session) ListClients(types ...session.ClientType) []session.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if len(types) > 0 && !containsType(types, c.typ) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containsType(types []session.ClientType, t session.ClientType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Receive emits a runtime message after filling in a missing id, timestamp
// and type. The normalized message is returned.
func (s *Session) Receive(msg session.Message) session.Message {
	msg = s.normalize(msg)
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return msg
	}
	s.onMessage.Fire(msg)
	return msg
}

// ReceiveResultMessage emits a result message; see Receive.
func (s *Session) ReceiveResultMessage(msg session.ResultMessage) session.ResultMessage {
	return s.Receive(msg).(session.ResultMessage)
}

// ReceiveOutputMessage emits an output message; see Receive.
func (s *Session) ReceiveOutputMessage(msg session.OutputMessage) session.OutputMessage {
	return s.Receive(msg).(session.OutputMessage)
}

func (s *Session) normalize(msg session.Message) session.Message {
	fill := func(h *session.Header, t session.MessageType) {
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
		if h.When.IsZero() {
			h.When = s.now()
		}
		h.Type = t
	}
	switch m := msg.(type) {
	case session.OutputMessage:
		fill(&m.Header, session.MessageTypeOutput)
		return m
	case session.ResultMessage:
		fill(&m.Header, session.MessageTypeResult)
		return m
	case session.StreamMessage:
		fill(&m.Header, session.MessageTypeStream)
		return m
	case session.InputMessage:
		fill(&m.Header, session.MessageTypeInput)
		return m
	case session.ErrorMessage:
		fill(&m.Header, session.MessageTypeError)
		return m
	case session.PromptMessage:
		fill(&m.Header, session.MessageTypePrompt)
		return m
	case session.StateMessage:
		fill(&m.Header, session.MessageTypeState)
		return m
	case session.ClearOutputMessage:
		fill(&m.Header, session.MessageTypeClearOutput)
		return m
	default:
		return msg
	}
}

// EndSession marks the session exited, notifies listeners, closes every
// remaining client and releases all listeners.
func (s *Session) EndSession(reason string) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.state = session.StateExited
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.onState.Fire(session.StateExited)
	s.onEnd.Fire(session.Exit{SessionID: s.md.SessionID, Reason: reason})
	for _, c := range clients {
		c.SetClientState(session.ClientStateClosed)
	}
	if s.service != nil {
		s.service.forget(s.md.SessionID)
	}

	s.onState.Dispose()
	s.onEnd.Dispose()
	s.onMessage.Dispose()
	s.onClient.Dispose()
}

// ListenerCount reports the number of listeners still attached to the
// session's streams. Used to verify that observers release everything.
func (s *Session) ListenerCount() int {
	return s.onState.ListenerCount() + s.onEnd.ListenerCount() + s.onMessage.ListenerCount() + s.onClient.ListenerCount()
}
