package widgets

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/notebook"
	"github.com/go-go-golems/widgetbridge/pkg/session"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/messaging"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/protocol"
)

type instanceState int

const (
	instanceConstructing instanceState = iota
	instanceActive
	instanceDisposed
)

type clientOrigin int

const (
	// originRuntime clients were opened by the kernel (or existed before the
	// instance) and are announced to the webview.
	originRuntime clientOrigin = iota
	// originWebview clients were opened by the webview and are never echoed.
	originWebview
)

type trackedClient struct {
	client    session.Client
	origin    clientOrigin
	announced bool
	data      map[string]any
	metadata  map[string]any
	subs      *events.DisposableStore
}

type InstanceConfig struct {
	// ID defaults to the session id.
	ID        string
	Session   session.Session
	Channel   messaging.Channel
	Renderers notebook.RendererResolver
	Logger    *zerolog.Logger
	// BaseCtx bounds calls made on behalf of the webview; it is cancelled
	// when the instance is disposed.
	BaseCtx context.Context
	// OwnsChannel closes Channel on Dispose.
	OwnsChannel bool
}

// Instance bridges the widget comm clients of one session and the messaging
// channel of one rendering surface.
type Instance struct {
	id          string
	session     session.Session
	channel     messaging.Channel
	renderers   notebook.RendererResolver
	logger      zerolog.Logger
	ownsChannel bool

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   instanceState
	clients map[string]*trackedClient

	subs *events.DisposableStore
}

// NewInstance wires the instance to its session and channel, registers the
// session's existing widget clients and sends initialize_result.
func NewInstance(cfg InstanceConfig) (*Instance, error) {
	if cfg.Session == nil {
		return nil, errors.New("widget instance session is nil")
	}
	if cfg.Channel == nil {
		return nil, errors.New("widget instance channel is nil")
	}
	if cfg.Renderers == nil {
		return nil, errors.New("widget instance renderer resolver is nil")
	}
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		id = cfg.Session.ID()
	}
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(baseCtx)

	i := &Instance{
		id:          id,
		session:     cfg.Session,
		channel:     cfg.Channel,
		renderers:   cfg.Renderers,
		ownsChannel: cfg.OwnsChannel,
		logger: logger.With().
			Str("component", "widgets").
			Str("instance_id", id).
			Str("session_id", cfg.Session.ID()).
			Logger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   instanceConstructing,
		clients: map[string]*trackedClient{},
		subs:    events.NewDisposableStore(),
	}

	i.subs.Add(cfg.Channel.OnDidReceiveMessage(i.handleWebviewMessage))
	i.subs.Add(cfg.Session.OnDidReceiveRuntimeMessage(i.handleRuntimeMessage))
	i.subs.Add(cfg.Session.OnDidCreateClientInstance(i.handleClientCreated))

	for _, c := range cfg.Session.ListClients(session.WidgetClientTypes...) {
		i.track(c, originRuntime, true, nil, nil)
	}

	i.mu.Lock()
	i.state = instanceActive
	i.mu.Unlock()
	i.post(protocol.InitializeResult{})

	i.logger.Debug().Msg("widget instance initialized")
	return i, nil
}

func (i *Instance) ID() string { return i.id }

func (i *Instance) SessionID() string { return i.session.ID() }

// HasClient reports whether the comm client id is tracked.
func (i *Instance) HasClient(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.clients[id]
	return ok
}

// ClientIDs lists the tracked comm client ids.
func (i *Instance) ClientIDs() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	ids := make([]string, 0, len(i.clients))
	for id := range i.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (i *Instance) IsDisposed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == instanceDisposed
}

func (i *Instance) handleWebviewMessage(msg protocol.FromWebview) {
	if i.IsDisposed() {
		return
	}
	switch m := msg.(type) {
	case protocol.Initialize:
		i.post(protocol.InitializeResult{})
	case protocol.CommOpen:
		i.handleCommOpen(m)
	case protocol.CommClose:
		i.handleCommClose(m)
	case protocol.CommMsg:
		i.handleCommMsg(m)
	case protocol.GetPreferredRenderer:
		i.handleGetPreferredRenderer(m)
	case protocol.Unknown:
		i.logger.Warn().Str("type", m.Type).Msg("ignoring unknown webview message type")
	default:
		i.logger.Warn().Str("type", msg.MessageType()).Msg("ignoring unhandled webview message")
	}
}

func (i *Instance) handleCommOpen(m protocol.CommOpen) {
	typ := session.ClientType(m.TargetName)
	if !typ.IsWidget() {
		i.logger.Debug().Str("comm_id", m.CommID).Str("target_name", m.TargetName).Msg("ignoring comm_open for non-widget target")
		return
	}
	if i.HasClient(m.CommID) {
		i.logger.Debug().Str("comm_id", m.CommID).Msg("comm already tracked")
		return
	}
	client, err := i.session.CreateClient(i.ctx, typ, m.Data, m.Metadata, m.CommID)
	if err != nil {
		i.logger.Warn().Err(err).Str("comm_id", m.CommID).Msg("failed to create comm client")
		return
	}
	i.track(client, originWebview, true, m.Data, m.Metadata)
}

func (i *Instance) handleCommClose(m protocol.CommClose) {
	tc := i.untrack(m.CommID)
	if tc == nil {
		return
	}
	if err := tc.client.Close(); err != nil {
		i.logger.Debug().Err(err).Str("comm_id", m.CommID).Msg("closing comm client failed")
	}
}

func (i *Instance) lookup(id string) (session.Client, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	tc, ok := i.clients[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownClient, "comm %s", id)
	}
	return tc.client, nil
}

func (i *Instance) handleCommMsg(m protocol.CommMsg) {
	client, err := i.lookup(m.CommID)
	if err != nil {
		i.logger.Debug().Err(err).Msg("dropping comm_msg")
		return
	}
	if err := client.SendMessage(i.ctx, m.MsgID, m.Data, m.Buffers); err != nil {
		i.logger.Warn().Err(err).Str("comm_id", m.CommID).Msg("failed to forward comm message")
	}
}

func (i *Instance) handleGetPreferredRenderer(m protocol.GetPreferredRenderer) {
	rendererID, err := i.resolveRenderer(m.MimeType)
	if err != nil {
		i.logger.Warn().Err(err).Str("mime_type", m.MimeType).Msg("failed to resolve preferred renderer")
		return
	}
	i.post(protocol.GetPreferredRendererResult{ParentID: m.MsgID, RendererID: rendererID})
}

func (i *Instance) resolveRenderer(mimeType string) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("renderer resolver panicked: %v", r)
		}
	}()
	return i.renderers.PreferredRenderer(mimeType)
}

func (i *Instance) handleRuntimeMessage(msg session.Message) {
	if i.IsDisposed() {
		return
	}
	content, ok := kernelContent(msg)
	if !ok {
		return
	}
	i.post(protocol.KernelMessage{ParentID: msg.MessageHeader().ParentID, Content: content})
}

// kernelContent maps the runtime message types the webview understands.
func kernelContent(msg session.Message) (protocol.KernelContent, bool) {
	switch m := msg.(type) {
	case session.OutputMessage:
		return protocol.DisplayData{Data: m.Data, Metadata: m.Metadata}, true
	case session.ResultMessage:
		return protocol.ExecuteResult{Data: m.Data, Metadata: m.Metadata}, true
	case session.StreamMessage:
		return protocol.Stream{Name: string(m.Name), Text: m.Text}, true
	case session.ErrorMessage:
		return protocol.Error{Name: m.Name, Message: m.Message, Traceback: m.Traceback}, true
	case session.ClearOutputMessage:
		return protocol.ClearOutput{Wait: m.Wait}, true
	default:
		return nil, false
	}
}

func (i *Instance) handleClientCreated(ev session.ClientCreatedEvent) {
	if i.IsDisposed() || ev.Client == nil {
		return
	}
	if !ev.Client.Type().IsWidget() {
		return
	}
	if i.HasClient(ev.Client.ID()) {
		return
	}
	i.track(ev.Client, originRuntime, false, ev.Data, ev.Metadata)
}

// track starts observing c. Clients that are already closed are ignored.
func (i *Instance) track(c session.Client, origin clientOrigin, announced bool, data, metadata map[string]any) {
	id := c.ID()
	tc := &trackedClient{
		client:    c,
		origin:    origin,
		announced: announced,
		data:      data,
		metadata:  metadata,
		subs:      events.NewDisposableStore(),
	}

	i.mu.Lock()
	if i.state == instanceDisposed || c.State() == session.ClientStateClosed {
		i.mu.Unlock()
		return
	}
	if _, ok := i.clients[id]; ok {
		i.mu.Unlock()
		return
	}
	i.clients[id] = tc
	i.mu.Unlock()

	tc.subs.Add(c.OnDidChangeClientState(func(state session.ClientState) {
		i.handleClientState(id, tc, state)
	}))
	tc.subs.Add(c.OnDidReceiveData(func(msg session.CommMessage) {
		i.handleClientData(id, msg)
	}))

	// The client may have moved on while the listeners were attached.
	i.handleClientState(id, tc, c.State())
}

func (i *Instance) handleClientState(id string, tc *trackedClient, state session.ClientState) {
	switch state {
	case session.ClientStateOpen:
		i.mu.Lock()
		current, ok := i.clients[id]
		announce := ok && current == tc && tc.origin == originRuntime && !tc.announced && i.state == instanceActive
		if announce {
			tc.announced = true
		}
		i.mu.Unlock()
		if announce {
			i.post(protocol.CommOpen{
				CommID:     id,
				TargetName: string(tc.client.Type()),
				Data:       orEmpty(tc.data),
				Metadata:   orEmpty(tc.metadata),
			})
		}
	case session.ClientStateClosed:
		i.mu.Lock()
		current, ok := i.clients[id]
		if !ok || current != tc {
			i.mu.Unlock()
			return
		}
		delete(i.clients, id)
		active := i.state == instanceActive
		i.mu.Unlock()
		tc.subs.Dispose()
		// Webview-opened comms are closed by the webview itself.
		if active && tc.origin == originRuntime {
			i.post(protocol.CommClose{CommID: id})
		}
	default:
	}
}

func (i *Instance) handleClientData(id string, msg session.CommMessage) {
	if i.IsDisposed() || !i.HasClient(id) {
		return
	}
	i.post(protocol.CommMsg{
		CommID:   id,
		ParentID: msg.ParentID,
		Data:     orEmpty(msg.Data),
		Buffers:  msg.Buffers,
	})
}

func (i *Instance) untrack(id string) *trackedClient {
	i.mu.Lock()
	tc, ok := i.clients[id]
	if ok {
		delete(i.clients, id)
	}
	i.mu.Unlock()
	if !ok {
		return nil
	}
	tc.subs.Dispose()
	return tc
}

func (i *Instance) post(msg protocol.ToWebview) {
	if err := i.channel.PostMessage(msg); err != nil {
		i.logger.Warn().Err(err).Str("type", msg.MessageType()).Msg("failed to post message to webview")
	}
}

// Dispose releases every subscription, stops tracking all clients and
// closes the channel when the instance owns it. Safe to call repeatedly.
func (i *Instance) Dispose() {
	i.mu.Lock()
	if i.state == instanceDisposed {
		i.mu.Unlock()
		return
	}
	i.state = instanceDisposed
	clients := i.clients
	i.clients = map[string]*trackedClient{}
	i.mu.Unlock()

	i.subs.Dispose()
	for _, tc := range clients {
		tc.subs.Dispose()
	}
	i.cancel()
	if i.ownsChannel {
		if err := i.channel.Close(); err != nil {
			i.logger.Warn().Err(err).Msg("failed to close messaging channel")
		}
	}
	i.logger.Debug().Msg("widget instance disposed")
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
