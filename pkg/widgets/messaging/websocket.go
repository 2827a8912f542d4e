package messaging

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/protocol"
)

type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WebSocketChannel is a Channel backed by the websocket connections of the
// renderer(s) displaying one widget instance. Outbound messages fan out to
// every attached connection; a connection that fails a write is dropped.
// Messages posted while no renderer is attached are discarded: a renderer
// sends initialize when it connects.
type WebSocketChannel struct {
	instanceID   string
	logger       zerolog.Logger
	writeTimeout time.Duration

	mu     sync.Mutex
	conns  map[wsConn]struct{}
	closed bool

	deliverMu sync.Mutex
	onMessage *events.Emitter[protocol.FromWebview]
	onClose   func()
}

var _ Channel = &WebSocketChannel{}

func newWebSocketChannel(instanceID string, logger zerolog.Logger, writeTimeout time.Duration, onClose func()) *WebSocketChannel {
	return &WebSocketChannel{
		instanceID:   instanceID,
		logger:       logger.With().Str("instance_id", instanceID).Logger(),
		writeTimeout: writeTimeout,
		conns:        map[wsConn]struct{}{},
		onMessage:    events.NewEmitter[protocol.FromWebview](),
		onClose:      onClose,
	}
}

func (c *WebSocketChannel) OnDidReceiveMessage(fn func(protocol.FromWebview)) events.Subscription {
	return c.onMessage.Subscribe(fn)
}

func (c *WebSocketChannel) PostMessage(msg protocol.ToWebview) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if len(c.conns) == 0 {
		c.logger.Debug().Str("type", msg.MessageType()).Msg("no renderer attached, dropping message")
		return nil
	}
	for conn := range c.conns {
		if c.writeTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Warn().Err(err).Msg("ws send failed, dropping connection")
			delete(c.conns, conn)
			_ = conn.Close()
		}
	}
	return nil
}

// Count reports the number of attached connections.
func (c *WebSocketChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *WebSocketChannel) attach(conn wsConn) error {
	if conn == nil {
		return errors.New("websocket connection is nil")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.conns[conn] = struct{}{}
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *WebSocketChannel) readLoop(conn wsConn) {
	defer c.remove(conn)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("ws read loop end")
			return
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}
		msg, err := protocol.DecodeFromWebview(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed webview message")
			continue
		}
		c.deliver(msg)
	}
}

func (c *WebSocketChannel) deliver(msg protocol.FromWebview) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.onMessage.Fire(msg)
}

func (c *WebSocketChannel) remove(conn wsConn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for conn := range c.conns {
		_ = conn.Close()
		delete(c.conns, conn)
	}
	c.mu.Unlock()

	c.onMessage.Dispose()
	if c.onClose != nil {
		c.onClose()
	}
	return nil
}

type WebSocketHubOptions struct {
	Logger       *zerolog.Logger
	WriteTimeout time.Duration
}

// WebSocketHub is the Factory for websocket channels and the lookup used by
// the HTTP layer to attach renderer connections to them.
type WebSocketHub struct {
	logger       zerolog.Logger
	writeTimeout time.Duration

	mu       sync.Mutex
	channels map[string]*WebSocketChannel
}

var _ Factory = &WebSocketHub{}

func NewWebSocketHub(opts WebSocketHubOptions) *WebSocketHub {
	logger := log.With().Str("component", "messaging").Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "messaging").Logger()
	}
	return &WebSocketHub{
		logger:       logger,
		writeTimeout: opts.WriteTimeout,
		channels:     map[string]*WebSocketChannel{},
	}
}

func (h *WebSocketHub) NewChannel(instanceID string) (Channel, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, errors.New("missing instance id")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[instanceID]; ok {
		return nil, errors.Errorf("channel for instance %s already exists", instanceID)
	}
	var ch *WebSocketChannel
	ch = newWebSocketChannel(instanceID, h.logger, h.writeTimeout, func() { h.forget(instanceID, ch) })
	h.channels[instanceID] = ch
	return ch, nil
}

// Attach connects a renderer websocket to the channel of instanceID.
func (h *WebSocketHub) Attach(instanceID string, conn *websocket.Conn) error {
	if conn == nil {
		return errors.New("websocket connection is nil")
	}
	return h.attach(instanceID, conn)
}

func (h *WebSocketHub) attach(instanceID string, conn wsConn) error {
	h.mu.Lock()
	ch, ok := h.channels[strings.TrimSpace(instanceID)]
	h.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrChannelNotFound, "instance %s", instanceID)
	}
	return ch.attach(conn)
}

// ChannelIDs lists instance ids with an open channel.
func (h *WebSocketHub) ChannelIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ConnectionCount reports attached renderers for instanceID.
func (h *WebSocketHub) ConnectionCount(instanceID string) int {
	h.mu.Lock()
	ch, ok := h.channels[instanceID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return ch.Count()
}

func (h *WebSocketHub) forget(instanceID string, ch *WebSocketChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.channels[instanceID]; ok && current == ch {
		delete(h.channels, instanceID)
	}
}
