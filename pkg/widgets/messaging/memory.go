package messaging

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/protocol"
)

// MemoryChannel is an in-process Channel. Posted messages are recorded and
// inbound messages are injected with Receive or ReceiveRaw.
type MemoryChannel struct {
	mu     sync.Mutex
	sent   []protocol.ToWebview
	closed bool

	onMessage *events.Emitter[protocol.FromWebview]
}

var _ Channel = &MemoryChannel{}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{onMessage: events.NewEmitter[protocol.FromWebview]()}
}

func (c *MemoryChannel) OnDidReceiveMessage(fn func(protocol.FromWebview)) events.Subscription {
	return c.onMessage.Subscribe(fn)
}

func (c *MemoryChannel) PostMessage(msg protocol.ToWebview) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

// Receive delivers msg to listeners synchronously.
func (c *MemoryChannel) Receive(msg protocol.FromWebview) {
	if c.IsClosed() {
		return
	}
	c.onMessage.Fire(msg)
}

// ReceiveRaw decodes b and delivers it; malformed input is logged and dropped.
func (c *MemoryChannel) ReceiveRaw(b []byte) {
	msg, err := protocol.DecodeFromWebview(b)
	if err != nil {
		log.Warn().Err(err).Str("component", "messaging").Msg("dropping malformed webview message")
		return
	}
	c.Receive(msg)
}

// Sent returns a copy of the posted messages.
func (c *MemoryChannel) Sent() []protocol.ToWebview {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ToWebview(nil), c.sent...)
}

// Reset clears the recorded messages.
func (c *MemoryChannel) Reset() {
	c.mu.Lock()
	c.sent = nil
	c.mu.Unlock()
}

func (c *MemoryChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MemoryChannel) ListenerCount() int {
	return c.onMessage.ListenerCount()
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.onMessage.Dispose()
	return nil
}

// MemoryFactory hands out MemoryChannels and remembers them by instance id.
type MemoryFactory struct {
	mu       sync.Mutex
	channels map[string]*MemoryChannel
}

var _ Factory = &MemoryFactory{}

func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{channels: map[string]*MemoryChannel{}}
}

func (f *MemoryFactory) NewChannel(instanceID string) (Channel, error) {
	ch := NewMemoryChannel()
	f.mu.Lock()
	f.channels[instanceID] = ch
	f.mu.Unlock()
	return ch, nil
}

// Channel returns the most recent channel built for instanceID.
func (f *MemoryFactory) Channel(instanceID string) (*MemoryChannel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[instanceID]
	return ch, ok
}
