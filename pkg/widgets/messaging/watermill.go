package messaging

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/protocol"
)

// WatermillChannel is a Channel over a pub/sub pair: renderer messages are
// consumed from TopicFromWebview and bridge messages published to
// TopicToWebview. A single consumer goroutine delivers inbound messages in
// order.
type WatermillChannel struct {
	instanceID     string
	publisher      message.Publisher
	subscriber     message.Subscriber
	ownsSubscriber bool
	logger         zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool

	onMessage *events.Emitter[protocol.FromWebview]
}

var _ Channel = &WatermillChannel{}

// NewWatermillChannel subscribes before returning so no renderer message
// published after construction is missed.
func NewWatermillChannel(ctx context.Context, instanceID string, pub message.Publisher, sub message.Subscriber, ownsSubscriber bool, logger zerolog.Logger) (*WatermillChannel, error) {
	if pub == nil || sub == nil {
		return nil, errors.New("watermill channel requires a publisher and a subscriber")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch, err := sub.Subscribe(runCtx, TopicFromWebview(instanceID))
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "subscribe %s", TopicFromWebview(instanceID))
	}
	c := &WatermillChannel{
		instanceID:     instanceID,
		publisher:      pub,
		subscriber:     sub,
		ownsSubscriber: ownsSubscriber,
		logger:         logger.With().Str("instance_id", instanceID).Logger(),
		cancel:         cancel,
		onMessage:      events.NewEmitter[protocol.FromWebview](),
	}
	go c.consume(ch)
	return c, nil
}

func (c *WatermillChannel) OnDidReceiveMessage(fn func(protocol.FromWebview)) events.Subscription {
	return c.onMessage.Subscribe(fn)
}

func (c *WatermillChannel) PostMessage(msg protocol.ToWebview) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	wm := message.NewMessage(watermill.NewUUID(), payload)
	wm.Metadata.Set("instance_id", c.instanceID)
	wm.Metadata.Set("type", msg.MessageType())
	if err := c.publisher.Publish(TopicToWebview(c.instanceID), wm); err != nil {
		return errors.Wrapf(err, "publish %s", msg.MessageType())
	}
	return nil
}

func (c *WatermillChannel) consume(ch <-chan *message.Message) {
	c.logger.Debug().Msg("watermill channel: consumer started")
	for msg := range ch {
		decoded, err := protocol.DecodeFromWebview(msg.Payload)
		if err != nil {
			c.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed webview message")
			msg.Ack()
			continue
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.onMessage.Fire(decoded)
		}
		msg.Ack()
	}
	c.logger.Debug().Msg("watermill channel: consumer stopped")
}

func (c *WatermillChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.onMessage.Dispose()
	if c.ownsSubscriber {
		if err := c.subscriber.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("watermill channel: subscriber close failed")
			return err
		}
	}
	return nil
}

// WatermillFactory builds WatermillChannels on a StreamBackend.
type WatermillFactory struct {
	ctx     context.Context
	backend StreamBackend
	logger  zerolog.Logger
}

var _ Factory = &WatermillFactory{}

func NewWatermillFactory(ctx context.Context, backend StreamBackend, logger *zerolog.Logger) *WatermillFactory {
	l := log.With().Str("component", "messaging").Logger()
	if logger != nil {
		l = logger.With().Str("component", "messaging").Logger()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &WatermillFactory{ctx: ctx, backend: backend, logger: l}
}

func (f *WatermillFactory) NewChannel(instanceID string) (Channel, error) {
	if f == nil || f.backend == nil {
		return nil, ErrBackendUnavailable
	}
	sub, owned, err := f.backend.BuildSubscriber(f.ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return NewWatermillChannel(f.ctx, instanceID, f.backend.Publisher(), sub, owned, f.logger)
}
