package messaging

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/go-go-golems/widgetbridge/pkg/redisstream"
)

// StreamBackend wraps transport setup concerns (in-memory or redis) and
// exposes publisher/subscriber construction for widget channels.
type StreamBackend interface {
	Publisher() message.Publisher
	// BuildSubscriber returns the subscriber for one instance and whether the
	// caller owns (and must close) it.
	BuildSubscriber(ctx context.Context, instanceID string) (message.Subscriber, bool, error)
	Close() error
}

// TopicToWebview is the topic bridge messages for instanceID are published on.
func TopicToWebview(instanceID string) string { return "widgets:" + instanceID + ":to-webview" }

// TopicFromWebview is the topic renderer messages for instanceID arrive on.
func TopicFromWebview(instanceID string) string { return "widgets:" + instanceID + ":from-webview" }

type goChannelBackend struct {
	pubsub *gochannel.GoChannel
}

// NewGoChannelBackend returns an in-process backend. Publishing blocks until
// subscribers ack, which keeps per-topic delivery in publish order.
func NewGoChannelBackend(logger watermill.LoggerAdapter) StreamBackend {
	return &goChannelBackend{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, logger),
	}
}

func (b *goChannelBackend) Publisher() message.Publisher { return b.pubsub }

// Subscriber exposes the shared subscriber so in-process renderers can
// listen on TopicToWebview.
func (b *goChannelBackend) Subscriber() message.Subscriber { return b.pubsub }

func (b *goChannelBackend) BuildSubscriber(_ context.Context, instanceID string) (message.Subscriber, bool, error) {
	if instanceID == "" {
		return nil, false, errors.New("instance id is empty")
	}
	return b.pubsub, false, nil
}

func (b *goChannelBackend) Close() error {
	return b.pubsub.Close()
}

type redisBackend struct {
	settings  redisstream.Settings
	client    redis.UniversalClient
	publisher message.Publisher
	logger    watermill.LoggerAdapter
}

// NewRedisBackend returns a backend on Redis Streams. Each instance gets its
// own consumer in the configured group, created at the stream tail.
func NewRedisBackend(s redisstream.Settings, logger watermill.LoggerAdapter) (StreamBackend, error) {
	client := redisstream.NewClient(s)
	pub, err := redisstream.BuildPublisher(client, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisBackend{settings: s, client: client, publisher: pub, logger: logger}, nil
}

func (b *redisBackend) Publisher() message.Publisher { return b.publisher }

func (b *redisBackend) BuildSubscriber(ctx context.Context, instanceID string) (message.Subscriber, bool, error) {
	if b == nil || b.client == nil {
		return nil, false, ErrBackendUnavailable
	}
	if instanceID == "" {
		return nil, false, errors.New("instance id is empty")
	}
	if ctx == nil {
		return nil, false, errors.New("ctx is nil")
	}
	if err := redisstream.EnsureGroupAtTail(ctx, b.client, TopicFromWebview(instanceID), b.settings.Group); err != nil {
		return nil, false, err
	}
	sub, err := redisstream.BuildGroupSubscriber(b.client, b.settings.Group, b.settings.Consumer+":"+instanceID, b.logger)
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (b *redisBackend) Close() error {
	var err error
	if b.publisher != nil {
		err = b.publisher.Close()
	}
	if cerr := b.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// NewStreamBackend picks the redis backend when enabled, in-process otherwise.
func NewStreamBackend(s redisstream.Settings, logger watermill.LoggerAdapter) (StreamBackend, error) {
	if s.Enabled {
		return NewRedisBackend(s, logger)
	}
	return NewGoChannelBackend(logger), nil
}
