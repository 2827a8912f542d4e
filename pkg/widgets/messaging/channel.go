// Package messaging provides the duplex channels that connect a widget
// instance to exactly one rendering surface.
package messaging

import (
	"errors"

	"github.com/go-go-golems/widgetbridge/pkg/events"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/protocol"
)

var (
	ErrChannelClosed      = errors.New("messaging channel closed")
	ErrChannelNotFound    = errors.New("messaging channel not found")
	ErrBackendUnavailable = errors.New("stream backend is not initialized")
)

// Channel delivers renderer messages to its listeners in arrival order and
// accepts bridge messages for delivery.
type Channel interface {
	OnDidReceiveMessage(func(protocol.FromWebview)) events.Subscription
	PostMessage(msg protocol.ToWebview) error
	Close() error
}

// Factory builds the channel for a new widget instance.
type Factory interface {
	NewChannel(instanceID string) (Channel, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(instanceID string) (Channel, error)

func (f FactoryFunc) NewChannel(instanceID string) (Channel, error) {
	return f(instanceID)
}
