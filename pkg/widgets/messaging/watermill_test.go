package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/widgetbridge/pkg/helpers"
	"github.com/go-go-golems/widgetbridge/pkg/redisstream"
	"github.com/go-go-golems/widgetbridge/pkg/widgets/protocol"
)

func newTestBackend(t *testing.T) StreamBackend {
	t.Helper()
	backend := NewGoChannelBackend(helpers.NewWatermill(zerolog.Nop()))
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestNewStreamBackend_DefaultsToGoChannel(t *testing.T) {
	backend, err := NewStreamBackend(redisstream.Settings{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()

	_, ok := backend.(*goChannelBackend)
	require.True(t, ok)

	_, _, err = backend.BuildSubscriber(context.Background(), "")
	require.Error(t, err)
}

func TestWatermillFactory_NilBackend(t *testing.T) {
	f := NewWatermillFactory(context.Background(), nil, nil)
	_, err := f.NewChannel("i1")
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestWatermillChannel_PublishesToWebviewTopic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newTestBackend(t)
	sub := backend.(*goChannelBackend).Subscriber()

	out, err := sub.Subscribe(ctx, TopicToWebview("i1"))
	require.NoError(t, err)

	ch, err := NewWatermillFactory(ctx, backend, nil).NewChannel("i1")
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	done := make(chan error, 1)
	go func() {
		done <- ch.PostMessage(protocol.GetPreferredRendererResult{ParentID: "m1", RendererID: "r1"})
	}()

	select {
	case msg := <-out:
		require.Equal(t, "i1", msg.Metadata.Get("instance_id"))
		require.Equal(t, protocol.TypeGetPreferredRendererResult, msg.Metadata.Get("type"))
		decoded, err := protocol.DecodeToWebview(msg.Payload)
		require.NoError(t, err)
		require.Equal(t, protocol.GetPreferredRendererResult{ParentID: "m1", RendererID: "r1"}, decoded)
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
	require.NoError(t, <-done)
}

func TestWatermillChannel_ConsumesFromWebviewTopicInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := newTestBackend(t)

	ch, err := NewWatermillFactory(ctx, backend, nil).NewChannel("i1")
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	var mu sync.Mutex
	var got []protocol.FromWebview
	ch.OnDidReceiveMessage(func(m protocol.FromWebview) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	publish := func(payload string) {
		require.NoError(t, backend.Publisher().Publish(TopicFromWebview("i1"), message.NewMessage(watermill.NewUUID(), []byte(payload))))
	}
	publish(`{"type":"initialize"}`)
	publish(`not json`)
	publish(`{"type":"comm_open","comm_id":"c1","target_name":"jupyter.widget","data":{},"metadata":{}}`)
	publish(`{"type":"comm_close","comm_id":"c1"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []protocol.FromWebview{
		protocol.Initialize{},
		protocol.CommOpen{CommID: "c1", TargetName: "jupyter.widget", Data: map[string]any{}, Metadata: map[string]any{}},
		protocol.CommClose{CommID: "c1"},
	}, got)
}

func TestWatermillChannel_CloseRejectsPosts(t *testing.T) {
	backend := newTestBackend(t)
	ch, err := NewWatermillFactory(context.Background(), backend, nil).NewChannel("i1")
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.ErrorIs(t, ch.PostMessage(protocol.InitializeResult{}), ErrChannelClosed)
}
