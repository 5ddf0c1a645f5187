package tui

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	gochannel "github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
)

// Bus carries stack events between the state watcher, the domain-to-UI
// transformer, and the dashboard. Everything rides an in-process gochannel
// pubsub; there is no cross-process transport.
type Bus struct {
	Router     *message.Router
	Publisher  message.Publisher
	Subscriber message.Subscriber

	runOnce sync.Once
}

// NewInMemoryBus builds the pubsub and an empty router. Handlers are added
// with AddHandler before Run.
func NewInMemoryBus() (*Bus, error) {
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		// Large enough that a burst of per-service events during startup
		// never blocks the publisher behind a slow dashboard redraw.
		OutputChannelBuffer: 1024,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "new event router")
	}
	b := &Bus{
		Router:     router,
		Publisher:  pubsub,
		Subscriber: pubsub,
	}
	return b, nil
}

// AddHandler registers a consumer on topic. Must be called before Run.
func (b *Bus) AddHandler(name, topic string, handler func(*message.Message) error) {
	b.Router.AddConsumerHandler(name, topic, b.Subscriber, handler)
}

// Run blocks until ctx is cancelled. The router does not watch ctx on its
// own once running, so a goroutine closes it when ctx ends. Subsequent
// calls are no-ops.
func (b *Bus) Run(ctx context.Context) error {
	var runErr error
	b.runOnce.Do(func() {
		go func() {
			<-ctx.Done()
			_ = b.Router.Close()
		}()
		runErr = b.Router.Run(ctx)
	})
	return runErr
}
