package ari

import (
	"context"
	"errors"
	"log/slog"

	"github.com/CyCoreSystems/ari/v6"

	"github.com/sharedline/slad/internal/sla"
)

// App dispatches StasisStart events to the session registry. It is the only
// place inbound channels enter the system.
type App struct {
	client   *Client
	registry *sla.Registry
	logger   *slog.Logger
}

// NewApp creates the Stasis dispatcher.
func NewApp(client *Client, registry *sla.Registry, logger *slog.Logger) *App {
	return &App{
		client:   client,
		registry: registry,
		logger:   logger.With("component", "app"),
	}
}

// Listen consumes StasisStart events until the context is cancelled or the
// event stream closes.
func (a *App) Listen(ctx context.Context) error {
	sub := a.client.ari.Bus().Subscribe(nil, ari.Events.StasisStart)
	defer sub.Cancel()

	a.logger.Info("listening for stasis events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-sub.Events():
			if !ok {
				return errors.New("stasis event stream closed")
			}
			start, ok := e.(*ari.StasisStart)
			if !ok {
				continue
			}
			a.dispatch(ctx, start)
		}
	}
}

// dispatch routes one inbound channel. The first Stasis argument names the
// shared extension; channels a session originated arrive tagged "dialed"
// and must not spin up a new session — their own subscriptions handle them.
func (a *App) dispatch(ctx context.Context, start *ari.StasisStart) {
	if len(start.Args) == 0 {
		a.logger.Warn("stasis start without extension argument",
			"channel_id", start.Channel.ID,
			"channel", start.Channel.Name,
		)
		return
	}

	extension := start.Args[0]
	if extension == dialedTag {
		return
	}

	key := start.Key(ari.ChannelKey, start.Channel.ID)
	ch := newChannelHandle(a.client.ari.Channel().Get(key), &start.Channel)

	handle, err := a.registry.Resolve(extension, ch)
	if err != nil {
		a.logger.Error("cannot resolve extension for inbound channel",
			"extension", extension,
			"channel_id", ch.ID(),
			"error", err,
		)
		var invalid *sla.InvalidExtensionError
		if errors.As(err, &invalid) {
			if herr := ch.Hangup(); herr != nil {
				a.logger.Debug("failed to hang up unroutable channel",
					"channel_id", ch.ID(),
					"error", herr,
				)
			}
		}
		return
	}

	// Init performs blocking platform requests; keep the event loop free.
	go func() {
		if err := handle.Run(ctx); err != nil {
			a.logger.Error("session init failed",
				"extension", extension,
				"channel_id", ch.ID(),
				"error", err,
			)
		}
	}()
}
