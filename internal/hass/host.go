package hass

import (
	"context"
	"log/slog"
	"time"
)

// Host combines the REST client and the websocket listener into the
// StateHost port.
type Host struct {
	*Client
	socket *EventSocket
}

// NewHost builds the combined host connection. Start/Stop control the
// websocket listener; a nil socket (websocket disabled) makes
// SubscribeStates a no-op.
func NewHost(client *Client, socket *EventSocket) *Host {
	return &Host{Client: client, socket: socket}
}

func (h *Host) SubscribeStates(handler func(EntityState)) func() {
	if h.socket == nil {
		return func() {}
	}
	return h.socket.Subscribe(handler)
}

func (h *Host) Start() {
	if h.socket != nil {
		h.socket.Start()
	}
}

func (h *Host) Stop() {
	if h.socket != nil {
		h.socket.Stop()
	}
}

// EventBus forwards connector events onto the host's event bus. Emission
// is fire-and-forget: failures are logged and dropped.
type EventBus struct {
	client *Client
	prefix string
	logger *slog.Logger
}

// NewEventBus returns a bus publishing prefix+event via the REST API.
func NewEventBus(client *Client, prefix string, logger *slog.Logger) *EventBus {
	return &EventBus{client: client, prefix: prefix, logger: logger}
}

func (b *EventBus) Emit(event string, payload map[string]any) {
	name := b.prefix + event
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.client.FireEvent(ctx, name, payload); err != nil {
			b.logger.Warn("Failed to publish event to host",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
		}
	}()
}
