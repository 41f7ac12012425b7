package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventSocket subscribes to the host's state_changed events over the
// websocket API and fans them out to registered handlers. It reconnects
// with backoff until its context is cancelled.
type EventSocket struct {
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[int]func(EntityState)
	nextID   int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type wsMessage struct {
	ID        int             `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   *bool           `json:"success,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
}

type stateChangedEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string       `json:"entity_id"`
		NewState *EntityState `json:"new_state"`
	} `json:"data"`
}

// NewEventSocket creates the listener. Call Start to begin receiving.
func NewEventSocket(config Config, logger *slog.Logger) *EventSocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventSocket{
		config:   config,
		logger:   logger,
		handlers: make(map[int]func(EntityState)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Subscribe registers a handler for state changes and returns its
// unsubscribe function. Safe to call before Start.
func (s *EventSocket) Subscribe(handler func(EntityState)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers[id] = handler
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// Start launches the connect/read loop.
func (s *EventSocket) Start() {
	go s.run()
}

// Stop tears down the connection and waits for the loop to exit.
func (s *EventSocket) Stop() {
	s.cancel()
	<-s.done
}

func (s *EventSocket) run() {
	defer close(s.done)

	backoff := time.Second
	for {
		if s.ctx.Err() != nil {
			return
		}

		err := s.connectAndListen()
		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warn("State event socket disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// connectAndListen runs one websocket session: authenticate, subscribe to
// state_changed, then dispatch events until the connection drops.
func (s *EventSocket) connectAndListen() error {
	wsURL, err := websocketURL(s.config.BaseURL)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial websocket: %w", err)
	}
	defer conn.Close()

	// Close the connection when our context ends so ReadJSON unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := s.authenticate(conn); err != nil {
		return err
	}

	if err := conn.WriteJSON(map[string]any{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}); err != nil {
		return fmt.Errorf("failed to subscribe to state_changed: %w", err)
	}

	s.logger.Info("State event socket connected", slog.String("url", wsURL))

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("websocket read failed: %w", err)
		}
		if msg.Type != "event" || len(msg.Event) == 0 {
			continue
		}

		var ev stateChangedEvent
		if err := json.Unmarshal(msg.Event, &ev); err != nil {
			s.logger.Warn("Malformed state event", slog.String("error", err.Error()))
			continue
		}
		if ev.EventType != "state_changed" || ev.Data.NewState == nil {
			continue
		}

		s.dispatch(*ev.Data.NewState)
	}
}

// authenticate runs the auth_required / auth / auth_ok handshake.
func (s *EventSocket) authenticate(conn *websocket.Conn) error {
	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read auth challenge: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("unexpected handshake message %q", hello.Type)
	}

	if err := conn.WriteJSON(map[string]string{
		"type":         "auth",
		"access_token": s.config.Token,
	}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var result wsMessage
	if err := conn.ReadJSON(&result); err != nil {
		return fmt.Errorf("failed to read auth result: %w", err)
	}
	if result.Type != "auth_ok" {
		return fmt.Errorf("authentication rejected: %s", result.Type)
	}
	return nil
}

func (s *EventSocket) dispatch(state EntityState) {
	s.mu.RLock()
	handlers := make([]func(EntityState), 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		h(state)
	}
}

// websocketURL converts the REST base URL into the websocket endpoint.
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}
