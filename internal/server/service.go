package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/VGCH/alpha-private-speaker-connector/internal/bus"
	"github.com/VGCH/alpha-private-speaker-connector/internal/config"
	"github.com/VGCH/alpha-private-speaker-connector/internal/hass"
	"github.com/VGCH/alpha-private-speaker-connector/internal/metrics"
	"github.com/VGCH/alpha-private-speaker-connector/internal/protocol"
	"github.com/VGCH/alpha-private-speaker-connector/internal/registry"
)

// ServerVersion is reported to speakers in the registration response.
const ServerVersion = "2.1.0"

const statePollInterval = 500 * time.Millisecond
const ttsPollInterval = time.Second

// Service implements the AlphaSpeakerService RPC surface. The host is nil
// in standalone mode; state streams then carry heartbeats only and device
// commands are event-only.
type Service struct {
	logger     *slog.Logger
	cfg        *config.Config
	registry   *registry.Registry
	tracker    *Tracker
	correlator *Correlator
	host       hass.StateHost
	events     bus.Bus
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService wires the RPC service together.
func NewService(logger *slog.Logger, cfg *config.Config, reg *registry.Registry, host hass.StateHost, events bus.Bus, m *metrics.Metrics) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		logger:     logger,
		cfg:        cfg,
		registry:   reg,
		tracker:    NewTracker(logger),
		correlator: NewCorrelator(),
		host:       host,
		events:     events,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
	}
	// Evicted speakers must also lose their session and any queued TTS.
	reg.SetEvictHook(func(speakerID string) {
		s.tracker.Remove(speakerID)
	})
	return s
}

// Shutdown stops all stream loops.
func (s *Service) Shutdown() {
	s.cancel()
}

// Tracker exposes the session tracker for monitoring.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// Correlator exposes the TTS correlator for monitoring.
func (s *Service) Correlator() *Correlator {
	return s.correlator
}

// RemoveSpeaker drops a speaker from the registry and session tracker and
// emits a disconnected event. Returns false for an unknown speaker.
func (s *Service) RemoveSpeaker(speakerID string) bool {
	sp, known := s.registry.Get(speakerID)
	removed := s.registry.Remove(speakerID)
	s.tracker.Remove(speakerID)

	if !removed {
		return false
	}

	s.logger.Info("Speaker removed",
		slog.String("speaker_id", speakerID),
		slog.String("session_id", sp.SessionID),
	)
	s.events.Emit("disconnected", map[string]any{
		"speaker_id": speakerID,
		"session_id": sp.SessionID,
		"reason":     "removed",
		"timestamp":  time.Now().Unix(),
	})
	if known {
		s.metrics.RegisteredSpeakers.Set(float64(s.registry.Count()))
	}
	return true
}

// RegisterAlphaSpeaker handles the registration handshake. Registration
// always succeeds; a re-registration replaces the previous session for the
// same speaker id.
func (s *Service) RegisterAlphaSpeaker(ctx context.Context, req *protocol.SpeakerRegistration) (*protocol.RegistrationResponse, error) {
	s.metrics.RecordRPCRequest("RegisterAlphaSpeaker")

	address := ""
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		address = p.Addr.String()
	}

	if s.registry.Count() >= s.cfg.Server.MaxSpeakers {
		if _, known := s.registry.Get(req.SpeakerID); !known {
			// max_speakers is advisory: firmware compatibility forbids
			// rejecting the handshake, so the limit only warns.
			s.logger.Warn("Speaker limit exceeded, accepting registration anyway",
				slog.String("speaker_id", req.SpeakerID),
				slog.Int("max_speakers", s.cfg.Server.MaxSpeakers),
			)
		}
	}

	sessionID := s.registry.Register(
		req.SpeakerID,
		req.SpeakerName,
		req.SpeakerType,
		req.FirmwareVersion,
		req.Capabilities,
		address,
		req.Settings,
	)
	s.tracker.Track(req.SpeakerID, sessionID, address, req.Capabilities)
	s.metrics.RecordRegistration(s.registry.Count())

	return &protocol.RegistrationResponse{
		Success:       true,
		Message:       fmt.Sprintf("Speaker %s registered", req.SpeakerID),
		ServerVersion: ServerVersion,
		SessionID:     sessionID,
		ServerSettings: map[string]string{
			"grpc_port":        fmt.Sprintf("%d", s.cfg.Server.GRPCPort),
			"event_prefix":     s.cfg.Events.Prefix,
			"integration_mode": "true",
		},
	}, nil
}

// StreamDeviceStates pushes entity state changes to a registered speaker.
// The loop sends an empty DeviceState as a heartbeat when the stream has
// been idle for the heartbeat interval.
func (s *Service) StreamDeviceStates(req *protocol.StateStreamRequest, stream protocol.DeviceStateStream) error {
	s.metrics.RecordRPCRequest("StreamDeviceStates")

	if _, ok := s.tracker.Get(req.SpeakerID); !ok {
		s.metrics.RecordRPCError("StreamDeviceStates", codes.Unauthenticated.String())
		return status.Errorf(codes.Unauthenticated, "speaker %s is not registered", req.SpeakerID)
	}

	s.logger.Info("Device state stream opened",
		slog.String("speaker_id", req.SpeakerID),
		slog.Any("filters", req.EntityFilters),
		slog.Bool("send_initial_state", req.SendInitialState),
	)
	s.metrics.ActiveStateStreams.Inc()
	defer s.metrics.ActiveStateStreams.Dec()

	updates := make(chan *protocol.DeviceState, 64)

	if s.host != nil {
		// Cleanup must run on every exit path, cancellation included.
		unsubscribe := s.host.SubscribeStates(func(es hass.EntityState) {
			if !matchesFilters(es.EntityID, req.EntityFilters) {
				return
			}
			select {
			case updates <- deviceStateFrom(es):
			default:
				s.logger.Warn("Device state dropped, stream queue full",
					slog.String("speaker_id", req.SpeakerID),
					slog.String("entity_id", es.EntityID),
				)
			}
		})
		defer unsubscribe()

		if req.SendInitialState {
			if err := s.sendInitialStates(req, stream); err != nil {
				return err
			}
		}
	}

	// Any send restarts the heartbeat clock; a heartbeat goes out only
	// after a full interval of silence.
	lastSent := time.Now()
	heartbeat := s.cfg.TTS.GetStreamHeartbeat()

	for {
		select {
		case <-stream.Context().Done():
			s.logger.Info("Device state stream closed by speaker",
				slog.String("speaker_id", req.SpeakerID),
			)
			return nil

		case <-s.ctx.Done():
			return nil

		case st := <-updates:
			if err := stream.Send(st); err != nil {
				return err
			}
			s.registry.Touch(req.SpeakerID)
			s.tracker.Touch(req.SpeakerID)
			s.metrics.RecordStatePushed()
			lastSent = time.Now()

		case <-time.After(statePollInterval):
			if time.Since(lastSent) < heartbeat {
				continue
			}
			if err := stream.Send(&protocol.DeviceState{}); err != nil {
				return err
			}
			s.registry.Touch(req.SpeakerID)
			s.tracker.Touch(req.SpeakerID)
			s.metrics.RecordHeartbeat()
			lastSent = time.Now()
		}
	}
}

// sendInitialStates pushes the current filtered entity snapshot.
func (s *Service) sendInitialStates(req *protocol.StateStreamRequest, stream protocol.DeviceStateStream) error {
	ctx, cancel := context.WithTimeout(stream.Context(), 30*time.Second)
	defer cancel()

	states, err := s.host.ListStates(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch initial states",
			slog.String("speaker_id", req.SpeakerID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	sent := 0
	for _, es := range states {
		if !matchesFilters(es.EntityID, req.EntityFilters) {
			continue
		}
		if err := stream.Send(deviceStateFrom(es)); err != nil {
			return err
		}
		s.registry.Touch(req.SpeakerID)
		s.tracker.Touch(req.SpeakerID)
		s.metrics.RecordStatePushed()
		sent++
	}

	s.logger.Info("Initial states sent",
		slog.String("speaker_id", req.SpeakerID),
		slog.Int("count", sent),
	)
	return nil
}

// StreamTTSCommands delivers queued TTS commands to a registered speaker.
// Opening the stream installs a fresh queue as the active one, displacing
// any queue left by a previous connection.
func (s *Service) StreamTTSCommands(req *protocol.StateStreamRequest, stream protocol.TTSCommandStream) error {
	s.metrics.RecordRPCRequest("StreamTTSCommands")

	if _, ok := s.tracker.Get(req.SpeakerID); !ok {
		s.metrics.RecordRPCError("StreamTTSCommands", codes.Unauthenticated.String())
		return status.Errorf(codes.Unauthenticated, "speaker %s is not registered", req.SpeakerID)
	}

	queue := s.tracker.ReplaceTTSQueue(req.SpeakerID, s.cfg.TTS.CommandQueueSize)
	// Identity-guarded removal: if a reconnect already installed a newer
	// queue, leave it alone.
	defer s.tracker.RemoveTTSQueue(req.SpeakerID, queue)

	s.logger.Info("TTS command stream opened",
		slog.String("speaker_id", req.SpeakerID),
	)
	s.metrics.ActiveTTSStreams.Inc()
	defer s.metrics.ActiveTTSStreams.Dec()

	// Same heartbeat clock as the state stream: delivered commands count
	// as liveness, so only a silent interval triggers a keepalive.
	lastSent := time.Now()
	heartbeat := s.cfg.TTS.GetStreamHeartbeat()

	for {
		select {
		case <-stream.Context().Done():
			s.logger.Info("TTS command stream closed by speaker",
				slog.String("speaker_id", req.SpeakerID),
			)
			return nil

		case <-s.ctx.Done():
			return nil

		case cmd := <-queue:
			if cmd.Text == "" {
				continue
			}
			if err := stream.Send(cmd); err != nil {
				return err
			}
			s.registry.Touch(req.SpeakerID)
			s.tracker.Touch(req.SpeakerID)
			lastSent = time.Now()

		case <-time.After(ttsPollInterval):
			if time.Since(lastSent) < heartbeat {
				continue
			}
			keepalive := &protocol.SpeakTextRequest{
				SpeakerID: req.SpeakerID,
				MessageID: fmt.Sprintf("keepalive_%d", time.Now().Unix()),
				Timestamp: time.Now().UnixMilli(),
			}
			if err := stream.Send(keepalive); err != nil {
				return err
			}
			s.registry.Touch(req.SpeakerID)
			s.tracker.Touch(req.SpeakerID)
			s.metrics.RecordHeartbeat()
			lastSent = time.Now()
		}
	}
}

// SendTTSResponse receives the speaker's acknowledgement of a TTS command
// and resolves the matching pending request. Unmatched responses (late or
// duplicate) are accepted silently.
func (s *Service) SendTTSResponse(ctx context.Context, req *protocol.SpeakTextResponse) (*protocol.TTSAck, error) {
	s.metrics.RecordRPCRequest("SendTTSResponse")

	s.registry.Touch(req.SpeakerID)
	s.tracker.Touch(req.SpeakerID)

	s.events.Emit("tts_response", map[string]any{
		"speaker_id": req.SpeakerID,
		"message_id": req.MessageID,
		"success":    req.Success,
		"message":    req.Message,
		"timestamp":  req.Timestamp,
	})

	if !s.correlator.Resolve(req.MessageID, req.Success, req.Message) {
		s.logger.Debug("TTS response without pending request",
			slog.String("speaker_id", req.SpeakerID),
			slog.String("message_id", req.MessageID),
		)
	}

	return &protocol.TTSAck{
		Success:   true,
		MessageID: req.MessageID,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// SendTextForSpeech handles a speaker-initiated request to have text
// spoken elsewhere. Fire-and-forget: the event is emitted and the call
// returns immediately, no correlation.
func (s *Service) SendTextForSpeech(ctx context.Context, req *protocol.TTSRequest) (*protocol.TTSAck, error) {
	s.metrics.RecordRPCRequest("SendTextForSpeech")

	s.registry.Touch(req.SpeakerID)
	s.tracker.Touch(req.SpeakerID)

	messageID := fmt.Sprintf("alpha_tts_%d", time.Now().Unix())
	s.events.Emit("tts_request", map[string]any{
		"speaker_id": req.SpeakerID,
		"text":       req.Text,
		"language":   req.Language,
		"voice":      req.Voice,
		"volume":     req.Volume,
		"priority":   req.Priority,
		"message_id": messageID,
		"timestamp":  time.Now().Unix(),
	})

	return &protocol.TTSAck{
		Success:   true,
		MessageID: messageID,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// executableCommands are the command types the connector itself executes
// against the host; everything else succeeds by event emission alone.
var executableCommands = map[string]bool{
	"turn_on":  true,
	"turn_off": true,
	"toggle":   true,
}

// SendAlphaCommand handles a generic device command from a speaker. The
// command event is always emitted; turn_on/turn_off/toggle are
// additionally executed against the host and report the resulting state.
func (s *Service) SendAlphaCommand(ctx context.Context, req *protocol.AlphaCommand) (*protocol.CommandResponse, error) {
	s.metrics.RecordRPCRequest("SendAlphaCommand")

	s.registry.Touch(req.SpeakerID)
	s.tracker.Touch(req.SpeakerID)

	eventID := fmt.Sprintf("cmd_%d", time.Now().Unix())
	s.events.Emit("command", map[string]any{
		"speaker_id":    req.SpeakerID,
		"command_type":  req.CommandType,
		"entity_id":     req.EntityID,
		"parameters":    req.Parameters,
		"voice_command": req.VoiceCommand,
		"event_id":      eventID,
		"timestamp":     req.Timestamp,
	})

	if executableCommands[req.CommandType] && req.EntityID == "" {
		s.metrics.RecordCommand(req.CommandType, false)
		return &protocol.CommandResponse{
			Success: false,
			EventID: eventID,
			Message: fmt.Sprintf("%s requires an entity_id", req.CommandType),
		}, nil
	}

	if !executableCommands[req.CommandType] || s.host == nil {
		s.metrics.RecordCommand(req.CommandType, true)
		return &protocol.CommandResponse{
			Success: true,
			EventID: eventID,
			Message: "command event emitted",
		}, nil
	}

	domain := entityDomain(req.EntityID)
	data := map[string]any{"entity_id": req.EntityID}
	for k, v := range req.Parameters {
		data[k] = v
	}

	if err := s.host.CallService(ctx, domain, req.CommandType, data); err != nil {
		s.logger.Warn("Command execution failed",
			slog.String("speaker_id", req.SpeakerID),
			slog.String("entity_id", req.EntityID),
			slog.String("command_type", req.CommandType),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCommand(req.CommandType, false)
		return &protocol.CommandResponse{
			Success: false,
			EventID: eventID,
			Message: fmt.Sprintf("service call failed: %v", err),
		}, nil
	}

	resultState := ""
	if es, err := s.host.GetState(ctx, req.EntityID); err == nil && es != nil {
		resultState = es.State
	}

	s.metrics.RecordCommand(req.CommandType, true)
	return &protocol.CommandResponse{
		Success:     true,
		EventID:     eventID,
		ResultState: resultState,
		Message:     "command executed",
	}, nil
}

// GetAvailableDevices enumerates the host's entities a speaker may
// control, with a static per-domain command set.
func (s *Service) GetAvailableDevices(ctx context.Context, req *protocol.DeviceListRequest) (*protocol.DeviceList, error) {
	s.metrics.RecordRPCRequest("GetAvailableDevices")

	s.registry.Touch(req.SpeakerID)
	s.tracker.Touch(req.SpeakerID)

	if s.host == nil {
		return &protocol.DeviceList{Devices: []protocol.DeviceInfo{}}, nil
	}

	states, err := s.host.ListStates(ctx)
	if err != nil {
		s.metrics.RecordRPCError("GetAvailableDevices", codes.Unavailable.String())
		return nil, status.Errorf(codes.Unavailable, "failed to enumerate entities: %v", err)
	}

	allowed := make(map[string]bool, len(req.Domains))
	for _, d := range req.Domains {
		allowed[d] = true
	}

	devices := make([]protocol.DeviceInfo, 0, len(states))
	for _, es := range states {
		domain := es.Domain()
		if len(allowed) > 0 && !allowed[domain] {
			continue
		}
		devices = append(devices, protocol.DeviceInfo{
			EntityID:          es.EntityID,
			FriendlyName:      es.FriendlyName(),
			Domain:            domain,
			CurrentState:      es.State,
			Attributes:        hass.SanitizeAttributes(es.Attributes),
			SupportedCommands: hass.SupportedCommands(domain),
		})
	}

	return &protocol.DeviceList{
		Devices:    devices,
		TotalCount: int32(len(devices)),
	}, nil
}

// KeepAlive reports whether this speaker's session is currently tracked
// and refreshes its activity clock when it is.
func (s *Service) KeepAlive(ctx context.Context, req *protocol.PingRequest) (*protocol.PingResponse, error) {
	s.metrics.RecordRPCRequest("KeepAlive")

	sess, ok := s.tracker.Get(req.SpeakerID)
	if !ok {
		return &protocol.PingResponse{
			Alive:         false,
			ServerTime:    time.Now().UnixMilli(),
			StatusMessage: "speaker not registered",
		}, nil
	}

	idle := time.Since(sess.LastActivity()) > s.cfg.Registry.GetActiveThreshold()
	s.registry.Touch(req.SpeakerID)
	sess.Touch()

	statusMsg := fmt.Sprintf("connected, uptime %s", time.Since(sess.ConnectedAt).Round(time.Second))
	if idle {
		statusMsg += ", idle"
	}

	return &protocol.PingResponse{
		Alive:         true,
		ServerTime:    time.Now().UnixMilli(),
		StatusMessage: statusMsg,
	}, nil
}

// matchesFilters reports whether entityID passes the prefix filter list.
// An empty list matches everything.
func matchesFilters(entityID string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if strings.HasPrefix(entityID, f) {
			return true
		}
	}
	return false
}

func entityDomain(entityID string) string {
	if i := strings.Index(entityID, "."); i >= 0 {
		return entityID[:i]
	}
	return entityID
}

// deviceStateFrom converts a host entity state into the wire form.
func deviceStateFrom(es hass.EntityState) *protocol.DeviceState {
	lastChanged := es.LastChanged
	if lastChanged.IsZero() {
		lastChanged = time.Now()
	}
	lastUpdated := es.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}
	return &protocol.DeviceState{
		EntityID:     es.EntityID,
		State:        es.State,
		Attributes:   hass.SanitizeAttributes(es.Attributes),
		FriendlyName: es.FriendlyName(),
		Domain:       es.Domain(),
		LastChanged:  lastChanged.UnixMilli(),
		LastUpdated:  lastUpdated.UnixMilli(),
	}
}
