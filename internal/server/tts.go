package server

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VGCH/alpha-private-speaker-connector/internal/protocol"
)

// ttsResult is the single-resolution outcome of one in-flight TTS command.
type ttsResult struct {
	success bool
	message string
}

// Correlator matches outbound TTS commands to their acknowledgements by
// message id. Each pending entry resolves exactly once: the entry is
// removed before its result is delivered, so a late or duplicate response
// is a no-op.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan ttsResult
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]chan ttsResult)}
}

// Register creates a pending slot for messageID and returns the channel
// its result will arrive on.
func (c *Correlator) Register(messageID string) <-chan ttsResult {
	ch := make(chan ttsResult, 1)
	c.mu.Lock()
	c.pending[messageID] = ch
	c.mu.Unlock()
	return ch
}

// Resolve delivers the result for messageID. Returns false when no slot is
// pending, which covers late, duplicate, and timed-out responses.
func (c *Correlator) Resolve(messageID string, success bool, message string) bool {
	c.mu.Lock()
	ch, ok := c.pending[messageID]
	if ok {
		delete(c.pending, messageID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- ttsResult{success: success, message: message}
	return true
}

// Cancel drops the pending slot for messageID without resolving it.
func (c *Correlator) Cancel(messageID string) {
	c.mu.Lock()
	delete(c.pending, messageID)
	c.mu.Unlock()
}

// PendingCount returns the number of unresolved TTS commands.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// newTTSMessageID generates a globally unique TTS message identifier.
func newTTSMessageID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("tts_%d_%s", time.Now().Unix(), suffix)
}

// SendTTS delivers a TTS command to a speaker's active stream and blocks
// up to the configured timeout for the correlated acknowledgement. Returns
// false when the speaker has no active TTS stream, delivery fails, the
// speaker reports failure, or no acknowledgement arrives in time.
func (s *Service) SendTTS(speakerID, text, language, voice string, volume int32, priority bool) bool {
	queue, ok := s.tracker.TTSQueue(speakerID)
	if !ok {
		s.logger.Warn("TTS send failed: no active TTS stream",
			slog.String("speaker_id", speakerID),
		)
		return false
	}

	messageID := newTTSMessageID()
	resultCh := s.correlator.Register(messageID)

	req := &protocol.SpeakTextRequest{
		SpeakerID: speakerID,
		Text:      text,
		Language:  language,
		Voice:     voice,
		Volume:    volume,
		Priority:  priority,
		MessageID: messageID,
		Timestamp: time.Now().UnixMilli(),
	}

	select {
	case queue <- req:
	default:
		// The stream loop is still the queue's owner and keeps draining;
		// only its own exit path deregisters. Fail this send and leave the
		// queue in place.
		s.correlator.Cancel(messageID)
		s.logger.Warn("TTS send failed: queue full",
			slog.String("speaker_id", speakerID),
			slog.String("message_id", messageID),
		)
		return false
	}

	sentAt := time.Now()
	s.metrics.RecordTTSSent()
	s.events.Emit("tts_command_sent", map[string]any{
		"speaker_id": speakerID,
		"message_id": messageID,
		"text":       text,
		"timestamp":  sentAt.Unix(),
	})

	s.logger.Info("TTS command enqueued",
		slog.String("speaker_id", speakerID),
		slog.String("message_id", messageID),
		slog.Int("text_length", len(text)),
	)

	select {
	case res := <-resultCh:
		s.metrics.RecordTTSResponse(time.Since(sentAt).Seconds())
		if !res.success {
			s.logger.Warn("Speaker reported TTS failure",
				slog.String("speaker_id", speakerID),
				slog.String("message_id", messageID),
				slog.String("message", res.message),
			)
		}
		return res.success

	case <-time.After(s.cfg.TTS.GetResponseTimeout()):
		s.correlator.Cancel(messageID)
		s.metrics.RecordTTSTimeout()
		s.logger.Warn("TTS acknowledgement timed out",
			slog.String("speaker_id", speakerID),
			slog.String("message_id", messageID),
			slog.Duration("timeout", s.cfg.TTS.GetResponseTimeout()),
		)
		return false
	}
}

// TestConnection checks whether a speaker is currently registered and
// emits a test_response event with the outcome.
func (s *Service) TestConnection(speakerID string) bool {
	_, registered := s.tracker.Get(speakerID)

	s.events.Emit("test_response", map[string]any{
		"speaker_id": speakerID,
		"success":    registered,
		"timestamp":  time.Now().Unix(),
	})
	return registered
}
