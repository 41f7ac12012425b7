package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/VGCH/alpha-private-speaker-connector/internal/protocol"
)

// Session is the process-local record of one registered connection. It is
// cache, not source of truth: the registry survives restarts, sessions
// never do.
type Session struct {
	SpeakerID    string
	SessionID    string
	Address      string
	Capabilities []string
	ConnectedAt  time.Time

	mu           sync.RWMutex
	lastActivity time.Time
}

// Touch updates the session activity clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the session activity clock.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Tracker owns the in-memory session records and the per-speaker active
// TTS queues. All methods are safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	ttsQueues map[string]chan *protocol.SpeakTextRequest
	logger    *slog.Logger
}

// NewTracker creates an empty session tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		sessions:  make(map[string]*Session),
		ttsQueues: make(map[string]chan *protocol.SpeakTextRequest),
		logger:    logger,
	}
}

// Track records a new session for a speaker, replacing any previous one.
func (t *Tracker) Track(speakerID, sessionID, address string, capabilities []string) *Session {
	now := time.Now()
	sess := &Session{
		SpeakerID:    speakerID,
		SessionID:    sessionID,
		Address:      address,
		Capabilities: capabilities,
		ConnectedAt:  now,
		lastActivity: now,
	}

	t.mu.Lock()
	_, replaced := t.sessions[speakerID]
	t.sessions[speakerID] = sess
	t.mu.Unlock()

	if replaced {
		t.logger.Debug("Session record replaced",
			slog.String("speaker_id", speakerID),
			slog.String("session_id", sessionID),
		)
	}
	return sess
}

// Get returns the session record for a speaker.
func (t *Tracker) Get(speakerID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sess, ok := t.sessions[speakerID]
	return sess, ok
}

// Touch updates the activity clock for a speaker's session, if tracked.
func (t *Tracker) Touch(speakerID string) {
	t.mu.RLock()
	sess, ok := t.sessions[speakerID]
	t.mu.RUnlock()
	if ok {
		sess.Touch()
	}
}

// Remove drops the session record and any TTS queue for a speaker.
func (t *Tracker) Remove(speakerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[speakerID]
	delete(t.sessions, speakerID)
	delete(t.ttsQueues, speakerID)
	return ok
}

// Count returns the number of tracked sessions.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// All returns a snapshot of the tracked sessions.
func (t *Tracker) All() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// ReplaceTTSQueue installs a fresh TTS queue as the active one for a
// speaker, displacing any previous queue. Commands still sitting in a
// displaced queue are lost; that is the documented reconnect behavior.
func (t *Tracker) ReplaceTTSQueue(speakerID string, size int) chan *protocol.SpeakTextRequest {
	q := make(chan *protocol.SpeakTextRequest, size)

	t.mu.Lock()
	_, replaced := t.ttsQueues[speakerID]
	t.ttsQueues[speakerID] = q
	t.mu.Unlock()

	if replaced {
		t.logger.Info("TTS queue replaced by reconnect",
			slog.String("speaker_id", speakerID),
		)
	}
	return q
}

// TTSQueue returns the active TTS queue for a speaker.
func (t *Tracker) TTSQueue(speakerID string) (chan *protocol.SpeakTextRequest, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.ttsQueues[speakerID]
	return q, ok
}

// RemoveTTSQueue deletes the queue entry for a speaker only if q is still
// the registered queue. A stream that lost a reconnect race must not
// remove its successor's queue.
func (t *Tracker) RemoveTTSQueue(speakerID string, q chan *protocol.SpeakTextRequest) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.ttsQueues[speakerID]
	if !ok || current != q {
		return false
	}
	delete(t.ttsQueues, speakerID)
	return true
}
