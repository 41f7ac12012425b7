package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/VGCH/alpha-private-speaker-connector/internal/bus"
	"github.com/VGCH/alpha-private-speaker-connector/internal/store"
)

// Speaker is one registered speaker device. Timestamps are epoch seconds.
type Speaker struct {
	SpeakerID       string            `json:"speaker_id"`
	Name            string            `json:"name"`
	SpeakerType     string            `json:"speaker_type"`
	FirmwareVersion string            `json:"firmware_version"`
	Capabilities    []string          `json:"capabilities"`
	SessionID       string            `json:"session_id"`
	Address         string            `json:"address"`
	ConnectedAt     int64             `json:"connected_at"`
	LastSeen        int64             `json:"last_seen"`
	Settings        map[string]string `json:"settings"`
}

// Stats is an aggregate snapshot of the registry. A speaker is active when
// it was seen within the last 5 minutes; AverageUptime covers active
// speakers only.
type Stats struct {
	Total         int            `json:"total_speakers"`
	Active        int            `json:"active_speakers"`
	AverageUptime float64        `json:"average_uptime_seconds"`
	ByType        map[string]int `json:"by_type"`
	ByCapability  map[string]int `json:"by_capability"`
}

// Config contains the registry timing and persistence knobs.
type Config struct {
	InactivityTimeout  time.Duration
	ReaperInterval     time.Duration
	ActiveThreshold    time.Duration
	CheckpointInterval time.Duration

	// OnEvict, when set, is called after each reaper batch with the number
	// of evicted speakers and the remaining total.
	OnEvict func(evicted, remaining int)
}

// SetEvictHook registers fn to run once per speaker the reaper evicts,
// after the speaker has been removed from the table. Used to drop any
// session state held outside the registry.
func (r *Registry) SetEvictHook(fn func(speakerID string)) {
	r.mu.Lock()
	r.evictHook = fn
	r.mu.Unlock()
}

type checkpoint struct {
	Speakers  []*Speaker `json:"speakers"`
	UpdatedAt int64      `json:"updated_at"`
}

// Registry is the durable speaker table. All methods are safe for
// concurrent use.
type Registry struct {
	speakers map[string]*Speaker
	mu       sync.RWMutex
	logger   *slog.Logger
	store    store.Store
	events   bus.Bus
	cfg      Config

	evictHook func(speakerID string)
	started   bool

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// New creates a registry and restores any previous checkpoint. A nil store
// disables persistence; a failed restore is logged and the registry starts
// empty.
func New(logger *slog.Logger, st store.Store, events bus.Bus, cfg Config) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		speakers: make(map[string]*Speaker),
		logger:   logger,
		store:    st,
		events:   events,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}
	if err := r.restore(); err != nil {
		logger.Warn("Failed to restore speaker checkpoint, starting empty",
			slog.String("error", err.Error()),
		)
	}
	return r
}

// Start launches the background reaper and checkpoint routines.
func (r *Registry) Start() {
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	go r.backgroundRoutine()
}

// Stop halts the background routines and writes a final checkpoint. Safe
// to call on a registry that was never started.
func (r *Registry) Stop() {
	r.cancel()
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.cleanup
	}
	r.persist()
	r.logger.Info("Speaker registry stopped",
		slog.Int("speakers", r.Count()),
	)
}

// Register adds or replaces the entry for id, assigning a fresh session id.
// Re-registration always wins: the previous session for the same id is
// overwritten. Emits a "connected" event.
func (r *Registry) Register(id, name, speakerType, firmware string, capabilities []string, address string, settings map[string]string) string {
	now := time.Now()
	// Nanoseconds rather than seconds: a same-second reconnect must still
	// get a distinct session id.
	sessionID := fmt.Sprintf("%s_%d", id, now.UnixNano())

	sp := &Speaker{
		SpeakerID:       id,
		Name:            name,
		SpeakerType:     speakerType,
		FirmwareVersion: firmware,
		Capabilities:    capabilities,
		SessionID:       sessionID,
		Address:         address,
		ConnectedAt:     now.Unix(),
		LastSeen:        now.Unix(),
		Settings:        settings,
	}

	r.mu.Lock()
	_, replaced := r.speakers[id]
	r.speakers[id] = sp
	total := len(r.speakers)
	r.mu.Unlock()

	r.persist()

	r.logger.Info("Speaker registered",
		slog.String("speaker_id", id),
		slog.String("speaker_type", speakerType),
		slog.String("session_id", sessionID),
		slog.String("address", address),
		slog.Bool("replaced", replaced),
		slog.Int("total_speakers", total),
	)

	r.events.Emit("connected", map[string]any{
		"speaker_id":       id,
		"speaker_name":     name,
		"speaker_type":     speakerType,
		"firmware_version": firmware,
		"capabilities":     capabilities,
		"session_id":       sessionID,
		"address":          address,
		"timestamp":        now.Unix(),
	})

	return sessionID
}

// Touch updates last-seen for id. Unknown ids are silently ignored because
// activity signals race with eviction.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if sp, ok := r.speakers[id]; ok {
		sp.LastSeen = time.Now().Unix()
	}
	r.mu.Unlock()
}

// Get returns a copy of the speaker entry for id.
func (r *Registry) Get(id string) (Speaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, ok := r.speakers[id]
	if !ok {
		return Speaker{}, false
	}
	return *sp, true
}

// List returns a snapshot of all registered speakers.
func (r *Registry) List() []Speaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Speaker, 0, len(r.speakers))
	for _, sp := range r.speakers {
		out = append(out, *sp)
	}
	return out
}

// Count returns the number of registered speakers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.speakers)
}

// Remove deletes the entry for id and persists. It emits no event; callers
// that evict emit their own "disconnected".
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.speakers[id]
	delete(r.speakers, id)
	r.mu.Unlock()

	if ok {
		r.persist()
	}
	return ok
}

// Clear removes all entries and persists the empty table.
func (r *Registry) Clear() {
	r.mu.Lock()
	n := len(r.speakers)
	r.speakers = make(map[string]*Speaker)
	r.mu.Unlock()

	r.persist()
	r.logger.Info("Speaker registry cleared", slog.Int("removed", n))
}

// Stats computes the aggregate registry snapshot.
func (r *Registry) Stats() Stats {
	now := time.Now().Unix()
	activeWithin := int64(r.cfg.ActiveThreshold.Seconds())

	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		Total:        len(r.speakers),
		ByType:       make(map[string]int),
		ByCapability: make(map[string]int),
	}

	var uptimeSum int64
	for _, sp := range r.speakers {
		st.ByType[sp.SpeakerType]++
		for _, c := range sp.Capabilities {
			st.ByCapability[c]++
		}
		if now-sp.LastSeen <= activeWithin {
			st.Active++
			uptimeSum += now - sp.ConnectedAt
		}
	}
	if st.Active > 0 {
		st.AverageUptime = float64(uptimeSum) / float64(st.Active)
	}
	return st
}

// Reload discards the in-memory table and restores it from the last
// checkpoint on disk.
func (r *Registry) Reload() error {
	r.mu.Lock()
	r.speakers = make(map[string]*Speaker)
	r.mu.Unlock()

	if err := r.restore(); err != nil {
		return fmt.Errorf("failed to reload speakers: %w", err)
	}
	r.logger.Info("Speaker registry reloaded", slog.Int("speakers", r.Count()))
	return nil
}

// persist writes the full table to the store. Failures are logged, never
// fatal: in-memory state stays authoritative for the running process.
func (r *Registry) persist() {
	if r.store == nil {
		return
	}

	r.mu.RLock()
	cp := checkpoint{
		Speakers:  make([]*Speaker, 0, len(r.speakers)),
		UpdatedAt: time.Now().Unix(),
	}
	for _, sp := range r.speakers {
		c := *sp
		cp.Speakers = append(cp.Speakers, &c)
	}
	r.mu.RUnlock()

	data, err := json.Marshal(cp)
	if err != nil {
		r.logger.Error("Failed to serialize speaker checkpoint", slog.String("error", err.Error()))
		return
	}
	if err := r.store.Save(data); err != nil {
		r.logger.Error("Failed to save speaker checkpoint", slog.String("error", err.Error()))
	}
}

func (r *Registry) restore() error {
	if r.store == nil {
		return nil
	}

	data, err := r.store.Load()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	var raw struct {
		Speakers  []json.RawMessage `json:"speakers"`
		UpdatedAt int64             `json:"updated_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse checkpoint: %w", err)
	}

	restored, skipped := 0, 0
	r.mu.Lock()
	for _, rec := range raw.Speakers {
		var sp Speaker
		if err := json.Unmarshal(rec, &sp); err != nil || sp.SpeakerID == "" {
			skipped++
			continue
		}
		r.speakers[sp.SpeakerID] = &sp
		restored++
	}
	r.mu.Unlock()

	if restored > 0 || skipped > 0 {
		r.logger.Info("Speaker checkpoint restored",
			slog.Int("restored", restored),
			slog.Int("skipped", skipped),
		)
	}
	return nil
}

// backgroundRoutine runs the inactivity reaper and the periodic checkpoint
// on their own tickers until Stop.
func (r *Registry) backgroundRoutine() {
	defer close(r.cleanup)

	reaper := time.NewTicker(r.cfg.ReaperInterval)
	defer reaper.Stop()
	saver := time.NewTicker(r.cfg.CheckpointInterval)
	defer saver.Stop()

	r.logger.Info("Registry reaper started",
		slog.Duration("scan_interval", r.cfg.ReaperInterval),
		slog.Duration("inactivity_timeout", r.cfg.InactivityTimeout),
	)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Registry reaper stopping")
			return

		case <-reaper.C:
			r.evictInactive()

		case <-saver.C:
			r.persist()
		}
	}
}

// evictInactive removes every speaker silent beyond the inactivity timeout
// and logs the batch as one event.
func (r *Registry) evictInactive() {
	now := time.Now().Unix()
	limit := int64(r.cfg.InactivityTimeout.Seconds())

	r.mu.Lock()
	var evicted []*Speaker
	for id, sp := range r.speakers {
		if now-sp.LastSeen > limit {
			evicted = append(evicted, sp)
			delete(r.speakers, id)
		}
	}
	remaining := len(r.speakers)
	hook := r.evictHook
	r.mu.Unlock()

	if len(evicted) == 0 {
		return
	}

	r.persist()
	if r.cfg.OnEvict != nil {
		r.cfg.OnEvict(len(evicted), remaining)
	}
	if hook != nil {
		for _, sp := range evicted {
			hook(sp.SpeakerID)
		}
	}

	ids := make([]string, 0, len(evicted))
	for _, sp := range evicted {
		ids = append(ids, sp.SpeakerID)
	}
	r.logger.Info("Evicted inactive speakers",
		slog.Int("evicted_count", len(evicted)),
		slog.Any("speaker_ids", ids),
	)

	for _, sp := range evicted {
		r.events.Emit("disconnected", map[string]any{
			"speaker_id": sp.SpeakerID,
			"session_id": sp.SessionID,
			"reason":     "inactivity_timeout",
			"timestamp":  now,
		})
	}
}
