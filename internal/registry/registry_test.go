package registry

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/VGCH/alpha-private-speaker-connector/internal/store"
)

type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

type busEvent struct {
	name    string
	payload map[string]any
}

func (b *fakeBus) Emit(event string, payload map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{name: event, payload: payload})
}

func (b *fakeBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.name == name {
			n++
		}
	}
	return n
}

func testConfig() Config {
	return Config{
		InactivityTimeout:  time.Hour,
		ReaperInterval:     time.Minute,
		ActiveThreshold:    5 * time.Minute,
		CheckpointInterval: 30 * time.Second,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRegistry(t *testing.T, events *fakeBus) *Registry {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return New(testLogger(), st, events, testConfig())
}

func TestRegisterAssignsFreshSessionID(t *testing.T) {
	events := &fakeBus{}
	r := newTestRegistry(t, events)

	s1 := r.Register("kitchen-1", "Kitchen", "alpha_mini", "1.0", []string{"tts"}, "10.0.0.5:4242", nil)
	s2 := r.Register("kitchen-1", "Kitchen", "alpha_mini", "1.0", []string{"tts"}, "10.0.0.5:4243", nil)

	if s1 == s2 {
		t.Errorf("re-registration reused session id %q", s1)
	}
	if r.Count() != 1 {
		t.Errorf("registry has %d entries after re-registration, want 1", r.Count())
	}
	sp, ok := r.Get("kitchen-1")
	if !ok {
		t.Fatal("speaker missing after registration")
	}
	if sp.SessionID != s2 {
		t.Errorf("stored session id %q, want latest %q", sp.SessionID, s2)
	}
	if events.count("connected") != 2 {
		t.Errorf("connected events = %d, want 2", events.count("connected"))
	}
}

func TestTouchUnknownIsNoOp(t *testing.T) {
	r := newTestRegistry(t, &fakeBus{})

	r.Touch("ghost")

	if r.Count() != 0 {
		t.Errorf("touch created an entry: %d speakers", r.Count())
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("unexpected entry for unknown id")
	}
}

func TestRemove(t *testing.T) {
	r := newTestRegistry(t, &fakeBus{})
	r.Register("sp", "S", "alpha_mini", "1.0", nil, "addr", nil)

	if !r.Remove("sp") {
		t.Error("Remove returned false for existing speaker")
	}
	if r.Remove("sp") {
		t.Error("Remove returned true for missing speaker")
	}
	if _, ok := r.Get("sp"); ok {
		t.Error("speaker still present after Remove")
	}
}

func TestStats(t *testing.T) {
	r := newTestRegistry(t, &fakeBus{})

	if got := r.Stats(); got.Total != 0 || got.Active != 0 || got.AverageUptime != 0 {
		t.Errorf("empty registry stats = %+v", got)
	}

	r.Register("a", "A", "alpha_mini", "1.0", []string{"tts", "volume_control"}, "addr", nil)
	r.Register("b", "B", "alpha_max", "1.0", []string{"tts"}, "addr", nil)
	r.Register("c", "C", "alpha_mini", "1.0", nil, "addr", nil)

	// Push c beyond the active threshold.
	r.mu.Lock()
	r.speakers["c"].LastSeen = time.Now().Add(-10 * time.Minute).Unix()
	r.speakers["c"].ConnectedAt = time.Now().Add(-20 * time.Minute).Unix()
	r.mu.Unlock()

	st := r.Stats()
	if st.Total != 3 {
		t.Errorf("Total = %d, want 3", st.Total)
	}
	if st.Active != 2 {
		t.Errorf("Active = %d, want 2", st.Active)
	}
	if st.ByType["alpha_mini"] != 2 || st.ByType["alpha_max"] != 1 {
		t.Errorf("ByType = %v", st.ByType)
	}
	if st.ByCapability["tts"] != 2 || st.ByCapability["volume_control"] != 1 {
		t.Errorf("ByCapability = %v", st.ByCapability)
	}
	// Only active speakers count toward uptime; both just connected.
	if st.AverageUptime > 5 {
		t.Errorf("AverageUptime = %f, expected near zero", st.AverageUptime)
	}
}

func TestEviction(t *testing.T) {
	events := &fakeBus{}
	r := newTestRegistry(t, events)
	r.Register("stale", "S", "alpha_mini", "1.0", nil, "addr", nil)
	r.Register("fresh", "F", "alpha_mini", "1.0", nil, "addr", nil)

	r.mu.Lock()
	r.speakers["stale"].LastSeen = time.Now().Add(-2 * time.Hour).Unix()
	r.mu.Unlock()

	r.evictInactive()

	if _, ok := r.Get("stale"); ok {
		t.Error("stale speaker survived eviction")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Error("fresh speaker was evicted")
	}
	if events.count("disconnected") != 1 {
		t.Errorf("disconnected events = %d, want 1", events.count("disconnected"))
	}
}

func TestStopWithoutStartReturns(t *testing.T) {
	r := newTestRegistry(t, &fakeBus{})
	r.Register("kitchen-1", "Kitchen", "alpha_mini", "1.0", nil, "addr", nil)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a registry that was never started")
	}
}

func TestEvictHookRunsPerSpeaker(t *testing.T) {
	r := newTestRegistry(t, &fakeBus{})
	var hooked []string
	r.SetEvictHook(func(id string) { hooked = append(hooked, id) })

	r.Register("a", "A", "alpha_mini", "1.0", nil, "addr", nil)
	r.Register("b", "B", "alpha_mini", "1.0", nil, "addr", nil)
	r.Register("c", "C", "alpha_mini", "1.0", nil, "addr", nil)

	r.mu.Lock()
	r.speakers["a"].LastSeen = time.Now().Add(-2 * time.Hour).Unix()
	r.speakers["b"].LastSeen = time.Now().Add(-2 * time.Hour).Unix()
	r.mu.Unlock()

	r.evictInactive()

	if len(hooked) != 2 {
		t.Fatalf("hook ran %d times, want 2: %v", len(hooked), hooked)
	}
	for _, id := range hooked {
		if id != "a" && id != "b" {
			t.Errorf("hook ran for unexpected speaker %q", id)
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	r1 := New(testLogger(), st, &fakeBus{}, testConfig())
	r1.Register("kitchen-1", "Kitchen", "alpha_mini", "1.4", []string{"tts"}, "addr", map[string]string{"locale": "uk-UA"})
	r1.Register("hall-1", "Hall", "alpha_max", "1.4", nil, "addr", nil)

	r2 := New(testLogger(), st, &fakeBus{}, testConfig())
	if r2.Count() != 2 {
		t.Fatalf("restored %d speakers, want 2", r2.Count())
	}
	sp, ok := r2.Get("kitchen-1")
	if !ok {
		t.Fatal("kitchen-1 missing after restore")
	}
	if sp.Settings["locale"] != "uk-UA" {
		t.Errorf("settings lost across restart: %+v", sp.Settings)
	}
}

func TestRestoreSkipsMalformedRecords(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	blob := `{"speakers":[
		{"speaker_id":"good","name":"G","speaker_type":"alpha_mini"},
		{"speaker_id":""},
		"not an object"
	],"updated_at":1}`
	if err := st.Save([]byte(blob)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	r := New(testLogger(), st, &fakeBus{}, testConfig())
	if r.Count() != 1 {
		t.Errorf("restored %d speakers, want 1 (malformed skipped)", r.Count())
	}
	if _, ok := r.Get("good"); !ok {
		t.Error("valid record was not restored")
	}
}

func TestClear(t *testing.T) {
	r := newTestRegistry(t, &fakeBus{})
	r.Register("a", "A", "alpha_mini", "1.0", nil, "addr", nil)
	r.Register("b", "B", "alpha_mini", "1.0", nil, "addr", nil)

	r.Clear()

	if r.Count() != 0 {
		t.Errorf("Count = %d after Clear, want 0", r.Count())
	}
}

func TestReload(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	r := New(testLogger(), st, &fakeBus{}, testConfig())
	r.Register("a", "A", "alpha_mini", "1.0", nil, "addr", nil)

	// Drop the entry in memory only, then reload from the checkpoint.
	r.mu.Lock()
	delete(r.speakers, "a")
	r.mu.Unlock()

	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := r.Get("a"); !ok {
		t.Error("speaker missing after Reload")
	}
}

func TestConcurrentRegisterAndTouch(t *testing.T) {
	r := newTestRegistry(t, &fakeBus{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Register("shared", "S", "alpha_mini", "1.0", nil, "addr", nil)
				r.Touch("shared")
				r.Get("shared")
				r.Stats()
			}
		}()
	}
	wg.Wait()

	if r.Count() != 1 {
		t.Errorf("Count = %d after concurrent registration, want 1", r.Count())
	}
}
