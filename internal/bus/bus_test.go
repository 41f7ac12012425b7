package bus

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestLogBusAppliesPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	b := NewLogBus("alpha_speaker_", logger)

	b.Emit("connected", map[string]any{"speaker_id": "kitchen"})

	out := buf.String()
	if !strings.Contains(out, "alpha_speaker_connected") {
		t.Errorf("expected prefixed event name in log, got: %s", out)
	}
	if !strings.Contains(out, "kitchen") {
		t.Errorf("expected payload in log, got: %s", out)
	}
}

type recordingBus struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingBus) Emit(event string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestFanout(t *testing.T) {
	a := &recordingBus{}
	b := &recordingBus{}
	f := Fanout{a, b}

	f.Emit("disconnected", nil)

	for i, r := range []*recordingBus{a, b} {
		if len(r.events) != 1 || r.events[0] != "disconnected" {
			t.Errorf("bus %d: got events %v", i, r.events)
		}
	}
}
