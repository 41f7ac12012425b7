package bus

import (
	"log/slog"
)

// Bus delivers named connector events to a sink. Event names are passed
// without the configured prefix; implementations apply it.
type Bus interface {
	Emit(event string, payload map[string]any)
}

// LogBus writes events to the structured log. It is the fallback sink when
// no Home Assistant connection is configured.
type LogBus struct {
	prefix string
	logger *slog.Logger
}

// NewLogBus returns a LogBus applying prefix to every event name.
func NewLogBus(prefix string, logger *slog.Logger) *LogBus {
	return &LogBus{prefix: prefix, logger: logger}
}

func (b *LogBus) Emit(event string, payload map[string]any) {
	attrs := make([]any, 0, 2*len(payload)+2)
	attrs = append(attrs, slog.String("event", b.prefix+event))
	for k, v := range payload {
		attrs = append(attrs, slog.Any(k, v))
	}
	b.logger.Info("Event emitted", attrs...)
}

// Fanout sends every event to all member buses.
type Fanout []Bus

func (f Fanout) Emit(event string, payload map[string]any) {
	for _, b := range f {
		b.Emit(event, payload)
	}
}
