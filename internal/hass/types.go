package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityState is one entity's state as reported by the host.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the entity's domain, the part before the first dot.
func (s EntityState) Domain() string {
	if i := strings.Index(s.EntityID, "."); i >= 0 {
		return s.EntityID[:i]
	}
	return s.EntityID
}

// FriendlyName returns the friendly_name attribute, falling back to the
// entity id.
func (s EntityState) FriendlyName() string {
	if v, ok := s.Attributes["friendly_name"].(string); ok && v != "" {
		return v
	}
	return s.EntityID
}

// StateHost is the port the connector consumes for entity state, service
// execution, and state-change subscriptions.
type StateHost interface {
	ListStates(ctx context.Context) ([]EntityState, error)
	GetState(ctx context.Context, entityID string) (*EntityState, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	SubscribeStates(handler func(EntityState)) (unsubscribe func())
}

// SanitizeAttributes flattens attribute values to strings for the wire,
// which carries attributes as a string map. Primitives are formatted,
// collections are JSON-encoded.
func SanitizeAttributes(attrs map[string]any) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		switch v := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = v
		case bool:
			out[k] = strconv.FormatBool(v)
		case int:
			out[k] = strconv.Itoa(v)
		case int32:
			out[k] = strconv.FormatInt(int64(v), 10)
		case int64:
			out[k] = strconv.FormatInt(v, 10)
		case float32:
			out[k] = strconv.FormatFloat(float64(v), 'f', -1, 32)
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case []any, map[string]any:
			if b, err := json.Marshal(v); err == nil {
				out[k] = string(b)
			} else {
				out[k] = fmt.Sprintf("%v", v)
			}
		default:
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// SupportedCommands maps an entity domain to the static command set a
// speaker may invoke on it. Unknown domains get no commands.
func SupportedCommands(domain string) []string {
	cmds, ok := domainCommands[domain]
	if !ok {
		return nil
	}
	out := make([]string, len(cmds))
	copy(out, cmds)
	return out
}

var domainCommands = map[string][]string{
	"light":        {"turn_on", "turn_off", "toggle", "set_brightness"},
	"switch":       {"turn_on", "turn_off", "toggle"},
	"climate":      {"set_temperature", "set_mode"},
	"media_player": {"play", "pause", "stop", "volume_set", "volume_up", "volume_down"},
	"cover":        {"open_cover", "close_cover", "stop_cover"},
	"fan":          {"turn_on", "turn_off", "set_speed"},
	"scene":        {"turn_on"},
	"script":       {"turn_on"},
}
