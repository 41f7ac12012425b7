// Package bus publishes connector lifecycle events (speaker connected,
// TTS delivered, command received) to interested sinks.
package bus
