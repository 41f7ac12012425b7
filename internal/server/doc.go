// Package server implements the speaker-facing gRPC service, the per
// connection session tracking, the TTS correlation engine, and the HTTP
// API for monitoring and management.
package server
