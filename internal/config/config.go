package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete connector configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	HTTP     HTTPConfig     `yaml:"http"`
	Registry RegistryConfig `yaml:"registry"`
	TTS      TTSConfig      `yaml:"tts"`
	Hass     HassConfig     `yaml:"hass"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains gRPC server configuration
type ServerConfig struct {
	GRPCPort             int    `yaml:"grpc_port"`
	BindAddress          string `yaml:"bind_address"`
	MaxMessageSizeMB     int    `yaml:"max_message_size_mb"`
	MaxConcurrentStreams int    `yaml:"max_concurrent_streams"`
	MaxSpeakers          int    `yaml:"max_speakers"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// RegistryConfig contains speaker registry configuration
type RegistryConfig struct {
	InactivityTimeout  int    `yaml:"inactivity_timeout"`  // seconds
	ReaperInterval     int    `yaml:"reaper_interval"`     // seconds
	ActiveThreshold    int    `yaml:"active_threshold"`    // seconds
	CheckpointInterval int    `yaml:"checkpoint_interval"` // seconds
	StorageDir         string `yaml:"storage_dir"`
	InstanceID         string `yaml:"instance_id"`
}

// TTSConfig contains TTS delivery and correlation configuration
type TTSConfig struct {
	ResponseTimeout  int `yaml:"response_timeout"` // seconds
	StreamHeartbeat  int `yaml:"stream_heartbeat"` // seconds
	CommandQueueSize int `yaml:"command_queue_size"`
}

// HassConfig contains Home Assistant API client configuration
type HassConfig struct {
	BaseURL          string `yaml:"base_url"`
	Token            string `yaml:"token"`
	WebsocketEnabled bool   `yaml:"websocket_enabled"`
	Timeout          int    `yaml:"timeout"` // seconds
	MaxRetries       int    `yaml:"max_retries"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
}

// EventsConfig contains outbound event bus configuration
type EventsConfig struct {
	Prefix string `yaml:"prefix"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in the design constants for fields left unset
func (c *Config) applyDefaults() {
	if c.Registry.InactivityTimeout == 0 {
		c.Registry.InactivityTimeout = 3600
	}
	if c.Registry.ReaperInterval == 0 {
		c.Registry.ReaperInterval = 60
	}
	if c.Registry.ActiveThreshold == 0 {
		c.Registry.ActiveThreshold = 300
	}
	if c.Registry.CheckpointInterval == 0 {
		c.Registry.CheckpointInterval = 30
	}
	if c.TTS.ResponseTimeout == 0 {
		c.TTS.ResponseTimeout = 30
	}
	if c.TTS.StreamHeartbeat == 0 {
		c.TTS.StreamHeartbeat = 30
	}
	if c.TTS.CommandQueueSize == 0 {
		c.TTS.CommandQueueSize = 256
	}
	if c.Events.Prefix == "" {
		c.Events.Prefix = "alpha_speaker_"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.Hass.Validate(); err != nil {
		return fmt.Errorf("hass config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates gRPC server configuration
func (s *ServerConfig) Validate() error {
	if s.GRPCPort < 1 || s.GRPCPort > 65535 {
		return fmt.Errorf("grpc_port must be between 1 and 65535, got %d", s.GRPCPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MaxMessageSizeMB < 1 {
		return fmt.Errorf("max_message_size_mb must be at least 1, got %d", s.MaxMessageSizeMB)
	}

	if s.MaxConcurrentStreams < 1 {
		return fmt.Errorf("max_concurrent_streams must be at least 1, got %d", s.MaxConcurrentStreams)
	}

	if s.MaxSpeakers < 1 {
		return fmt.Errorf("max_speakers must be at least 1, got %d", s.MaxSpeakers)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates registry configuration
func (r *RegistryConfig) Validate() error {
	if r.InactivityTimeout < 1 {
		return fmt.Errorf("inactivity_timeout must be at least 1 second, got %d", r.InactivityTimeout)
	}

	if r.ReaperInterval < 1 {
		return fmt.Errorf("reaper_interval must be at least 1 second, got %d", r.ReaperInterval)
	}

	if r.ActiveThreshold < 1 {
		return fmt.Errorf("active_threshold must be at least 1 second, got %d", r.ActiveThreshold)
	}

	if r.ActiveThreshold > r.InactivityTimeout {
		return fmt.Errorf("active_threshold (%d) must not exceed inactivity_timeout (%d)",
			r.ActiveThreshold, r.InactivityTimeout)
	}

	if r.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint_interval must be at least 1 second, got %d", r.CheckpointInterval)
	}

	if r.StorageDir == "" {
		return fmt.Errorf("storage_dir cannot be empty")
	}

	if r.InstanceID == "" {
		return fmt.Errorf("instance_id cannot be empty")
	}

	return nil
}

// Validate validates TTS configuration
func (t *TTSConfig) Validate() error {
	if t.ResponseTimeout < 1 {
		return fmt.Errorf("response_timeout must be at least 1 second, got %d", t.ResponseTimeout)
	}

	if t.StreamHeartbeat < 1 {
		return fmt.Errorf("stream_heartbeat must be at least 1 second, got %d", t.StreamHeartbeat)
	}

	if t.CommandQueueSize < 1 {
		return fmt.Errorf("command_queue_size must be at least 1, got %d", t.CommandQueueSize)
	}

	return nil
}

// Validate validates Home Assistant client configuration.
// An empty base_url selects standalone mode: no host platform, events go to
// the log bus instead.
func (h *HassConfig) Validate() error {
	if h.BaseURL == "" {
		return nil
	}

	if !strings.HasPrefix(h.BaseURL, "http://") && !strings.HasPrefix(h.BaseURL, "https://") {
		return fmt.Errorf("base_url must start with http:// or https://, got '%s'", h.BaseURL)
	}

	if h.Token == "" {
		return fmt.Errorf("token cannot be empty when base_url is set")
	}

	if h.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", h.Timeout)
	}

	if h.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", h.MaxRetries)
	}

	if h.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", h.MaxConcurrent)
	}

	return nil
}

// Validate validates events configuration
func (e *EventsConfig) Validate() error {
	if e.Prefix == "" {
		return fmt.Errorf("prefix cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetInactivityTimeout returns the inactivity eviction threshold as a time.Duration
func (r *RegistryConfig) GetInactivityTimeout() time.Duration {
	return time.Duration(r.InactivityTimeout) * time.Second
}

// GetReaperInterval returns the reaper scan interval as a time.Duration
func (r *RegistryConfig) GetReaperInterval() time.Duration {
	return time.Duration(r.ReaperInterval) * time.Second
}

// GetActiveThreshold returns the active classification threshold as a time.Duration
func (r *RegistryConfig) GetActiveThreshold() time.Duration {
	return time.Duration(r.ActiveThreshold) * time.Second
}

// GetCheckpointInterval returns the activity checkpoint interval as a time.Duration
func (r *RegistryConfig) GetCheckpointInterval() time.Duration {
	return time.Duration(r.CheckpointInterval) * time.Second
}

// GetResponseTimeout returns the TTS correlation timeout as a time.Duration
func (t *TTSConfig) GetResponseTimeout() time.Duration {
	return time.Duration(t.ResponseTimeout) * time.Second
}

// GetStreamHeartbeat returns the stream heartbeat interval as a time.Duration
func (t *TTSConfig) GetStreamHeartbeat() time.Duration {
	return time.Duration(t.StreamHeartbeat) * time.Second
}

// GetTimeout returns the Home Assistant request timeout as a time.Duration
func (h *HassConfig) GetTimeout() time.Duration {
	return time.Duration(h.Timeout) * time.Second
}
