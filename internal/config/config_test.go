package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation
func validConfig() Config {
	return Config{
		Server: ServerConfig{
			GRPCPort:             50051,
			BindAddress:          "0.0.0.0",
			MaxMessageSizeMB:     50,
			MaxConcurrentStreams: 100,
			MaxSpeakers:          10,
		},
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Registry: RegistryConfig{
			InactivityTimeout:  3600,
			ReaperInterval:     60,
			ActiveThreshold:    300,
			CheckpointInterval: 30,
			StorageDir:         "./data",
			InstanceID:         "default",
		},
		TTS: TTSConfig{
			ResponseTimeout:  30,
			StreamHeartbeat:  30,
			CommandQueueSize: 256,
		},
		Hass: HassConfig{
			BaseURL:          "http://localhost:8123",
			Token:            "test-token",
			WebsocketEnabled: true,
			Timeout:          10,
			MaxRetries:       3,
			MaxConcurrent:    10,
		},
		Events: EventsConfig{
			Prefix: "alpha_speaker_",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid grpc port",
			mutate:      func(c *Config) { c.Server.GRPCPort = 70000 },
			expectError: true,
			errorMsg:    "grpc_port must be between 1 and 65535",
		},
		{
			name:        "empty bind address",
			mutate:      func(c *Config) { c.Server.BindAddress = "" },
			expectError: true,
			errorMsg:    "bind_address cannot be empty",
		},
		{
			name:        "zero max speakers",
			mutate:      func(c *Config) { c.Server.MaxSpeakers = 0 },
			expectError: true,
			errorMsg:    "max_speakers must be at least 1",
		},
		{
			name:        "http enabled without address",
			mutate:      func(c *Config) { c.HTTP.Address = "" },
			expectError: true,
			errorMsg:    "http address cannot be empty",
		},
		{
			name:        "http disabled skips validation",
			mutate:      func(c *Config) { c.HTTP = HTTPConfig{Enabled: false} },
			expectError: false,
		},
		{
			name:        "active threshold above inactivity timeout",
			mutate:      func(c *Config) { c.Registry.ActiveThreshold = 7200 },
			expectError: true,
			errorMsg:    "must not exceed inactivity_timeout",
		},
		{
			name:        "empty instance id",
			mutate:      func(c *Config) { c.Registry.InstanceID = "" },
			expectError: true,
			errorMsg:    "instance_id cannot be empty",
		},
		{
			name:        "zero response timeout",
			mutate:      func(c *Config) { c.TTS.ResponseTimeout = 0 },
			expectError: true,
			errorMsg:    "response_timeout must be at least 1 second",
		},
		{
			name:        "hass url without scheme",
			mutate:      func(c *Config) { c.Hass.BaseURL = "localhost:8123" },
			expectError: true,
			errorMsg:    "base_url must start with http:// or https://",
		},
		{
			name:        "hass url without token",
			mutate:      func(c *Config) { c.Hass.Token = "" },
			expectError: true,
			errorMsg:    "token cannot be empty",
		},
		{
			name:        "empty hass url is standalone mode",
			mutate:      func(c *Config) { c.Hass = HassConfig{} },
			expectError: false,
		},
		{
			name:        "empty event prefix",
			mutate:      func(c *Config) { c.Events.Prefix = "" },
			expectError: true,
			errorMsg:    "prefix cannot be empty",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
		{
			name:        "invalid log format",
			mutate:      func(c *Config) { c.Logging.Format = "xml" },
			expectError: true,
			errorMsg:    "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  grpc_port: 50051
  bind_address: "0.0.0.0"
  max_message_size_mb: 50
  max_concurrent_streams: 100
  max_speakers: 10
http:
  port: 8090
  address: "127.0.0.1"
  enabled: true
registry:
  storage_dir: "./data"
  instance_id: "default"
logging:
  level: "info"
  format: "json"
  output: "stdout"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.GRPCPort != 50051 {
		t.Errorf("expected grpc_port 50051, got %d", cfg.Server.GRPCPort)
	}

	// Omitted sections get the design constants
	if cfg.Registry.InactivityTimeout != 3600 {
		t.Errorf("expected default inactivity_timeout 3600, got %d", cfg.Registry.InactivityTimeout)
	}
	if cfg.TTS.ResponseTimeout != 30 {
		t.Errorf("expected default response_timeout 30, got %d", cfg.TTS.ResponseTimeout)
	}
	if cfg.Events.Prefix != "alpha_speaker_" {
		t.Errorf("expected default event prefix, got %q", cfg.Events.Prefix)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("server: [not a mapping"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()

	if got := cfg.Registry.GetInactivityTimeout(); got != time.Hour {
		t.Errorf("expected inactivity timeout 1h, got %v", got)
	}
	if got := cfg.Registry.GetReaperInterval(); got != time.Minute {
		t.Errorf("expected reaper interval 1m, got %v", got)
	}
	if got := cfg.Registry.GetActiveThreshold(); got != 5*time.Minute {
		t.Errorf("expected active threshold 5m, got %v", got)
	}
	if got := cfg.TTS.GetResponseTimeout(); got != 30*time.Second {
		t.Errorf("expected response timeout 30s, got %v", got)
	}
	if got := cfg.TTS.GetStreamHeartbeat(); got != 30*time.Second {
		t.Errorf("expected stream heartbeat 30s, got %v", got)
	}
	if got := cfg.Hass.GetTimeout(); got != 10*time.Second {
		t.Errorf("expected hass timeout 10s, got %v", got)
	}
}
