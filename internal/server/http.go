package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VGCH/alpha-private-speaker-connector/internal/config"
	"github.com/VGCH/alpha-private-speaker-connector/internal/hass"
	"github.com/VGCH/alpha-private-speaker-connector/internal/metrics"
	"github.com/VGCH/alpha-private-speaker-connector/internal/registry"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	service    *Service
	registry   *registry.Registry
	hassClient *hass.Client // nil in standalone mode
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	service *Service, reg *registry.Registry, hassClient *hass.Client, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		service:    service,
		registry:   reg,
		hassClient: hassClient,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Speaker endpoints
	mux.HandleFunc("/speakers", h.withMetrics("/speakers", h.handleSpeakers))
	mux.HandleFunc("/speakers/", h.withMetrics("/speakers/{id}", h.handleSpeakerDetail))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Checkpoint reload endpoint
	mux.HandleFunc("/reload", h.withMetrics("/reload", h.handleReload))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.registry.Stats()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "alpha-private-speaker-connector",
			"version": ServerVersion,
		},
		"components": map[string]any{
			"registry": map[string]any{
				"status":          "running",
				"total_speakers":  stats.Total,
				"active_speakers": stats.Active,
			},
			"sessions": map[string]any{
				"status":      "running",
				"tracked":     h.service.Tracker().Count(),
				"pending_tts": h.service.Correlator().PendingCount(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSpeakers implements the /speakers endpoint
func (h *HTTPServer) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	speakers := h.registry.List()

	response := map[string]any{
		"total_speakers": len(speakers),
		"timestamp":      time.Now().UTC(),
		"speakers":       speakers,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ttsRequestBody is the JSON body accepted by POST /speakers/{id}/tts.
type ttsRequestBody struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice"`
	Volume   int32  `json:"volume"`
	Priority bool   `json:"priority"`
}

// handleSpeakerDetail implements /speakers/{id} and its /tts and /test
// sub-resources.
func (h *HTTPServer) handleSpeakerDetail(w http.ResponseWriter, r *http.Request) {
	rest := r.URL.Path[len("/speakers/"):]
	if rest == "" {
		http.Error(w, "Speaker ID required", http.StatusBadRequest)
		return
	}

	speakerID, action := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		speakerID, action = rest[:i], rest[i+1:]
	}

	switch action {
	case "":
		h.handleSpeakerGet(w, r, speakerID)
	case "tts":
		h.handleSpeakerTTS(w, r, speakerID)
	case "test":
		h.handleSpeakerTest(w, r, speakerID)
	default:
		http.Error(w, "Unknown speaker action", http.StatusNotFound)
	}
}

func (h *HTTPServer) handleSpeakerGet(w http.ResponseWriter, r *http.Request, speakerID string) {
	switch r.Method {
	case http.MethodGet:
		speaker, ok := h.registry.Get(speakerID)
		if !ok {
			http.Error(w, "Speaker not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(speaker)

	case http.MethodDelete:
		if !h.service.RemoveSpeaker(speakerID) {
			http.Error(w, "Speaker not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"speaker_id": speakerID,
			"timestamp":  time.Now().UTC(),
		})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPServer) handleSpeakerTTS(w http.ResponseWriter, r *http.Request, speakerID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body ttsRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.Text == "" {
		http.Error(w, "Text is required", http.StatusBadRequest)
		return
	}

	// Blocks for up to the TTS correlation timeout.
	success := h.service.SendTTS(speakerID, body.Text, body.Language, body.Voice, body.Volume, body.Priority)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"speaker_id": speakerID,
		"success":    success,
		"timestamp":  time.Now().UTC(),
	})
}

func (h *HTTPServer) handleSpeakerTest(w http.ResponseWriter, r *http.Request, speakerID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	success := h.service.TestConnection(speakerID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"speaker_id": speakerID,
		"success":    success,
		"timestamp":  time.Now().UTC(),
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]any{
		"server": map[string]any{
			"grpc_port":              h.config.Server.GRPCPort,
			"bind_address":           h.config.Server.BindAddress,
			"max_message_size_mb":    h.config.Server.MaxMessageSizeMB,
			"max_concurrent_streams": h.config.Server.MaxConcurrentStreams,
			"max_speakers":           h.config.Server.MaxSpeakers,
		},
		"registry": map[string]any{
			"inactivity_timeout":  h.config.Registry.InactivityTimeout,
			"reaper_interval":     h.config.Registry.ReaperInterval,
			"active_threshold":    h.config.Registry.ActiveThreshold,
			"checkpoint_interval": h.config.Registry.CheckpointInterval,
			"storage_dir":         h.config.Registry.StorageDir,
			"instance_id":         h.config.Registry.InstanceID,
		},
		"tts": map[string]any{
			"response_timeout":   h.config.TTS.ResponseTimeout,
			"stream_heartbeat":   h.config.TTS.StreamHeartbeat,
			"command_queue_size": h.config.TTS.CommandQueueSize,
		},
		"hass": map[string]any{
			"base_url":          h.config.Hass.BaseURL,
			"websocket_enabled": h.config.Hass.WebsocketEnabled,
			"timeout":           h.config.Hass.Timeout,
			"max_retries":       h.config.Hass.MaxRetries,
			"max_concurrent":    h.config.Hass.MaxConcurrent,
			// Note: access token is intentionally omitted
		},
		"events": map[string]any{
			"prefix": h.config.Events.Prefix,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"registry":  h.registry.Stats(),
		"sessions": map[string]any{
			"tracked":     h.service.Tracker().Count(),
			"pending_tts": h.service.Correlator().PendingCount(),
		},
	}
	if h.hassClient != nil {
		stats["hass"] = h.hassClient.GetStats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleReload implements the /reload endpoint: re-read the speaker table
// from the last checkpoint on disk.
func (h *HTTPServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.registry.Reload(); err != nil {
		h.logger.Error("Reload failed", slog.String("error", err.Error()))
		http.Error(w, "Reload failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":        true,
		"total_speakers": h.registry.Count(),
		"timestamp":      time.Now().UTC(),
	})
}

// handleRoot provides API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	docs := map[string]any{
		"service": "alpha-private-speaker-connector",
		"version": ServerVersion,
		"endpoints": map[string]string{
			"GET /health":              "Service health and component status",
			"GET /speakers":            "List registered speakers",
			"GET /speakers/{id}":       "Speaker details",
			"DELETE /speakers/{id}":    "Remove a speaker",
			"POST /speakers/{id}/tts":  "Send a TTS command to a speaker",
			"POST /speakers/{id}/test": "Test a speaker connection",
			"GET /config":              "Sanitized configuration",
			"GET /stats":               "Registry and session statistics",
			"POST /reload":             "Reload the speaker table from its checkpoint",
			"GET /metrics":             "Prometheus metrics",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(docs)
}
