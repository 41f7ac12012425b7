package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speaker connector
type Metrics struct {
	// Registry metrics
	RegisteredSpeakers prometheus.Gauge
	Registrations      prometheus.Counter
	Evictions          prometheus.Counter

	// Stream metrics
	ActiveStateStreams prometheus.Gauge
	ActiveTTSStreams   prometheus.Gauge
	StatesPushed       prometheus.Counter
	HeartbeatsSent     prometheus.Counter

	// TTS metrics
	TTSCommandsSent    prometheus.Counter
	TTSResponses       prometheus.Counter
	TTSTimeouts        prometheus.Counter
	TTSDeliveryLatency prometheus.Histogram

	// Command metrics
	Commands *prometheus.CounterVec

	// RPC metrics
	RPCRequests *prometheus.CounterVec
	RPCErrors   *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all connector metrics on the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics on reg. Tests pass a private
// registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Registry metrics
		RegisteredSpeakers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alpha_registered_speakers",
			Help: "Current number of registered speakers",
		}),
		Registrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "alpha_registrations_total",
			Help: "Total number of speaker registrations",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "alpha_evictions_total",
			Help: "Total number of speakers evicted for inactivity",
		}),

		// Stream metrics
		ActiveStateStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alpha_active_state_streams",
			Help: "Current number of open device-state streams",
		}),
		ActiveTTSStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alpha_active_tts_streams",
			Help: "Current number of open TTS command streams",
		}),
		StatesPushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "alpha_device_states_pushed_total",
			Help: "Total number of device states pushed to speakers",
		}),
		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "alpha_stream_heartbeats_total",
			Help: "Total number of stream heartbeats sent",
		}),

		// TTS metrics
		TTSCommandsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "alpha_tts_commands_sent_total",
			Help: "Total number of TTS commands enqueued to speakers",
		}),
		TTSResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "alpha_tts_responses_total",
			Help: "Total number of TTS acknowledgements received",
		}),
		TTSTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "alpha_tts_timeouts_total",
			Help: "Total number of TTS commands that timed out waiting for an acknowledgement",
		}),
		TTSDeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "alpha_tts_delivery_latency_seconds",
			Help:    "Time from TTS enqueue to acknowledgement",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		// Command metrics
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_commands_total",
			Help: "Total number of speaker-initiated commands",
		}, []string{"command_type", "outcome"}),

		// RPC metrics
		RPCRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_rpc_requests_total",
			Help: "Total number of RPC requests",
		}, []string{"method"}),
		RPCErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_rpc_errors_total",
			Help: "Total number of RPC errors",
		}, []string{"method", "code"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "alpha_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordRegistration increments registrations and updates the gauge
func (m *Metrics) RecordRegistration(totalSpeakers int) {
	m.Registrations.Inc()
	m.RegisteredSpeakers.Set(float64(totalSpeakers))
}

// RecordEvictions records one reaper batch and updates the gauge
func (m *Metrics) RecordEvictions(evicted, remaining int) {
	m.Evictions.Add(float64(evicted))
	m.RegisteredSpeakers.Set(float64(remaining))
}

// RecordStatePushed increments the pushed device-state counter
func (m *Metrics) RecordStatePushed() {
	m.StatesPushed.Inc()
}

// RecordHeartbeat increments the stream heartbeat counter
func (m *Metrics) RecordHeartbeat() {
	m.HeartbeatsSent.Inc()
}

// RecordTTSSent increments the TTS command counter
func (m *Metrics) RecordTTSSent() {
	m.TTSCommandsSent.Inc()
}

// RecordTTSResponse records an acknowledgement and its round-trip latency
func (m *Metrics) RecordTTSResponse(latencySeconds float64) {
	m.TTSResponses.Inc()
	m.TTSDeliveryLatency.Observe(latencySeconds)
}

// RecordTTSTimeout increments the TTS timeout counter
func (m *Metrics) RecordTTSTimeout() {
	m.TTSTimeouts.Inc()
}

// RecordCommand records a speaker-initiated command and its outcome
func (m *Metrics) RecordCommand(commandType string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.Commands.WithLabelValues(commandType, outcome).Inc()
}

// RecordRPCRequest records an RPC call
func (m *Metrics) RecordRPCRequest(method string) {
	m.RPCRequests.WithLabelValues(method).Inc()
}

// RecordRPCError records a failed RPC call
func (m *Metrics) RecordRPCError(method, code string) {
	m.RPCErrors.WithLabelValues(method, code).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
