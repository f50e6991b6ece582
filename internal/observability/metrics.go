package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_agent_active_sessions",
		Help: "Number of connected client sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_sessions_total",
		Help: "Total number of sessions accepted",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_session_duration_seconds",
		Help:    "Duration of client sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_turns_total",
		Help: "Total number of utterances by outcome",
	}, []string{"outcome"}) // accepted, duplicate, echo, empty, invalid

	bargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_barge_ins_total",
		Help: "Total number of replies interrupted by a new utterance",
	})

	// Pipeline stage metrics
	stageRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_stage_requests_total",
		Help: "Total number of pipeline stage calls",
	}, []string{"stage", "status"}) // stage: retrieval, generation, synthesis

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_agent_stage_latency_seconds",
		Help:    "Pipeline stage latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	repliesCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_replies_cancelled_total",
		Help: "Total number of replies invalidated before completion",
	})

	unitsStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_units_streamed_total",
		Help: "Total number of speakable units fully streamed",
	})

	chunksStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_chunks_streamed_total",
		Help: "Total number of audio chunks streamed, markers excluded",
	})

	firstAudioLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_agent_first_audio_latency_seconds",
		Help:    "Time from accepted utterance to first audio chunk",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_agent_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_agent_audio_bytes_sent_total",
		Help: "Total synthesized audio bytes sent to clients",
	})
)

// Stage names used as metric labels
const (
	StageRetrieval  = "retrieval"
	StageGeneration = "generation"
	StageSynthesis  = "synthesis"
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID string
	startTime time.Time
	turnStart time.Time
	firstSeen bool
	mu        sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurn records the outcome of one submitted utterance
func (m *Metrics) RecordTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
	if outcome != "accepted" {
		return
	}
	m.mu.Lock()
	m.turnStart = time.Now()
	m.firstSeen = false
	m.mu.Unlock()
}

// RecordBargeIn records an interrupted reply
func (m *Metrics) RecordBargeIn() {
	bargeInsTotal.Inc()
}

// RecordReplyCancelled records a reply invalidated by barge-in or cancel
func (m *Metrics) RecordReplyCancelled() {
	repliesCancelled.Inc()
}

// RecordChunk records one streamed audio chunk; markers count a finished unit
func (m *Metrics) RecordChunk(marker bool, bytes int) {
	if marker {
		unitsStreamed.Inc()
		return
	}
	chunksStreamed.Inc()
	audioBytesSent.Add(float64(bytes))
}

// RecordFirstAudio observes the latency to the first chunk of the current
// turn. Later calls within the same turn are ignored.
func (m *Metrics) RecordFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.firstSeen || m.turnStart.IsZero() {
		return
	}
	m.firstSeen = true
	firstAudioLatency.Observe(time.Since(m.turnStart).Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// ObserveStage records latency and outcome of one pipeline stage call.
// Typical use: defer ObserveStage(StageRetrieval, time.Now(), &err).
func ObserveStage(stage string, start time.Time, err *error) {
	stageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())

	status := "success"
	if err != nil && *err != nil {
		status = "error"
	}
	stageRequests.WithLabelValues(stage, status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
