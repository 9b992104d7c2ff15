// Package metrics defines the Prometheus collectors exported by go-voicenav.
//
// All methods are safe on a nil *Metrics, so components can take metrics as
// an optional dependency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicenav"

// Metrics holds every collector.
type Metrics struct {
	resolutions       *prometheus.CounterVec
	resolutionLatency *prometheus.HistogramVec
	fallbackTimeouts  prometheus.Counter
	fallbackStatus    *prometheus.GaugeVec
	breakerState      prometheus.Gauge
	cacheLookups      *prometheus.CounterVec

	enqueued       *prometheus.CounterVec
	queueLength    prometheus.Gauge
	interrupts     prometheus.Counter
	commands       *prometheus.CounterVec
	commandLatency prometheus.Histogram

	utterances  *prometheus.CounterVec
	transcripts *prometheus.CounterVec
}

// New registers collectors on reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Utterances resolved, by source and outcome.",
		}, []string{"source", "outcome"}),
		resolutionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_latency_seconds",
			Help:      "Time to resolve an utterance.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		fallbackTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_timeouts_total",
			Help:      "Fallback calls that lost the race against the timeout.",
		}),
		fallbackStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_status",
			Help:      "1 for the current fallback status, 0 otherwise.",
		}, []string{"status"}),
		breakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_breaker_state",
			Help:      "Fallback circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_cache_lookups_total",
			Help:      "Resolution cache lookups, by result.",
		}, []string{"result"}),
		enqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Enqueue attempts, by priority and result.",
		}, []string{"priority", "result"}),
		queueLength: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Pending commands.",
		}),
		interrupts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_interrupts_total",
			Help:      "Queue interrupts.",
		}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_executed_total",
			Help:      "Executed commands, by intent and status.",
		}, []string{"intent", "status"}),
		commandLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution time.",
			Buckets:   prometheus.DefBuckets,
		}),
		utterances: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_utterances_total",
			Help:      "Utterances handed to the speech engine, by kind.",
		}, []string{"kind"}),
		transcripts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Transcript events received, by origin and finality.",
		}, []string{"origin", "final"}),
	}
}

// ObserveResolution records one resolved utterance.
func (m *Metrics) ObserveResolution(source string, resolved bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "unknown"
	if resolved {
		outcome = "resolved"
	}
	m.resolutions.WithLabelValues(source, outcome).Inc()
	m.resolutionLatency.WithLabelValues(source).Observe(d.Seconds())
}

// FallbackTimeout counts a lost fallback race.
func (m *Metrics) FallbackTimeout() {
	if m == nil {
		return
	}
	m.fallbackTimeouts.Inc()
}

// SetFallbackStatus marks status as the current one among all.
func (m *Metrics) SetFallbackStatus(status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		m.fallbackStatus.WithLabelValues(s).Set(v)
	}
}

// SetBreakerState records the breaker state as a number.
func (m *Metrics) SetBreakerState(state int) {
	if m == nil {
		return
	}
	m.breakerState.Set(float64(state))
}

// CacheLookup counts a resolution cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Enqueue counts an enqueue attempt.
func (m *Metrics) Enqueue(priority, accepted bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.enqueued.WithLabelValues(strconv.FormatBool(priority), result).Inc()
}

// SetQueueLength records the pending queue length.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}
	m.queueLength.Set(float64(n))
}

// Interrupt counts a queue interrupt.
func (m *Metrics) Interrupt() {
	if m == nil {
		return
	}
	m.interrupts.Inc()
}

// ObserveCommand records one executed command.
func (m *Metrics) ObserveCommand(intentName string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "failure"
	if success {
		status = "success"
	}
	m.commands.WithLabelValues(intentName, status).Inc()
	m.commandLatency.Observe(d.Seconds())
}

// Utterance counts an utterance sent to the engine. kind is "short" or "chunk".
func (m *Metrics) Utterance(kind string) {
	if m == nil {
		return
	}
	m.utterances.WithLabelValues(kind).Inc()
}

// Transcript counts a transcript event.
func (m *Metrics) Transcript(origin string, final bool) {
	if m == nil {
		return
	}
	m.transcripts.WithLabelValues(origin, strconv.FormatBool(final)).Inc()
}
