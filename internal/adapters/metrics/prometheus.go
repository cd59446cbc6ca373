package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/pool"
)

var (
	CallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_calls_total",
		Help: "Total number of calls handled",
	}, []string{"outcome"})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceagent_calls_active",
		Help: "Number of active calls",
	})

	CallRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_call_rejections_total",
		Help: "Calls refused by admission control",
	}, []string{"reason"})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voiceagent_turns_total",
		Help: "Conversation turns processed",
	}, []string{"outcome"})

	STTRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceagent_stt_request_duration_seconds",
		Help:    "Speech-to-text transcription duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voiceagent_llm_request_duration_seconds",
		Help:    "LLM generation duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"})

	TTSRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voiceagent_tts_request_duration_seconds",
		Help:    "TTS synthesis duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5},
	})

	PoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voiceagent_pool_connections",
		Help: "Connection pool slots by state",
	}, []string{"state"})

	PoolQuality = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceagent_pool_quality",
		Help: "Aggregate pool quality score in [0,1]",
	})

	PoolLatencyAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceagent_pool_latency_avg_seconds",
		Help: "Average media-server request latency across pool slots",
	})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voiceagent_rooms_active",
		Help: "Number of active media rooms",
	})

	RoomsCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voiceagent_rooms_cleaned_total",
		Help: "Idle rooms removed by cleanup",
	})
)

// HealthSink feeds observer reports into the pool gauges. It implements
// pool.MetricsSink.
type HealthSink struct{}

func (HealthSink) PublishHealth(report pool.HealthReport) {
	PoolConnections.WithLabelValues("total").Set(float64(report.TotalConnections))
	PoolConnections.WithLabelValues("in_use").Set(float64(report.InUseConnections))
	PoolConnections.WithLabelValues("healthy").Set(float64(report.HealthyConnections))
	PoolConnections.WithLabelValues("failed").Set(float64(report.FailedConnections))
	PoolQuality.Set(report.PoolQuality)
	PoolLatencyAvg.Set(report.LatencyAvg.Seconds())
	RoomsCleanedTotal.Add(float64(report.RoomsCleaned))
}
