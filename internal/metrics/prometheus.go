package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"floodguard/internal/types"
)

// PrometheusRecorder exposes the engine metrics for scraping. Each recorder
// owns its registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	assessments     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	score           *prometheus.GaugeVec
	evacuations     *prometheus.CounterVec
	rewards         *prometheus.HistogramVec
	episodes        *prometheus.CounterVec
	missingSignals  *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the collectors under namespace.
func NewPrometheusRecorder(namespace string) *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &PrometheusRecorder{
		registry: reg,
		assessments: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assessments_total",
				Help:      "Total number of assessments by risk level",
			},
			[]string{"level"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "assessment_duration_seconds",
				Help:      "Assessment duration in seconds, estimator fan-out included",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0},
			},
			[]string{"level"},
		),
		score: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "risk_score",
				Help:      "Most recent risk score by location",
			},
			[]string{"location"},
		),
		evacuations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evacuations_recommended_total",
				Help:      "Assessments that recommended evacuation",
			},
			[]string{"location"},
		),
		rewards: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "policy_reward",
				Help:      "Rewards earned by recorded outcomes",
				Buckets:   []float64{-1000, -100, -20, -5, 0, 5, 10, 20, 100},
			},
			[]string{"action"},
		),
		episodes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulation_episodes_total",
				Help:      "Monte Carlo episodes run by location",
			},
			[]string{"location"},
		),
		missingSignals: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "estimator_missing_signals_total",
				Help:      "Estimator calls that failed, timed out or were short-circuited",
			},
			[]string{"estimator"},
		),
		publishFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_failures_total",
				Help:      "Failed queue publishes by queue",
			},
			[]string{"queue"},
		),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
	}
}

// Handler serves the registry in the exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry { return p.registry }

func (p *PrometheusRecorder) RecordAssessment(_ context.Context, a types.RiskAssessment, latency time.Duration) {
	p.assessments.WithLabelValues(string(a.Level)).Inc()
	p.latency.WithLabelValues(string(a.Level)).Observe(latency.Seconds())
	p.score.WithLabelValues(a.LocationID).Set(a.Score)
	if a.EvacuationRecommended {
		p.evacuations.WithLabelValues(a.LocationID).Inc()
	}
}

func (p *PrometheusRecorder) RecordReward(_ context.Context, _ string, action types.AlertAction, reward float64) {
	p.rewards.WithLabelValues(string(action)).Observe(reward)
}

func (p *PrometheusRecorder) RecordSimulation(_ context.Context, locationID string, episodes int) {
	p.episodes.WithLabelValues(locationID).Add(float64(episodes))
}

func (p *PrometheusRecorder) RecordMissingSignal(_ context.Context, estimator string) {
	p.missingSignals.WithLabelValues(estimator).Inc()
}

func (p *PrometheusRecorder) RecordPublishFailure(_ context.Context, queue string) {
	p.publishFailures.WithLabelValues(queue).Inc()
}

func (p *PrometheusRecorder) RecordRequest(method, endpoint, status string, duration time.Duration) {
	p.requests.WithLabelValues(method, endpoint, status).Inc()
	p.requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
