// Package metrics holds the OpenTelemetry instruments for the detection
// pipeline and the HTTP surface.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application.
type Registry struct {
	meter metric.Meter

	// Detection pipeline
	DetectionDuration metric.Float64Histogram
	DetectionCounter  metric.Int64Counter
	AnomalyCounter    metric.Int64Counter
	ScorerDuration    metric.Float64Histogram
	TrainingRuns      metric.Int64Counter

	// Alerting
	AlertDispatchCounter metric.Int64Counter
	AlertQueueDepth      metric.Int64ObservableGauge

	// API surface
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	mu              sync.RWMutex
	alertQueueDepth int64
}

// NewRegistry creates the metrics registry on the named meter.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	if err := r.initDetectionMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAlertMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAPIMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initDetectionMetrics() error {
	var err error

	r.DetectionDuration, err = r.meter.Float64Histogram(
		"ade.detection.duration",
		metric.WithDescription("End-to-end detection latency in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return err
	}

	r.DetectionCounter, err = r.meter.Int64Counter(
		"ade.detection.total",
		metric.WithDescription("Total number of detection calls"),
	)
	if err != nil {
		return err
	}

	r.AnomalyCounter, err = r.meter.Int64Counter(
		"ade.detection.anomalies_total",
		metric.WithDescription("Total number of detections flagged anomalous"),
	)
	if err != nil {
		return err
	}

	r.ScorerDuration, err = r.meter.Float64Histogram(
		"ade.scorer.duration",
		metric.WithDescription("Per-algorithm scoring latency in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50),
	)
	if err != nil {
		return err
	}

	r.TrainingRuns, err = r.meter.Int64Counter(
		"ade.training.runs_total",
		metric.WithDescription("Total number of training runs by outcome"),
	)
	return err
}

func (r *Registry) initAlertMetrics() error {
	var err error

	r.AlertDispatchCounter, err = r.meter.Int64Counter(
		"ade.alert.dispatch_total",
		metric.WithDescription("Total alert dispatch outcomes by status"),
	)
	if err != nil {
		return err
	}

	r.AlertQueueDepth, err = r.meter.Int64ObservableGauge(
		"ade.alert.queue_depth",
		metric.WithDescription("Current depth of the alert dispatch queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.alertQueueDepth)
			return nil
		}),
	)
	return err
}

func (r *Registry) initAPIMetrics() error {
	var err error

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"ade.api.request_duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"ade.api.requests_total",
		metric.WithDescription("Total HTTP requests by route and status"),
	)
	return err
}

// RecordDetection records one finished detection call.
func (r *Registry) RecordDetection(ctx context.Context, algorithm string, duration time.Duration, isAnomaly bool, level string) {
	attrs := metric.WithAttributes(attribute.String("algorithm", algorithm))
	r.DetectionDuration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
	r.DetectionCounter.Add(ctx, 1, attrs)
	if isAnomaly {
		r.AnomalyCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("algorithm", algorithm),
			attribute.String("level", level),
		))
	}
}

// RecordScorerDuration records one algorithm's scoring latency.
func (r *Registry) RecordScorerDuration(ctx context.Context, algorithm string, duration time.Duration) {
	r.ScorerDuration.Record(ctx, float64(duration.Microseconds())/1000.0,
		metric.WithAttributes(attribute.String("algorithm", algorithm)))
}

// RecordTrainingRun counts one finished training run.
func (r *Registry) RecordTrainingRun(ctx context.Context, outcome string) {
	r.TrainingRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordAlertDispatch counts one alert dispatch outcome.
func (r *Registry) RecordAlertDispatch(ctx context.Context, status string) {
	r.AlertDispatchCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// SetAlertQueueDepth updates the observed queue depth.
func (r *Registry) SetAlertQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alertQueueDepth = depth
}

// RecordAPIRequest records one HTTP request.
func (r *Registry) RecordAPIRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)
	r.APIRequestDuration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
	r.APIRequestCounter.Add(ctx, 1, attrs)
}
