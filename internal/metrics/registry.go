package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the application
type Registry struct {
	meter metric.Meter

	// Pipeline metrics
	StageDuration       metric.Float64Histogram
	StageSuccessCounter metric.Int64Counter
	StageFailureCounter metric.Int64Counter
	StageRetryCounter   metric.Int64Counter
	PipelineDuration    metric.Float64Histogram
	QueueDepth          metric.Int64ObservableGauge

	// Cache metrics
	CacheHitCounter  metric.Int64Counter
	CacheMissCounter metric.Int64Counter
	CacheHitRate     metric.Float64ObservableGauge

	// Gate metrics
	GateDecisionDuration metric.Float64Histogram
	GateDenialCounter    metric.Int64Counter
	QuotaChargeCounter   metric.Int64Counter

	// Ingestion metrics
	IngestBytes   metric.Int64Counter
	IngestCounter metric.Int64Counter
	DedupCounter  metric.Int64Counter

	// API metrics
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	// State for observable metrics
	mu         sync.RWMutex
	queueDepth int64
	cacheHits  int64
	cacheTotal int64
}

// NewRegistry creates a new metrics registry with all domain metrics
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	if err := r.initPipelineMetrics(); err != nil {
		return nil, err
	}
	if err := r.initCacheMetrics(); err != nil {
		return nil, err
	}
	if err := r.initGateMetrics(); err != nil {
		return nil, err
	}
	if err := r.initIngestMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAPIMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initPipelineMetrics() error {
	var err error
	if r.StageDuration, err = r.meter.Float64Histogram(
		"pipeline.stage.duration",
		metric.WithDescription("Stage execution time in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}
	if r.StageSuccessCounter, err = r.meter.Int64Counter(
		"pipeline.stage.success",
		metric.WithDescription("Stages completed successfully"),
	); err != nil {
		return err
	}
	if r.StageFailureCounter, err = r.meter.Int64Counter(
		"pipeline.stage.failure",
		metric.WithDescription("Stages that exhausted retries or failed fatally"),
	); err != nil {
		return err
	}
	if r.StageRetryCounter, err = r.meter.Int64Counter(
		"pipeline.stage.retry",
		metric.WithDescription("Stage retry attempts"),
	); err != nil {
		return err
	}
	if r.PipelineDuration, err = r.meter.Float64Histogram(
		"pipeline.duration",
		metric.WithDescription("End-to-end processing time in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}
	r.QueueDepth, err = r.meter.Int64ObservableGauge(
		"pipeline.queue.depth",
		metric.WithDescription("Tasks waiting in the processing queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.queueDepth)
			return nil
		}),
	)
	return err
}

func (r *Registry) initCacheMetrics() error {
	var err error
	if r.CacheHitCounter, err = r.meter.Int64Counter(
		"cache.hits",
		metric.WithDescription("Cache lookups served without recomputation"),
	); err != nil {
		return err
	}
	if r.CacheMissCounter, err = r.meter.Int64Counter(
		"cache.misses",
		metric.WithDescription("Cache lookups that required computation"),
	); err != nil {
		return err
	}
	r.CacheHitRate, err = r.meter.Float64ObservableGauge(
		"cache.hit_rate",
		metric.WithDescription("Fraction of lookups served from cache"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			if r.cacheTotal > 0 {
				o.Observe(float64(r.cacheHits) / float64(r.cacheTotal))
			}
			return nil
		}),
	)
	return err
}

func (r *Registry) initGateMetrics() error {
	var err error
	if r.GateDecisionDuration, err = r.meter.Float64Histogram(
		"gate.decision.duration",
		metric.WithDescription("Access gate decision time in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}
	if r.GateDenialCounter, err = r.meter.Int64Counter(
		"gate.denials",
		metric.WithDescription("Gate denials by reason"),
	); err != nil {
		return err
	}
	r.QuotaChargeCounter, err = r.meter.Int64Counter(
		"gate.quota.charges",
		metric.WithDescription("Applied quota charges"),
	)
	return err
}

func (r *Registry) initIngestMetrics() error {
	var err error
	if r.IngestBytes, err = r.meter.Int64Counter(
		"ingest.bytes",
		metric.WithDescription("Bytes accepted into the content store"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}
	if r.IngestCounter, err = r.meter.Int64Counter(
		"ingest.artifacts",
		metric.WithDescription("Artifacts ingested"),
	); err != nil {
		return err
	}
	r.DedupCounter, err = r.meter.Int64Counter(
		"ingest.dedup",
		metric.WithDescription("Uploads deduplicated by content digest"),
	)
	return err
}

func (r *Registry) initAPIMetrics() error {
	var err error
	if r.APIRequestDuration, err = r.meter.Float64Histogram(
		"api.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}
	r.APIRequestCounter, err = r.meter.Int64Counter(
		"api.requests",
		metric.WithDescription("HTTP requests by route and status"),
	)
	return err
}

// SetQueueDepth updates the observed queue depth.
func (r *Registry) SetQueueDepth(depth int64) {
	r.mu.Lock()
	r.queueDepth = depth
	r.mu.Unlock()
}

// RecordCacheLookup feeds the hit-rate gauge and the hit/miss counters.
func (r *Registry) RecordCacheLookup(ctx context.Context, hit bool, keyspace string) {
	attrs := metric.WithAttributes(attribute.String("keyspace", keyspace))
	r.mu.Lock()
	r.cacheTotal++
	if hit {
		r.cacheHits++
	}
	r.mu.Unlock()
	if hit {
		r.CacheHitCounter.Add(ctx, 1, attrs)
	} else {
		r.CacheMissCounter.Add(ctx, 1, attrs)
	}
}

// RecordStage records one stage outcome with its duration.
func (r *Registry) RecordStage(ctx context.Context, stage string, durationMS float64, success bool) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	r.StageDuration.Record(ctx, durationMS, attrs)
	if success {
		r.StageSuccessCounter.Add(ctx, 1, attrs)
	} else {
		r.StageFailureCounter.Add(ctx, 1, attrs)
	}
}

// RecordGateDenial counts one denial by reason.
func (r *Registry) RecordGateDenial(ctx context.Context, reason string) {
	r.GateDenialCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
