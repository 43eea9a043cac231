package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/folioshelf/api/internal/services"

// PipelineMetrics records submission pipeline instruments. The zero value is a no-op.
type PipelineMetrics struct {
	judgeLatency metric.Float64Histogram
	submissions  metric.Int64Counter
	promotions   metric.Int64Counter
}

// NewPipelineMetrics registers instruments on the supplied meter, or the global meter when nil.
func NewPipelineMetrics(meter metric.Meter) (*PipelineMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	judgeLatency, err := meter.Float64Histogram(
		"moderation.judge.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of moderation judge calls"),
	)
	if err != nil {
		return nil, err
	}
	submissions, err := meter.Int64Counter(
		"publications.submissions",
		metric.WithDescription("Publication submissions by outcome"),
	)
	if err != nil {
		return nil, err
	}
	promotions, err := meter.Int64Counter(
		"affiliates.promotions",
		metric.WithDescription("Promotion requests by outcome"),
	)
	if err != nil {
		return nil, err
	}
	return &PipelineMetrics{judgeLatency: judgeLatency, submissions: submissions, promotions: promotions}, nil
}

// RecordModeration records one judge round trip.
func (m *PipelineMetrics) RecordModeration(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil || m.judgeLatency == nil {
		return
	}
	m.judgeLatency.Record(ctx, float64(elapsed)/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordSubmission counts a finished submission.
func (m *PipelineMetrics) RecordSubmission(ctx context.Context, outcome string) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPromotion counts a finished promotion request.
func (m *PipelineMetrics) RecordPromotion(ctx context.Context, outcome string) {
	if m == nil || m.promotions == nil {
		return
	}
	m.promotions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
