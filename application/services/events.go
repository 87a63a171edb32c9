package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/events"
)

const tracerName = "designgraph/services"

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// eventSink publishes committed domain events. Publishing happens after the
// state change is durable, so a failure is logged and counted, never
// returned.
type eventSink struct {
	publisher ports.EventPublisher
	metrics   ports.MetricsCollector
	logger    *zap.Logger
}

func (s eventSink) publish(ctx context.Context, evts ...events.DomainEvent) {
	if s.publisher == nil || len(evts) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, evts); err != nil {
		s.metrics.IncrementCounter(ports.MetricEventPublishFails, nil)
		s.logger.Warn("failed to publish domain events",
			zap.Int("count", len(evts)),
			zap.String("first_type", evts[0].GetEventType()),
			zap.Error(err),
		)
	}
}
