// Package messaging holds the in-process event publishers.
package messaging

import (
	"context"

	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/events"
)

// LogPublisher writes events to the log. It is the publisher used when no
// event bus is configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a new LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

var _ ports.EventPublisher = (*LogPublisher)(nil)

// Publish logs one event
func (p *LogPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	p.logger.Info("domain event",
		zap.String("event_type", event.GetEventType()),
		zap.String("aggregate_id", event.GetAggregateID()),
		zap.Int("version", event.GetVersion()),
		zap.Time("timestamp", event.GetTimestamp()),
	)
	return nil
}

// PublishBatch logs every event
func (p *LogPublisher) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	for _, e := range evts {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// FanOut publishes to several publishers and returns the first error
type FanOut []ports.EventPublisher

var _ ports.EventPublisher = FanOut(nil)

// Publish sends one event to every publisher
func (f FanOut) Publish(ctx context.Context, event events.DomainEvent) error {
	return f.PublishBatch(ctx, []events.DomainEvent{event})
}

// PublishBatch sends the batch to every publisher, even after a failure
func (f FanOut) PublishBatch(ctx context.Context, evts []events.DomainEvent) error {
	var first error
	for _, p := range f {
		if err := p.PublishBatch(ctx, evts); err != nil && first == nil {
			first = err
		}
	}
	return first
}
