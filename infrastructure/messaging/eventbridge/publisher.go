// Package eventbridge publishes domain events to an AWS EventBridge bus.
package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/events"
)

// Source is the EventBridge source of every published event
const Source = "designgraph.backend"

// EventBridge accepts at most 10 entries per PutEvents call
const batchSize = 10

const maxAttempts = 3

// API is the subset of the EventBridge client used here
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher implements ports.EventPublisher
type Publisher struct {
	client       API
	eventBusName string
	logger       *zap.Logger
	backoff      time.Duration
}

// NewPublisher creates a new EventBridge publisher
func NewPublisher(client API, eventBusName string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		logger:       logger,
		backoff:      100 * time.Millisecond,
	}
}

var _ ports.EventPublisher = (*Publisher)(nil)

// Publish sends a single event
func (p *Publisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return p.PublishBatch(ctx, []events.DomainEvent{event})
}

// PublishBatch sends events in chunks of ten
func (p *Publisher) PublishBatch(ctx context.Context, domainEvents []events.DomainEvent) error {
	for i := 0; i < len(domainEvents); i += batchSize {
		end := i + batchSize
		if end > len(domainEvents) {
			end = len(domainEvents)
		}
		if err := p.publishWithRetry(ctx, domainEvents[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) entries(domainEvents []events.DomainEvent) ([]types.PutEventsRequestEntry, error) {
	out := make([]types.PutEventsRequestEntry, 0, len(domainEvents))
	for _, event := range domainEvents {
		detail, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("marshal %s event: %w", event.GetEventType(), err)
		}
		out = append(out, types.PutEventsRequestEntry{
			EventBusName: aws.String(p.eventBusName),
			Source:       aws.String(Source),
			DetailType:   aws.String(event.GetEventType()),
			Detail:       aws.String(string(detail)),
			Time:         aws.Time(event.GetTimestamp()),
			Resources:    []string{"designgraph:" + event.GetAggregateID()},
		})
	}
	return out, nil
}

// publishWithRetry resends only the entries EventBridge rejected, backing
// off between attempts
func (p *Publisher) publishWithRetry(ctx context.Context, batch []events.DomainEvent) error {
	pending := batch
	backoff := p.backoff

	for attempt := 1; ; attempt++ {
		failed, err := p.put(ctx, pending)
		if err == nil && len(failed) == 0 {
			return nil
		}
		if err != nil && !isRetryable(err) {
			return fmt.Errorf("failed to publish events to EventBridge: %w", err)
		}
		if err == nil {
			pending = failed
		}
		if attempt == maxAttempts {
			if err != nil {
				return fmt.Errorf("failed to publish events after %d attempts: %w", attempt, err)
			}
			return fmt.Errorf("%d events failed to publish after %d attempts", len(pending), attempt)
		}

		p.logger.Warn("retrying event publication",
			zap.Int("attempt", attempt),
			zap.Int("events", len(pending)),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// put sends one PutEvents call and returns the events whose entries failed
func (p *Publisher) put(ctx context.Context, batch []events.DomainEvent) ([]events.DomainEvent, error) {
	entries, err := p.entries(batch)
	if err != nil {
		return nil, err
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return nil, err
	}
	if result.FailedEntryCount == 0 {
		p.logger.Debug("events published",
			zap.Int("count", len(entries)),
			zap.String("event_bus", p.eventBusName),
		)
		return nil, nil
	}

	var failed []events.DomainEvent
	for i, entry := range result.Entries {
		if entry.ErrorCode == nil || i >= len(batch) {
			continue
		}
		p.logger.Error("event rejected by EventBridge",
			zap.String("event_type", batch[i].GetEventType()),
			zap.String("error_code", aws.ToString(entry.ErrorCode)),
			zap.String("error_message", aws.ToString(entry.ErrorMessage)),
		)
		failed = append(failed, batch[i])
	}
	return failed, nil
}

func isRetryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "InternalException", "ServiceUnavailable":
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	return false
}
