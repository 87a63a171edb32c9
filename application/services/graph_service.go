package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/core/aggregates"
	pkgerrors "designgraph/pkg/errors"
)

// DefaultRetryAttempts bounds RetryApply
const DefaultRetryAttempts = 3

// GraphService owns session graphs and the patch protocol. It holds no
// lock: concurrent writers race on the repository's compare-and-swap and
// losers get a version conflict.
type GraphService struct {
	repo    ports.GraphRepository
	events  eventSink
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// NewGraphService creates a new graph service
func NewGraphService(
	repo ports.GraphRepository,
	publisher ports.EventPublisher,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *GraphService {
	if metrics == nil {
		metrics = ports.NoOpMetrics{}
	}
	return &GraphService{
		repo:    repo,
		events:  eventSink{publisher: publisher, metrics: metrics, logger: logger},
		metrics: metrics,
		logger:  logger,
	}
}

// CreateSession creates the session's graph at version 1. An existing
// session is returned unchanged unless requireFresh is set, in which case
// it is a conflict.
func (s *GraphService) CreateSession(ctx context.Context, sessionID string, requireFresh bool) (graph *aggregates.Graph, created bool, err error) {
	ctx, span := startSpan(ctx, "GraphService.CreateSession")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	if sessionID == "" {
		return nil, false, pkgerrors.NewValidationError("session_id is required")
	}

	g, err := aggregates.NewGraph(sessionID)
	if err != nil {
		return nil, false, pkgerrors.NewValidationError(err.Error())
	}
	evts := g.GetUncommittedEvents()
	g.MarkEventsAsCommitted()

	err = s.repo.Create(ctx, g)
	if err == nil {
		s.logger.Info("session created", zap.String("session_id", sessionID))
		s.events.publish(ctx, evts...)
		return g, true, nil
	}

	if !pkgerrors.IsConflict(err) {
		return nil, false, err
	}
	if requireFresh {
		return nil, false, err
	}

	existing, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetGraph returns the latest committed snapshot
func (s *GraphService) GetGraph(ctx context.Context, sessionID string) (*aggregates.Graph, error) {
	if sessionID == "" {
		return nil, pkgerrors.NewValidationError("session_id is required")
	}
	return s.repo.Get(ctx, sessionID)
}

// ApplyPatch commits patch if the session is still at expectedVersion.
// Order of checks: version, then operations, then the compare-and-swap.
func (s *GraphService) ApplyPatch(ctx context.Context, sessionID string, expectedVersion int, patch aggregates.Patch) (next *aggregates.Graph, err error) {
	ctx, span := startSpan(ctx, "GraphService.ApplyPatch")
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("graph.expected_version", expectedVersion),
		attribute.Int("patch.operations", len(patch.Operations)),
	)
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration(ports.MetricPatchDuration, time.Since(start), nil)
		s.metrics.IncrementCounter(ports.MetricPatches, map[string]string{"outcome": patchOutcome(err)})
		endSpan(span, err)
	}()

	if patch.PatchID == "" {
		patch.PatchID = uuid.New().String()
	}

	current, err := s.GetGraph(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Version() != expectedVersion {
		return nil, pkgerrors.NewVersionConflictError(sessionID, expectedVersion, current.Version())
	}

	next, err = current.Apply(patch)
	if err != nil {
		return nil, err
	}
	evts := next.GetUncommittedEvents()
	next.MarkEventsAsCommitted()

	if err := s.repo.CompareAndSwap(ctx, expectedVersion, next); err != nil {
		return nil, err
	}

	s.logger.Info("patch applied",
		zap.String("session_id", sessionID),
		zap.String("patch_id", patch.PatchID),
		zap.Int("version", next.Version()),
		zap.Int("operations", len(patch.Operations)),
	)
	span.SetAttributes(attribute.Int("graph.version", next.Version()))
	s.events.publish(ctx, evts...)
	return next, nil
}

// PatchBuilder computes a patch from the current head
type PatchBuilder func(head *aggregates.Graph) (aggregates.Patch, error)

// RetryApply applies the patch built from the current head, rebuilding it
// from a fresh head after a version conflict. The store itself never
// rebases; only conflicts are retried.
func (s *GraphService) RetryApply(ctx context.Context, sessionID string, attempts int, build PatchBuilder) (*aggregates.Graph, error) {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		head, err := s.GetGraph(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		patch, err := build(head)
		if err != nil {
			return nil, err
		}
		next, err := s.ApplyPatch(ctx, sessionID, head.Version(), patch)
		if err == nil {
			return next, nil
		}
		if !pkgerrors.IsConflict(err) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("patch lost compare-and-swap, retrying",
			zap.String("session_id", sessionID),
			zap.Int("attempt", i+1),
		)
	}
	return nil, lastErr
}

func patchOutcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case pkgerrors.IsConflict(err):
		return "conflict"
	case pkgerrors.IsValidation(err):
		return "invalid"
	case pkgerrors.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
