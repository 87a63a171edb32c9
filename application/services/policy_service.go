package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"designgraph/application/policycache"
	"designgraph/application/ports"
	"designgraph/domain/events"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

// PolicyService is the administrative side of tenant policies
type PolicyService struct {
	cache  *policycache.Cache
	store  ports.PolicyStore
	events eventSink
	logger *zap.Logger
}

// NewPolicyService creates a new policy service. store is nil when the
// policy source is read-only.
func NewPolicyService(cache *policycache.Cache, store ports.PolicyStore, publisher ports.EventPublisher, metrics ports.MetricsCollector, logger *zap.Logger) *PolicyService {
	if metrics == nil {
		metrics = ports.NoOpMetrics{}
	}
	return &PolicyService{
		cache:  cache,
		store:  store,
		events: eventSink{publisher: publisher, metrics: metrics, logger: logger},
		logger: logger,
	}
}

// Get returns the cached policy for a tenant
func (s *PolicyService) Get(ctx context.Context, tenantID string) (policycache.Result, error) {
	if tenantID == "" {
		return policycache.Result{}, pkgerrors.NewValidationError("tenant_id is required")
	}
	return s.cache.Get(ctx, tenantID), nil
}

// Preview decides an action without submitting anything
func (s *PolicyService) Preview(ctx context.Context, tenantID, actionType string, confidence float64) (policy.Decision, policycache.Result, error) {
	if tenantID == "" {
		return policy.Decision{}, policycache.Result{}, pkgerrors.NewValidationError("tenant_id is required")
	}
	d, res := s.cache.Decide(ctx, tenantID, actionType, confidence)
	return d, res, nil
}

// Save stores a new policy version and drops cached copies
func (s *PolicyService) Save(ctx context.Context, doc policy.Document) (saved policy.Document, err error) {
	ctx, span := startSpan(ctx, "PolicyService.Save")
	defer func() { endSpan(span, err) }()

	if s.store == nil {
		return policy.Document{}, pkgerrors.NewInvalidStateError("policy source is read-only")
	}
	if err := doc.Validate(); err != nil {
		return policy.Document{}, err
	}

	saved, err = s.store.Save(ctx, doc.Normalize())
	if err != nil {
		return policy.Document{}, err
	}
	if err := s.cache.Invalidate(ctx, saved.TenantID); err != nil {
		s.logger.Warn("policy saved but cache invalidation failed",
			zap.String("tenant_id", saved.TenantID),
			zap.Error(err),
		)
	}

	s.logger.Info("policy saved", zap.String("tenant_id", saved.TenantID), zap.Int("version", saved.Version))
	s.events.publish(ctx, events.NewPolicyUpdated(saved.TenantID, saved.Version, time.Now().UTC()))
	return saved, nil
}

// Invalidate drops one tenant, or every tenant when tenantID is empty
func (s *PolicyService) Invalidate(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return s.cache.InvalidateAll(ctx)
	}
	return s.cache.Invalidate(ctx, tenantID)
}
