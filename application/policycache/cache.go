// Package policycache is the read-through, two-tier cache in front of the
// durable tenant policy source.
package policycache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

// Defaults
const (
	DefaultTTL           = 60 * time.Second
	DefaultSourceTimeout = 2 * time.Second
)

// Where a document came from
const (
	TierLocal    = "local"
	TierShared   = "shared"
	TierSource   = "source"
	TierFallback = "fallback"
)

// Config tunes the cache
type Config struct {
	TTL           time.Duration
	SourceTimeout time.Duration
}

// DefaultConfig returns a 60s TTL and a 2s source timeout
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, SourceTimeout: DefaultSourceTimeout}
}

// Result is a policy lookup outcome
type Result struct {
	Document   policy.Document `json:"policy"`
	Tier       string          `json:"tier"`
	FailClosed bool            `json:"fail_closed"`
}

// Cache resolves tenant policies through a local tier, an optional shared
// tier and the durable source. Loads for the same tenant may run
// concurrently; they are counted, never serialized.
type Cache struct {
	local   ports.PolicyTier
	shared  ports.PolicyTier
	source  ports.PolicySource
	cfg     Config
	metrics ports.MetricsCollector
	logger  *zap.Logger
	now     func() time.Time

	inflight   sync.Map // tenantID -> *atomic.Int64
	dogpiles   atomic.Int64
	generation atomic.Uint64
}

// Option customises a Cache
type Option func(*Cache)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a policy cache. shared may be nil.
func New(local, shared ports.PolicyTier, source ports.PolicySource, cfg Config, metrics ports.MetricsCollector, logger *zap.Logger, opts ...Option) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	if metrics == nil {
		metrics = ports.NoOpMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		local:   local,
		shared:  shared,
		source:  source,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the tenant's policy. It never fails: when the durable source
// cannot answer, the conservative default is returned with FailClosed set
// and nothing is cached.
func (c *Cache) Get(ctx context.Context, tenantID string) Result {
	ctx, span := otel.Tracer("designgraph/policycache").Start(ctx, "PolicyCache.Get")
	span.SetAttributes(attribute.String("tenant.id", tenantID))
	defer span.End()

	now := c.now()

	if doc, expiresAt, ok, err := c.local.Get(ctx, tenantID); err == nil && ok && now.Before(expiresAt) {
		c.recordLookup(TierLocal, "hit")
		span.SetAttributes(attribute.String("policy.tier", TierLocal))
		return Result{Document: doc, Tier: TierLocal}
	}
	c.recordLookup(TierLocal, "miss")

	if c.shared != nil {
		doc, expiresAt, ok, err := c.shared.Get(ctx, tenantID)
		switch {
		case err != nil:
			c.logger.Warn("shared policy tier read failed", zap.String("tenant_id", tenantID), zap.Error(err))
			c.recordLookup(TierShared, "error")
		case ok && now.Before(expiresAt):
			c.recordLookup(TierShared, "hit")
			// keep the shared entry's remaining lifetime
			if err := c.local.Set(ctx, doc, expiresAt); err != nil {
				c.logger.Warn("local policy tier write failed", zap.String("tenant_id", tenantID), zap.Error(err))
			}
			span.SetAttributes(attribute.String("policy.tier", TierShared))
			return Result{Document: doc, Tier: TierShared}
		default:
			c.recordLookup(TierShared, "miss")
		}
	}

	res := c.load(ctx, tenantID)
	span.SetAttributes(
		attribute.String("policy.tier", res.Tier),
		attribute.Bool("policy.fail_closed", res.FailClosed),
	)
	return res
}

func (c *Cache) load(ctx context.Context, tenantID string) Result {
	counter, _ := c.inflight.LoadOrStore(tenantID, new(atomic.Int64))
	n := counter.(*atomic.Int64).Add(1)
	defer counter.(*atomic.Int64).Add(-1)
	if n > 1 {
		c.dogpiles.Add(1)
		c.metrics.IncrementCounter(ports.MetricPolicyDogpile, nil)
		c.logger.Debug("concurrent policy load", zap.String("tenant_id", tenantID), zap.Int64("inflight", n))
	}

	gen := c.generation.Load()
	doc, err := c.loadFromSource(ctx, tenantID)
	switch {
	case err == nil:
	case pkgerrors.IsNotFound(err):
		doc = policy.Defaults(tenantID)
	default:
		c.metrics.IncrementCounter(ports.MetricPolicyFailClosed, nil)
		c.logger.Warn("policy source unavailable, failing closed",
			zap.String("tenant_id", tenantID),
			zap.Error(pkgerrors.NewPolicyUnavailableError(tenantID, err)),
		)
		fallback := policy.Defaults(tenantID)
		fallback.AutoApproveEnabled = false
		return Result{Document: fallback, Tier: TierFallback, FailClosed: true}
	}

	doc.TenantID = tenantID
	doc = doc.Normalize()

	// An invalidation during the load makes this document suspect.
	if c.generation.Load() == gen {
		expiresAt := c.now().Add(c.cfg.TTL)
		if err := c.local.Set(ctx, doc, expiresAt); err != nil {
			c.logger.Warn("local policy tier write failed", zap.String("tenant_id", tenantID), zap.Error(err))
		}
		if c.shared != nil {
			if err := c.shared.Set(ctx, doc, expiresAt); err != nil {
				c.logger.Warn("shared policy tier write failed", zap.String("tenant_id", tenantID), zap.Error(err))
			}
		}
	}
	return Result{Document: doc.Clone(), Tier: TierSource}
}

type loadResult struct {
	doc policy.Document
	err error
}

// loadFromSource bounds the durable read by the source timeout even when the
// source ignores its context.
func (c *Cache) loadFromSource(ctx context.Context, tenantID string) (policy.Document, error) {
	c.metrics.SetGauge(ports.MetricPolicyInflight, float64(c.InflightLoads()), nil)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SourceTimeout)
	defer cancel()

	done := make(chan loadResult, 1)
	go func() {
		doc, err := c.source.Load(ctx, tenantID)
		done <- loadResult{doc: doc, err: err}
	}()

	select {
	case r := <-done:
		return r.doc, r.err
	case <-ctx.Done():
		return policy.Document{}, pkgerrors.NewTimeoutError("policy load").WithCause(ctx.Err())
	}
}

// Invalidate drops a tenant from both tiers
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	c.generation.Add(1)
	if err := c.local.Delete(ctx, tenantID); err != nil {
		return err
	}
	if c.shared != nil {
		if err := c.shared.Delete(ctx, tenantID); err != nil {
			return pkgerrors.Wrap(err, "invalidate shared policy tier")
		}
	}
	c.logger.Info("policy cache invalidated", zap.String("tenant_id", tenantID))
	return nil
}

// InvalidateAll empties both tiers
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.generation.Add(1)
	if err := c.local.Clear(ctx); err != nil {
		return err
	}
	if c.shared != nil {
		if err := c.shared.Clear(ctx); err != nil {
			return pkgerrors.Wrap(err, "clear shared policy tier")
		}
	}
	c.logger.Info("policy cache cleared")
	return nil
}

// Decide resolves the tenant's policy and classifies the action
func (c *Cache) Decide(ctx context.Context, tenantID, actionType string, confidence float64) (policy.Decision, Result) {
	res := c.Get(ctx, tenantID)
	decision := policy.Decide(res.Document, actionType, confidence)
	c.metrics.IncrementCounter(ports.MetricPolicyDecisions, map[string]string{
		"result": string(decision.Result),
		"reason": string(decision.Reason),
	})
	return decision, res
}

// DogpileCount returns how many loads overlapped another load for the same
// tenant.
func (c *Cache) DogpileCount() int64 {
	return c.dogpiles.Load()
}

// InflightLoads returns the number of durable loads currently running
func (c *Cache) InflightLoads() int64 {
	var total int64
	c.inflight.Range(func(_, v any) bool {
		total += v.(*atomic.Int64).Load()
		return true
	})
	return total
}

func (c *Cache) recordLookup(tier, result string) {
	c.metrics.IncrementCounter(ports.MetricPolicyLookups, map[string]string{"tier": tier, "result": result})
}
