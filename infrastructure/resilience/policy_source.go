// Package resilience wraps durable dependencies with circuit breakers.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig trips after 5 requests with 80% failures and probes
// again after 30s
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// PolicySource guards a durable policy source. An open breaker answers
// immediately with PolicyUnavailable, which the policy cache turns into a
// fail-closed default.
type PolicySource struct {
	next    ports.PolicySource
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPolicySource wraps next
func NewPolicySource(next ports.PolicySource, cfg BreakerConfig, logger *zap.Logger) *PolicySource {
	s := &PolicySource{next: next, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// a tenant without a stored policy is an answer, not a failure
		IsSuccessful: func(err error) bool {
			return err == nil || pkgerrors.IsNotFound(err)
		},
	})
	return s
}

var _ ports.PolicySource = (*PolicySource)(nil)

// Load calls the wrapped source through the breaker
func (s *PolicySource) Load(ctx context.Context, tenantID string) (policy.Document, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.next.Load(ctx, tenantID)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return policy.Document{}, pkgerrors.NewPolicyUnavailableError(tenantID, err)
		}
		return policy.Document{}, err
	}
	return res.(policy.Document), nil
}

// State reports the breaker state
func (s *PolicySource) State() gobreaker.State {
	return s.breaker.State()
}
